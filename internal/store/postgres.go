package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"colladoc/api/internal/htmltext"
	"colladoc/api/internal/rbac"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, email, name, passwordHash string) (User, error) {
	const insertUser = `
		INSERT INTO users (email, name, password_hash)
		VALUES (LOWER($1), $2, $3)
		RETURNING id, email, name, avatar, password_hash, created_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, insertUser, strings.TrimSpace(email), name, passwordHash).
		Scan(&user.ID, &user.Email, &user.Name, &user.Avatar, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `SELECT id, email, name, avatar, password_hash, created_at FROM users WHERE email = LOWER($1)`
	var user User
	err := s.db.QueryRowContext(ctx, query, strings.TrimSpace(email)).
		Scan(&user.ID, &user.Email, &user.Name, &user.Avatar, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `SELECT id, email, name, avatar, password_hash, created_at FROM users WHERE id = $1`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&user.ID, &user.Email, &user.Name, &user.Avatar, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserPublicProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.QueryRowContext(ctx, `SELECT id, name, avatar FROM users WHERE id = $1`, userID).
		Scan(&profile.ID, &profile.Name, &profile.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("lookup profile: %w", err)
	}
	return profile, nil
}

// GetAccessRecord loads the owner and the explicit grant of userID in one
// query. A missing document yields a record with DocumentExists=false.
func (s *PostgresStore) GetAccessRecord(ctx context.Context, documentID, userID string) (rbac.AccessRecord, error) {
	const query = `
		SELECT d.owner_id, COALESCE(dp.role, '')
		FROM documents d
		LEFT JOIN document_permissions dp ON dp.document_id = d.id AND dp.user_id = $2
		WHERE d.id = $1
	`
	record := rbac.AccessRecord{}
	err := s.db.QueryRowContext(ctx, query, documentID, userID).Scan(&record.OwnerID, &record.GrantRole)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.AccessRecord{}, nil
	}
	if err != nil {
		return rbac.AccessRecord{}, fmt.Errorf("lookup document access: %w", err)
	}
	record.DocumentExists = true
	return record, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	const query = `
		SELECT id, title, content, owner_id, version, created_at, updated_at
		FROM documents WHERE id = $1
	`
	var doc Document
	err := s.db.QueryRowContext(ctx, query, documentID).
		Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}
	return doc, nil
}

// UpdateDocumentContent replaces the whole content and bumps the version
// counter. It does not create a version snapshot.
func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, documentID, content string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET content = $2, body_text = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, documentID, content, htmltext.PlainText(content))
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, ownerID, title, content string) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin create document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc Document
	err = tx.QueryRowContext(ctx, `
		INSERT INTO documents (title, content, body_text, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, title, content, owner_id, version, created_at, updated_at
	`, title, content, htmltext.PlainText(content), ownerID).
		Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}

	// The UPDATE above holds the row lock that CreateVersion also takes.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, content, version_number, created_by)
		VALUES ($1, $2, 1, $3)
	`, doc.ID, content, ownerID); err != nil {
		return Document{}, fmt.Errorf("insert initial version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit create document: %w", err)
	}
	return doc, nil
}

// SaveDocument writes title and content and records the result as a new
// version snapshot in one transaction.
func (s *PostgresStore) SaveDocument(ctx context.Context, documentID, title, content, userID string) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin save document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc Document
	err = tx.QueryRowContext(ctx, `
		UPDATE documents
		SET title = $2, content = $3, body_text = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING id, title, content, owner_id, version, created_at, updated_at
	`, documentID, title, content, htmltext.PlainText(content)).
		Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}

	// The UPDATE above holds the row lock that CreateVersion also takes.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, content, version_number, created_by)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3
		FROM document_versions WHERE document_id = $1
	`, documentID, content, userID); err != nil {
		return Document{}, fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit save document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID string) ([]DocumentSummary, error) {
	const query = `
		SELECT d.id, d.title, d.owner_id, u.name,
			CASE WHEN d.owner_id = $1 THEN 'owner' ELSE dp.role END AS role,
			d.version, d.created_at, d.updated_at
		FROM documents d
		JOIN users u ON u.id = d.owner_id
		LEFT JOIN document_permissions dp ON dp.document_id = d.id AND dp.user_id = $1
		WHERE d.owner_id = $1 OR dp.user_id IS NOT NULL
		ORDER BY d.updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]DocumentSummary, 0)
	for rows.Next() {
		var d DocumentSummary
		if err := rows.Scan(&d.ID, &d.Title, &d.OwnerID, &d.OwnerName, &d.Role, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) UpsertPermission(ctx context.Context, documentID, userID, role string) (Permission, error) {
	var perm Permission
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO document_permissions (document_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING document_id, user_id, role, created_at
	`, documentID, userID, role).Scan(&perm.DocumentID, &perm.UserID, &perm.Role, &perm.CreatedAt)
	if err != nil {
		return Permission{}, fmt.Errorf("upsert permission: %w", err)
	}
	return perm, nil
}

// ListCollaborators returns the owner followed by every explicit grant.
func (s *PostgresStore) ListCollaborators(ctx context.Context, documentID string) ([]Collaborator, error) {
	const query = `
		SELECT u.id, u.name, u.email, u.avatar, 'owner' AS role, 0 AS sort
		FROM documents d JOIN users u ON u.id = d.owner_id
		WHERE d.id = $1
		UNION ALL
		SELECT u.id, u.name, u.email, u.avatar, dp.role, 1 AS sort
		FROM document_permissions dp
		JOIN documents d ON d.id = dp.document_id
		JOIN users u ON u.id = dp.user_id
		WHERE dp.document_id = $1 AND dp.user_id <> d.owner_id
		ORDER BY sort, name
	`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	out := make([]Collaborator, 0)
	for rows.Next() {
		var c Collaborator
		var sort int
		if err := rows.Scan(&c.UserID, &c.Name, &c.Email, &c.Avatar, &c.Role, &sort); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertComment stores comment under the id chosen by the caller and returns
// it with the server timestamp and the author's profile filled in.
func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	const query = `
		WITH inserted AS (
			INSERT INTO comments (id, document_id, user_id, content, position, resolved)
			VALUES ($1, $2, $3, $4, $5, FALSE)
			RETURNING id, document_id, user_id, content, position, resolved, created_at
		)
		SELECT i.id, i.document_id, i.user_id, i.content, i.position, i.resolved, i.created_at, u.name, u.avatar
		FROM inserted i JOIN users u ON u.id = i.user_id
	`
	var out Comment
	var position []byte
	err := s.db.QueryRowContext(ctx, query, comment.ID, comment.DocumentID, comment.UserID, comment.Content, nullableJSON(comment.Position)).
		Scan(&out.ID, &out.DocumentID, &out.UserID, &out.Content, &position, &out.Resolved, &out.CreatedAt, &out.UserName, &out.UserAvatar)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	out.Position = json.RawMessage(position)
	return out, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	const query = `
		SELECT c.id, c.document_id, c.user_id, c.content, c.position, c.resolved, c.created_at, u.name, u.avatar
		FROM comments c JOIN users u ON u.id = c.user_id
		WHERE c.document_id = $1
		ORDER BY c.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	out := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		var position []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.Content, &position, &c.Resolved, &c.CreatedAt, &c.UserName, &c.UserAvatar); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.Position = json.RawMessage(position)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateVersion snapshots the current content as the next version number.
// The document row is locked so concurrent snapshots and saves number their
// versions one after another.
func (s *PostgresStore) CreateVersion(ctx context.Context, documentID, userID string) (Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, fmt.Errorf("begin create version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var content string
	err = tx.QueryRowContext(ctx, `SELECT content FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("lock document: %w", err)
	}

	const query = `
		WITH inserted AS (
			INSERT INTO document_versions (document_id, content, version_number, created_by)
			SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3
			FROM document_versions WHERE document_id = $1
			RETURNING id, document_id, version_number, content, created_by, created_at
		)
		SELECT i.id, i.document_id, i.version_number, i.content, i.created_by, u.name, i.created_at
		FROM inserted i JOIN users u ON u.id = i.created_by
	`
	var v Version
	err = tx.QueryRowContext(ctx, query, documentID, content, userID).
		Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.Content, &v.CreatedBy, &v.CreatedByName, &v.CreatedAt)
	if err != nil {
		return Version{}, fmt.Errorf("create version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("commit create version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	const query = `
		SELECT v.id, v.document_id, v.version_number, v.content, v.created_by, u.name, v.created_at
		FROM document_versions v JOIN users u ON u.id = v.created_by
		WHERE v.document_id = $1
		ORDER BY v.version_number DESC
	`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	out := make([]Version, 0)
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.Content, &v.CreatedBy, &v.CreatedByName, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (token_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_id) DO NOTHING
	`, tokenID, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_id = $1 AND expires_at > NOW())
	`, tokenID).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// LoadSearchRecords returns every document with the ids of users allowed to
// read it, for a full search reindex.
func (s *PostgresStore) LoadSearchRecords(ctx context.Context) ([]SearchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.body_text, d.owner_id, d.updated_at,
			COALESCE(array_to_string(array_agg(dp.user_id) FILTER (WHERE dp.user_id IS NOT NULL), ','), '')
		FROM documents d
		LEFT JOIN document_permissions dp ON dp.document_id = d.id
		GROUP BY d.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load search records: %w", err)
	}
	defer rows.Close()

	out := make([]SearchRecord, 0)
	for rows.Next() {
		var r SearchRecord
		var members string
		if err := rows.Scan(&r.ID, &r.Title, &r.BodyText, &r.OwnerID, &r.UpdatedAt, &members); err != nil {
			return nil, fmt.Errorf("scan search record: %w", err)
		}
		r.MemberIDs = memberIDs(r.OwnerID, members)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadSearchRecord returns one document prepared for indexing.
func (s *PostgresStore) LoadSearchRecord(ctx context.Context, documentID string) (SearchRecord, error) {
	var r SearchRecord
	var members string
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.title, d.body_text, d.owner_id, d.updated_at,
			COALESCE(array_to_string(array_agg(dp.user_id) FILTER (WHERE dp.user_id IS NOT NULL), ','), '')
		FROM documents d
		LEFT JOIN document_permissions dp ON dp.document_id = d.id
		WHERE d.id = $1
		GROUP BY d.id
	`, documentID).Scan(&r.ID, &r.Title, &r.BodyText, &r.OwnerID, &r.UpdatedAt, &members)
	if errors.Is(err, sql.ErrNoRows) {
		return SearchRecord{}, ErrNotFound
	}
	if err != nil {
		return SearchRecord{}, fmt.Errorf("load search record: %w", err)
	}
	r.MemberIDs = memberIDs(r.OwnerID, members)
	return r, nil
}

func memberIDs(ownerID, joined string) []string {
	ids := []string{ownerID}
	for _, id := range strings.Split(joined, ",") {
		if id != "" && id != ownerID {
			ids = append(ids, id)
		}
	}
	return ids
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}
