package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"colladoc/api/internal/email"
	"colladoc/api/internal/export"
	"colladoc/api/internal/presence"
	"colladoc/api/internal/rbac"
	"colladoc/api/internal/search"
	"colladoc/api/internal/store"
)

const defaultDocumentTitle = "Untitled Document"

type UpdateDocumentInput struct {
	Title   *string `json:"title"`
	Content string  `json:"content"`
}

type ShareInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// access resolves the caller's role. Unknown documents and denied users look
// the same to the caller.
func (s *Service) access(ctx context.Context, documentID, userID string) (rbac.Role, error) {
	role, ok, err := s.resolver.ResolveRole(ctx, documentID, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errDocumentNotFound
	}
	return role, nil
}

func (s *Service) requireEdit(ctx context.Context, documentID, userID string) error {
	role, err := s.access(ctx, documentID, userID)
	if errors.Is(err, errDocumentNotFound) {
		return errNoEditPermission
	}
	if err != nil {
		return err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return errNoEditPermission
	}
	return nil
}

func (s *Service) reindex(documentID string) {
	if s.search != nil {
		s.search.DocumentContentChanged(documentID)
	}
}

// ListDocuments returns the documents the caller owns or was granted,
// newest first. A non-empty query switches to full-text search.
func (s *Service) ListDocuments(ctx context.Context, session Session, query string) (any, error) {
	if q := strings.TrimSpace(query); q != "" {
		if s.search == nil {
			return search.Response{Results: []search.Result{}, Query: q}, nil
		}
		return s.search.Search(ctx, search.Query{Text: q, UserID: session.UserID}), nil
	}

	docs, err := s.store.ListDocumentsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]any{
			"id":         d.ID,
			"title":      d.Title,
			"owner_id":   d.OwnerID,
			"owner_name": d.OwnerName,
			"role":       d.Role,
			"version":    d.Version,
			"created_at": d.CreatedAt,
			"updated_at": d.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, title string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultDocumentTitle
	}
	doc, err := s.store.CreateDocument(ctx, session.UserID, title, "")
	if err != nil {
		return nil, err
	}
	s.reindex(doc.ID)
	return map[string]any{
		"id":       doc.ID,
		"title":    doc.Title,
		"content":  doc.Content,
		"owner_id": doc.OwnerID,
	}, nil
}

// GetDocument returns the document with the caller's role, everyone seen in
// the last five minutes and the comment thread.
func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	role, err := s.access(ctx, documentID, session.UserID)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errDocumentNotFound
	}
	if err != nil {
		return nil, err
	}

	ownerName := ""
	if owner, err := s.store.GetUserPublicProfile(ctx, doc.OwnerID); err == nil {
		ownerName = owner.Name
	}

	collaborators := []presence.Active{}
	if s.presence != nil {
		if active := s.presence.ActiveUsers(documentID, presence.RecentWindow); active != nil {
			collaborators = active
		}
	}

	comments, err := s.store.ListComments(ctx, documentID)
	if err != nil {
		s.log.Warn("list comments", zap.String("documentId", documentID), zap.Error(err))
		comments = nil
	}

	return map[string]any{
		"id":            doc.ID,
		"title":         doc.Title,
		"content":       doc.Content,
		"owner_id":      doc.OwnerID,
		"owner_name":    ownerName,
		"version":       doc.Version,
		"created_at":    doc.CreatedAt,
		"updated_at":    doc.UpdatedAt,
		"role":          string(role),
		"collaborators": collaborators,
		"comments":      formatComments(comments),
	}, nil
}

func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, input UpdateDocumentInput) (map[string]any, error) {
	if err := s.requireEdit(ctx, documentID, session.UserID); err != nil {
		return nil, err
	}
	var title string
	if input.Title != nil && strings.TrimSpace(*input.Title) != "" {
		title = strings.TrimSpace(*input.Title)
	} else {
		current, err := s.store.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		title = current.Title
	}
	if _, err := s.store.SaveDocument(ctx, documentID, title, input.Content, session.UserID); err != nil {
		return nil, err
	}
	s.reindex(documentID)
	return map[string]any{"success": true}, nil
}

// Share grants a role on the document to the user registered under the
// given email. Only the owner may share.
func (s *Service) Share(ctx context.Context, session Session, documentID string, input ShareInput) (map[string]any, error) {
	role, ok := rbac.Parse(strings.ToLower(strings.TrimSpace(input.Role)))
	if !ok || role == rbac.RoleOwner {
		return nil, validationError("Role must be viewer, commenter or editor")
	}

	callerRole, err := s.access(ctx, documentID, session.UserID)
	if errors.Is(err, errDocumentNotFound) {
		return nil, errOwnerOnlyShare
	}
	if err != nil {
		return nil, err
	}
	if callerRole != rbac.RoleOwner {
		return nil, errOwnerOnlyShare
	}

	target, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if target.ID == session.UserID {
		return nil, validationError("The owner already has full access")
	}

	if _, err := s.store.UpsertPermission(ctx, documentID, target.ID, string(role)); err != nil {
		return nil, err
	}
	s.reindex(documentID)
	s.notifyShare(ctx, session, documentID, target, role)
	return map[string]any{"success": true}, nil
}

func (s *Service) notifyShare(ctx context.Context, session Session, documentID string, target store.User, role rbac.Role) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		s.log.Warn("share notification skipped", zap.String("documentId", documentID), zap.Error(err))
		return
	}
	data := email.ShareData{
		SharerName:    session.Name,
		DocumentTitle: doc.Title,
		Role:          string(role),
		DocumentURL:   strings.TrimRight(s.cfg.AppBaseURL, "/") + "/documents/" + documentID,
	}
	if err := s.mailer.SendShareNotification(target.Email, data); err != nil {
		s.log.Warn("share notification failed", zap.String("documentId", documentID), zap.Error(err))
	}
}

func (s *Service) ListCollaborators(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, err := s.access(ctx, documentID, session.UserID); err != nil {
		return nil, err
	}
	collaborators, err := s.store.ListCollaborators(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(collaborators))
	for _, c := range collaborators {
		out = append(out, map[string]any{
			"role":        c.Role,
			"user_id":     c.UserID,
			"user_name":   c.Name,
			"user_avatar": c.Avatar,
		})
	}
	return out, nil
}

func (s *Service) ListComments(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, err := s.access(ctx, documentID, session.UserID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return formatComments(comments), nil
}

func formatComments(comments []store.Comment) []map[string]any {
	out := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		out = append(out, map[string]any{
			"id":         c.ID,
			"content":    c.Content,
			"position":   c.Position,
			"resolved":   c.Resolved,
			"created_at": c.CreatedAt,
			"user": map[string]any{
				"id":     c.UserID,
				"name":   c.UserName,
				"avatar": c.UserAvatar,
			},
		})
	}
	return out
}

func (s *Service) ListVersions(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, err := s.access(ctx, documentID, session.UserID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		out = append(out, map[string]any{
			"id":              v.ID,
			"document_id":     v.DocumentID,
			"version_number":  v.VersionNumber,
			"content":         v.Content,
			"created_by":      v.CreatedBy,
			"created_by_name": v.CreatedByName,
			"created_at":      v.CreatedAt,
		})
	}
	return out, nil
}

// CreateVersion snapshots the current content without changing it.
func (s *Service) CreateVersion(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if err := s.requireEdit(ctx, documentID, session.UserID); err != nil {
		return nil, err
	}
	v, err := s.store.CreateVersion(ctx, documentID, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "version_number": v.VersionNumber}, nil
}

func (s *Service) Export(ctx context.Context, session Session, documentID, format string, includeComments bool) (*export.Result, error) {
	if _, err := s.access(ctx, documentID, session.UserID); err != nil {
		return nil, err
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, validationError("Unsupported export format")
	}
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	result, err := s.export.Export(ctx, export.Request{DocumentID: documentID, Format: f, IncludeComments: includeComments})
	switch {
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export format is not available on this server", map[string]any{"format": string(f)})
	case errors.Is(err, store.ErrNotFound):
		return nil, errDocumentNotFound
	case err != nil:
		return nil, err
	}
	return result, nil
}
