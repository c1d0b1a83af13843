package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"colladoc/api/internal/authpw"
	"colladoc/api/internal/config"
	"colladoc/api/internal/email"
	"colladoc/api/internal/export"
	"colladoc/api/internal/presence"
	"colladoc/api/internal/rbac"
	"colladoc/api/internal/search"
	"colladoc/api/internal/session"
	"colladoc/api/internal/store"
	"colladoc/api/internal/util"
)

// memStore is an in-memory DataStore.
type memStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	docs     map[string]store.Document
	grants   map[string]map[string]string
	comments map[string][]store.Comment
	versions map[string][]store.Version
	seq      int
	now      time.Time

	accessFn func(ctx context.Context, documentID, userID string) (rbac.AccessRecord, error)
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]store.User),
		docs:     make(map[string]store.Document),
		grants:   make(map[string]map[string]string),
		comments: make(map[string][]store.Comment),
		versions: make(map[string][]store.Version),
		now:      time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) tick() time.Time {
	m.now = m.now.Add(time.Minute)
	return m.now
}

func (m *memStore) CreateUser(_ context.Context, emailAddr, name, hash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := store.User{ID: m.nextID("user"), Email: emailAddr, Name: name, PasswordHash: hash, CreatedAt: m.tick()}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, emailAddr string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == emailAddr {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetUserPublicProfile(ctx context.Context, id string) (store.Profile, error) {
	u, err := m.GetUserByID(ctx, id)
	if err != nil {
		return store.Profile{}, err
	}
	return store.Profile{ID: u.ID, Name: u.Name, Avatar: u.Avatar}, nil
}

func (m *memStore) GetAccessRecord(ctx context.Context, documentID, userID string) (rbac.AccessRecord, error) {
	if m.accessFn != nil {
		return m.accessFn(ctx, documentID, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return rbac.AccessRecord{}, nil
	}
	return rbac.AccessRecord{DocumentExists: true, OwnerID: doc.OwnerID, GrantRole: m.grants[documentID][userID]}, nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (m *memStore) CreateDocument(_ context.Context, ownerID, title, content string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	doc := store.Document{ID: m.nextID("doc"), Title: title, Content: content, OwnerID: ownerID, Version: 1, CreatedAt: now, UpdatedAt: now}
	m.docs[doc.ID] = doc
	m.versions[doc.ID] = []store.Version{{ID: m.nextID("ver"), DocumentID: doc.ID, VersionNumber: 1, Content: content, CreatedBy: ownerID, CreatedAt: now}}
	return doc, nil
}

func (m *memStore) SaveDocument(_ context.Context, id, title, content, userID string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	doc.Title, doc.Content, doc.UpdatedAt = title, content, m.tick()
	doc.Version++
	m.docs[id] = doc
	m.appendVersion(id, content, userID)
	return doc, nil
}

func (m *memStore) appendVersion(id, content, userID string) store.Version {
	v := store.Version{
		ID:            m.nextID("ver"),
		DocumentID:    id,
		VersionNumber: len(m.versions[id]) + 1,
		Content:       content,
		CreatedBy:     userID,
		CreatedByName: m.users[userID].Name,
		CreatedAt:     m.now,
	}
	m.versions[id] = append(m.versions[id], v)
	return v
}

func (m *memStore) ListDocumentsForUser(_ context.Context, userID string) ([]store.DocumentSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.DocumentSummary, 0)
	for _, d := range m.docs {
		role := m.grants[d.ID][userID]
		if d.OwnerID == userID {
			role = "owner"
		}
		if role == "" {
			continue
		}
		out = append(out, store.DocumentSummary{ID: d.ID, Title: d.Title, OwnerID: d.OwnerID, OwnerName: m.users[d.OwnerID].Name, Role: role, Version: d.Version, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memStore) UpsertPermission(_ context.Context, documentID, userID, role string) (store.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grants[documentID] == nil {
		m.grants[documentID] = make(map[string]string)
	}
	m.grants[documentID][userID] = role
	return store.Permission{DocumentID: documentID, UserID: userID, Role: role, CreatedAt: m.now}, nil
}

func (m *memStore) ListCollaborators(_ context.Context, documentID string) ([]store.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[documentID]
	owner := m.users[doc.OwnerID]
	out := []store.Collaborator{{UserID: owner.ID, Name: owner.Name, Email: owner.Email, Role: "owner"}}
	ids := make([]string, 0, len(m.grants[documentID]))
	for id := range m.grants[documentID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		u := m.users[id]
		out = append(out, store.Collaborator{UserID: u.ID, Name: u.Name, Email: u.Email, Role: m.grants[documentID][id]})
	}
	return out, nil
}

func (m *memStore) ListComments(_ context.Context, documentID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Comment(nil), m.comments[documentID]...), nil
}

func (m *memStore) CreateVersion(_ context.Context, documentID, userID string) (store.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return store.Version{}, store.ErrNotFound
	}
	return m.appendVersion(documentID, doc.Content, userID), nil
}

func (m *memStore) ListVersions(_ context.Context, documentID string) ([]store.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.versions[documentID]
	out := make([]store.Version, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		out = append(out, vs[i])
	}
	return out, nil
}

type fakePresence struct {
	active map[string][]presence.Active
	window time.Duration
}

func (f *fakePresence) ActiveUsers(documentID string, window time.Duration) []presence.Active {
	f.window = window
	return f.active[documentID]
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []search.Query
	changed []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{{ID: "hit-1", Title: "match"}}, Total: 1, Query: q.Text}
}

func (f *fakeSearch) DocumentContentChanged(documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, documentID)
}

type fakeExporter struct {
	exportFn func(ctx context.Context, req export.Request) (*export.Result, error)
}

func (f *fakeExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return f.exportFn(ctx, req)
}

type fakeMailer struct {
	configured bool
	sent       []email.ShareData
	to         []string
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendShareNotification(to string, data email.ShareData) error {
	f.to = append(f.to, to)
	f.sent = append(f.sent, data)
	return nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type harness struct {
	store    *memStore
	presence *fakePresence
	search   *fakeSearch
	exporter *fakeExporter
	mailer   *fakeMailer
	service  *Service
	server   *HTTPServer
	redis    *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	revoker := session.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	h := &harness{
		store:    newMemStore(),
		presence: &fakePresence{active: make(map[string][]presence.Active)},
		search:   &fakeSearch{},
		exporter: &fakeExporter{},
		mailer:   &fakeMailer{configured: true},
		redis:    mr,
	}
	cfg := config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour, AppBaseURL: "https://docs.example.com/"}
	h.service = New(cfg, Deps{
		Store:    h.store,
		Revoker:  revoker,
		Presence: h.presence,
		Search:   h.search,
		Export:   h.exporter,
		Mailer:   h.mailer,
		Checks:   map[string]Pinger{"redis": revoker},
		Clock:    util.RealClock{},
	}).WithPasswordService(authpw.NewService(h.store).WithCost(bcrypt.MinCost))
	h.server = NewHTTPServer(h.service, "*", nil, nil)
	return h
}
