package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"colladoc/api/internal/protocol"
	"colladoc/api/internal/rbac"
	"colladoc/api/internal/store"
	"colladoc/api/internal/util"
)

// memoryStore keeps documents, grants and comments in maps. The fn fields
// override individual methods.
type memoryStore struct {
	mu       sync.Mutex
	owners   map[string]string
	grants   map[string]map[string]string
	contents map[string]string
	versions map[string]int
	profiles map[string]store.Profile
	comments []store.Comment
	writes   []string

	updateContentFn func(context.Context, string, string) error
	insertCommentFn func(context.Context, store.Comment) (store.Comment, error)
	accessFn        func(context.Context, string, string) (rbac.AccessRecord, error)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		owners:   map[string]string{},
		grants:   map[string]map[string]string{},
		contents: map[string]string{},
		versions: map[string]int{},
		profiles: map[string]store.Profile{},
	}
}

func (s *memoryStore) addUser(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id] = store.Profile{ID: id, Name: name, Avatar: "/avatars/" + id + ".png"}
}

func (s *memoryStore) addDocument(id, owner, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[id] = owner
	s.contents[id] = content
	s.versions[id] = 1
}

func (s *memoryStore) grant(documentID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[documentID] == nil {
		s.grants[documentID] = map[string]string{}
	}
	s.grants[documentID][userID] = role
}

func (s *memoryStore) content(documentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contents[documentID]
}

func (s *memoryStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *memoryStore) GetAccessRecord(ctx context.Context, documentID, userID string) (rbac.AccessRecord, error) {
	if s.accessFn != nil {
		return s.accessFn(ctx, documentID, userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.owners[documentID]
	if !ok {
		return rbac.AccessRecord{}, nil
	}
	return rbac.AccessRecord{DocumentExists: true, OwnerID: owner, GrantRole: s.grants[documentID][userID]}, nil
}

func (s *memoryStore) GetDocument(_ context.Context, documentID string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.owners[documentID]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return store.Document{
		ID:      documentID,
		Title:   "Title of " + documentID,
		Content: s.contents[documentID],
		OwnerID: owner,
		Version: s.versions[documentID],
	}, nil
}

func (s *memoryStore) UpdateDocumentContent(ctx context.Context, documentID, content string) error {
	if s.updateContentFn != nil {
		if err := s.updateContentFn(ctx, documentID, content); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[documentID]; !ok {
		return store.ErrNotFound
	}
	s.contents[documentID] = content
	s.versions[documentID]++
	s.writes = append(s.writes, content)
	return nil
}

func (s *memoryStore) InsertComment(ctx context.Context, comment store.Comment) (store.Comment, error) {
	if s.insertCommentFn != nil {
		return s.insertCommentFn(ctx, comment)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	profile := s.profiles[comment.UserID]
	comment.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	comment.UserName = profile.Name
	comment.UserAvatar = profile.Avatar
	s.comments = append(s.comments, comment)
	return comment, nil
}

func (s *memoryStore) GetUserPublicProfile(_ context.Context, userID string) (store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return store.Profile{}, store.ErrNotFound
	}
	return profile, nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// drain returns every frame queued on c so far.
func drain(t *testing.T, c *Conn) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case raw := <-c.Outbound():
			var f frame
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func events(frames []frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func only(t *testing.T, frames []frame, event string) []frame {
	t.Helper()
	var out []frame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func decode[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func send(t *testing.T, m *Manager, c *Conn, event protocol.EventType, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	m.Dispatch(context.Background(), c, raw)
}

type fixture struct {
	store   *memoryStore
	manager *Manager
	clock   *util.ManualClock
}

// newFixture seeds doc-1 owned by u1 with u2 as editor, u4 as viewer and u5
// as commenter. u3 has no access.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newMemoryStore()
	for id, name := range map[string]string{"u1": "Ada", "u2": "Bo", "u3": "Cy", "u4": "Di", "u5": "Ed"} {
		st.addUser(id, name)
	}
	st.addDocument("doc-1", "u1", "<p>start</p>")
	st.addDocument("doc-2", "u1", "")
	st.grant("doc-1", "u2", "editor")
	st.grant("doc-1", "u4", "viewer")
	st.grant("doc-1", "u5", "commenter")
	st.grant("doc-2", "u2", "editor")

	clock := util.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	manager := NewManager(st, Options{Clock: clock, IDs: &seqIDs{}})
	return &fixture{store: st, manager: manager, clock: clock}
}

func (f *fixture) connect(userID string) *Conn {
	return f.manager.Connect(userID, userID+"@example.com", "")
}

// joined connects userID, joins documentID and discards the join traffic
// from every connection in others.
func (f *fixture) joined(t *testing.T, userID, documentID string, others ...*Conn) *Conn {
	t.Helper()
	c := f.connect(userID)
	send(t, f.manager, c, protocol.JoinDocument, documentID)
	require.Equal(t, StateJoined, c.State())
	drain(t, c)
	for _, o := range others {
		drain(t, o)
	}
	return c
}
