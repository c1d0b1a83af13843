// Package presence tracks which connections are viewing which documents.
// Entries are never swept; staleness is decided when the roster is read.
package presence

import (
	"sort"
	"sync/atomic"
	"time"

	"colladoc/api/internal/shard"
	"colladoc/api/internal/util"
)

const (
	// LiveWindow bounds the roster announced to a document's room.
	LiveWindow = 2 * time.Minute
	// RecentWindow bounds the roster returned with a full document fetch.
	RecentWindow = 5 * time.Minute
)

type Profile struct {
	UserID string
	Name   string
	Avatar string
}

type Entry struct {
	ID           string
	DocumentID   string
	ConnectionID string
	Profile      Profile
	Cursor       int
	JoinedAt     time.Time
	LastSeen     time.Time
	seq          uint64
}

// Active is one row of a roster as sent to clients.
type Active struct {
	UserID         string `json:"userId"`
	Name           string `json:"name"`
	Avatar         string `json:"avatar"`
	CursorPosition int    `json:"cursorPosition"`
}

type Registry struct {
	clock util.Clock
	ids   util.IDGenerator
	seq   atomic.Uint64

	documents    *shard.Table[map[string]*Entry] // document id -> presence id -> entry
	byPresence   *shard.Table[string]            // presence id -> document id
	byConnection *shard.Table[string]            // connection id -> presence id
}

func NewRegistry(clock util.Clock, ids util.IDGenerator) *Registry {
	if clock == nil {
		clock = util.RealClock{}
	}
	if ids == nil {
		ids = util.UUIDGenerator{}
	}
	return &Registry{
		clock:        clock,
		ids:          ids,
		documents:    shard.NewTable[map[string]*Entry](),
		byPresence:   shard.NewTable[string](),
		byConnection: shard.NewTable[string](),
	}
}

// Register records connectionID as present on documentID and returns the new
// presence id. Any previous entry of the same connection is replaced.
// Calls for one connection must not run concurrently.
func (r *Registry) Register(documentID string, profile Profile, connectionID string) string {
	r.RemoveByConnection(connectionID)

	now := r.clock.Now()
	entry := &Entry{
		ID:           r.ids.New(),
		DocumentID:   documentID,
		ConnectionID: connectionID,
		Profile:      profile,
		JoinedAt:     now,
		LastSeen:     now,
		seq:          r.seq.Add(1),
	}
	r.documents.Do(documentID, func(items map[string]map[string]*Entry) {
		entries := items[documentID]
		if entries == nil {
			entries = make(map[string]*Entry)
			items[documentID] = entries
		}
		entries[entry.ID] = entry
	})
	r.byPresence.Set(entry.ID, documentID)
	r.byConnection.Set(connectionID, entry.ID)
	return entry.ID
}

// Touch moves the cursor and refreshes last-seen. It reports false when the
// entry no longer exists.
func (r *Registry) Touch(presenceID string, cursor int) bool {
	return r.update(presenceID, func(e *Entry) {
		e.Cursor = cursor
	})
}

// TouchSeen refreshes last-seen without moving the cursor.
func (r *Registry) TouchSeen(presenceID string) bool {
	return r.update(presenceID, func(*Entry) {})
}

func (r *Registry) update(presenceID string, fn func(*Entry)) bool {
	documentID, ok := r.byPresence.Get(presenceID)
	if !ok {
		return false
	}
	now := r.clock.Now()
	found := false
	r.documents.Do(documentID, func(items map[string]map[string]*Entry) {
		entry, ok := items[documentID][presenceID]
		if !ok {
			return
		}
		fn(entry)
		entry.LastSeen = now
		found = true
	})
	return found
}

// ListActive returns entries of documentID seen within maxAge, oldest
// registration first.
func (r *Registry) ListActive(documentID string, maxAge time.Duration) []Active {
	cutoff := r.clock.Now().Add(-maxAge)
	var live []Entry
	r.documents.Do(documentID, func(items map[string]map[string]*Entry) {
		for _, entry := range items[documentID] {
			if entry.LastSeen.Before(cutoff) {
				continue
			}
			live = append(live, *entry)
		}
	})
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })

	out := make([]Active, 0, len(live))
	for _, entry := range live {
		out = append(out, Active{
			UserID:         entry.Profile.UserID,
			Name:           entry.Profile.Name,
			Avatar:         entry.Profile.Avatar,
			CursorPosition: entry.Cursor,
		})
	}
	return out
}

func (r *Registry) Remove(presenceID string) (Entry, bool) {
	documentID, ok := r.byPresence.Get(presenceID)
	if !ok {
		return Entry{}, false
	}
	var removed *Entry
	r.documents.Do(documentID, func(items map[string]map[string]*Entry) {
		entries := items[documentID]
		removed = entries[presenceID]
		delete(entries, presenceID)
		if len(entries) == 0 {
			delete(items, documentID)
		}
	})
	r.byPresence.Delete(presenceID)
	if removed == nil {
		return Entry{}, false
	}
	r.byConnection.Do(removed.ConnectionID, func(items map[string]string) {
		if items[removed.ConnectionID] == presenceID {
			delete(items, removed.ConnectionID)
		}
	})
	return *removed, true
}

func (r *Registry) RemoveByConnection(connectionID string) (Entry, bool) {
	presenceID, ok := r.byConnection.Get(connectionID)
	if !ok {
		return Entry{}, false
	}
	return r.Remove(presenceID)
}

// count is the number of entries held for documentID regardless of age.
func (r *Registry) count(documentID string) int {
	n := 0
	r.documents.Do(documentID, func(items map[string]map[string]*Entry) {
		n = len(items[documentID])
	})
	return n
}
