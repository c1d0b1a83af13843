package presence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colladoc/api/internal/util"
)

type seqIDs struct{ n int }

func (s *seqIDs) New() string {
	s.n++
	return fmt.Sprintf("p%d", s.n)
}

func newTestRegistry() (*Registry, *util.ManualClock) {
	clock := util.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewRegistry(clock, &seqIDs{}), clock
}

func TestRegisterListsInJoinOrder(t *testing.T) {
	reg, clock := newTestRegistry()
	reg.Register("doc-1", Profile{UserID: "u1", Name: "Ada"}, "c1")
	clock.Advance(time.Second)
	reg.Register("doc-1", Profile{UserID: "u2", Name: "Bo"}, "c2")
	reg.Register("doc-2", Profile{UserID: "u3"}, "c3")

	active := reg.ListActive("doc-1", LiveWindow)
	require.Len(t, active, 2)
	assert.Equal(t, "u1", active[0].UserID)
	assert.Equal(t, "Ada", active[0].Name)
	assert.Equal(t, 0, active[0].CursorPosition)
	assert.Equal(t, "u2", active[1].UserID)
}

func TestRegisterReplacesEntryOfSameConnection(t *testing.T) {
	reg, _ := newTestRegistry()
	first := reg.Register("doc-1", Profile{UserID: "u1"}, "c1")
	second := reg.Register("doc-2", Profile{UserID: "u1"}, "c1")

	assert.NotEqual(t, first, second)
	assert.Empty(t, reg.ListActive("doc-1", LiveWindow))
	assert.Len(t, reg.ListActive("doc-2", LiveWindow), 1)
	assert.False(t, reg.Touch(first, 3))
}

func TestSameUserMultipleConnections(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Register("doc-1", Profile{UserID: "u1"}, "tab-a")
	reg.Register("doc-1", Profile{UserID: "u1"}, "tab-b")
	assert.Len(t, reg.ListActive("doc-1", LiveWindow), 2)

	reg.RemoveByConnection("tab-a")
	assert.Len(t, reg.ListActive("doc-1", LiveWindow), 1)
}

func TestStalenessWindows(t *testing.T) {
	reg, clock := newTestRegistry()
	idle := reg.Register("doc-1", Profile{UserID: "idle"}, "c1")
	busy := reg.Register("doc-1", Profile{UserID: "busy"}, "c2")
	_ = idle

	clock.Advance(3 * time.Minute)
	require.True(t, reg.Touch(busy, 12))

	live := reg.ListActive("doc-1", LiveWindow)
	require.Len(t, live, 1)
	assert.Equal(t, "busy", live[0].UserID)
	assert.Equal(t, 12, live[0].CursorPosition)

	assert.Len(t, reg.ListActive("doc-1", RecentWindow), 2)

	clock.Advance(3 * time.Minute)
	assert.Len(t, reg.ListActive("doc-1", RecentWindow), 1)
	// expired entries are hidden, not deleted
	assert.Equal(t, 2, reg.count("doc-1"))
}

func TestTouchSeenKeepsCursor(t *testing.T) {
	reg, clock := newTestRegistry()
	id := reg.Register("doc-1", Profile{UserID: "u1"}, "c1")
	reg.Touch(id, 4)
	clock.Advance(90 * time.Second)
	require.True(t, reg.TouchSeen(id))
	clock.Advance(90 * time.Second)

	live := reg.ListActive("doc-1", LiveWindow)
	require.Len(t, live, 1)
	assert.Equal(t, 4, live[0].CursorPosition)
}

func TestRemoveAccounting(t *testing.T) {
	reg, _ := newTestRegistry()
	for i := 0; i < 4; i++ {
		reg.Register("doc-1", Profile{UserID: fmt.Sprintf("u%d", i)}, fmt.Sprintf("c%d", i))
	}
	entry, ok := reg.RemoveByConnection("c2")
	require.True(t, ok)
	assert.Equal(t, "u2", entry.Profile.UserID)
	assert.Len(t, reg.ListActive("doc-1", LiveWindow), 3)

	for _, c := range []string{"c0", "c1", "c3"} {
		reg.RemoveByConnection(c)
	}
	assert.Empty(t, reg.ListActive("doc-1", LiveWindow))
	assert.Equal(t, 0, reg.count("doc-1"))

	_, ok = reg.RemoveByConnection("c0")
	assert.False(t, ok)
}
