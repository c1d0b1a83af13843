// Package room keeps per-document membership and fans events out to members.
package room

import (
	"colladoc/api/internal/protocol"
	"colladoc/api/internal/shard"
)

// Member is a connection that can receive frames. Deliver must not block; a
// member that cannot keep up is expected to drop itself.
type Member interface {
	ID() string
	Deliver(frame []byte) bool
}

type Rooms struct {
	rooms *shard.Table[map[string]Member]
}

func New() *Rooms {
	return &Rooms{rooms: shard.NewTable[map[string]Member]()}
}

func (r *Rooms) Join(documentID string, member Member) {
	r.rooms.Do(documentID, func(items map[string]map[string]Member) {
		members := items[documentID]
		if members == nil {
			members = make(map[string]Member)
			items[documentID] = members
		}
		members[member.ID()] = member
	})
}

func (r *Rooms) Leave(documentID string, member Member) {
	r.rooms.Do(documentID, func(items map[string]map[string]Member) {
		members := items[documentID]
		delete(members, member.ID())
		if len(members) == 0 {
			delete(items, documentID)
		}
	})
}

func (r *Rooms) Members(documentID string) int {
	n := 0
	r.rooms.Do(documentID, func(items map[string]map[string]Member) {
		n = len(items[documentID])
	})
	return n
}

func (r *Rooms) contains(documentID string, member Member) bool {
	found := false
	r.rooms.Do(documentID, func(items map[string]map[string]Member) {
		_, found = items[documentID][member.ID()]
	})
	return found
}

// BroadcastToOthers delivers event to every member except sender and returns
// the number of members that accepted it.
func (r *Rooms) BroadcastToOthers(documentID string, sender Member, event protocol.Event) (int, error) {
	skip := ""
	if sender != nil {
		skip = sender.ID()
	}
	return r.broadcast(documentID, skip, event)
}

func (r *Rooms) BroadcastToAll(documentID string, event protocol.Event) (int, error) {
	return r.broadcast(documentID, "", event)
}

// The frame is queued to every member while the bucket lock is held, so two
// broadcasts on one document reach all members in the same order.
func (r *Rooms) broadcast(documentID, skip string, event protocol.Event) (int, error) {
	frame, err := protocol.Encode(event)
	if err != nil {
		return 0, err
	}
	delivered := 0
	r.rooms.Do(documentID, func(items map[string]map[string]Member) {
		for id, member := range items[documentID] {
			if id == skip {
				continue
			}
			if member.Deliver(frame) {
				delivered++
			}
		}
	})
	return delivered, nil
}
