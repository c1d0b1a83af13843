// Package call tracks the video call attached to each document. Only
// signaling metadata lives here; media flows through the conferencing service.
package call

import (
	"colladoc/api/internal/shard"
)

type State struct {
	DocumentID   string
	Initiator    string
	RoomURL      string
	Participants []string
}

type call struct {
	initiator   string
	roomURL     string
	order       []string
	connections map[string]map[string]struct{} // user id -> connection ids
}

func (c *call) snapshot(documentID string) State {
	participants := make([]string, len(c.order))
	copy(participants, c.order)
	return State{DocumentID: documentID, Initiator: c.initiator, RoomURL: c.roomURL, Participants: participants}
}

func (c *call) removeUser(userID string) {
	delete(c.connections, userID)
	for i, id := range c.order {
		if id == userID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

type StartResult struct {
	// Created is true when this start opened the call.
	Created bool
	// NewParticipant is false when the user was already in the call from
	// another connection.
	NewParticipant bool
	State          State
}

type LeaveResult struct {
	// Found is false when no call exists or the caller was not part of it.
	Found bool
	// UserLeft is true when the user has no connection left in the call.
	UserLeft bool
	// Ended is true when the participant set became empty and the call was
	// deleted.
	Ended bool
	State State
}

type Coordinator struct {
	calls *shard.Table[*call]
}

func NewCoordinator() *Coordinator {
	return &Coordinator{calls: shard.NewTable[*call]()}
}

// Start opens a call on documentID or adds the caller to the existing one.
// The room URL of an existing call is kept.
func (c *Coordinator) Start(documentID, userID, connectionID, roomURL string) StartResult {
	var result StartResult
	c.calls.Do(documentID, func(items map[string]*call) {
		current, ok := items[documentID]
		if !ok {
			current = &call{
				initiator:   userID,
				roomURL:     roomURL,
				connections: make(map[string]map[string]struct{}),
			}
			items[documentID] = current
			result.Created = true
		}
		conns, present := current.connections[userID]
		if !present {
			conns = make(map[string]struct{})
			current.connections[userID] = conns
			current.order = append(current.order, userID)
			result.NewParticipant = true
		}
		conns[connectionID] = struct{}{}
		result.State = current.snapshot(documentID)
	})
	return result
}

// End removes userID from the call on documentID together with every
// connection it joined from.
func (c *Coordinator) End(documentID, userID string) LeaveResult {
	var result LeaveResult
	c.calls.Do(documentID, func(items map[string]*call) {
		current, ok := items[documentID]
		if !ok {
			return
		}
		if _, present := current.connections[userID]; !present {
			return
		}
		current.removeUser(userID)
		result = finish(items, documentID, current)
	})
	return result
}

// LeaveConnection drops one connection of userID. The user stays in the call
// while any of their other connections remain.
func (c *Coordinator) LeaveConnection(documentID, userID, connectionID string) LeaveResult {
	var result LeaveResult
	c.calls.Do(documentID, func(items map[string]*call) {
		current, ok := items[documentID]
		if !ok {
			return
		}
		conns, present := current.connections[userID]
		if !present {
			return
		}
		if _, joined := conns[connectionID]; !joined {
			return
		}
		delete(conns, connectionID)
		if len(conns) > 0 {
			result = LeaveResult{Found: true, State: current.snapshot(documentID)}
			return
		}
		current.removeUser(userID)
		result = finish(items, documentID, current)
	})
	return result
}

func finish(items map[string]*call, documentID string, current *call) LeaveResult {
	result := LeaveResult{Found: true, UserLeft: true}
	if len(current.order) == 0 {
		delete(items, documentID)
		result.Ended = true
		result.State = State{DocumentID: documentID}
		return result
	}
	result.State = current.snapshot(documentID)
	return result
}

func (c *Coordinator) Get(documentID string) (State, bool) {
	var (
		state State
		found bool
	)
	c.calls.Do(documentID, func(items map[string]*call) {
		current, ok := items[documentID]
		if !ok {
			return
		}
		state, found = current.snapshot(documentID), true
	})
	return state, found
}

// InCall reports whether connectionID has joined the call on documentID.
func (c *Coordinator) InCall(documentID, connectionID string) bool {
	found := false
	c.calls.Do(documentID, func(items map[string]*call) {
		current, ok := items[documentID]
		if !ok {
			return
		}
		for _, conns := range current.connections {
			if _, ok := conns[connectionID]; ok {
				found = true
				return
			}
		}
	})
	return found
}

// active is the number of documents with a call in progress.
func (c *Coordinator) active() int {
	return c.calls.Len()
}
