package collab

import (
	"sync"

	"colladoc/api/internal/presence"
	"colladoc/api/internal/protocol"
	"colladoc/api/internal/rbac"
)

type State int

const (
	StateUnbound State = iota
	StateJoining
	StateJoined
	StateLeaving
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Conn is one authenticated client connection. Frames queued with Deliver are
// drained by the transport through Outbound.
type Conn struct {
	id     string
	userID string
	email  string
	seq    uint64

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu             sync.Mutex
	state          State
	documentID     string
	role           rbac.Role
	presenceID     string
	profile        presence.Profile
	callDocumentID string
}

// binding is a consistent copy of the document-related fields of a Conn.
type binding struct {
	state      State
	documentID string
	role       rbac.Role
	presenceID string
	profile    presence.Profile
}

func newConn(id, userID, email, name string, seq uint64, queueSize int) *Conn {
	return &Conn{
		id:      id,
		userID:  userID,
		email:   email,
		seq:     seq,
		send:    make(chan []byte, queueSize),
		done:    make(chan struct{}),
		profile: presence.Profile{UserID: userID, Name: name},
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }
func (c *Conn) Email() string  { return c.email }

// Outbound yields frames in the order they were queued.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed once the connection has been closed for any reason.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Deliver queues frame without blocking. A connection whose queue is full is
// closed, so a slow reader never holds up the rest of its room.
func (c *Conn) Deliver(frame []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.Close()
		return false
	}
}

func (c *Conn) sendEvent(event protocol.Event) bool {
	frame, err := protocol.Encode(event)
	if err != nil {
		return false
	}
	return c.Deliver(frame)
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role is the role cached at join time, empty while not joined.
func (c *Conn) Role() rbac.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Conn) DocumentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentID
}

func (c *Conn) CallDocumentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callDocumentID
}

func (c *Conn) binding() binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return binding{
		state:      c.state,
		documentID: c.documentID,
		role:       c.role,
		presenceID: c.presenceID,
		profile:    c.profile,
	}
}

func (c *Conn) currentProfile() presence.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// beginJoin moves the connection to Joining and returns the state to restore
// if the join is refused.
func (c *Conn) beginJoin() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return c.state, false
	}
	prior := c.state
	c.state = StateJoining
	return prior, true
}

func (c *Conn) restore(prior State) {
	c.mu.Lock()
	if c.state == StateJoining {
		c.state = prior
	}
	c.mu.Unlock()
}

func (c *Conn) setProfile(profile presence.Profile) {
	c.mu.Lock()
	c.profile = profile
	c.mu.Unlock()
}

func (c *Conn) bind(documentID string, role rbac.Role, presenceID string) {
	c.mu.Lock()
	c.state = StateJoined
	c.documentID = documentID
	c.role = role
	c.presenceID = presenceID
	c.mu.Unlock()
}

func (c *Conn) markLeaving() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.state = StateLeaving
	}
	c.mu.Unlock()
}

// unbind clears the document binding and moves to next, which is Unbound for
// an explicit leave or Disconnected.
func (c *Conn) unbind(next State) {
	c.mu.Lock()
	c.documentID = ""
	c.role = ""
	c.presenceID = ""
	if c.state != StateDisconnected {
		c.state = next
	}
	c.mu.Unlock()
}

func (c *Conn) setCall(documentID string) {
	c.mu.Lock()
	c.callDocumentID = documentID
	c.mu.Unlock()
}

// clearCall forgets the call only if it still points at documentID.
func (c *Conn) clearCall(documentID string) {
	c.mu.Lock()
	if c.callDocumentID == documentID {
		c.callDocumentID = ""
	}
	c.mu.Unlock()
}

func (c *Conn) markDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}
