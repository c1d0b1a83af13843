// Package collab is the real-time collaboration core: it binds websocket
// connections to documents, gates events by the role resolved at join time
// and fans the results out to document rooms.
package collab

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"colladoc/api/internal/call"
	"colladoc/api/internal/presence"
	"colladoc/api/internal/protocol"
	"colladoc/api/internal/rbac"
	"colladoc/api/internal/room"
	"colladoc/api/internal/shard"
	"colladoc/api/internal/store"
	"colladoc/api/internal/util"
)

const (
	DefaultSendQueueSize = 256
	accessDeniedMessage  = "Access denied"
)

// Store is the persistence the collaboration core depends on.
type Store interface {
	rbac.AccessSource
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	UpdateDocumentContent(ctx context.Context, documentID, content string) error
	InsertComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	GetUserPublicProfile(ctx context.Context, userID string) (store.Profile, error)
}

// ContentListener is told about every content write that was broadcast.
type ContentListener interface {
	DocumentContentChanged(documentID string)
}

type Options struct {
	SendQueueSize int
	Clock         util.Clock
	IDs           util.IDGenerator
	Logger        *zap.Logger
	// OnContentChange, when set, is notified after each persisted edit.
	OnContentChange ContentListener
}

type Manager struct {
	store    Store
	resolver *rbac.Resolver
	presence *presence.Registry
	rooms    *room.Rooms
	calls    *call.Coordinator

	// documentLocks orders multi-step room transitions per document. It is
	// never held across store calls.
	documentLocks *shard.Locks
	// writeLocks serializes content writes per document, across the store
	// call and the broadcast that follows it.
	writeLocks *shard.Locks

	connections *shard.Table[map[string]*Conn] // user id -> connection id -> conn
	connSeq     atomic.Uint64

	ids       util.IDGenerator
	log       *zap.Logger
	queueSize int
	listener  ContentListener
}

func NewManager(st Store, opts Options) *Manager {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = DefaultSendQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = util.UUIDGenerator{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		store:         st,
		resolver:      rbac.NewResolver(st),
		presence:      presence.NewRegistry(opts.Clock, opts.IDs),
		rooms:         room.New(),
		calls:         call.NewCoordinator(),
		documentLocks: shard.NewLocks(),
		writeLocks:    shard.NewLocks(),
		connections:   shard.NewTable[map[string]*Conn](),
		ids:           opts.IDs,
		log:           opts.Logger,
		queueSize:     opts.SendQueueSize,
		listener:      opts.OnContentChange,
	}
}

// Connect registers a freshly authenticated connection in the Unbound state.
func (m *Manager) Connect(userID, email, name string) *Conn {
	if name == "" {
		name = email
	}
	c := newConn(m.ids.New(), userID, email, name, m.connSeq.Add(1), m.queueSize)
	m.connections.Do(userID, func(items map[string]map[string]*Conn) {
		conns := items[userID]
		if conns == nil {
			conns = make(map[string]*Conn)
			items[userID] = conns
		}
		conns[c.id] = c
	})
	m.log.Debug("connection opened", zap.String("conn", c.id), zap.String("user", userID))
	return c
}

// Dispatch handles one inbound frame. Frames of one connection must be
// dispatched sequentially, and never concurrently with Disconnect.
func (m *Manager) Dispatch(ctx context.Context, c *Conn, frame []byte) {
	in, err := protocol.Decode(frame)
	if err != nil {
		m.log.Debug("dropping malformed frame", zap.String("conn", c.id), zap.Error(err))
		return
	}
	m.Handle(ctx, c, in)
}

// Handle routes a decoded event. A panic inside a handler is logged and the
// connection stays up.
func (m *Manager) Handle(ctx context.Context, c *Conn, in protocol.Inbound) {
	if c.State() == StateDisconnected {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("event handler panic",
				zap.String("event", string(in.Type)),
				zap.String("conn", c.id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	switch in.Type {
	case protocol.JoinDocument:
		m.handleJoin(ctx, c, in)
	case protocol.LeaveDocument:
		m.handleLeave(ctx, c)
	case protocol.TextChange:
		m.handleTextChange(ctx, c, in)
	case protocol.CursorPosition:
		m.handleCursor(c, in)
	case protocol.AddComment:
		m.handleAddComment(ctx, c, in)
	case protocol.GetCallState:
		m.handleGetCallState(ctx, c, in)
	case protocol.StartCall:
		m.handleStartCall(ctx, c, in)
	case protocol.EndCall:
		m.handleEndCall(c, in)
	case protocol.MediaStateChange:
		m.handleMediaState(c, in)
	case protocol.WebRTCOffer, protocol.WebRTCAnswer, protocol.WebRTCICECandidate:
		m.handleSignal(c, in)
	default:
		m.log.Debug("ignoring unknown event", zap.String("event", string(in.Name)), zap.String("conn", c.id))
	}
}

// Disconnect tears down everything the connection holds: its presence entry,
// room membership and call participation. It is safe to call more than once.
func (m *Manager) Disconnect(ctx context.Context, c *Conn) {
	if c.State() == StateDisconnected {
		c.Close()
		return
	}
	c.markDisconnected()
	m.leaveDocument(c, StateDisconnected)
	if callDocumentID := c.CallDocumentID(); callDocumentID != "" {
		m.leaveCallConnection(c, callDocumentID)
	}
	m.connections.Do(c.userID, func(items map[string]map[string]*Conn) {
		conns := items[c.userID]
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(items, c.userID)
		}
	})
	c.Close()
	m.log.Debug("connection closed", zap.String("conn", c.id), zap.String("user", c.userID))
}

// ActiveUsers is the roster of documentID within window.
func (m *Manager) ActiveUsers(documentID string, window time.Duration) []presence.Active {
	return m.presence.ListActive(documentID, window)
}

// CallState reports the call in progress on documentID, if any.
func (m *Manager) CallState(documentID string) (call.State, bool) {
	return m.calls.Get(documentID)
}

// RoomSize is the number of connections joined to documentID.
func (m *Manager) RoomSize(documentID string) int {
	return m.rooms.Members(documentID)
}

// userConnections lists every connection userID currently holds.
func (m *Manager) userConnections(userID string) []*Conn {
	var out []*Conn
	m.connections.Do(userID, func(items map[string]map[string]*Conn) {
		for _, c := range items[userID] {
			out = append(out, c)
		}
	})
	return out
}

// latestConnection returns the most recently opened live connection of userID.
func (m *Manager) latestConnection(userID string) *Conn {
	var latest *Conn
	m.connections.Do(userID, func(items map[string]map[string]*Conn) {
		for _, c := range items[userID] {
			if c.Closed() {
				continue
			}
			if latest == nil || c.seq > latest.seq {
				latest = c
			}
		}
	})
	return latest
}

// loadProfile refreshes the display name and avatar used in roster events.
// A failed lookup keeps what the connection already has.
func (m *Manager) loadProfile(ctx context.Context, c *Conn) presence.Profile {
	current := c.currentProfile()
	profile, err := m.store.GetUserPublicProfile(ctx, c.userID)
	if err != nil {
		m.log.Warn("load user profile", zap.String("user", c.userID), zap.Error(err))
		return current
	}
	next := presence.Profile{UserID: c.userID, Name: profile.Name, Avatar: profile.Avatar}
	if next.Name == "" {
		next.Name = current.Name
	}
	c.setProfile(next)
	return next
}

func (m *Manager) broadcastOthers(documentID string, sender *Conn, event protocol.Event) {
	if _, err := m.rooms.BroadcastToOthers(documentID, sender, event); err != nil {
		m.log.Error("broadcast", zap.String("event", string(event.Type)), zap.String("document", documentID), zap.Error(err))
	}
}

func (m *Manager) broadcastAll(documentID string, event protocol.Event) {
	if _, err := m.rooms.BroadcastToAll(documentID, event); err != nil {
		m.log.Error("broadcast", zap.String("event", string(event.Type)), zap.String("document", documentID), zap.Error(err))
	}
}

func (m *Manager) bindPayload(c *Conn, in protocol.Inbound, dst any) bool {
	if err := in.Bind(dst); err != nil {
		m.log.Debug("dropping event with bad payload", zap.String("conn", c.id), zap.Error(err))
		return false
	}
	return true
}
