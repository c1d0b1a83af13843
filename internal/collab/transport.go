package collab

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait              = 10 * time.Second
	pongWait               = 60 * time.Second
	pingPeriod             = (pongWait * 9) / 10
	DefaultMaxMessageBytes = 1 << 20
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the user behind a bearer token.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

type TransportOptions struct {
	MaxMessageBytes int64
	// AllowedOrigin is matched against the Origin header; "*" or empty allows any.
	AllowedOrigin string
}

// Transport upgrades authenticated HTTP requests to websockets and pumps
// frames between the socket and the Manager.
type Transport struct {
	manager  *Manager
	auth     Authenticator
	log      *zap.Logger
	upgrader websocket.Upgrader
	maxBytes int64
}

func NewTransport(manager *Manager, auth Authenticator, logger *zap.Logger, opts TransportOptions) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	origin := strings.TrimSpace(opts.AllowedOrigin)
	return &Transport{
		manager:  manager,
		auth:     auth,
		log:      logger,
		maxBytes: opts.MaxMessageBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if origin == "" || origin == "*" {
					return true
				}
				return r.Header.Get("Origin") == origin
			},
		},
	}
}

// BearerToken extracts the token from the Authorization header, falling back
// to the token query parameter browsers must use for websockets.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	identity, err := t.auth.Authenticate(r.Context(), token)
	if err != nil {
		t.log.Info("websocket handshake refused", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	conn := t.manager.Connect(identity.UserID, identity.Email, identity.Name)
	ctx := context.WithoutCancel(r.Context())
	go t.writePump(ws, conn)
	t.readPump(ctx, ws, conn)
}

func (t *Transport) readPump(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	defer func() {
		t.manager.Disconnect(ctx, conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(t.maxBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Debug("websocket read", zap.String("conn", conn.ID()), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if conn.Closed() {
			return
		}
		t.manager.Dispatch(ctx, conn, frame)
	}
}

// writePump is the only goroutine writing to ws.
func (t *Transport) writePump(ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-conn.Done():
			t.flush(ws, conn)
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, best effort.
func (t *Transport) flush(ws *websocket.Conn, conn *Conn) {
	for {
		select {
		case frame := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
