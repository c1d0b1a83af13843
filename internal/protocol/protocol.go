// Package protocol defines the websocket frames exchanged with editor clients.
// Every frame is a JSON object {"event": <name>, "data": <payload>}.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type EventType string

// Client to server.
const (
	JoinDocument       EventType = "join-document"
	LeaveDocument      EventType = "leave-document"
	TextChange         EventType = "text-change"
	CursorPosition     EventType = "cursor-position"
	AddComment         EventType = "add-comment"
	GetCallState       EventType = "get-call-state"
	StartCall          EventType = "start-call"
	EndCall            EventType = "end-call"
	MediaStateChange   EventType = "media-state-change"
	WebRTCOffer        EventType = "webrtc-offer"
	WebRTCAnswer       EventType = "webrtc-answer"
	WebRTCICECandidate EventType = "webrtc-ice-candidate"
)

// Server to client.
const (
	Error           EventType = "error"
	DocumentLoaded  EventType = "document-loaded"
	UserJoined      EventType = "user-joined"
	ActiveUsers     EventType = "active-users"
	TextChanged     EventType = "text-changed"
	CursorUpdate    EventType = "cursor-update"
	CommentAdded    EventType = "comment-added"
	UserLeft        EventType = "user-left"
	CallStarted     EventType = "call-started"
	UserJoinedCall  EventType = "user-joined-call"
	UserLeftCall    EventType = "user-left-call"
	CallEnded       EventType = "call-ended"
	CallStateUpdate EventType = "call-state-update"
	UserMediaState  EventType = "user-media-state"
)

const legacySuffix = "-legacy"

// Canonical maps legacy signaling aliases onto their current event name.
func Canonical(event EventType) EventType {
	name := string(event)
	if !strings.HasPrefix(name, "webrtc-") || !strings.HasSuffix(name, legacySuffix) {
		return event
	}
	return EventType(strings.TrimSuffix(name, legacySuffix))
}

// Event is an outbound message before encoding.
type Event struct {
	Type EventType
	Data any
}

type envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event EventType `json:"event"`
	Data  any       `json:"data,omitempty"`
}

func Encode(event Event) ([]byte, error) {
	frame, err := json.Marshal(outbound{Event: event.Type, Data: event.Data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.Type, err)
	}
	return frame, nil
}

// Inbound is a decoded client frame whose payload has not been interpreted yet.
// Name is the event name as sent; Type is its canonical form.
type Inbound struct {
	Type EventType
	Name EventType
	Data json.RawMessage
}

func Decode(frame []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Inbound{}, fmt.Errorf("decode frame: missing event name")
	}
	return Inbound{Type: Canonical(env.Event), Name: env.Event, Data: env.Data}, nil
}

// Bind unmarshals the payload into dst. An absent payload leaves dst untouched.
func (in Inbound) Bind(dst any) error {
	if len(in.Data) == 0 || string(in.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(in.Data, dst); err != nil {
		return fmt.Errorf("bind %s payload: %w", in.Type, err)
	}
	return nil
}

// Has reports whether the payload is an object carrying a non-null field.
func (in Inbound) Has(field string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(in.Data, &fields); err != nil {
		return false
	}
	raw, ok := fields[field]
	return ok && string(raw) != "null"
}

// DocumentRef accepts either a bare JSON string or {"documentId": "..."}.
type DocumentRef struct {
	DocumentID string `json:"documentId"`
}

func (d *DocumentRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		d.DocumentID = id
		return nil
	}
	type plain DocumentRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = DocumentRef(p)
	return nil
}
