package protocol

import (
	"encoding/json"
	"time"
)

// Client payloads.

type TextChangePayload struct {
	Content   string          `json:"content"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

type CursorPayload struct {
	Position int `json:"position"`
}

type AddCommentPayload struct {
	Content  string          `json:"content"`
	Position json.RawMessage `json:"position,omitempty"`
}

type StartCallPayload struct {
	DocumentID string `json:"documentId"`
	Name       string `json:"name"`
	RoomURL    string `json:"roomUrl"`
}

type MediaStatePayload struct {
	DocumentID     string `json:"documentId"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
}

type SignalPayload struct {
	TargetUserID string          `json:"targetUserId"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// Server payloads.

type ErrorData struct {
	Message string `json:"message"`
}

type DocumentLoadedData struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Role       string `json:"role"`
	Version    int    `json:"version"`
}

type UserJoinedData struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Role   string `json:"role"`
}

type TextChangedData struct {
	Content   string          `json:"content"`
	UserID    string          `json:"userId"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

type CursorUpdateData struct {
	UserID   string `json:"userId"`
	Position int    `json:"position"`
}

type CommentUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type CommentAddedData struct {
	ID        string          `json:"id"`
	Content   string          `json:"content"`
	Position  json.RawMessage `json:"position,omitempty"`
	Resolved  bool            `json:"resolved"`
	User      CommentUser     `json:"user"`
	CreatedAt time.Time       `json:"created_at"`
}

type UserLeftData struct {
	UserID string `json:"userId"`
}

type CallStartedData struct {
	Initiator     string   `json:"initiator"`
	InitiatorName string   `json:"initiatorName"`
	Participants  []string `json:"participants"`
	RoomURL       string   `json:"roomUrl"`
}

type CallMemberData struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type CallStateData struct {
	IsActive     bool     `json:"isActive"`
	Participants []string `json:"participants,omitempty"`
	Initiator    string   `json:"initiator,omitempty"`
	RoomURL      string   `json:"roomUrl,omitempty"`
}

type CallEndedData struct {
	DocumentID string `json:"documentId"`
}

type MediaStateData struct {
	UserID         string `json:"userId"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
}

type SignalData struct {
	FromUserID string          `json:"fromUserId"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}
