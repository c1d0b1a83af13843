package store

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type User struct {
	ID           string
	Email        string
	Name         string
	Avatar       string
	PasswordHash string
	CreatedAt    time.Time
}

// Profile is the public part of a user shown to collaborators.
type Profile struct {
	ID     string
	Name   string
	Avatar string
}

type Document struct {
	ID        string
	Title     string
	Content   string
	OwnerID   string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentSummary is a document as listed for one user.
type DocumentSummary struct {
	ID        string
	Title     string
	OwnerID   string
	OwnerName string
	Role      string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Permission struct {
	DocumentID string
	UserID     string
	Role       string
	CreatedAt  time.Time
}

type Collaborator struct {
	UserID string
	Name   string
	Email  string
	Avatar string
	Role   string
}

type Comment struct {
	ID         string
	DocumentID string
	UserID     string
	Content    string
	Position   json.RawMessage
	Resolved   bool
	CreatedAt  time.Time
	UserName   string
	UserAvatar string
}

type Version struct {
	ID            string
	DocumentID    string
	VersionNumber int
	Content       string
	CreatedBy     string
	CreatedByName string
	CreatedAt     time.Time
}

// SearchRecord is a document row as fed to the search index.
type SearchRecord struct {
	ID        string
	Title     string
	BodyText  string
	OwnerID   string
	MemberIDs []string
	UpdatedAt time.Time
}
