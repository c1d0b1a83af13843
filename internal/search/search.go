package search

import (
	"context"

	"colladoc/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	OwnerID   string `json:"ownerId"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Query describes a search request. Only documents UserID may read match.
type Query struct {
	Text   string
	UserID string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push documents into a search index.
type Indexer interface {
	IndexDocuments(docs []DocumentRecord) error
	DeleteDocument(id string) error
}

// RecordSource loads documents in indexable form.
type RecordSource interface {
	LoadSearchRecords(ctx context.Context) ([]store.SearchRecord, error)
	LoadSearchRecord(ctx context.Context, documentID string) (store.SearchRecord, error)
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	OwnerID   string   `json:"ownerId"`
	MemberIDs []string `json:"memberIds"`
	UpdatedAt int64    `json:"updatedAt"`
}

func RecordFromStore(r store.SearchRecord) DocumentRecord {
	return DocumentRecord{
		ID:        r.ID,
		Title:     r.Title,
		Body:      r.BodyText,
		OwnerID:   r.OwnerID,
		MemberIDs: r.MemberIDs,
		UpdatedAt: r.UpdatedAt.Unix(),
	}
}
