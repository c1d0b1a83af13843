package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"colladoc/api/internal/store"
)

// DefaultReindexDelay batches bursts of edits to one document into a single
// index update.
const DefaultReindexDelay = 2 * time.Second

// Backend is a search engine that can also accept index updates.
type Backend interface {
	Searcher
	Indexer
}

// Service is the facade that tries the primary engine first and falls back
// to Postgres FTS.
type Service struct {
	primary  Backend
	fallback Searcher
	records  RecordSource
	log      *zap.Logger

	delay   time.Duration
	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Backend, fallback Searcher, records RecordSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		primary:  primary,
		fallback: fallback,
		records:  records,
		log:      logger.Named("search"),
		delay:    DefaultReindexDelay,
		pending:  make(map[string]struct{}),
	}
}

// WithReindexDelay overrides how long content changes are batched.
func (s *Service) WithReindexDelay(d time.Duration) *Service {
	s.delay = d
	return s
}

func (s *Service) primaryUp() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search never fails; engine errors degrade to the fallback and then to an
// empty result.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryUp() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("primary search failed, falling back", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument pushes one record to the primary engine.
func (s *Service) IndexDocument(doc DocumentRecord) {
	if !s.primaryUp() {
		return
	}
	if err := s.primary.IndexDocuments([]DocumentRecord{doc}); err != nil {
		s.log.Warn("index document", zap.String("documentId", doc.ID), zap.Error(err))
	}
}

func (s *Service) DeleteDocument(id string) {
	if !s.primaryUp() {
		return
	}
	if err := s.primary.DeleteDocument(id); err != nil {
		s.log.Warn("delete document", zap.String("documentId", id), zap.Error(err))
	}
}

// RefreshDocument reloads a document from the store and reindexes it.
func (s *Service) RefreshDocument(ctx context.Context, documentID string) {
	if !s.primaryUp() || s.records == nil {
		return
	}
	rec, err := s.records.LoadSearchRecord(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		s.DeleteDocument(documentID)
		return
	}
	if err != nil {
		s.log.Warn("load search record", zap.String("documentId", documentID), zap.Error(err))
		return
	}
	s.IndexDocument(RecordFromStore(rec))
}

// DocumentContentChanged schedules a reindex of the document. Calls arriving
// within the reindex delay are coalesced.
func (s *Service) DocumentContentChanged(documentID string) {
	if !s.primaryUp() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[documentID] = struct{}{}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.flush)
	}
}

func (s *Service) flush() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.pending = make(map[string]struct{})
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range ids {
		s.RefreshDocument(ctx, id)
	}
}

// ReindexAll loads every document from the store and pushes it to the
// primary engine.
func (s *Service) ReindexAll(ctx context.Context) error {
	if !s.primaryUp() || s.records == nil {
		return nil
	}
	recs, err := s.records.LoadSearchRecords(ctx)
	if err != nil {
		return err
	}
	docs := make([]DocumentRecord, 0, len(recs))
	for _, r := range recs {
		docs = append(docs, RecordFromStore(r))
	}
	if err := s.primary.IndexDocuments(docs); err != nil {
		return err
	}
	s.log.Info("reindexed documents", zap.Int("count", len(docs)))
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
