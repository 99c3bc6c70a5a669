package search

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type primaryIndex interface {
	Searcher
	Indexer
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  primaryIndex
	fallback Searcher
	loader   func(ctx context.Context) ([]IdeaRecord, error)
	log      zerolog.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger zerolog.Logger) *Service {
	s := &Service{log: logger.With().Str("component", "search").Logger()}
	if meili != nil {
		s.primary = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadPublished
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries the primary index if healthy, otherwise the fallback.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalize(q)
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Query: q.Text, Backend: "pgfts"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "pgfts"}
}

// IndexIdea pushes a published idea to the primary index in the background.
func (s *Service) IndexIdea(rec IdeaRecord) {
	if !s.primaryReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.primary.IndexIdeas([]IdeaRecord{rec}); err != nil {
			s.log.Warn().Err(err).Int64("idea_id", rec.ID).Msg("index idea")
		}
	}()
}

// DeleteIdea removes an idea from the primary index in the background.
func (s *Service) DeleteIdea(id int64) {
	if !s.primaryReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.primary.DeleteIdea(id); err != nil {
			s.log.Warn().Err(err).Int64("idea_id", id).Msg("delete idea from index")
		}
	}()
}

// Reindex loads every published idea from Postgres and pushes it to the primary index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if !s.primaryReady() || s.loader == nil {
		return 0, nil
	}
	records, err := s.loader(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.primary.IndexIdeas(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Wait blocks until background index updates have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
