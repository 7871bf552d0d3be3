// Package store keeps recent assessments in memory so their pages and
// downloads can be served after the run completes.
package store

import (
	"github.com/couchcryptid/quake-loss-estimator/internal/lru"
	"github.com/couchcryptid/quake-loss-estimator/internal/observability"
	"github.com/couchcryptid/quake-loss-estimator/internal/pipeline"
)

// Store is a bounded, least-recently-used set of assessments keyed by run ID.
type Store struct {
	runs    *lru.Cache[string, *pipeline.Assessment]
	metrics *observability.Metrics
}

// New creates a Store holding at most size assessments.
func New(size int, metrics *observability.Metrics) *Store {
	return &Store{
		runs:    lru.New[string, *pipeline.Assessment](size),
		metrics: metrics,
	}
}

// Put saves a, evicting the least recently viewed run when full.
func (s *Store) Put(a *pipeline.Assessment) {
	s.runs.Put(a.ID, a)
	s.metrics.RunsCached.Set(float64(s.runs.Len()))
}

// Get returns the assessment with the given run ID.
func (s *Store) Get(id string) (*pipeline.Assessment, bool) {
	return s.runs.Get(id)
}

// Recent returns up to n assessments, most recently used first. It does not
// change their recency.
func (s *Store) Recent(n int) []*pipeline.Assessment {
	keys := s.runs.Keys()
	out := make([]*pipeline.Assessment, 0, min(n, len(keys)))
	for _, k := range keys {
		if len(out) == n {
			break
		}
		if a, ok := s.runs.Peek(k); ok {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of stored runs.
func (s *Store) Len() int { return s.runs.Len() }
