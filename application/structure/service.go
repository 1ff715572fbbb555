// Package structure caches the partitioned graph per project and keeps it
// in sync with the remote store. Concurrent fetches for the same project
// are coalesced onto one underlying request.
package structure

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"synccore/application/ports"
	"synccore/domain/partition"
	pkgerrors "synccore/pkg/errors"
)

// Service is the structure cache/sync service
type Service struct {
	remote ports.GraphStore
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]*partition.Structure
	// gen invalidates in-flight fetches: a fetch only stores its result
	// when no clear happened for the project since it started.
	gen    map[string]uint64
	flight singleflight.Group

	warnings chan string
}

// NewService creates a structure service backed by the given remote store
func NewService(remote ports.GraphStore, logger *zap.Logger) *Service {
	return &Service{
		remote:   remote,
		logger:   logger,
		cache:    make(map[string]*partition.Structure),
		gen:      make(map[string]uint64),
		warnings: make(chan string, 8),
	}
}

// Warnings exposes the one-shot warning channel for rebuild anomalies
func (s *Service) Warnings() <-chan string {
	return s.warnings
}

// GetSnapshot returns a deep copy of the project's partitioned structure.
// Without force, a populated cache answers immediately and concurrent
// requests for an uncached project share one underlying fetch.
func (s *Service) GetSnapshot(ctx context.Context, projectID string, force bool) (*partition.Structure, error) {
	if projectID == "" {
		return nil, pkgerrors.NewValidationError("projectID cannot be empty")
	}

	if !force {
		s.mu.Lock()
		if cached, ok := s.cache[projectID]; ok {
			out := cached.Clone()
			s.mu.Unlock()
			return out, nil
		}
		s.mu.Unlock()
	} else {
		s.invalidate(projectID)
	}

	st, err := s.fetch(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// RebuildStructure invalidates the project's cache and forces a fresh
// fetch. Switching projects clears unrelated cached state. A transient
// empty response never overwrites a known-good snapshot: the previous
// structure is retained and a warning is surfaced.
func (s *Service) RebuildStructure(ctx context.Context, projectID string) (*partition.Structure, error) {
	if projectID == "" {
		return nil, pkgerrors.NewValidationError("projectID cannot be empty")
	}

	s.mu.Lock()
	prev := s.cache[projectID]
	for id := range s.cache {
		s.gen[id]++
		delete(s.cache, id)
	}
	s.mu.Unlock()
	s.flight.Forget(projectID)

	st, err := s.fetch(ctx, projectID)
	if err != nil {
		// Keep what we had; the caller retries later.
		if prev != nil {
			s.store(projectID, prev)
		}
		return nil, err
	}

	if st.IsEmpty() && prev != nil && !prev.IsEmpty() {
		s.logger.Warn("rebuild returned empty structure, retaining previous snapshot",
			zap.String("projectID", projectID),
		)
		s.warn("structure rebuild for project " + projectID + " returned an empty graph; previous snapshot retained")
		s.store(projectID, prev)
		return prev.Clone(), nil
	}

	return st.Clone(), nil
}

// ClearCache drops cached structure and any in-flight fetch for the given
// projects, or for all projects when none are named.
func (s *Service) ClearCache(projectIDs ...string) {
	s.mu.Lock()
	if len(projectIDs) == 0 {
		projectIDs = make([]string, 0, len(s.cache))
		for id := range s.cache {
			projectIDs = append(projectIDs, id)
		}
	}
	for _, id := range projectIDs {
		s.gen[id]++
		delete(s.cache, id)
	}
	s.mu.Unlock()

	for _, id := range projectIDs {
		s.flight.Forget(id)
	}
}

// fetch runs the deduplicated remote fetch + partition for one project
func (s *Service) fetch(ctx context.Context, projectID string) (*partition.Structure, error) {
	s.mu.Lock()
	startGen := s.gen[projectID]
	s.mu.Unlock()

	v, err, shared := s.flight.Do(projectID, func() (interface{}, error) {
		payload, err := s.remote.FetchGraph(ctx, projectID)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "fetch graph")
		}
		st := payload.Structure()

		s.mu.Lock()
		if s.gen[projectID] == startGen {
			s.cache[projectID] = st
		}
		s.mu.Unlock()
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("structure fetch coalesced", zap.String("projectID", projectID))
	}
	return v.(*partition.Structure), nil
}

// invalidate drops the cached entry and detaches any in-flight fetch
func (s *Service) invalidate(projectID string) {
	s.mu.Lock()
	s.gen[projectID]++
	delete(s.cache, projectID)
	s.mu.Unlock()
	s.flight.Forget(projectID)
}

func (s *Service) store(projectID string, st *partition.Structure) {
	s.mu.Lock()
	s.cache[projectID] = st
	s.mu.Unlock()
}

// warn emits without blocking; the channel is a one-shot surface, not a log
func (s *Service) warn(msg string) {
	select {
	case s.warnings <- msg:
	default:
	}
}
