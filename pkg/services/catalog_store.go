package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// CatalogStore holds the current snapshot. Readers load the pointer once
// per request and keep using that snapshot even if a refresh swaps in a
// newer one while they run.
type CatalogStore struct {
	builder SnapshotBuilder
	current atomic.Pointer[models.CatalogSnapshot]
	logger  *zap.Logger

	refreshMu   sync.Mutex
	lastRefresh atomic.Pointer[refreshStatus]

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type refreshStatus struct {
	at  time.Time
	err error
}

// NewCatalogStore creates an empty store. Call Refresh to load the first
// snapshot.
func NewCatalogStore(builder SnapshotBuilder, logger *zap.Logger) *CatalogStore {
	return &CatalogStore{
		builder: builder,
		logger:  logger.Named("catalog-store"),
		stop:    make(chan struct{}),
	}
}

// Current returns the latest snapshot, or nil before the first build.
func (s *CatalogStore) Current() *models.CatalogSnapshot {
	return s.current.Load()
}

// Snapshot is Current for callers that need a snapshot to proceed.
func (s *CatalogStore) Snapshot() (*models.CatalogSnapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, &apperrors.SchemaNotFoundError{Reason: "the schema catalog has not been built yet"}
	}
	return snap, nil
}

// Swap installs snap and returns the snapshot it replaced.
func (s *CatalogStore) Swap(snap *models.CatalogSnapshot) *models.CatalogSnapshot {
	return s.current.Swap(snap)
}

// Refresh builds a new snapshot with version previous+1 and swaps it in.
// On failure the previous snapshot stays current. Concurrent calls are
// serialized so versions stay monotonic.
func (s *CatalogStore) Refresh(ctx context.Context) (*models.CatalogSnapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	var version int64 = 1
	if prev := s.current.Load(); prev != nil {
		version = prev.Version() + 1
	}

	snap, err := s.builder.Build(ctx, version)
	s.lastRefresh.Store(&refreshStatus{at: time.Now(), err: err})
	if err != nil {
		return nil, fmt.Errorf("catalog refresh failed: %w", err)
	}

	old := s.current.Swap(snap)
	fields := []zap.Field{
		zap.Int64("version", snap.Version()),
		zap.String("snapshot_id", snap.ID().String()),
		zap.Int("tables", snap.Len()),
	}
	if old != nil {
		fields = append(fields, zap.Int64("previous_version", old.Version()))
	}
	s.logger.Info("Catalog snapshot swapped", fields...)

	return snap, nil
}

// LastRefresh reports when the last refresh attempt finished and its error.
func (s *CatalogStore) LastRefresh() (time.Time, error) {
	st := s.lastRefresh.Load()
	if st == nil {
		return time.Time{}, nil
	}
	return st.at, st.err
}

// StartAutoRefresh rebuilds the catalog every interval until Close. A
// non-positive interval does nothing.
func (s *CatalogStore) StartAutoRefresh(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				go func() {
					select {
					case <-s.stop:
						cancel()
					case <-ctx.Done():
					}
				}()
				if _, err := s.Refresh(ctx); err != nil {
					s.logger.Warn("Background catalog refresh failed; keeping current snapshot",
						zap.String("error", logging.SanitizeError(err)))
				}
				cancel()
			}
		}
	}()

	s.logger.Info("Catalog auto-refresh started", zap.Duration("interval", interval))
}

// Close stops the refresh loop and waits for it to exit.
func (s *CatalogStore) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}
