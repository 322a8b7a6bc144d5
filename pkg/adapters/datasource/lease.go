package datasource

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
)

// Lease is one borrowed connection. Release closes it exactly once no
// matter how many times it is called or from which exit path.
type Lease struct {
	conn       Conn
	acquiredAt time.Time
	deadline   time.Time
	released   atomic.Bool
	tracker    *LeaseTracker
}

// Conn returns the leased connection.
func (l *Lease) Conn() Conn { return l.conn }

// AcquiredAt returns when the connection was opened.
func (l *Lease) AcquiredAt() time.Time { return l.acquiredAt }

// Deadline returns the execution deadline the lease was taken for.
func (l *Lease) Deadline() time.Time { return l.deadline }

// Released reports whether Release has run.
func (l *Lease) Released() bool { return l.released.Load() }

// Release closes the connection. Only the first call has an effect.
func (l *Lease) Release() error {
	if !l.released.CompareAndSwap(false, true) {
		return nil
	}
	return l.tracker.release(l)
}

// LeaseStats is a point-in-time view of lease accounting.
type LeaseStats struct {
	Opened      int64 `json:"opened"`
	Released    int64 `json:"released"`
	Outstanding int64 `json:"outstanding"`
	OpenErrors  int64 `json:"open_errors"`
}

// LeaseTracker hands out one dedicated connection per lease and keeps count
// of what is outstanding. It holds no idle connections.
type LeaseTracker struct {
	connector  Connector
	logger     *zap.Logger
	opened     atomic.Int64
	released   atomic.Int64
	openErrors atomic.Int64
}

// NewLeaseTracker creates a tracker that opens connections through connector.
func NewLeaseTracker(connector Connector, logger *zap.Logger) *LeaseTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaseTracker{
		connector: connector,
		logger:    logger.Named("leases"),
	}
}

// Acquire opens a new connection for an execution that must finish by deadline.
func (t *LeaseTracker) Acquire(ctx context.Context, deadline time.Time) (*Lease, error) {
	conn, err := t.connector.Open(ctx)
	if err != nil {
		t.openErrors.Add(1)
		t.logger.Warn("failed to open connection",
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("open connection: %w", err)
	}

	t.opened.Add(1)
	return &Lease{
		conn:       conn,
		acquiredAt: time.Now(),
		deadline:   deadline,
		tracker:    t,
	}, nil
}

func (t *LeaseTracker) release(l *Lease) error {
	t.released.Add(1)
	if err := l.conn.Close(); err != nil {
		t.logger.Debug("error closing connection",
			zap.Duration("held", time.Since(l.acquiredAt)),
			zap.String("error", logging.SanitizeError(err)),
		)
		return err
	}
	return nil
}

// Outstanding returns the number of leases not yet released.
func (t *LeaseTracker) Outstanding() int64 {
	return t.opened.Load() - t.released.Load()
}

// Stats returns lease counters.
func (t *LeaseTracker) Stats() LeaseStats {
	opened := t.opened.Load()
	released := t.released.Load()
	return LeaseStats{
		Opened:      opened,
		Released:    released,
		Outstanding: opened - released,
		OpenErrors:  t.openErrors.Load(),
	}
}

// Connector returns the connector leases are opened from.
func (t *LeaseTracker) Connector() Connector { return t.connector }
