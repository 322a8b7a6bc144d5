package datasource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

type mockConn struct {
	mu     sync.Mutex
	closed int
}

func (c *mockConn) Query(ctx context.Context, sqlQuery string) (*QueryResult, error) {
	return &QueryResult{}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

type mockConnector struct {
	mu      sync.Mutex
	conns   []*mockConn
	openErr error
}

func (m *mockConnector) Open(ctx context.Context) (Conn, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &mockConn{}
	m.conns = append(m.conns, c)
	return c, nil
}

func (m *mockConnector) Dialect() models.Dialect { return models.DialectPostgres }

func TestLeaseTracker_ReleaseExactlyOnce(t *testing.T) {
	connector := &mockConnector{}
	tracker := NewLeaseTracker(connector, zaptest.NewLogger(t))

	deadline := time.Now().Add(time.Minute)
	lease, err := tracker.Acquire(context.Background(), deadline)
	require.NoError(t, err)
	assert.Equal(t, deadline, lease.Deadline())
	assert.False(t, lease.AcquiredAt().IsZero())
	assert.Equal(t, int64(1), tracker.Outstanding())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lease.Release()
		}()
	}
	wg.Wait()

	assert.True(t, lease.Released())
	assert.Equal(t, 1, connector.conns[0].closed, "connection must be closed exactly once")
	assert.Equal(t, LeaseStats{Opened: 1, Released: 1, Outstanding: 0}, tracker.Stats())
}

func TestLeaseTracker_OneConnectionPerLease(t *testing.T) {
	connector := &mockConnector{}
	tracker := NewLeaseTracker(connector, nil)

	a, err := tracker.Acquire(context.Background(), time.Now())
	require.NoError(t, err)
	b, err := tracker.Acquire(context.Background(), time.Now())
	require.NoError(t, err)

	assert.NotSame(t, a.Conn(), b.Conn())
	assert.Equal(t, int64(2), tracker.Outstanding())

	require.NoError(t, a.Release())
	require.NoError(t, b.Release())
	assert.Equal(t, int64(0), tracker.Outstanding())
}

func TestLeaseTracker_OpenError(t *testing.T) {
	connector := &mockConnector{openErr: errors.New("dial tcp 10.0.0.5:5432: connection refused")}
	tracker := NewLeaseTracker(connector, nil)

	_, err := tracker.Acquire(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, int64(0), tracker.Outstanding())
	assert.Equal(t, int64(1), tracker.Stats().OpenErrors)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.ErrorCategory
	}{
		{"adapter wrapped", NewQueryError(apperrors.CategoryPermission, "42501", errors.New("permission denied")), apperrors.CategoryPermission},
		{"net error", timeoutErr{}, apperrors.CategoryConnectivity},
		{"plain", errors.New("boom"), apperrors.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}
}

func TestNewQueryError_PassesContextErrors(t *testing.T) {
	assert.Nil(t, NewQueryError(apperrors.CategorySyntax, "", nil))
	assert.Equal(t, context.DeadlineExceeded, NewQueryError(apperrors.CategoryUnknown, "", context.DeadlineExceeded))

	err := NewQueryError(apperrors.CategorySyntax, "42601", errors.New(`syntax error at or near "FORM"`))
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "42601", qe.Code)
}
