package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

var serviceScores = map[string]float64{
	"public.orders":       0.9,
	"public.shipments":    0.85,
	"public.inventory":    0.8,
	"public.locations":    0.6,
	"public.order_lines":  0.5,
	"public.customers":    0.3,
	"public.products":     0.3,
	"public.labor_events": 0.2,
	"public.warehouses":   0.2,
}

type serviceOptions struct {
	maxRows    int
	timeout    time.Duration
	similarity *stubSimilarity
	noSnapshot bool
	builder    SnapshotBuilder
}

func newTestService(t *testing.T, connector *fakeConnector, opts serviceOptions) (*QueryService, *CatalogStore) {
	t.Helper()
	if opts.maxRows == 0 {
		opts.maxRows = 1000
	}
	if opts.timeout == 0 {
		opts.timeout = 5 * time.Second
	}
	if opts.similarity == nil {
		opts.similarity = &stubSimilarity{scores: serviceScores}
	}

	store := NewCatalogStore(opts.builder, zap.NewNop())
	if !opts.noSnapshot {
		store.Swap(wmsSnapshot(models.DialectPostgres))
	}

	leases := datasource.NewLeaseTracker(connector, zap.NewNop())
	exec := NewExecutor(leases, NewAdmission(3, 5*time.Second, zap.NewNop()), ExecutorConfig{Timeout: opts.timeout}, nil, zap.NewNop())

	svc := NewQueryService(QueryServiceDeps{
		Store:        store,
		Parser:       newTestParser(nil),
		Ranker:       NewRanker(opts.similarity, models.DefaultSynonyms(), DefaultRankerConfig(), zap.NewNop()),
		Planner:      newTestPlanner(),
		Validator:    NewSafetyValidator(ValidatorConfig{MaxRows: opts.maxRows}, nil, zap.NewNop()),
		Executor:     exec,
		Analyzer:     NewPerformanceAnalyzer(AnalyzerConfig{EnableIndexRecommendations: true, HighVolumeRows: 100000}, zap.NewNop()),
		Orchestrator: NewOrchestrator(nil, opts.maxRows, zap.NewNop()),
		Quality:      DefaultQualityConfig(),
	}, zap.NewNop())
	return svc, store
}

func constConnector(result func() *datasource.QueryResult) *fakeConnector {
	return &fakeConnector{
		dialect: models.DialectPostgres,
		newConn: func() *fakeConn { return &fakeConn{result: result()} },
	}
}

func diagnosticIDs(diags []models.Diagnostic) map[string]bool {
	out := make(map[string]bool)
	for _, d := range diags {
		out[d.RuleID] = true
	}
	return out
}

func TestQueryService_ShowAllOrdersIsCapped(t *testing.T) {
	connector := constConnector(func() *datasource.QueryResult {
		return rowsResult(5, "order_id", "order_number", "customer_id", "status", "order_date")
	})
	svc, _ := newTestService(t, connector, serviceOptions{maxRows: 5})

	env, err := svc.RunQuery(context.Background(), QueryRequest{Text: "show me all orders"})
	require.NoError(t, err)

	assert.Equal(t, string(models.StateCompleted), env.Status)
	assert.Equal(t, int64(1), env.SnapshotVersion)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, models.CategoryOrders, env.Category)
	assert.True(t, strings.HasSuffix(env.SQL, " LIMIT 5"), env.SQL)
	assert.Contains(t, env.SQL, `FROM "public"."orders"`)

	assert.Equal(t, 5, env.RowCount)
	assert.Len(t, env.Rows, 5)
	assert.True(t, env.Truncated)
	assert.Equal(t, models.CompletenessPartial, env.Completeness)
	assert.Equal(t, models.ReliabilityLow, env.Reliability)
	assert.Contains(t, env.Warnings, "Results limited to 5 rows; add filters (for example a date range, status or item) to narrow the result.")

	require.NotNil(t, env.Plan)
	assert.Equal(t, models.PlanSuccess, env.Plan.Status)
	assert.Equal(t, []string{"public.orders"}, env.Plan.Tables)
	assert.Equal(t, models.RowLimitApply, env.Plan.RowLimit)

	assert.Equal(t, PatternOrderQueueScan, env.Pattern)
	assert.True(t, diagnosticIDs(env.Diagnostics)["PA04"])
	assert.Contains(t, env.IndexRecommendations,
		`CREATE INDEX IF NOT EXISTS "idx_orders_order_date" ON "public"."orders" ("order_date");`)
	assert.Nil(t, env.Error)

	conns := connector.opened()
	require.Len(t, conns, 1)
	assert.Equal(t, []string{env.SQL}, conns[0].queries)
}

func TestQueryService_CountByLocationIsNotCapped(t *testing.T) {
	connector := constConnector(func() *datasource.QueryResult { return rowsResult(4, "location_id", "count") })
	svc, _ := newTestService(t, connector, serviceOptions{maxRows: 4})

	env, err := svc.RunQuery(context.Background(), QueryRequest{Text: "count of inventory by location"})
	require.NoError(t, err)

	assert.Equal(t, `SELECT t0."location_id", COUNT(*) AS "count" FROM "public"."inventory" AS t0 GROUP BY t0."location_id"`, env.SQL)
	assert.NotContains(t, env.SQL, "LIMIT")
	assert.Equal(t, models.RowLimitSkipAggregate, env.Plan.RowLimit)
	assert.Equal(t, 4, env.RowCount)
	assert.False(t, env.Truncated)
	assert.Equal(t, models.CompletenessComplete, env.Completeness)
	assert.Equal(t, models.ReliabilityHigh, env.Reliability)
	assert.Equal(t, PatternAggregateReport, env.Pattern)
	for _, w := range env.Warnings {
		assert.NotContains(t, w, "Results limited")
	}
}

func TestQueryService_DeadlineTimesOut(t *testing.T) {
	connector := &fakeConnector{
		dialect: models.DialectPostgres,
		newConn: func() *fakeConn { return &fakeConn{result: rowsResult(1, "order_id"), delay: 5 * time.Second} },
	}
	svc, _ := newTestService(t, connector, serviceOptions{timeout: time.Second})

	start := time.Now()
	env, err := svc.RunQuery(context.Background(), QueryRequest{Text: "show me all orders"})
	assert.Less(t, time.Since(start), 3*time.Second)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExecutionTimeout)
	assert.Equal(t, string(models.StateTimedOut), env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, apperrors.CodeExecutionTimeout, env.Error.Code)
	assert.NotNil(t, env.Rows)
	assert.Empty(t, env.Rows)
	assert.Len(t, connector.opened(), 1, "no retry")
}

func TestQueryService_RefreshMidFlightKeepsBoundSnapshot(t *testing.T) {
	started := make(chan struct{}, 1)
	connector := &fakeConnector{
		dialect: models.DialectPostgres,
		newConn: func() *fakeConn {
			select {
			case started <- struct{}{}:
			default:
			}
			return &fakeConn{result: rowsResult(2, "order_id"), delay: 200 * time.Millisecond}
		},
	}
	svc, store := newTestService(t, connector, serviceOptions{})
	old := store.Current()

	go func() {
		<-started
		// A refresh that dropped the orders table lands while the query runs.
		var kept []*models.TableSchema
		for _, tbl := range old.Tables() {
			if tbl.Name != "orders" {
				kept = append(kept, tbl)
			}
		}
		store.Swap(models.NewCatalogSnapshot(2, models.DialectPostgres, kept, nil))
	}()

	env, err := svc.RunQuery(context.Background(), QueryRequest{Text: "show me all orders"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), env.SnapshotVersion)
	assert.Equal(t, []string{"public.orders"}, env.Plan.Tables)
	assert.Equal(t, 2, env.RowCount)
	assert.Equal(t, int64(2), store.Current().Version())

	// The next request binds the new snapshot.
	env, _ = svc.RunQuery(context.Background(), QueryRequest{Text: "show me all orders"})
	assert.Equal(t, int64(2), env.SnapshotVersion)
}

func TestQueryService_MultiCategoryMerges(t *testing.T) {
	connector := constConnector(func() *datasource.QueryResult { return rowsResult(2, "order_id", "detail") })
	svc, _ := newTestService(t, connector, serviceOptions{})

	env, err := svc.RunQuery(context.Background(), QueryRequest{Text: "orders and shipments"})
	require.NoError(t, err)

	require.Len(t, env.SubResults, 2)
	assert.Equal(t, models.CategoryOrders, env.SubResults[0].Category)
	assert.Equal(t, models.CategoryShipping, env.SubResults[1].Category)
	for _, sr := range env.SubResults {
		assert.Equal(t, string(models.StateCompleted), sr.Status)
		assert.NotEmpty(t, sr.SQL)
		assert.NotNil(t, sr.Plan)
		assert.Nil(t, sr.Error)
	}

	assert.Equal(t, string(models.StateCompleted), env.Status)
	assert.Equal(t, "order_id", env.CorrelationKey)
	assert.Equal(t, 2, env.RowCount)
	require.Len(t, env.Rows, 2)
	assert.Equal(t, "detail-0", env.Rows[0]["orders.detail"])
	assert.Equal(t, "detail-0", env.Rows[0]["shipping.detail"])
	assert.Len(t, connector.opened(), 2)
	assert.LessOrEqual(t, connector.maxSeen.Load(), int32(3))
}

func TestQueryService_HintSkipsFanOut(t *testing.T) {
	connector := constConnector(func() *datasource.QueryResult { return rowsResult(1, "order_id") })
	svc, _ := newTestService(t, connector, serviceOptions{})

	env, err := svc.RunQuery(context.Background(), QueryRequest{Text: "orders and shipments", Hint: "Orders"})
	require.NoError(t, err)
	assert.Empty(t, env.SubResults)
	assert.Len(t, connector.opened(), 1)

	env, err = svc.RunQuery(context.Background(), QueryRequest{Text: "orders", Hint: "pallets"})
	assert.ErrorIs(t, err, apperrors.ErrPlanningFailure)
	assert.Equal(t, models.StatusNoPlan, env.Status)
}

func TestQueryService_RankingOutageDegrades(t *testing.T) {
	connector := constConnector(func() *datasource.QueryResult { return rowsResult(1, "order_id") })
	svc, _ := newTestService(t, connector, serviceOptions{
		similarity: &stubSimilarity{err: errors.New("embedding provider unavailable")},
	})

	env, err := svc.RunQuery(context.Background(), QueryRequest{Text: "show me all orders"})
	require.NoError(t, err)
	assert.Contains(t, env.Warnings, rankingUnavailableWarning)
	assert.Equal(t, []string{"public.orders"}, env.Plan.Tables)
}

func TestQueryService_NoSnapshot(t *testing.T) {
	svc, _ := newTestService(t, constConnector(func() *datasource.QueryResult { return nil }), serviceOptions{noSnapshot: true})

	env, err := svc.RunQuery(context.Background(), QueryRequest{Text: "show me all orders"})
	assert.ErrorIs(t, err, apperrors.ErrSchemaNotFound)
	require.NotNil(t, env.Error)
	assert.Equal(t, apperrors.CodeSchemaNotFound, env.Error.Code)
	assert.Equal(t, string(models.StateFailed), env.Status)
}

func TestQueryService_EmptyQuestion(t *testing.T) {
	connector := constConnector(func() *datasource.QueryResult { return nil })
	svc, _ := newTestService(t, connector, serviceOptions{})

	env, err := svc.RunQuery(context.Background(), QueryRequest{Text: "   "})
	assert.ErrorIs(t, err, apperrors.ErrPlanningFailure)
	assert.Equal(t, models.StatusNoPlan, env.Status)
	assert.Equal(t, apperrors.CodePlanningFailure, env.Error.Code)
	assert.Empty(t, connector.opened())
}

func TestQueryService_PlanDoesNotExecute(t *testing.T) {
	connector := constConnector(func() *datasource.QueryResult { return rowsResult(1, "order_id") })
	svc, _ := newTestService(t, connector, serviceOptions{})

	env, err := svc.Plan(context.Background(), QueryRequest{Text: "show me all orders"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlanned, env.Status)
	assert.Contains(t, env.SQL, "LIMIT 1000")
	assert.NotNil(t, env.Plan)
	assert.Empty(t, env.Rows)
	assert.Empty(t, connector.opened())
}

func TestQueryService_ValidateSQL(t *testing.T) {
	svc, _ := newTestService(t, constConnector(func() *datasource.QueryResult { return nil }), serviceOptions{})

	v, err := svc.ValidateSQL(context.Background(), "DROP TABLE orders")
	assert.ErrorIs(t, err, apperrors.ErrUnsafeQuery)
	assert.False(t, v.Valid)
	assert.Equal(t, apperrors.CodeUnsafeQuery, v.Error.Code)

	v, err = svc.ValidateSQL(context.Background(), "SELECT * FROM orders")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.True(t, v.RowLimitApplied)
	assert.Equal(t, "SELECT * FROM orders LIMIT 1000", v.SQL)
	ids := diagnosticIDs(v.Diagnostics)
	assert.True(t, ids["PA01"])
	assert.True(t, ids["PA04"])
}

func TestQueryService_ListTables(t *testing.T) {
	svc, _ := newTestService(t, constConnector(func() *datasource.QueryResult { return nil }), serviceOptions{})

	version, all, err := svc.ListTables("")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Len(t, all, len(wmsTables))
	assert.Equal(t, "public.customers", all[0].Name)

	_, orders, err := svc.ListTables(models.CategoryOrders)
	require.NoError(t, err)
	for _, tbl := range orders {
		assert.Equal(t, models.CategoryOrders, tbl.Category)
	}
	assert.NotEmpty(t, orders)
}

func TestQueryService_RefreshAndHealth(t *testing.T) {
	builder := &stubBuilder{tables: []*models.TableSchema{{Schema: "public", Name: "orders"}}}
	svc, store := newTestService(t, constConnector(func() *datasource.QueryResult { return nil }), serviceOptions{
		noSnapshot: true,
		builder:    builder,
	})

	h := svc.Health()
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, 3, h.Admission.Limit)

	version, err := svc.RefreshCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, int64(1), store.Current().Version())

	h = svc.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, int64(1), h.SnapshotVersion)
	assert.Equal(t, 1, h.Tables)
	require.NotNil(t, h.LastRefresh)

	builder.set(nil, errors.New("connection refused"))
	_, err = svc.RefreshCatalog(context.Background())
	require.Error(t, err)
	h = svc.Health()
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, int64(1), h.SnapshotVersion, "failed refresh keeps the previous snapshot")
	assert.Contains(t, h.LastRefreshError, "connection refused")
}
