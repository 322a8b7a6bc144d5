package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	"github.com/ekaya-inc/ekaya-nlq/pkg/services"
	"github.com/ekaya-inc/ekaya-nlq/pkg/vectorindex"
)

type stubConn struct{ rows int }

func (c *stubConn) Query(ctx context.Context, sqlQuery string) (*datasource.QueryResult, error) {
	res := &datasource.QueryResult{
		Columns: []datasource.ColumnInfo{{Name: "order_id", Type: "INT8"}, {Name: "status", Type: "TEXT"}},
	}
	for i := 0; i < c.rows; i++ {
		res.Rows = append(res.Rows, map[string]any{"order_id": int64(i + 1), "status": "pending"})
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

func (c *stubConn) Ping(ctx context.Context) error { return nil }
func (c *stubConn) Close() error                   { return nil }

type stubConnector struct {
	rows   int
	opened atomic.Int32
}

func (c *stubConnector) Open(ctx context.Context) (datasource.Conn, error) {
	c.opened.Add(1)
	return &stubConn{rows: c.rows}, nil
}

func (c *stubConnector) Dialect() models.Dialect { return models.DialectPostgres }

func ordersSnapshot() *models.CatalogSnapshot {
	orders := &models.TableSchema{
		Schema:   "public",
		Name:     "orders",
		Category: models.CategoryOrders,
		Columns: []models.Column{
			{Name: "order_id", DataType: "bigint", IsKey: true, IsIndexed: true, Ordinal: 1},
			{Name: "status", DataType: "text", Ordinal: 2},
			{Name: "order_date", DataType: "timestamp", Ordinal: 3},
		},
		PrimaryKey: []string{"order_id"},
		RowCount:   1200,
	}
	return models.NewCatalogSnapshot(1, models.DialectPostgres, []*models.TableSchema{orders}, nil)
}

func newTestServer(t *testing.T, connector datasource.Connector) *server.MCPServer {
	t.Helper()
	logger := zap.NewNop()

	store := services.NewCatalogStore(nil, logger)
	store.Swap(ordersSnapshot())

	lexical := embedding.NewLexical(64)
	index := vectorindex.New(embedding.NewSet(nil, lexical), vectorindex.MemoryScorer{}, logger)
	leases := datasource.NewLeaseTracker(connector, logger)

	svc := services.NewQueryService(services.QueryServiceDeps{
		Store:        store,
		Parser:       services.NewIntentParser(nil, logger),
		Ranker:       services.NewRanker(index, models.DefaultSynonyms(), services.DefaultRankerConfig(), logger),
		Planner:      services.NewPlanner(services.DefaultPlannerConfig(), models.DefaultSynonyms(), logger),
		Validator:    services.NewSafetyValidator(services.ValidatorConfig{MaxRows: 100}, nil, logger),
		Executor:     services.NewExecutor(leases, services.NewAdmission(2, time.Second, logger), services.ExecutorConfig{Timeout: 5 * time.Second}, nil, logger),
		Analyzer:     services.NewPerformanceAnalyzer(services.AnalyzerConfig{EnableIndexRecommendations: true, HighVolumeRows: 100000}, logger),
		Orchestrator: services.NewOrchestrator(nil, 100, logger),
		Quality:      services.DefaultQualityConfig(),
	}, logger)

	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterQueryTools(mcpServer, services.NewToolRegistry(svc), logger)
	return mcpServer
}

type callResponse struct {
	Result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) callResponse {
	t.Helper()
	params, err := json.Marshal(map[string]any{"name": name, "arguments": args})
	require.NoError(t, err)
	request := fmt.Sprintf(`{"jsonrpc":"2.0","method":"tools/call","params":%s,"id":1}`, params)

	resultBytes, err := json.Marshal(s.HandleMessage(context.Background(), []byte(request)))
	require.NoError(t, err)

	var response callResponse
	require.NoError(t, json.Unmarshal(resultBytes, &response))
	require.Nil(t, response.Error, "tool calls report failures in the result, not as protocol errors")
	require.Len(t, response.Result.Content, 1)
	return response
}

func TestRegisterQueryTools_ListsDefinitions(t *testing.T) {
	s := newTestServer(t, &stubConnector{})

	result := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	resultBytes, err := json.Marshal(result)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				InputSchema struct {
					Required   []string                  `json:"required"`
					Properties map[string]map[string]any `json:"properties"`
				} `json:"inputSchema"`
				Annotations struct {
					ReadOnlyHint *bool `json:"readOnlyHint"`
				} `json:"annotations"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))
	require.Len(t, response.Result.Tools, len(services.ToolDefinitions))

	byName := make(map[string]int)
	for i, tool := range response.Result.Tools {
		byName[tool.Name] = i
	}
	for _, def := range services.ToolDefinitions {
		i, ok := byName[def.Name]
		require.True(t, ok, "%s not listed", def.Name)
		tool := response.Result.Tools[i]
		assert.Equal(t, def.Description, tool.Description)
		require.NotNil(t, tool.Annotations.ReadOnlyHint, def.Name)
		assert.Equal(t, def.ReadOnly, *tool.Annotations.ReadOnlyHint, def.Name)
		for _, p := range def.Params {
			assert.Contains(t, tool.InputSchema.Properties, p.Name)
			if p.Required {
				assert.Contains(t, tool.InputSchema.Required, p.Name)
			}
		}
	}

	hint := response.Result.Tools[byName["run_query"]].InputSchema.Properties["hint"]
	assert.Contains(t, hint["enum"], "shipping")
}

func TestQueryTools_RunQuery(t *testing.T) {
	connector := &stubConnector{rows: 3}
	s := newTestServer(t, connector)

	response := callTool(t, s, "run_query", map[string]any{"question": "show me all orders", "hint": "orders"})
	require.False(t, response.Result.IsError, response.Result.Content[0].Text)

	var env models.ResultEnvelope
	require.NoError(t, json.Unmarshal([]byte(response.Result.Content[0].Text), &env))
	assert.Equal(t, string(models.StateCompleted), env.Status)
	assert.Equal(t, int64(1), env.SnapshotVersion)
	assert.Equal(t, 3, env.RowCount)
	assert.Contains(t, env.SQL, "LIMIT 100")
	assert.Equal(t, int32(1), connector.opened.Load())
}

func TestQueryTools_ErrorResults(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args map[string]any
		code string
	}{
		{name: "blank question", tool: "run_query", args: map[string]any{"question": " "}, code: apperrors.CodeInvalidArgument},
		{name: "unknown hint", tool: "plan_query", args: map[string]any{"question": "orders", "hint": "pallets"}, code: apperrors.CodeInvalidArgument},
		{name: "write statement", tool: "validate_sql", args: map[string]any{"sql": "DELETE FROM orders"}, code: apperrors.CodeUnsafeQuery},
		{name: "stacked statements", tool: "validate_sql", args: map[string]any{"sql": "SELECT 1; DROP TABLE orders"}, code: apperrors.CodeUnsafeQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connector := &stubConnector{}
			s := newTestServer(t, connector)

			response := callTool(t, s, tt.tool, tt.args)
			assert.True(t, response.Result.IsError)

			var errResp ErrorResponse
			require.NoError(t, json.Unmarshal([]byte(response.Result.Content[0].Text), &errResp))
			assert.True(t, errResp.Error)
			assert.Equal(t, tt.code, errResp.Code)
			assert.NotEmpty(t, errResp.Message)
			assert.Zero(t, connector.opened.Load())
		})
	}
}

func TestQueryTools_ListTablesAndHealth(t *testing.T) {
	s := newTestServer(t, &stubConnector{})

	response := callTool(t, s, "list_tables", map[string]any{"category": "orders"})
	require.False(t, response.Result.IsError)
	var list services.TableList
	require.NoError(t, json.Unmarshal([]byte(response.Result.Content[0].Text), &list))
	require.Len(t, list.Tables, 1)
	assert.Equal(t, "public.orders", list.Tables[0].Name)
	assert.Equal(t, []string{"order_id", "status", "order_date"}, list.Tables[0].Columns)

	response = callTool(t, s, "health", nil)
	require.False(t, response.Result.IsError)
	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(response.Result.Content[0].Text), &health))
	assert.Equal(t, "ok", health["status"])
}
