package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

func TestToolRegistry_ContainsAllDefinitions(t *testing.T) {
	svc, _ := newTestService(t, constConnector(func() *datasource.QueryResult { return nil }), serviceOptions{})
	reg := NewToolRegistry(svc)

	require.Len(t, reg.Tools(), len(ToolDefinitions))
	for i, def := range ToolDefinitions {
		assert.Equal(t, def.Name, reg.Tools()[i].Definition().Name)
		tool, ok := reg.Lookup(def.Name)
		require.True(t, ok, def.Name)
		assert.Equal(t, def, tool.Definition())
		assert.NotEmpty(t, def.Description, def.Name)
	}
	_, ok := reg.Lookup("execute")
	assert.False(t, ok)
}

func TestToolRegistry_ArgumentErrors(t *testing.T) {
	connector := constConnector(func() *datasource.QueryResult { return rowsResult(1, "order_id") })
	svc, _ := newTestService(t, connector, serviceOptions{})
	reg := NewToolRegistry(svc)

	tests := []struct {
		name  string
		tool  string
		args  map[string]any
		param string
	}{
		{name: "missing question", tool: "run_query", args: map[string]any{}, param: "question"},
		{name: "blank question", tool: "plan_query", args: map[string]any{"question": "  "}, param: "question"},
		{name: "non-string question", tool: "run_query", args: map[string]any{"question": 42}, param: "question"},
		{name: "unknown hint", tool: "run_query", args: map[string]any{"question": "orders", "hint": "pallets"}, param: "hint"},
		{name: "missing sql", tool: "validate_sql", args: nil, param: "sql"},
		{name: "unknown category", tool: "list_tables", args: map[string]any{"category": "pallets"}, param: "category"},
		{name: "unknown tool", tool: "drop_tables", args: nil, param: "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := reg.Invoke(context.Background(), tt.tool, tt.args)
			assert.Nil(t, out)
			var argErr *apperrors.InvalidArgumentError
			require.ErrorAs(t, err, &argErr)
			assert.Equal(t, tt.param, argErr.Param)
			assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
		})
	}
	assert.Empty(t, connector.opened(), "argument errors never reach the database")
}

func TestToolRegistry_Invoke(t *testing.T) {
	connector := constConnector(func() *datasource.QueryResult { return rowsResult(2, "order_id") })
	svc, _ := newTestService(t, connector, serviceOptions{})
	reg := NewToolRegistry(svc)
	ctx := context.Background()

	out, err := reg.Invoke(ctx, "run_query", map[string]any{"question": "show me all orders"})
	require.NoError(t, err)
	env, ok := out.(*models.ResultEnvelope)
	require.True(t, ok)
	assert.Equal(t, 2, env.RowCount)

	out, err = reg.Invoke(ctx, "plan_query", map[string]any{"question": "show me all orders", "hint": "orders"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlanned, out.(*models.ResultEnvelope).Status)

	out, err = reg.Invoke(ctx, "validate_sql", map[string]any{"sql": "SELECT COUNT(*) FROM orders"})
	require.NoError(t, err)
	assert.True(t, out.(*SQLValidation).Valid)

	out, err = reg.Invoke(ctx, "list_tables", map[string]any{"category": "shipping"})
	require.NoError(t, err)
	list := out.(*TableList)
	assert.Equal(t, int64(1), list.SnapshotVersion)
	require.Len(t, list.Tables, 1)
	assert.Equal(t, "public.shipments", list.Tables[0].Name)

	out, err = reg.Invoke(ctx, "health", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.(*HealthReport).Status)

	assert.Len(t, connector.opened(), 1, "only run_query executes")
}

func TestToolRegistry_RunQueryReturnsEnvelopeWithError(t *testing.T) {
	svc, _ := newTestService(t, constConnector(func() *datasource.QueryResult { return nil }), serviceOptions{noSnapshot: true})
	reg := NewToolRegistry(svc)

	out, err := reg.Invoke(context.Background(), "run_query", map[string]any{"question": "show me all orders"})
	assert.ErrorIs(t, err, apperrors.ErrSchemaNotFound)
	env, ok := out.(*models.ResultEnvelope)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeSchemaNotFound, env.Error.Code)
}
