package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
	"github.com/ekaya-inc/ekaya-nlq/pkg/llm"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	"github.com/ekaya-inc/ekaya-nlq/pkg/retry"
)

// downEmbedder fails every call, like a provider behind an open breaker.
type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, llm.ErrCircuitOpen
}
func (downEmbedder) Name() string    { return "openai:test-model" }
func (downEmbedder) Dimensions() int { return 8 }

func newTestBuilder(t *testing.T, d *fakeDiscoverer, primary embedding.Embedder) *CatalogBuilder {
	t.Helper()
	lex := embedding.NewLexical(64)
	b, err := NewCatalogBuilder(
		&fakeFactory{discoverer: d},
		"postgres",
		map[string]any{"host": "localhost"},
		embedding.NewSet(primary, lex),
		llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop()),
		CatalogBuilderConfig{
			SampleValues:          5,
			SampleColumnsPerTable: 2,
			EmbeddingBatchSize:    4,
			Retry:                 &retry.Config{MaxRetries: 0},
		},
		zap.NewNop(),
	)
	require.NoError(t, err)
	return b
}

func TestCatalogBuilder_Build(t *testing.T) {
	d := &fakeDiscoverer{}
	b := newTestBuilder(t, d, nil)

	snap, err := b.Build(context.Background(), 7)
	require.NoError(t, err)

	assert.True(t, d.closed.Load(), "discoverer must be closed")
	assert.Equal(t, int64(7), snap.Version())
	assert.Equal(t, models.DialectPostgres, snap.Dialect())
	assert.Equal(t, 9, snap.Len())
	assert.Len(t, snap.Edges(), len(wmsForeignKeys))

	wantCategories := map[string]models.Category{
		"public.customers":    models.CategoryCustomers,
		"public.inventory":    models.CategoryInventory,
		"public.labor_events": models.CategoryLabor,
		"public.locations":    models.CategoryLocations,
		"public.order_lines":  models.CategoryOrders,
		"public.orders":       models.CategoryOrders,
		"public.products":     models.CategoryProducts,
		"public.shipments":    models.CategoryShipping,
		"public.warehouses":   models.CategoryLocations,
	}
	for name, want := range wantCategories {
		table, ok := snap.Table(name)
		require.True(t, ok, name)
		assert.Equal(t, want, table.Category, name)
		assert.NotEmpty(t, table.Embedding, name)
		assert.Equal(t, embedding.LexicalName, table.EmbeddingSpace, name)
	}

	inventory, _ := snap.Table("public.inventory")
	productID, _ := inventory.Column("product_id")
	locationID, _ := inventory.Column("location_id")
	assert.True(t, productID.IsIndexed)
	assert.False(t, locationID.IsIndexed)
	assert.Equal(t, []string{"inventory_id"}, inventory.PrimaryKey)
	require.Len(t, inventory.ForeignKeys, 2)

	products, _ := snap.Table("public.products")
	sku, _ := products.Column("sku")
	assert.True(t, sku.IsKey)

	orders, _ := snap.Table("public.orders")
	assert.Equal(t, []string{"CANCELLED", "PENDING", "SHIPPED"}, orders.SampleValues["status"])
	assert.Equal(t, int64(250000), orders.RowCount)
}

func TestCatalogBuilder_SkipsUnreadableTable(t *testing.T) {
	d := &fakeDiscoverer{failColumns: map[string]bool{"public.labor_events": true}}
	snap, err := newTestBuilder(t, d, nil).Build(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 8, snap.Len())
	assert.False(t, snap.Has("public.labor_events"))
}

func TestCatalogBuilder_DegradesWithoutForeignKeys(t *testing.T) {
	d := &fakeDiscoverer{failFKs: true}
	snap, err := newTestBuilder(t, d, nil).Build(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 9, snap.Len())
	assert.Empty(t, snap.Edges())
}

func TestCatalogBuilder_SampleFailureDropsSamples(t *testing.T) {
	d := &fakeDiscoverer{failSamples: true}
	snap, err := newTestBuilder(t, d, nil).Build(context.Background(), 1)
	require.NoError(t, err)

	orders, _ := snap.Table("public.orders")
	assert.Empty(t, orders.SampleValues)
}

func TestCatalogBuilder_EmbeddingFallsBackToLexical(t *testing.T) {
	snap, err := newTestBuilder(t, &fakeDiscoverer{}, downEmbedder{}).Build(context.Background(), 1)
	require.NoError(t, err)

	for _, table := range snap.Tables() {
		assert.Equal(t, embedding.LexicalName, table.EmbeddingSpace, table.QualifiedName())
		assert.Len(t, table.Embedding, 64)
	}
}

func TestCatalogBuilder_OpenFailure(t *testing.T) {
	lex := embedding.NewLexical(8)
	b, err := NewCatalogBuilder(
		&fakeFactory{openErr: errors.New("password authentication failed")},
		"postgres", nil, embedding.NewSet(nil, lex), nil,
		CatalogBuilderConfig{Retry: &retry.Config{MaxRetries: 0}},
		zap.NewNop(),
	)
	require.NoError(t, err)

	_, err = b.Build(context.Background(), 1)
	assert.ErrorContains(t, err, "failed to open schema discoverer")
}

func TestNewCatalogBuilder_UnknownType(t *testing.T) {
	_, err := NewCatalogBuilder(&fakeFactory{}, "oracle", nil,
		embedding.NewSet(nil, embedding.NewLexical(8)), nil, CatalogBuilderConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestBuildEdges_MultiColumnConstraint(t *testing.T) {
	tables := []*models.TableSchema{
		{Schema: "wms", Name: "lot_balances"},
		{Schema: "wms", Name: "lots"},
	}
	fks := []datasource.ForeignKeyMetadata{
		{ConstraintName: "fk_lot", SourceSchema: "wms", SourceTable: "lot_balances", SourceColumn: "lot_no",
			TargetSchema: "wms", TargetTable: "lots", TargetColumn: "lot_no", Position: 2},
		{ConstraintName: "fk_lot", SourceSchema: "wms", SourceTable: "lot_balances", SourceColumn: "sku",
			TargetSchema: "wms", TargetTable: "lots", TargetColumn: "sku", Position: 1},
		{ConstraintName: "fk_missing", SourceSchema: "wms", SourceTable: "lot_balances", SourceColumn: "bin",
			TargetSchema: "wms", TargetTable: "bins", TargetColumn: "bin", Position: 1},
	}

	edges := buildEdges(fks, tables)
	require.Len(t, edges, 1)
	assert.Equal(t, "wms.lot_balances", edges[0].From)
	assert.Equal(t, "wms.lots", edges[0].To)
	assert.Equal(t, 1.0, edges[0].Confidence)
	assert.Equal(t, []models.JoinColumn{{From: "sku", To: "sku"}, {From: "lot_no", To: "lot_no"}}, edges[0].Columns)

	require.Len(t, tables[0].ForeignKeys, 1)
	assert.Equal(t, []string{"sku", "lot_no"}, tables[0].ForeignKeys[0].Columns)
}

func TestSampleCandidates(t *testing.T) {
	table := &models.TableSchema{
		Name:       "shipments",
		PrimaryKey: []string{"shipment_code"},
		Columns: []models.Column{
			{Name: "shipment_code", DataType: "varchar", Ordinal: 1},
			{Name: "notes", DataType: "text", Ordinal: 2},
			{Name: "carrier", DataType: "varchar", Ordinal: 3},
			{Name: "weight", DataType: "numeric", Ordinal: 4},
			{Name: "status", DataType: "varchar", Ordinal: 5},
		},
	}
	assert.Equal(t, []string{"status", "carrier"}, sampleCandidates(table, 2))
	assert.Equal(t, []string{"status", "carrier", "notes"}, sampleCandidates(table, 10))
	assert.Nil(t, sampleCandidates(table, 0))
}
