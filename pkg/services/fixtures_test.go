package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// wmsTables mirrors testhelpers.WMSFixtureSQL as discoverer metadata.
var wmsTables = []datasource.TableMetadata{
	{SchemaName: "public", TableName: "customers", RowCount: 2},
	{SchemaName: "public", TableName: "inventory", RowCount: 5},
	{SchemaName: "public", TableName: "labor_events", RowCount: 2},
	{SchemaName: "public", TableName: "locations", RowCount: 4},
	{SchemaName: "public", TableName: "order_lines", RowCount: 5},
	{SchemaName: "public", TableName: "orders", RowCount: 250000},
	{SchemaName: "public", TableName: "products", RowCount: 3},
	{SchemaName: "public", TableName: "shipments", RowCount: 1},
	{SchemaName: "public", TableName: "warehouses", RowCount: 2},
}

func col(name, typ string, ordinal int, pk, unique, nullable bool) datasource.ColumnMetadata {
	return datasource.ColumnMetadata{
		ColumnName:      name,
		DataType:        typ,
		IsNullable:      nullable,
		IsPrimaryKey:    pk,
		IsUnique:        unique,
		OrdinalPosition: ordinal,
	}
}

var wmsColumns = map[string][]datasource.ColumnMetadata{
	"public.warehouses": {
		col("warehouse_id", "integer", 1, true, false, false),
		col("warehouse_code", "character varying", 2, false, true, false),
		col("name", "character varying", 3, false, false, false),
	},
	"public.locations": {
		col("location_id", "integer", 1, true, false, false),
		col("warehouse_id", "integer", 2, false, false, false),
		col("location_code", "character varying", 3, false, true, false),
		col("zone", "character varying", 4, false, false, false),
		col("capacity", "integer", 5, false, false, false),
	},
	"public.products": {
		col("product_id", "integer", 1, true, false, false),
		col("sku", "character varying", 2, false, true, false),
		col("description", "character varying", 3, false, false, false),
		col("weight_kg", "numeric", 4, false, false, true),
	},
	"public.inventory": {
		col("inventory_id", "integer", 1, true, false, false),
		col("product_id", "integer", 2, false, false, false),
		col("location_id", "integer", 3, false, false, false),
		col("quantity_on_hand", "integer", 4, false, false, false),
		col("lot_number", "character varying", 5, false, false, true),
		col("updated_at", "timestamp with time zone", 6, false, false, false),
	},
	"public.customers": {
		col("customer_id", "integer", 1, true, false, false),
		col("customer_code", "character varying", 2, false, true, false),
		col("customer_name", "character varying", 3, false, false, false),
	},
	"public.orders": {
		col("order_id", "integer", 1, true, false, false),
		col("order_number", "character varying", 2, false, true, false),
		col("customer_id", "integer", 3, false, false, false),
		col("status", "character varying", 4, false, false, false),
		col("order_date", "timestamp with time zone", 5, false, false, false),
	},
	"public.order_lines": {
		col("order_line_id", "integer", 1, true, false, false),
		col("order_id", "integer", 2, false, false, false),
		col("product_id", "integer", 3, false, false, false),
		col("quantity", "integer", 4, false, false, false),
	},
	"public.shipments": {
		col("shipment_id", "integer", 1, true, false, false),
		col("order_id", "integer", 2, false, false, false),
		col("carrier", "character varying", 3, false, false, false),
		col("tracking_number", "character varying", 4, false, false, true),
		col("shipped_at", "timestamp with time zone", 5, false, false, true),
	},
	"public.labor_events": {
		col("event_id", "integer", 1, true, false, false),
		col("employee_id", "integer", 2, false, false, false),
		col("task_type", "character varying", 3, false, false, false),
		col("started_at", "timestamp with time zone", 4, false, false, false),
	},
}

func fk(name, srcTable, srcCol, tgtTable, tgtCol string) datasource.ForeignKeyMetadata {
	return datasource.ForeignKeyMetadata{
		ConstraintName: name,
		SourceSchema:   "public",
		SourceTable:    srcTable,
		SourceColumn:   srcCol,
		TargetSchema:   "public",
		TargetTable:    tgtTable,
		TargetColumn:   tgtCol,
		Position:       1,
	}
}

var wmsForeignKeys = []datasource.ForeignKeyMetadata{
	fk("locations_warehouse_id_fkey", "locations", "warehouse_id", "warehouses", "warehouse_id"),
	fk("inventory_product_id_fkey", "inventory", "product_id", "products", "product_id"),
	fk("inventory_location_id_fkey", "inventory", "location_id", "locations", "location_id"),
	fk("orders_customer_id_fkey", "orders", "customer_id", "customers", "customer_id"),
	fk("order_lines_order_id_fkey", "order_lines", "order_id", "orders", "order_id"),
	fk("order_lines_product_id_fkey", "order_lines", "product_id", "products", "product_id"),
	fk("shipments_order_id_fkey", "shipments", "order_id", "orders", "order_id"),
}

var wmsIndexes = []datasource.IndexMetadata{
	{SchemaName: "public", TableName: "inventory", IndexName: "idx_inventory_product", ColumnName: "product_id", Position: 1},
	{SchemaName: "public", TableName: "orders", IndexName: "idx_orders_status", ColumnName: "status", Position: 1},
	{SchemaName: "public", TableName: "products", IndexName: "products_sku_key", ColumnName: "sku", Position: 1, IsUnique: true},
	{SchemaName: "public", TableName: "orders", IndexName: "orders_order_number_key", ColumnName: "order_number", Position: 1, IsUnique: true},
}

var wmsSamples = map[string][]string{
	"public.orders.status":          {"CANCELLED", "PENDING", "SHIPPED"},
	"public.shipments.carrier":      {"UPS"},
	"public.locations.zone":         {"A", "B", "X"},
	"public.labor_events.task_type": {"PICK", "PUTAWAY"},
}

// fakeDiscoverer serves the WMS fixture. Tables listed in failColumns
// return an error from DiscoverColumns.
type fakeDiscoverer struct {
	failColumns map[string]bool
	failFKs     bool
	failSamples bool
	closed      atomic.Bool
}

func (d *fakeDiscoverer) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	return append([]datasource.TableMetadata(nil), wmsTables...), nil
}

func (d *fakeDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	qn := models.QualifiedName(schemaName, tableName)
	if d.failColumns[qn] {
		return nil, fmt.Errorf("permission denied for table %s", tableName)
	}
	return append([]datasource.ColumnMetadata(nil), wmsColumns[qn]...), nil
}

func (d *fakeDiscoverer) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	if d.failFKs {
		return nil, errors.New("permission denied for information_schema")
	}
	return append([]datasource.ForeignKeyMetadata(nil), wmsForeignKeys...), nil
}

func (d *fakeDiscoverer) DiscoverIndexes(ctx context.Context) ([]datasource.IndexMetadata, error) {
	return append([]datasource.IndexMetadata(nil), wmsIndexes...), nil
}

func (d *fakeDiscoverer) GetDistinctValues(ctx context.Context, schemaName, tableName, columnName string, limit int) ([]string, error) {
	if d.failSamples {
		return nil, errors.New("statement timeout")
	}
	values := wmsSamples[models.QualifiedName(schemaName, tableName)+"."+columnName]
	if len(values) > limit {
		values = values[:limit]
	}
	return values, nil
}

func (d *fakeDiscoverer) Close() error {
	d.closed.Store(true)
	return nil
}

// fakeFactory hands out one discoverer and the connector under test.
type fakeFactory struct {
	discoverer *fakeDiscoverer
	connector  datasource.Connector
	openErr    error
}

func (f *fakeFactory) NewConnector(dsType string, config map[string]any) (datasource.Connector, error) {
	return f.connector, nil
}

func (f *fakeFactory) NewSchemaDiscoverer(ctx context.Context, dsType string, config map[string]any) (datasource.SchemaDiscoverer, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.discoverer, nil
}

func (f *fakeFactory) ListTypes() []datasource.AdapterInfo {
	return []datasource.AdapterInfo{
		{Type: "postgres", DisplayName: "PostgreSQL", Dialect: models.DialectPostgres},
		{Type: "mssql", DisplayName: "Microsoft SQL Server", Dialect: models.DialectMSSQL},
	}
}

// wmsSnapshot builds the fixture catalog the same way CatalogBuilder does,
// without going through a discoverer.
func wmsSnapshot(dialect models.Dialect) *models.CatalogSnapshot {
	leading := leadingIndexColumns(wmsIndexes)
	var tables []*models.TableSchema
	for _, tm := range wmsTables {
		qn := models.QualifiedName(tm.SchemaName, tm.TableName)
		t := buildTableSchema(tm, wmsColumns[qn], leading)
		t.Category = CategorizeTable(t)
		for key, values := range wmsSamples {
			if len(key) > len(qn) && key[:len(qn)+1] == qn+"." {
				if t.SampleValues == nil {
					t.SampleValues = make(map[string][]string)
				}
				t.SampleValues[key[len(qn)+1:]] = values
			}
		}
		tables = append(tables, t)
	}
	edges := buildEdges(wmsForeignKeys, tables)

	lex := embedding.NewLexical(embedding.DefaultLexicalDimensions)
	for _, t := range tables {
		t.Embedding = lex.Vector(t.EmbeddingText())
		t.EmbeddingSpace = lex.Name()
	}
	return models.NewCatalogSnapshot(1, dialect, tables, edges)
}

// fakeConn returns a fixed result after an optional delay that respects
// cancellation.
type fakeConn struct {
	result   *datasource.QueryResult
	err      error
	delay    time.Duration
	panicMsg string

	mu      sync.Mutex
	queries []string
	closed  atomic.Int32
}

func (c *fakeConn) Query(ctx context.Context, sqlQuery string) (*datasource.QueryResult, error) {
	c.mu.Lock()
	c.queries = append(c.queries, sqlQuery)
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func (c *fakeConn) Ping(ctx context.Context) error { return nil }

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

// fakeConnector opens a fresh fakeConn per call built by newConn and tracks
// how many are open at once.
type fakeConnector struct {
	dialect models.Dialect
	newConn func() *fakeConn
	openErr error

	mu      sync.Mutex
	conns   []*fakeConn
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeConnector) Open(ctx context.Context) (datasource.Conn, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	c := f.newConn()
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()

	n := f.active.Add(1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	return &trackedConn{fakeConn: c, owner: f}, nil
}

func (f *fakeConnector) Dialect() models.Dialect { return f.dialect }

func (f *fakeConnector) opened() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

type trackedConn struct {
	*fakeConn
	owner *fakeConnector
	once  sync.Once
}

func (t *trackedConn) Close() error {
	t.once.Do(func() { t.owner.active.Add(-1) })
	return t.fakeConn.Close()
}

// rowsResult builds a QueryResult with n rows of the given columns.
func rowsResult(n int, columns ...string) *datasource.QueryResult {
	res := &datasource.QueryResult{RowCount: n}
	for _, c := range columns {
		res.Columns = append(res.Columns, datasource.ColumnInfo{Name: c, Type: "TEXT"})
	}
	for i := 0; i < n; i++ {
		row := make(map[string]any, len(columns))
		for _, c := range columns {
			row[c] = fmt.Sprintf("%s-%d", c, i)
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

func tableNames(tables []*models.TableSchema) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.QualifiedName()
	}
	sort.Strings(out)
	return out
}
