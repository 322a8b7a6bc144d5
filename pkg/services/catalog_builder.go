package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
	"github.com/ekaya-inc/ekaya-nlq/pkg/llm"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	"github.com/ekaya-inc/ekaya-nlq/pkg/retry"
)

// SnapshotBuilder produces catalog snapshots. CatalogStore depends on this
// rather than on *CatalogBuilder so tests can hand it canned snapshots.
type SnapshotBuilder interface {
	Build(ctx context.Context, version int64) (*models.CatalogSnapshot, error)
}

// CatalogBuilderConfig tunes a catalog build.
type CatalogBuilderConfig struct {
	// SampleValues is the number of distinct values kept per sampled column.
	// Zero disables sampling.
	SampleValues int
	// SampleColumnsPerTable caps how many text columns of a table are sampled.
	SampleColumnsPerTable int
	// EmbeddingBatchSize is the number of tables embedded per provider call.
	EmbeddingBatchSize int
	// Retry applies to metadata reads. Nil uses retry.DefaultConfig.
	Retry *retry.Config
}

// sampleColumnPriority orders text columns for sampling. Columns whose
// names contain one of these come first, in this order.
var sampleColumnPriority = []string{"status", "state", "type", "zone", "carrier", "category", "priority", "uom", "code"}

// CatalogBuilder reads the operational schema through the datasource
// registry and assembles a CatalogSnapshot.
type CatalogBuilder struct {
	factory   datasource.AdapterFactory
	dsType    string
	dsConfig  map[string]any
	dialect   models.Dialect
	embedders *embedding.Set
	pool      *llm.WorkerPool
	cfg       CatalogBuilderConfig
	logger    *zap.Logger
}

// NewCatalogBuilder creates a builder for one datasource.
func NewCatalogBuilder(
	factory datasource.AdapterFactory,
	dsType string,
	dsConfig map[string]any,
	embedders *embedding.Set,
	pool *llm.WorkerPool,
	cfg CatalogBuilderConfig,
	logger *zap.Logger,
) (*CatalogBuilder, error) {
	var dialect models.Dialect
	for _, info := range factory.ListTypes() {
		if info.Type == dsType {
			dialect = info.Dialect
			break
		}
	}
	if dialect == "" {
		return nil, fmt.Errorf("unsupported datasource type: %s (not compiled in)", dsType)
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = 32
	}
	if pool == nil {
		pool = llm.NewWorkerPool(llm.DefaultWorkerPoolConfig(), logger)
	}

	return &CatalogBuilder{
		factory:   factory,
		dsType:    dsType,
		dsConfig:  dsConfig,
		dialect:   dialect,
		embedders: embedders,
		pool:      pool,
		cfg:       cfg,
		logger:    logger.Named("catalog-builder"),
	}, nil
}

// Dialect returns the SQL flavor of the datasource.
func (b *CatalogBuilder) Dialect() models.Dialect { return b.dialect }

// Build discovers the schema and returns a snapshot stamped with version.
// Tables whose columns cannot be read are skipped. Missing foreign key or
// index metadata degrades the snapshot but does not fail the build.
func (b *CatalogBuilder) Build(ctx context.Context, version int64) (*models.CatalogSnapshot, error) {
	start := time.Now()

	discoverer, err := retry.DoWithResult(ctx, b.cfg.Retry, func() (datasource.SchemaDiscoverer, error) {
		return b.factory.NewSchemaDiscoverer(ctx, b.dsType, b.dsConfig)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open schema discoverer: %w", err)
	}
	defer discoverer.Close()

	tableMeta, err := retry.DoWithResult(ctx, b.cfg.Retry, func() ([]datasource.TableMetadata, error) {
		return discoverer.DiscoverTables(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover tables: %w", err)
	}

	fkMeta, err := retry.DoWithResult(ctx, b.cfg.Retry, func() ([]datasource.ForeignKeyMetadata, error) {
		return discoverer.DiscoverForeignKeys(ctx)
	})
	if err != nil {
		b.logger.Warn("Foreign key discovery failed; building catalog without relationships",
			zap.String("error", logging.SanitizeError(err)))
		fkMeta = nil
	}

	indexMeta, err := retry.DoWithResult(ctx, b.cfg.Retry, func() ([]datasource.IndexMetadata, error) {
		return discoverer.DiscoverIndexes(ctx)
	})
	if err != nil {
		b.logger.Warn("Index discovery failed; no column will be marked indexed",
			zap.String("error", logging.SanitizeError(err)))
		indexMeta = nil
	}
	leading := leadingIndexColumns(indexMeta)

	tables := make([]*models.TableSchema, 0, len(tableMeta))
	var skipped int
	for _, tm := range tableMeta {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cols, err := retry.DoWithResult(ctx, b.cfg.Retry, func() ([]datasource.ColumnMetadata, error) {
			return discoverer.DiscoverColumns(ctx, tm.SchemaName, tm.TableName)
		})
		if err != nil || len(cols) == 0 {
			skipped++
			b.logger.Warn("Skipping table: columns could not be read",
				zap.String("table", models.QualifiedName(tm.SchemaName, tm.TableName)),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}

		tables = append(tables, buildTableSchema(tm, cols, leading))
	}

	edges := buildEdges(fkMeta, tables)

	for _, t := range tables {
		t.Category = CategorizeTable(t)
	}

	if b.cfg.SampleValues > 0 {
		b.sampleValues(ctx, discoverer, tables)
	}

	if err := b.embedTables(ctx, tables); err != nil {
		return nil, err
	}

	snapshot := models.NewCatalogSnapshot(version, b.dialect, tables, edges)
	b.logger.Info("Built catalog snapshot",
		zap.Int64("version", version),
		zap.Int("tables", snapshot.Len()),
		zap.Int("skipped_tables", skipped),
		zap.Int("edges", len(snapshot.Edges())),
		zap.Duration("elapsed", time.Since(start)))

	return snapshot, nil
}

func buildTableSchema(tm datasource.TableMetadata, cols []datasource.ColumnMetadata, leading map[string]bool) *models.TableSchema {
	qualified := models.QualifiedName(tm.SchemaName, tm.TableName)
	t := &models.TableSchema{
		Schema:   tm.SchemaName,
		Name:     tm.TableName,
		RowCount: tm.RowCount,
	}

	sorted := append([]datasource.ColumnMetadata(nil), cols...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OrdinalPosition < sorted[j].OrdinalPosition
	})

	for _, c := range sorted {
		t.Columns = append(t.Columns, models.Column{
			Name:      c.ColumnName,
			DataType:  c.DataType,
			Nullable:  c.IsNullable,
			IsKey:     c.IsPrimaryKey || c.IsUnique,
			IsIndexed: c.IsPrimaryKey || leading[qualified+"."+strings.ToLower(c.ColumnName)],
			Ordinal:   c.OrdinalPosition,
		})
		if c.IsPrimaryKey {
			t.PrimaryKey = append(t.PrimaryKey, c.ColumnName)
		}
	}
	return t
}

// leadingIndexColumns returns "schema.table.column" keys for columns that
// lead some index. Only the first key column lets an index serve a filter
// on that column alone.
func leadingIndexColumns(indexes []datasource.IndexMetadata) map[string]bool {
	out := make(map[string]bool)
	for _, ix := range indexes {
		if ix.Position != 1 {
			continue
		}
		out[models.QualifiedName(ix.SchemaName, ix.TableName)+"."+strings.ToLower(ix.ColumnName)] = true
	}
	return out
}

// buildEdges groups foreign key rows by constraint into one edge each and
// records the key on its source table. Constraints touching skipped tables
// are dropped.
func buildEdges(fks []datasource.ForeignKeyMetadata, tables []*models.TableSchema) []models.RelationshipEdge {
	byName := make(map[string]*models.TableSchema, len(tables))
	for _, t := range tables {
		byName[t.QualifiedName()] = t
	}

	type constraintKey struct{ source, name string }
	groups := make(map[constraintKey][]datasource.ForeignKeyMetadata)
	var order []constraintKey
	for _, fk := range fks {
		k := constraintKey{source: models.QualifiedName(fk.SourceSchema, fk.SourceTable), name: fk.ConstraintName}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], fk)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].source != order[j].source {
			return order[i].source < order[j].source
		}
		return order[i].name < order[j].name
	})

	var edges []models.RelationshipEdge
	for _, k := range order {
		rows := groups[k]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })

		target := models.QualifiedName(rows[0].TargetSchema, rows[0].TargetTable)
		source, ok := byName[k.source]
		if !ok {
			continue
		}
		if _, ok := byName[target]; !ok {
			continue
		}

		edge := models.RelationshipEdge{From: k.source, To: target, Confidence: 1.0, Constraint: k.name}
		fk := models.ForeignKey{Name: k.name, RefTable: target}
		for _, r := range rows {
			edge.Columns = append(edge.Columns, models.JoinColumn{From: r.SourceColumn, To: r.TargetColumn})
			fk.Columns = append(fk.Columns, r.SourceColumn)
			fk.RefColumns = append(fk.RefColumns, r.TargetColumn)
		}
		source.ForeignKeys = append(source.ForeignKeys, fk)
		edges = append(edges, edge)
	}
	return edges
}

// sampleValues fills SampleValues for up to SampleColumnsPerTable text
// columns per table. A failed read only loses that column's samples.
func (b *CatalogBuilder) sampleValues(ctx context.Context, discoverer datasource.SchemaDiscoverer, tables []*models.TableSchema) {
	for _, t := range tables {
		for _, col := range sampleCandidates(t, b.cfg.SampleColumnsPerTable) {
			values, err := discoverer.GetDistinctValues(ctx, t.Schema, t.Name, col, b.cfg.SampleValues)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Debug("Dropping samples for column",
					zap.String("table", t.QualifiedName()),
					zap.String("column", col),
					zap.String("error", logging.SanitizeError(err)))
				continue
			}
			if len(values) == 0 {
				continue
			}
			if t.SampleValues == nil {
				t.SampleValues = make(map[string][]string)
			}
			t.SampleValues[col] = values
		}
	}
}

// sampleCandidates picks the text columns worth sampling: no primary key
// columns, status-like names first, then ordinal order.
func sampleCandidates(t *models.TableSchema, limit int) []string {
	if limit <= 0 {
		return nil
	}
	pk := make(map[string]bool, len(t.PrimaryKey))
	for _, c := range t.PrimaryKey {
		pk[strings.ToLower(c)] = true
	}

	type cand struct {
		name    string
		rank    int
		ordinal int
	}
	var cands []cand
	for _, c := range t.Columns {
		if !c.IsText() || pk[strings.ToLower(c.Name)] {
			continue
		}
		rank := len(sampleColumnPriority)
		lower := strings.ToLower(c.Name)
		for i, p := range sampleColumnPriority {
			if strings.Contains(lower, p) {
				rank = i
				break
			}
		}
		cands = append(cands, cand{name: c.Name, rank: rank, ordinal: c.Ordinal})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].rank != cands[j].rank {
			return cands[i].rank < cands[j].rank
		}
		return cands[i].ordinal < cands[j].ordinal
	})

	if len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.name
	}
	return out
}

// embeddedBatch is one batch's vectors and the space they belong to.
type embeddedBatch struct {
	vectors [][]float32
	space   string
}

// embedTables embeds tables in batches through the worker pool. A batch the
// primary embedder fails on is embedded lexically instead, and each table
// records which space its vector lives in.
func (b *CatalogBuilder) embedTables(ctx context.Context, tables []*models.TableSchema) error {
	if len(tables) == 0 {
		return nil
	}

	size := b.cfg.EmbeddingBatchSize
	var items []llm.WorkItem[embeddedBatch]
	for start := 0; start < len(tables); start += size {
		end := min(start+size, len(tables))
		batch := tables[start:end]
		texts := make([]string, len(batch))
		for i, t := range batch {
			texts[i] = t.EmbeddingText()
		}

		items = append(items, llm.WorkItem[embeddedBatch]{
			ID: fmt.Sprintf("embed-tables-%d-%d", start, end),
			Execute: func(ctx context.Context) (embeddedBatch, error) {
				return b.embedBatch(ctx, texts)
			},
		})
	}

	results := llm.Process(ctx, b.pool, items, nil)
	for _, res := range results {
		if res.Err != nil {
			return fmt.Errorf("failed to embed tables: %w", res.Err)
		}
		offset := res.Index * size
		for i, v := range res.Result.vectors {
			tables[offset+i].Embedding = v
			tables[offset+i].EmbeddingSpace = res.Result.space
		}
	}
	return nil
}

func (b *CatalogBuilder) embedBatch(ctx context.Context, texts []string) (embeddedBatch, error) {
	primary := b.embedders.Primary()
	vectors, err := primary.Embed(ctx, texts)
	if err == nil {
		return embeddedBatch{vectors: vectors, space: primary.Name()}, nil
	}
	if ctx.Err() != nil {
		return embeddedBatch{}, ctx.Err()
	}

	lexical := b.embedders.Lexical()
	b.logger.Warn("Embedding provider failed; using lexical embeddings for batch",
		zap.String("provider", primary.Name()),
		zap.Int("tables", len(texts)),
		zap.String("error", logging.SanitizeError(err)))

	vectors, err = lexical.Embed(ctx, texts)
	if err != nil {
		return embeddedBatch{}, err
	}
	return embeddedBatch{vectors: vectors, space: lexical.Name()}, nil
}

var _ SnapshotBuilder = (*CatalogBuilder)(nil)
