package services

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	sqlpkg "github.com/ekaya-inc/ekaya-nlq/pkg/sql"
)

// WMS access patterns.
const (
	PatternInventoryLookup     = "inventory_lookup"
	PatternOrderQueueScan      = "order_queue_scan"
	PatternShipmentTracking    = "shipment_tracking"
	PatternReceivingLog        = "receiving_log"
	PatternLocationUtilization = "location_utilization"
	PatternProductLookup       = "product_lookup"
	PatternAggregateReport     = "aggregate_report"
	PatternGeneral             = "general"
)

var categoryPatterns = map[models.Category]string{
	models.CategoryInventory: PatternInventoryLookup,
	models.CategoryOrders:    PatternOrderQueueScan,
	models.CategoryShipping:  PatternShipmentTracking,
	models.CategoryReceiving: PatternReceivingLog,
	models.CategoryLocations: PatternLocationUtilization,
	models.CategoryProducts:  PatternProductLookup,
}

// AnalyzerConfig configures the performance analyzer.
type AnalyzerConfig struct {
	EnableIndexRecommendations bool
	HighVolumeRows             int64
}

// Analysis is the advisory output for one statement.
type Analysis struct {
	Pattern     string
	Diagnostics []models.Diagnostic
	Indexes     []models.IndexRecommendation
}

// Statements returns the ready-to-apply index statements.
func (a *Analysis) Statements() []string {
	out := make([]string, len(a.Indexes))
	for i, ix := range a.Indexes {
		out[i] = ix.Statement
	}
	return out
}

// PerformanceAnalyzer classifies statements and flags anti-patterns. It
// never blocks execution.
type PerformanceAnalyzer struct {
	cfg    AnalyzerConfig
	rules  []RuleDef
	logger *zap.Logger
}

// NewPerformanceAnalyzer creates an analyzer with the default rule registry.
func NewPerformanceAnalyzer(cfg AnalyzerConfig, logger *zap.Logger) *PerformanceAnalyzer {
	return &PerformanceAnalyzer{
		cfg:    cfg,
		rules:  PerformanceRules(),
		logger: logger.Named("performance"),
	}
}

// Analyze inspects validated SQL. plan is nil for caller-supplied SQL.
func (a *PerformanceAnalyzer) Analyze(plan *models.QueryPlan, q *ValidatedQuery, snapshot *models.CatalogSnapshot) *Analysis {
	tokens, err := sqlpkg.Tokenize(q.SQL(), q.Dialect())
	if err != nil {
		// Validated SQL always tokenizes; this only guards misuse.
		a.logger.Debug("Skipping analysis of untokenizable SQL", zap.Error(err))
		return &Analysis{Pattern: PatternGeneral}
	}

	in := &AnalysisInput{
		Plan:           plan,
		Tokens:         tokens,
		Dialect:        q.Dialect(),
		Snapshot:       snapshot,
		Tables:         readTables(plan, tokens, snapshot),
		HighVolumeRows: a.cfg.HighVolumeRows,
	}

	out := &Analysis{Pattern: classifyPattern(in)}
	seen := make(map[string]bool)
	for _, rule := range a.rules {
		for _, f := range rule.Check(in) {
			out.Diagnostics = append(out.Diagnostics, f.Diagnostic)
			if f.Index == nil || !a.cfg.EnableIndexRecommendations {
				continue
			}
			key := strings.ToLower(f.Index.Table + "|" + strings.Join(f.Index.Columns, ","))
			if seen[key] {
				continue
			}
			seen[key] = true
			ix := *f.Index
			ix.Statement = indexStatement(in.Dialect, snapshot, ix)
			out.Indexes = append(out.Indexes, ix)
		}
	}

	if len(out.Diagnostics) > 0 {
		a.logger.Debug("Performance findings",
			zap.String("pattern", out.Pattern),
			zap.Int("diagnostics", len(out.Diagnostics)),
			zap.Int("indexes", len(out.Indexes)),
		)
	}
	return out
}

func classifyPattern(in *AnalysisInput) string {
	aggregate := sqlpkg.IsOuterAggregate(in.Tokens)
	if in.Plan != nil {
		aggregate = aggregate || in.Plan.IsAggregate()
	}
	if aggregate {
		return PatternAggregateReport
	}

	var category models.Category
	switch {
	case in.Plan != nil && in.Plan.Category != "":
		category = in.Plan.Category
	case len(in.Tables) > 0:
		category = in.Tables[0].Category
	}
	if p, ok := categoryPatterns[category]; ok {
		return p
	}
	return PatternGeneral
}

// readTables resolves the tables a statement reads: the plan's tables, or
// the names after FROM and JOIN in caller-supplied SQL.
func readTables(plan *models.QueryPlan, tokens []sqlpkg.Token, snapshot *models.CatalogSnapshot) []*models.TableSchema {
	if snapshot == nil {
		return nil
	}
	var names []string
	if plan != nil {
		names = plan.Tables
	} else {
		for i, tok := range tokens {
			if tok.IsWord("FROM") || tok.IsWord("JOIN") {
				if name := qualifiedNameAt(tokens, i+1); name != "" {
					names = append(names, name)
				}
			}
		}
	}

	var out []*models.TableSchema
	seen := make(map[string]bool)
	for _, n := range names {
		t, ok := snapshot.Table(n)
		if !ok || seen[t.QualifiedName()] {
			continue
		}
		seen[t.QualifiedName()] = true
		out = append(out, t)
	}
	return out
}

// qualifiedNameAt reads "a", "a.b" or "[a].[b]" starting at tokens[i].
func qualifiedNameAt(tokens []sqlpkg.Token, i int) string {
	var parts []string
	for i < len(tokens) {
		tok := tokens[i]
		if tok.Kind != sqlpkg.TokenWord && tok.Kind != sqlpkg.TokenQuotedIdent {
			break
		}
		parts = append(parts, tok.Value())
		if i+1 < len(tokens) && tokens[i+1].IsPunct('.') {
			i += 2
			continue
		}
		break
	}
	return strings.Join(parts, ".")
}

var nonIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)

// indexStatement renders CREATE INDEX for the dialect.
func indexStatement(dialect models.Dialect, snapshot *models.CatalogSnapshot, ix models.IndexRecommendation) string {
	r := newSQLRenderer(dialect, nil)

	table := ix.Table
	if snapshot != nil {
		if t, ok := snapshot.Table(ix.Table); ok {
			table = r.quoteTable(t)
		}
	}

	bare := ix.Table[strings.LastIndex(ix.Table, ".")+1:]
	name := nonIdentChars.ReplaceAllString(strings.ToLower("idx_"+bare+"_"+strings.Join(ix.Columns, "_")), "_")
	if len(name) > 63 {
		name = name[:63]
	}

	cols := make([]string, len(ix.Columns))
	for i, c := range ix.Columns {
		cols[i] = r.quoteIdent(c)
	}

	if dialect == models.DialectMSSQL {
		return fmt.Sprintf("CREATE INDEX %s ON %s (%s);", r.quoteIdent(name), table, strings.Join(cols, ", "))
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);", r.quoteIdent(name), table, strings.Join(cols, ", "))
}
