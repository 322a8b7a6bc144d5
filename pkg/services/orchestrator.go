package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	sqlpkg "github.com/ekaya-inc/ekaya-nlq/pkg/sql"
)

// categoryRun is the outcome of planning, validating and executing one
// category's share of a request.
type categoryRun struct {
	category models.Category
	outcome  models.PlanOutcome
	query    *ValidatedQuery
	analysis *Analysis
	result   *models.ExecutionResult
	warnings []string
	status   string
	err      error
}

func (r *categoryRun) succeeded() bool {
	return r.err == nil && r.result != nil && r.result.State == models.StateCompleted
}

// subPlanFunc runs the single-category pipeline restricted to category.
type subPlanFunc func(ctx context.Context, category models.Category) *categoryRun

// orchestration is the combined outcome of a multi-category request.
type orchestration struct {
	runs      []*categoryRun
	key       string
	columns   []models.ColumnInfo
	rows      []map[string]any
	truncated bool
}

// Orchestrator fans a multi-category request out to one sub-plan per
// category and merges the results. Sub-plans share the executor's
// admission budget, so the fan-out never raises total database load.
type Orchestrator struct {
	isKey   sqlpkg.KeyColumnFunc
	maxRows int
	logger  *zap.Logger
}

// NewOrchestrator creates an orchestrator. maxRows caps merged output.
func NewOrchestrator(keySuffixes []string, maxRows int, logger *zap.Logger) *Orchestrator {
	if len(keySuffixes) == 0 {
		keySuffixes = DefaultPlannerConfig().KeyColumnSuffixes
	}
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &Orchestrator{
		isKey:   sqlpkg.SuffixKeyColumns(keySuffixes),
		maxRows: maxRows,
		logger:  logger.Named("orchestrator"),
	}
}

// Run executes run once per category concurrently. A failing category is
// reported in its own sub-result and never cancels the others.
func (o *Orchestrator) Run(ctx context.Context, categories []models.Category, run subPlanFunc) *orchestration {
	out := &orchestration{runs: make([]*categoryRun, len(categories))}

	var g errgroup.Group
	for i, c := range categories {
		g.Go(func() error {
			out.runs[i] = run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	var ok []*categoryRun
	for _, r := range out.runs {
		if r.succeeded() {
			ok = append(ok, r)
		}
	}
	if len(ok) < 2 {
		o.logger.Debug("Not enough successful sub-results to merge", zap.Int("successful", len(ok)))
		return out
	}

	out.key = o.correlationKey(ok)
	if out.key == "" {
		o.logger.Debug("No shared key column across sub-results; returning them separately")
		return out
	}
	out.columns, out.rows, out.truncated = o.merge(out.key, ok)
	o.logger.Info("Merged sub-results",
		zap.String("correlation_key", out.key),
		zap.Int("sub_results", len(ok)),
		zap.Int("rows", len(out.rows)),
	)
	return out
}

// correlationKey picks a key-like column present in every sub-result; ties
// break alphabetically. Shared plain columns such as status never qualify.
func (o *Orchestrator) correlationKey(runs []*categoryRun) string {
	counts := make(map[string]int)
	for _, r := range runs {
		seen := make(map[string]bool)
		for _, c := range r.result.Columns {
			name := strings.ToLower(c.Name)
			if !seen[name] {
				seen[name] = true
				counts[name]++
			}
		}
	}

	var shared []string
	for name, n := range counts {
		if n == len(runs) && o.isKey(name) {
			shared = append(shared, name)
		}
	}
	if len(shared) == 0 {
		return ""
	}
	sort.Strings(shared)
	return shared[0]
}

// merge inner-joins the sub-results on key. Non-key columns are prefixed
// with their category so same-named columns stay apart.
func (o *Orchestrator) merge(key string, runs []*categoryRun) ([]models.ColumnInfo, []map[string]any, bool) {
	columns := []models.ColumnInfo{{Name: key}}
	for _, r := range runs {
		for _, c := range r.result.Columns {
			if strings.EqualFold(c.Name, key) {
				if columns[0].Type == "" {
					columns[0].Type = c.Type
				}
				continue
			}
			columns = append(columns, models.ColumnInfo{Name: string(r.category) + "." + c.Name, Type: c.Type})
		}
	}

	prefixed := func(r *categoryRun, row map[string]any) (string, map[string]any, bool) {
		out := make(map[string]any, len(row))
		var keyVal any
		found := false
		for name, v := range row {
			if strings.EqualFold(name, key) {
				keyVal, found = v, true
				continue
			}
			out[string(r.category)+"."+name] = v
		}
		if !found || keyVal == nil {
			return "", nil, false
		}
		out[key] = keyVal
		return fmt.Sprint(keyVal), out, true
	}

	var merged []map[string]any
	for _, row := range runs[0].result.Rows {
		if _, p, ok := prefixed(runs[0], row); ok {
			merged = append(merged, p)
		}
	}

	truncated := false
	for _, r := range runs[1:] {
		index := make(map[string][]map[string]any)
		for _, row := range r.result.Rows {
			if k, p, ok := prefixed(r, row); ok {
				index[k] = append(index[k], p)
			}
		}

		var next []map[string]any
	rows:
		for _, left := range merged {
			for _, right := range index[fmt.Sprint(left[key])] {
				if len(next) >= o.maxRows {
					truncated = true
					break rows
				}
				combined := make(map[string]any, len(left)+len(right))
				for k, v := range left {
					combined[k] = v
				}
				for k, v := range right {
					combined[k] = v
				}
				next = append(next, combined)
			}
		}
		merged = next
	}

	if merged == nil {
		merged = []map[string]any{}
	}
	return columns, merged, truncated
}
