package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

const rankingUnavailableWarning = "Relevance ranking was unavailable; tables were chosen from the categories the question names"

// QueryRequest is one natural-language question.
type QueryRequest struct {
	Text string          `json:"text"`
	Hint models.Category `json:"hint,omitempty"`
}

// QueryServiceDeps holds the pipeline stages a QueryService runs.
type QueryServiceDeps struct {
	Store        *CatalogStore
	Parser       *IntentParser
	Ranker       *Ranker
	Planner      *Planner
	Validator    *SafetyValidator
	Executor     *Executor
	Analyzer     *PerformanceAnalyzer
	Orchestrator *Orchestrator
	Quality      QualityConfig
}

// QueryService answers questions against the current catalog snapshot. Each
// request binds the snapshot once, so a concurrent refresh never changes the
// tables a running request sees.
type QueryService struct {
	store        *CatalogStore
	parser       *IntentParser
	ranker       *Ranker
	planner      *Planner
	validator    *SafetyValidator
	executor     *Executor
	analyzer     *PerformanceAnalyzer
	orchestrator *Orchestrator
	quality      QualityConfig
	logger       *zap.Logger
}

// NewQueryService creates a QueryService.
func NewQueryService(deps QueryServiceDeps, logger *zap.Logger) *QueryService {
	return &QueryService{
		store:        deps.Store,
		parser:       deps.Parser,
		ranker:       deps.Ranker,
		planner:      deps.Planner,
		validator:    deps.Validator,
		executor:     deps.Executor,
		analyzer:     deps.Analyzer,
		orchestrator: deps.Orchestrator,
		quality:      deps.Quality,
		logger:       logger.Named("query-service"),
	}
}

// RunQuery answers req. The envelope is always returned; the error is the
// typed failure the envelope's Error describes, if any.
func (s *QueryService) RunQuery(ctx context.Context, req QueryRequest) (*models.ResultEnvelope, error) {
	return s.handle(ctx, req, true)
}

// Plan runs everything up to execution: the envelope carries the SQL, plan
// summary and advisory findings but no rows.
func (s *QueryService) Plan(ctx context.Context, req QueryRequest) (*models.ResultEnvelope, error) {
	return s.handle(ctx, req, false)
}

func (s *QueryService) handle(ctx context.Context, req QueryRequest, execute bool) (*models.ResultEnvelope, error) {
	requestID := uuid.New()
	start := time.Now()
	env := &models.ResultEnvelope{RequestID: requestID.String(), Rows: []map[string]any{}}

	finish := func(err error) (*models.ResultEnvelope, error) {
		env.ElapsedMs = time.Since(start).Milliseconds()
		env.Error = errorInfo(err)
		fields := []zap.Field{
			zap.String("request_id", env.RequestID),
			zap.Int64("snapshot_version", env.SnapshotVersion),
			zap.String("status", env.Status),
			zap.Int("rows", env.RowCount),
			zap.Int64("elapsed_ms", env.ElapsedMs),
		}
		if err != nil {
			fields = append(fields, zap.String("error_code", env.Error.Code))
		}
		s.logger.Info("Request finished", fields...)
		return env, err
	}

	snap, err := s.store.Snapshot()
	if err != nil {
		env.Status = string(models.StateFailed)
		return finish(err)
	}
	env.SnapshotVersion = snap.Version()

	if req.Hint != "" {
		hint, ok := models.ParseCategory(string(req.Hint))
		if !ok {
			env.Status = models.StatusNoPlan
			return finish(&apperrors.PlanningFailure{Reason: fmt.Sprintf("unknown category hint %q", req.Hint)})
		}
		req.Hint = hint
	}
	if strings.TrimSpace(req.Text) == "" {
		env.Status = models.StatusNoPlan
		return finish(&apperrors.PlanningFailure{Reason: "the question is empty"})
	}

	intent := s.parser.Parse(ctx, requestID, req.Text)

	if req.Hint == "" && intent.MultiCategory() && s.orchestrator != nil {
		s.logger.Debug("Fanning out across categories",
			zap.String("request_id", env.RequestID),
			zap.Int("categories", len(intent.Categories)))
		err := s.fanOut(ctx, requestID, intent, snap, env, execute)
		return finish(err)
	}

	run := s.prepare(ctx, requestID, intent, snap, req.Hint, "")
	if execute && run.err == nil {
		s.execute(ctx, requestID, run)
	}
	s.fill(env, run)
	return finish(run.err)
}

// prepare ranks, plans, validates and analyzes one category's share of a
// request. focus restricts ranking and planning to one category.
func (s *QueryService) prepare(ctx context.Context, requestID uuid.UUID, intent *Intent, snap *models.CatalogSnapshot, hint, focus models.Category) *categoryRun {
	run := &categoryRun{category: focus, status: models.StatusPlanned}

	var ranked []RankedTable
	var err error
	if focus != "" {
		ranked, err = s.ranker.RankTables(ctx, intent.Text, focus, snap.TablesInCategory(focus))
	} else {
		ranked, err = s.ranker.Rank(ctx, intent.Text, hint, snap)
	}
	if err != nil {
		if ctx.Err() != nil {
			run.status, run.err = string(models.StateFailed), ctx.Err()
			return run
		}
		s.logger.Warn("Ranking failed; planning from categories",
			zap.String("request_id", requestID.String()),
			zap.String("error", logging.SanitizeError(err)))
		run.warnings = append(run.warnings, rankingUnavailableWarning)
		ranked = unrankedCandidates(snap, intent.Text, intent.Categories, hint)
	}

	run.outcome = s.planner.Plan(intent, ranked, snap, focus)
	run.warnings = append(append([]string(nil), intent.Warnings...), run.warnings...)
	if !run.outcome.Usable() {
		run.status = models.StatusNoPlan
		run.err = run.outcome.Failure
		if run.err == nil {
			run.err = &apperrors.PlanningFailure{Reason: "no plan could be built"}
		}
		return run
	}
	plan := run.outcome.Plan
	if run.category == "" {
		run.category = plan.Category
	}
	run.warnings = append(run.warnings, plan.Warnings...)

	for _, t := range plan.Tables {
		if !snap.Has(t) {
			run.status = string(models.StateFailed)
			run.err = &apperrors.SchemaNotFoundError{Table: t, Version: snap.Version()}
			return run
		}
	}

	q, err := s.validator.Validate(ctx, requestID, plan)
	if err != nil {
		run.status = models.StatusRejected
		run.err = err
		return run
	}
	run.query = q
	run.warnings = append(run.warnings, q.Warnings()...)
	run.analysis = s.analyzer.Analyze(plan, q, snap)
	return run
}

// execute runs a prepared category and rates the result.
func (s *QueryService) execute(ctx context.Context, requestID uuid.UUID, run *categoryRun) {
	res, err := s.executor.Execute(ctx, requestID, run.query, run.outcome.Plan.Tables)
	run.result = res
	run.status = string(res.State)
	run.err = err
	if err != nil {
		return
	}
	res.Reliability, _ = RateReliability(s.quality, run.outcome.Plan, run.outcome.Status, res.Completeness)
	if run.analysis != nil {
		res.Pattern = run.analysis.Pattern
		res.Diagnostics = run.analysis.Diagnostics
		res.Indexes = run.analysis.Indexes
	}
}

// fill copies a single-category run into the envelope.
func (s *QueryService) fill(env *models.ResultEnvelope, run *categoryRun) {
	env.Status = run.status
	env.Category = run.category
	env.Warnings = dedupe(run.warnings)

	if plan := run.outcome.Plan; plan != nil {
		env.Plan = plan.Summary(run.outcome.Status)
		env.SQL = plan.SQL
	}
	if run.query != nil {
		env.SQL = run.query.SQL()
	}
	if run.analysis != nil {
		env.Pattern = run.analysis.Pattern
		env.Diagnostics = run.analysis.Diagnostics
		env.IndexRecommendations = run.analysis.Statements()
	}
	if res := run.result; res != nil && res.State == models.StateCompleted {
		env.Columns = res.Columns
		env.Rows = res.Rows
		env.RowCount = res.RowCount
		env.Truncated = res.Truncated
		env.Completeness = res.Completeness
		env.Reliability = res.Reliability
	}
}

// fanOut runs one sub-plan per category through the orchestrator and
// merges what it can.
func (s *QueryService) fanOut(ctx context.Context, requestID uuid.UUID, intent *Intent, snap *models.CatalogSnapshot, env *models.ResultEnvelope, execute bool) error {
	out := s.orchestrator.Run(ctx, intent.Categories, func(ctx context.Context, c models.Category) *categoryRun {
		run := s.prepare(ctx, requestID, intent, snap, "", c)
		if execute && run.err == nil {
			s.execute(ctx, requestID, run)
		}
		return run
	})

	var firstErr error
	succeeded := 0
	seenIndex := make(map[string]bool)
	reliability := models.ReliabilityHigh
	completeness := models.CompletenessComplete
	for _, run := range out.runs {
		env.SubResults = append(env.SubResults, subResult(run))
		env.Warnings = append(env.Warnings, run.warnings...)
		if run.analysis != nil {
			env.Diagnostics = append(env.Diagnostics, run.analysis.Diagnostics...)
			for _, stmt := range run.analysis.Statements() {
				if !seenIndex[stmt] {
					seenIndex[stmt] = true
					env.IndexRecommendations = append(env.IndexRecommendations, stmt)
				}
			}
		}
		switch {
		case run.err != nil:
			if firstErr == nil {
				firstErr = run.err
			}
		case !execute:
			succeeded++
		case run.succeeded():
			succeeded++
			reliability = lowerReliability(reliability, run.result.Reliability)
			if run.result.Completeness == models.CompletenessPartial {
				completeness = models.CompletenessPartial
			}
		}
	}
	env.Warnings = dedupe(env.Warnings)
	env.Pattern = PatternGeneral

	if succeeded == 0 {
		env.Status = out.runs[0].status
		if firstErr == nil {
			firstErr = &apperrors.PlanningFailure{Reason: "no category produced a result"}
		}
		return firstErr
	}

	if !execute {
		env.Status = models.StatusPlanned
		return nil
	}

	env.Status = string(models.StateCompleted)
	env.Reliability = reliability
	if out.key == "" {
		env.Warnings = append(env.Warnings, "Results could not be combined; each category is returned separately")
		env.Completeness = completeness
		return nil
	}

	env.CorrelationKey = out.key
	env.Columns = out.columns
	env.Rows = out.rows
	env.RowCount = len(out.rows)
	env.Truncated = out.truncated
	switch {
	case len(out.rows) == 0:
		env.Completeness = models.CompletenessEmpty
	case out.truncated:
		env.Completeness = models.CompletenessPartial
		env.Warnings = append(env.Warnings, fmt.Sprintf(rowLimitWarning, s.validator.MaxRows()))
	default:
		env.Completeness = completeness
	}
	return nil
}

func subResult(run *categoryRun) models.SubResult {
	sr := models.SubResult{
		Category: run.category,
		Status:   run.status,
		Warnings: dedupe(run.warnings),
		Error:    errorInfo(run.err),
	}
	if plan := run.outcome.Plan; plan != nil {
		sr.Plan = plan.Summary(run.outcome.Status)
		sr.SQL = plan.SQL
	}
	if run.query != nil {
		sr.SQL = run.query.SQL()
	}
	if res := run.result; res != nil && res.State == models.StateCompleted {
		sr.Columns = res.Columns
		sr.Rows = res.Rows
		sr.RowCount = res.RowCount
		sr.Completeness = res.Completeness
		sr.Reliability = res.Reliability
	}
	return sr
}

var reliabilityRank = map[models.Reliability]int{
	models.ReliabilityLow:    0,
	models.ReliabilityMedium: 1,
	models.ReliabilityHigh:   2,
}

func lowerReliability(a, b models.Reliability) models.Reliability {
	if reliabilityRank[b] < reliabilityRank[a] {
		return b
	}
	return a
}

// unrankedCandidates stands in for a ranking when the similarity service is
// down: tables of the named categories, those the question names first.
func unrankedCandidates(snap *models.CatalogSnapshot, text string, categories []models.Category, hint models.Category) []RankedTable {
	if hint != "" {
		categories = append([]models.Category{hint}, categories...)
	}
	terms := embedding.Terms(text)
	var out []RankedTable
	seen := make(map[string]bool)
	for _, c := range categories {
		for _, t := range snap.TablesInCategory(c) {
			if seen[t.QualifiedName()] {
				continue
			}
			seen[t.QualifiedName()] = true
			out = append(out, RankedTable{
				Table:    t,
				Name:     t.QualifiedName(),
				Category: t.Category,
				Score:    mentionShare(t.Name, terms),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func dedupe(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// errorInfo converts err to its caller-facing form.
func errorInfo(err error) *models.ErrorInfo {
	if err == nil {
		return nil
	}
	info := &models.ErrorInfo{Code: apperrors.CodeOf(err)}

	var execErr *apperrors.ExecutionError
	switch {
	case errors.As(err, &execErr):
		info.Category = string(execErr.Category)
		info.Message = execErr.Error()
	case errors.Is(err, context.Canceled):
		info.Code = "cancelled"
		info.Message = "request cancelled"
	case info.Code == "internal_error":
		info.Message = logging.SanitizeError(err)
	default:
		info.Message = err.Error()
	}
	return info
}

// SQLValidation is the outcome of validating caller-supplied SQL.
type SQLValidation struct {
	Valid                bool                    `json:"valid"`
	SQL                  string                  `json:"sql,omitempty"`
	RowLimitDecision     models.RowLimitDecision `json:"row_limit_decision,omitempty"`
	RowLimitApplied      bool                    `json:"row_limit_applied"`
	Warnings             []string                `json:"warnings,omitempty"`
	Pattern              string                  `json:"pattern,omitempty"`
	Diagnostics          []models.Diagnostic     `json:"diagnostics,omitempty"`
	IndexRecommendations []string                `json:"index_recommendations,omitempty"`
	Error                *models.ErrorInfo       `json:"error,omitempty"`
}

// ValidateSQL runs caller-supplied SQL through the safety validator and the
// performance analyzer without executing it.
func (s *QueryService) ValidateSQL(ctx context.Context, sqlQuery string) (*SQLValidation, error) {
	requestID := uuid.New()
	q, err := s.validator.ValidateSQL(ctx, requestID, sqlQuery, "")
	if err != nil {
		return &SQLValidation{Error: errorInfo(err)}, err
	}
	analysis := s.analyzer.Analyze(nil, q, s.store.Current())
	return &SQLValidation{
		Valid:                true,
		SQL:                  q.SQL(),
		RowLimitDecision:     q.RowLimitDecision(),
		RowLimitApplied:      q.RowLimitApplied(),
		Warnings:             q.Warnings(),
		Pattern:              analysis.Pattern,
		Diagnostics:          analysis.Diagnostics,
		IndexRecommendations: analysis.Statements(),
	}, nil
}

// TableSummary is one catalog entry as listed to callers.
type TableSummary struct {
	Name     string          `json:"name"`
	Category models.Category `json:"category"`
	RowCount int64           `json:"row_count"`
	Columns  []string        `json:"columns"`
}

// ListTables lists the current catalog, optionally one category only.
func (s *QueryService) ListTables(category models.Category) (int64, []TableSummary, error) {
	snap, err := s.store.Snapshot()
	if err != nil {
		return 0, nil, err
	}
	tables := snap.Tables()
	if category != "" {
		tables = snap.TablesInCategory(category)
	}
	out := make([]TableSummary, 0, len(tables))
	for _, t := range tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name
		}
		out = append(out, TableSummary{Name: t.QualifiedName(), Category: t.Category, RowCount: t.RowCount, Columns: cols})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return snap.Version(), out, nil
}

// RefreshCatalog rebuilds the catalog and returns the new version.
// Requests already running keep the snapshot they started with.
func (s *QueryService) RefreshCatalog(ctx context.Context) (int64, error) {
	snap, err := s.store.Refresh(ctx)
	if err != nil {
		return 0, err
	}
	return snap.Version(), nil
}

// HealthReport is the operational view of the query core.
type HealthReport struct {
	Status           string                `json:"status"`
	SnapshotVersion  int64                 `json:"snapshot_version"`
	SnapshotBuiltAt  *time.Time            `json:"snapshot_built_at,omitempty"`
	Tables           int                   `json:"tables"`
	LastRefresh      *time.Time            `json:"last_refresh,omitempty"`
	LastRefreshError string                `json:"last_refresh_error,omitempty"`
	Admission        AdmissionStats        `json:"admission"`
	Connections      datasource.LeaseStats `json:"connections"`
}

// Health reports catalog and execution state. Status is "degraded" when no
// snapshot is loaded or the last refresh failed.
func (s *QueryService) Health() HealthReport {
	r := HealthReport{
		Status:      "ok",
		Admission:   s.executor.Admission().Stats(),
		Connections: s.executor.Leases().Stats(),
	}
	if snap := s.store.Current(); snap != nil {
		built := snap.BuiltAt()
		r.SnapshotVersion = snap.Version()
		r.SnapshotBuiltAt = &built
		r.Tables = snap.Len()
	} else {
		r.Status = "degraded"
	}
	if at, err := s.store.LastRefresh(); !at.IsZero() {
		r.LastRefresh = &at
		if err != nil {
			r.Status = "degraded"
			r.LastRefreshError = logging.SanitizeError(err)
		}
	}
	return r
}
