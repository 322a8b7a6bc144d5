package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// PlannerConfig bounds join search and drives the row-limit heuristic.
type PlannerConfig struct {
	MaxJoinDepth      int
	MaxInListSize     int
	RangeIsSelective  bool
	KeyColumnSuffixes []string
}

// DefaultPlannerConfig mirrors the configuration defaults.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxJoinDepth:      4,
		MaxInListSize:     20,
		RangeIsSelective:  true,
		KeyColumnSuffixes: []string{"_id", "_code", "_number", "_no", "sku"},
	}
}

// labelColumnMax caps how many descriptive columns a joined table adds to a
// read projection.
const labelColumnMax = 3

var labelColumnNames = map[string]bool{
	"sku": true, "description": true, "carrier": true, "status": true,
	"tracking_number": true, "name": true,
}

// Planner turns an Intent into a QueryPlan against one snapshot. Plan is a
// pure function of its inputs.
type Planner struct {
	cfg      PlannerConfig
	synonyms *models.ColumnSynonymMap
	logger   *zap.Logger
}

// NewPlanner creates a planner.
func NewPlanner(cfg PlannerConfig, synonyms *models.ColumnSynonymMap, logger *zap.Logger) *Planner {
	def := DefaultPlannerConfig()
	if cfg.MaxJoinDepth <= 0 {
		cfg.MaxJoinDepth = def.MaxJoinDepth
	}
	if cfg.MaxInListSize <= 0 {
		cfg.MaxInListSize = def.MaxInListSize
	}
	if len(cfg.KeyColumnSuffixes) == 0 {
		cfg.KeyColumnSuffixes = def.KeyColumnSuffixes
	}
	if synonyms == nil {
		synonyms = models.DefaultSynonyms()
	}
	return &Planner{cfg: cfg, synonyms: synonyms, logger: logger.Named("planner")}
}

// Plan builds a plan for intent. focus, when set, is the category the plan
// must be rooted in (the orchestrator plans one category at a time).
func (p *Planner) Plan(intent *Intent, ranked []RankedTable, snapshot *models.CatalogSnapshot, focus models.Category) models.PlanOutcome {
	primary := p.choosePrimary(intent, ranked, snapshot, focus)
	if primary == nil {
		reason := "no table in the catalog matches the question"
		if focus != "" {
			reason = fmt.Sprintf("no %s table matches the question", focus)
		}
		return models.PlanOutcome{
			Status:  models.PlanFailure,
			Failure: &apperrors.PlanningFailure{Reason: reason},
		}
	}

	b := newPlanBuilder(p, intent, ranked, snapshot, primary)
	b.resolve()

	graph := NewJoinGraph(snapshot)
	required := b.requiredTables()
	path, unreachable := graph.ConnectTables(primary.QualifiedName(), required, p.cfg.MaxJoinDepth)

	status := models.PlanSuccess
	var failure *apperrors.PlanningFailure
	if len(unreachable) > 0 {
		status = models.PlanFallback
		failure = &apperrors.PlanningFailure{
			Reason:         fmt.Sprintf("no join path within %d joins from %s", p.cfg.MaxJoinDepth, primary.QualifiedName()),
			RequiredTables: append([]string{primary.QualifiedName()}, required...),
			Unreachable:    unreachable,
		}
		b.restrictTo(primary.QualifiedName())
		b.warn(fmt.Sprintf("Could not connect %s to %s; showing %s only",
			strings.Join(unreachable, ", "), primary.QualifiedName(), primary.QualifiedName()))
		path = nil
	}

	plan := b.build(path)
	p.logger.Debug("Planned query",
		zap.String("status", string(status)),
		zap.Strings("tables", plan.Tables),
		zap.String("complexity", string(plan.Complexity)),
		zap.String("row_limit", string(plan.RowLimit)))

	return models.PlanOutcome{Status: status, Plan: plan, Failure: failure}
}

// choosePrimary picks the table the plan is rooted in: the best ranked table
// in the focus category, else in the first category the question names,
// else the best ranked table overall.
func (p *Planner) choosePrimary(intent *Intent, ranked []RankedTable, snapshot *models.CatalogSnapshot, focus models.Category) *models.TableSchema {
	inCategory := func(c models.Category) *models.TableSchema {
		for _, r := range ranked {
			if r.Category == c && snapshot.Has(r.Name) {
				t, _ := snapshot.Table(r.Name)
				return t
			}
		}
		return nil
	}

	if focus != "" {
		if t := inCategory(focus); t != nil {
			return t
		}
		if tables := snapshot.TablesInCategory(focus); len(tables) > 0 {
			return tables[0]
		}
		return nil
	}
	for _, c := range intent.Categories {
		if t := inCategory(c); t != nil {
			return t
		}
	}
	for _, r := range ranked {
		if t, ok := snapshot.Table(r.Name); ok {
			return t
		}
	}
	return nil
}

// isKeyLike reports whether a column is selective enough that a bounded
// predicate on it does not need a row cap.
func (p *Planner) isKeyLike(c *models.Column) bool {
	if c.IsKey || c.IsIndexed {
		return true
	}
	name := strings.ToLower(c.Name)
	for _, s := range p.cfg.KeyColumnSuffixes {
		if strings.HasSuffix(name, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// planBuilder accumulates one plan.
type planBuilder struct {
	p        *Planner
	intent   *Intent
	snapshot *models.CatalogSnapshot
	primary  *models.TableSchema
	search   []*models.TableSchema

	predicates []models.Predicate
	groupBy    []models.ColumnRef
	aggregate  *models.Aggregate
	order      *orderSpec
	warnings   []string
	dropped    []string
}

func newPlanBuilder(p *Planner, intent *Intent, ranked []RankedTable, snapshot *models.CatalogSnapshot, primary *models.TableSchema) *planBuilder {
	b := &planBuilder{p: p, intent: intent, snapshot: snapshot, primary: primary}

	// Terms resolve against the primary first, then ranked tables, then
	// the rest of the catalog.
	seen := map[string]bool{primary.QualifiedName(): true}
	b.search = append(b.search, primary)
	for _, r := range ranked {
		if t, ok := snapshot.Table(r.Name); ok && !seen[t.QualifiedName()] {
			seen[t.QualifiedName()] = true
			b.search = append(b.search, t)
		}
	}
	for _, t := range snapshot.Tables() {
		if !seen[t.QualifiedName()] {
			seen[t.QualifiedName()] = true
			b.search = append(b.search, t)
		}
	}

	b.warnings = append(b.warnings, intent.Warnings...)
	return b
}

func (b *planBuilder) warn(msg string) {
	b.warnings = append(b.warnings, msg)
}

func (b *planBuilder) drop(term, msg string) {
	b.dropped = append(b.dropped, term)
	b.warn(msg)
}

func (b *planBuilder) resolve() {
	b.resolveAggregate()
	b.resolveGroups()
	b.resolveFilters()
	b.resolveValues()
	b.resolveLikes()
	b.resolveDates()
	b.resolveOrder()
	b.resolveTerms()
}

// valueShape classifies a literal so column choice can follow it.
type valueShape int

const (
	shapeNone valueShape = iota
	shapeNumber
	shapeCode
	shapeWord
)

func shapeOf(value string) valueShape {
	if value == "" {
		return shapeNone
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return shapeNumber
	}
	for _, r := range value {
		if unicode.IsDigit(r) {
			return shapeCode
		}
	}
	return shapeWord
}

// columnCandidates lists the columns of table a term may mean, in
// preference order: synonym references, the exact column name, then the
// term with a key suffix.
func (b *planBuilder) columnCandidates(term string, table *models.TableSchema) []*models.Column {
	var out []*models.Column
	seen := make(map[string]bool)
	add := func(c *models.Column, ok bool) {
		if ok && !seen[c.Name] {
			seen[c.Name] = true
			out = append(out, c)
		}
	}

	for _, ref := range b.p.synonyms.Lookup(term) {
		tbl, colName, qualified := strings.Cut(ref, ".")
		if qualified {
			if !strings.EqualFold(tbl, table.Name) {
				continue
			}
		} else {
			colName = tbl
		}
		add(table.Column(colName))
	}

	base := strings.ReplaceAll(strings.ToLower(term), " ", "_")
	add(table.Column(base))
	for _, suffix := range []string{"_id", "_code", "_number", "_name"} {
		add(table.Column(base + suffix))
	}
	return out
}

func (b *planBuilder) keyLikeText(c *models.Column) bool {
	if !c.IsText() {
		return false
	}
	name := strings.ToLower(c.Name)
	return c.IsKey || strings.HasSuffix(name, "_number") || strings.HasSuffix(name, "_code") ||
		strings.HasSuffix(name, "_no") || name == "sku"
}

// pickColumn chooses among candidates by the shape of the value that will
// be compared against it.
func (b *planBuilder) pickColumn(cands []*models.Column, value string) *models.Column {
	if len(cands) == 0 {
		return nil
	}
	first := func(ok func(*models.Column) bool) *models.Column {
		for _, c := range cands {
			if ok(c) {
				return c
			}
		}
		return nil
	}

	switch shapeOf(value) {
	case shapeNumber:
		if c := first(func(c *models.Column) bool { return c.IsNumeric() }); c != nil {
			return c
		}
		return first(func(c *models.Column) bool { return c.IsText() })
	case shapeCode:
		if c := first(b.keyLikeText); c != nil {
			return c
		}
		return first(func(c *models.Column) bool { return c.IsText() })
	case shapeWord:
		if c := first(func(c *models.Column) bool {
			return c.IsText() && strings.HasSuffix(strings.ToLower(c.Name), "_name")
		}); c != nil {
			return c
		}
		if c := first(func(c *models.Column) bool { return c.IsText() && !b.keyLikeText(c) }); c != nil {
			return c
		}
		return first(func(c *models.Column) bool { return c.IsText() })
	}
	return cands[0]
}

// findColumn resolves term to a column of the first search table that has
// a fitting one.
func (b *planBuilder) findColumn(term, value string) (*models.TableSchema, *models.Column) {
	for _, t := range b.search {
		if c := b.pickColumn(b.columnCandidates(term, t), value); c != nil {
			return t, c
		}
	}
	return nil, nil
}

// matchSample finds a column whose sampled values include value, ignoring
// case, and returns the sampled spelling.
func (b *planBuilder) matchSample(value string) (*models.TableSchema, string, string, bool) {
	for _, t := range b.search {
		cols := make([]string, 0, len(t.SampleValues))
		for c := range t.SampleValues {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			for _, v := range t.SampleValues[c] {
				if strings.EqualFold(v, value) {
					return t, c, v, true
				}
			}
		}
	}
	return nil, "", "", false
}

// canonical returns the sampled spelling of value for the column, if any.
func canonical(t *models.TableSchema, column, value string) string {
	for _, v := range t.SampleValues[column] {
		if strings.EqualFold(v, value) {
			return v
		}
	}
	return value
}

func (b *planBuilder) addEquality(t *models.TableSchema, c *models.Column, value, term string) {
	kind := models.ValueText
	if c.IsNumeric() && shapeOf(value) == shapeNumber {
		kind = models.ValueNumber
	}
	ref := models.ColumnRef{Table: t.QualifiedName(), Column: c.Name}
	value = canonical(t, c.Name, value)

	for i, existing := range b.predicates {
		if existing.Column != ref || existing.Op != models.OpEqual && existing.Op != models.OpIn {
			continue
		}
		for _, v := range existing.Values {
			if v == value {
				return
			}
		}
		// A second value for the same column widens it to IN.
		b.predicates[i].Op = models.OpIn
		b.predicates[i].Values = append(b.predicates[i].Values, value)
		return
	}

	b.predicates = append(b.predicates, models.Predicate{
		Column: ref,
		Op:     models.OpEqual,
		Values: []string{value},
		Kind:   kind,
		Term:   term,
	})
}

func (b *planBuilder) addSampleMatch(value, term string) bool {
	t, column, _, ok := b.matchSample(value)
	if !ok {
		return false
	}
	c, _ := t.Column(column)
	b.addEquality(t, c, value, term)
	return true
}

func (b *planBuilder) resolveAggregate() {
	in := b.intent
	if in.Aggregate == "" {
		return
	}
	if in.NestedAggregate {
		b.warn(fmt.Sprintf("Only one aggregate is supported; applying %s", in.Aggregate))
	}

	if in.Aggregate == models.AggCount || in.MeasureTerm == "" {
		b.aggregate = &models.Aggregate{Func: models.AggCount}
		return
	}
	// "total orders" asks how many.
	if _, isCategory := CategoryForTerm(in.MeasureTerm); isCategory && in.Aggregate == models.AggSum {
		b.aggregate = &models.Aggregate{Func: models.AggCount}
		return
	}

	numeric := in.Aggregate == models.AggSum || in.Aggregate == models.AggAvg
	for _, t := range b.search {
		for _, c := range b.columnCandidates(in.MeasureTerm, t) {
			if numeric && (!c.IsNumeric() || b.p.isKeyLike(c)) {
				continue
			}
			b.aggregate = &models.Aggregate{
				Func:   in.Aggregate,
				Column: &models.ColumnRef{Table: t.QualifiedName(), Column: c.Name},
			}
			return
		}
	}

	b.aggregate = &models.Aggregate{Func: models.AggCount}
	b.drop(in.MeasureTerm, fmt.Sprintf("No numeric column matches '%s'; counting rows instead", in.MeasureTerm))
}

func (b *planBuilder) resolveGroups() {
	for _, term := range b.intent.GroupTerms {
		if t, c := b.findColumn(term, ""); c != nil {
			ref := models.ColumnRef{Table: t.QualifiedName(), Column: c.Name}
			if !containsRef(b.groupBy, ref) {
				b.groupBy = append(b.groupBy, ref)
			}
			continue
		}
		// "orders by UPS" names a value, not a grouping.
		if b.addSampleMatch(term, term) {
			continue
		}
		b.drop(term, fmt.Sprintf("Ignored grouping by '%s': no matching column", term))
	}
}

func (b *planBuilder) resolveFilters() {
	for _, f := range b.intent.Filters {
		if t, c := b.findColumn(f.ColumnTerm, f.Value); c != nil {
			b.addEquality(t, c, f.Value, f.ColumnTerm)
			continue
		}
		if b.addSampleMatch(f.Value, f.ColumnTerm) {
			continue
		}
		b.drop(f.ColumnTerm, fmt.Sprintf("Ignored filter '%s = %s': no matching column", f.ColumnTerm, f.Value))
	}
}

func (b *planBuilder) resolveValues() {
	for _, v := range b.intent.Values {
		if v.Hint != "" {
			if t, c := b.findColumn(v.Hint, v.Text); c != nil {
				b.addEquality(t, c, v.Text, v.Hint)
				continue
			}
		}
		if b.addSampleMatch(v.Text, v.Text) {
			continue
		}
		if prefix := alphaPrefix(v.Text); prefix != "" {
			if t, c := b.findColumn(prefix, v.Text); c != nil {
				b.addEquality(t, c, v.Text, v.Text)
				continue
			}
		}
		if c := b.uniqueKeyText(); c != nil && shapeOf(v.Text) == shapeCode {
			b.addEquality(b.primary, c, v.Text, v.Text)
			continue
		}
		b.drop(v.Text, fmt.Sprintf("Ignored '%s': no column to compare it with", v.Text))
	}
}

// alphaPrefix returns the leading letters of a code: "SKU-1001" gives "sku".
func alphaPrefix(code string) string {
	end := 0
	for i, r := range code {
		if !unicode.IsLetter(r) {
			break
		}
		end = i + len(string(r))
	}
	if end == 0 || end == len(code) {
		return ""
	}
	return strings.ToLower(code[:end])
}

// uniqueKeyText returns the primary's only unique text key column, such as
// order_number, when there is exactly one.
func (b *planBuilder) uniqueKeyText() *models.Column {
	var found *models.Column
	for i := range b.primary.Columns {
		c := &b.primary.Columns[i]
		if c.IsKey && c.IsText() {
			if found != nil {
				return nil
			}
			found = c
		}
	}
	return found
}

func (b *planBuilder) resolveLikes() {
	for _, l := range b.intent.Likes {
		var t *models.TableSchema
		var c *models.Column
		if l.ColumnTerm != "" {
			t, c = b.findColumn(l.ColumnTerm, "text")
		}
		if c == nil {
			t, c = b.primary, labelColumn(b.primary)
		}
		if c == nil || !c.IsText() {
			b.drop(l.Pattern, fmt.Sprintf("Ignored text match '%s': no text column to search", l.Pattern))
			continue
		}
		pattern := strings.NewReplacer("%", "", "_", "").Replace(l.Pattern) + "%"
		if l.Leading {
			pattern = "%" + pattern
		}
		b.predicates = append(b.predicates, models.Predicate{
			Column: models.ColumnRef{Table: t.QualifiedName(), Column: c.Name},
			Op:     models.OpLike,
			Values: []string{pattern},
			Kind:   models.ValueText,
			Term:   l.Pattern,
		})
	}
}

// labelColumn is the column that best describes a row to a person.
func labelColumn(t *models.TableSchema) *models.Column {
	for _, pick := range []func(string) bool{
		func(n string) bool { return strings.HasSuffix(n, "_name") || n == "name" },
		func(n string) bool { return n == "description" },
		func(n string) bool { return n == "sku" || strings.HasSuffix(n, "_code") || strings.HasSuffix(n, "_number") },
	} {
		for i := range t.Columns {
			if t.Columns[i].IsText() && pick(strings.ToLower(t.Columns[i].Name)) {
				return &t.Columns[i]
			}
		}
	}
	return nil
}

func (b *planBuilder) resolveDates() {
	dr := b.intent.DateRange
	if dr == nil {
		return
	}

	var t *models.TableSchema
	var c *models.Column
	if dr.Anchor != "" {
		for _, cand := range b.search {
			for _, col := range b.columnCandidates(dr.Anchor, cand) {
				if col.IsTemporal() {
					t, c = cand, col
					break
				}
			}
			if c != nil {
				break
			}
		}
	}
	if c == nil {
		t, c = b.primary, dateColumn(b.primary)
	}
	if c == nil {
		b.drop(dr.Phrase, fmt.Sprintf("Ignored '%s': %s has no date column", dr.Phrase, b.primary.QualifiedName()))
		return
	}

	b.predicates = append(b.predicates, models.Predicate{
		Column: models.ColumnRef{Table: t.QualifiedName(), Column: c.Name},
		Op:     models.OpBetween,
		Values: []string{formatBound(dr.From), formatBound(dr.To)},
		Kind:   models.ValueDate,
		Term:   dr.Phrase,
	})
}

// dateColumn picks a table's business date: names with "date" or "_at"
// first, audit stamps (created/updated) last.
func dateColumn(t *models.TableSchema) *models.Column {
	var fallback, audit *models.Column
	for i := range t.Columns {
		c := &t.Columns[i]
		if !c.IsTemporal() {
			continue
		}
		name := strings.ToLower(c.Name)
		isAudit := strings.Contains(name, "updated") || strings.Contains(name, "created") || strings.Contains(name, "modified")
		switch {
		case isAudit:
			if audit == nil {
				audit = c
			}
		case strings.Contains(name, "date") || strings.HasSuffix(name, "_at"):
			return c
		case fallback == nil:
			fallback = c
		}
	}
	if fallback != nil {
		return fallback
	}
	return audit
}

func formatBound(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}

func (b *planBuilder) resolveOrder() {
	in := b.intent
	if in.OrderTerm != "" {
		if in.OrderTerm == "count" || (b.aggregate != nil && in.OrderTerm == strings.ToLower(string(b.aggregate.Func))) {
			b.order = &orderSpec{aggregate: true, desc: in.OrderDesc}
			return
		}
		if t, c := b.findColumn(in.OrderTerm, ""); c != nil {
			b.order = &orderSpec{column: models.ColumnRef{Table: t.QualifiedName(), Column: c.Name}, desc: in.OrderDesc}
			return
		}
		b.drop(in.OrderTerm, fmt.Sprintf("Ignored sorting by '%s': no matching column", in.OrderTerm))
	}

	if in.Limit <= 0 {
		return
	}
	// "top 5 locations by count" ranks groups by the aggregate; "last 10
	// orders" means the most recent.
	if b.aggregate != nil && len(b.groupBy) > 0 {
		b.order = &orderSpec{aggregate: true, desc: true}
		return
	}
	if in.OrderDesc {
		if c := dateColumn(b.primary); c != nil {
			b.order = &orderSpec{column: models.ColumnRef{Table: b.primary.QualifiedName(), Column: c.Name}, desc: true}
		}
	}
}

// resolveTerms handles leftover words: table and category mentions are
// fine, known values become filters, column names are fine, the rest is
// dropped with a warning.
func (b *planBuilder) resolveTerms() {
	seen := make(map[string]bool)
	for _, term := range b.intent.Terms {
		if seen[term] {
			continue
		}
		seen[term] = true

		if _, ok := CategoryForTerm(term); ok || b.namesTable(term) {
			continue
		}
		if b.addSampleMatch(term, term) {
			continue
		}
		if t, c := b.findColumn(term, ""); c != nil && t != nil {
			continue
		}
		b.drop(term, fmt.Sprintf("Ignored '%s': it does not match any table, column or known value", term))
	}
}

func (b *planBuilder) namesTable(term string) bool {
	for _, t := range b.search {
		for _, part := range splitIdentifier(t.Name) {
			if embedding.NormalizeTerm(part) == term {
				return true
			}
		}
	}
	return false
}

func containsRef(refs []models.ColumnRef, ref models.ColumnRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

// requiredTables lists every table other than the primary that a resolved
// column lives in, in first-use order.
func (b *planBuilder) requiredTables() []string {
	root := b.primary.QualifiedName()
	seen := map[string]bool{root: true}
	var out []string
	add := func(table string) {
		if !seen[table] {
			seen[table] = true
			out = append(out, table)
		}
	}

	if b.aggregate != nil && b.aggregate.Column != nil {
		add(b.aggregate.Column.Table)
	}
	for _, g := range b.groupBy {
		add(g.Table)
	}
	for _, p := range b.predicates {
		add(p.Column.Table)
	}
	if b.order != nil && !b.order.aggregate {
		add(b.order.column.Table)
	}
	return out
}

// restrictTo drops everything that references a table other than table.
func (b *planBuilder) restrictTo(table string) {
	var preds []models.Predicate
	for _, p := range b.predicates {
		if p.Column.Table == table {
			preds = append(preds, p)
		} else {
			b.dropped = append(b.dropped, p.Term)
		}
	}
	b.predicates = preds

	var groups []models.ColumnRef
	for _, g := range b.groupBy {
		if g.Table == table {
			groups = append(groups, g)
		}
	}
	b.groupBy = groups

	if b.aggregate != nil && b.aggregate.Column != nil && b.aggregate.Column.Table != table {
		b.aggregate = &models.Aggregate{Func: models.AggCount}
	}
	if b.order != nil && !b.order.aggregate && b.order.column.Table != table {
		b.order = nil
	}
}

func (b *planBuilder) build(path []models.RelationshipEdge) *models.QueryPlan {
	tables := []string{b.primary.QualifiedName()}
	for _, e := range path {
		tables = append(tables, e.To)
	}

	plan := &models.QueryPlan{
		SnapshotVersion: b.snapshot.Version(),
		Dialect:         b.snapshot.Dialect(),
		Category:        b.primary.Category,
		Tables:          tables,
		JoinPath:        path,
		Predicates:      b.predicates,
		GroupBy:         b.groupBy,
		Aggregate:       b.aggregate,
		Operation:       models.OperationRead,
		Warnings:        b.warnings,
		DroppedTerms:    b.dropped,
	}
	if b.aggregate != nil {
		plan.Operation = models.OperationAggregate
		plan.Projection = append([]models.ColumnRef(nil), b.groupBy...)
	} else {
		plan.Projection = b.projection(tables)
	}

	plan.Complexity = b.complexity(plan)
	plan.RowLimit = b.rowLimit(plan)

	r := newSQLRenderer(plan.Dialect, plan.Tables)
	plan.SQL = r.render(plan, b.snapshot, b.order, b.intent.Limit)
	return plan
}

// projection is every primary column plus a few label columns of each
// joined table.
func (b *planBuilder) projection(tables []string) []models.ColumnRef {
	var out []models.ColumnRef
	for _, c := range b.primary.Columns {
		out = append(out, models.ColumnRef{Table: b.primary.QualifiedName(), Column: c.Name})
	}
	for _, name := range tables[1:] {
		t, ok := b.snapshot.Table(name)
		if !ok {
			continue
		}
		n := 0
		for _, c := range t.Columns {
			if n == labelColumnMax {
				break
			}
			lower := strings.ToLower(c.Name)
			if labelColumnNames[lower] || strings.HasSuffix(lower, "_name") ||
				strings.HasSuffix(lower, "_code") || strings.HasSuffix(lower, "_number") {
				out = append(out, models.ColumnRef{Table: name, Column: c.Name})
				n++
			}
		}
	}
	return out
}

func (b *planBuilder) complexity(plan *models.QueryPlan) models.Complexity {
	joins := len(plan.JoinPath)
	switch {
	case joins > 3 || b.intent.NestedAggregate:
		return models.ComplexityComplex
	case joins > 0 || plan.Aggregate != nil || len(plan.Predicates) > 1:
		return models.ComplexityModerate
	}
	return models.ComplexitySimple
}

func (b *planBuilder) rowLimit(plan *models.QueryPlan) models.RowLimitDecision {
	if plan.IsAggregate() {
		return models.RowLimitSkipAggregate
	}
	for _, pred := range plan.Predicates {
		if !pred.IsBounded(b.p.cfg.MaxInListSize) {
			continue
		}
		if pred.Op == models.OpBetween && !b.p.cfg.RangeIsSelective {
			continue
		}
		t, ok := b.snapshot.Table(pred.Column.Table)
		if !ok {
			continue
		}
		if c, ok := t.Column(pred.Column.Column); ok && b.p.isKeyLike(c) {
			return models.RowLimitSkipSelective
		}
	}
	return models.RowLimitApply
}
