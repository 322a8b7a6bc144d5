package services

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	sqlpkg "github.com/ekaya-inc/ekaya-nlq/pkg/sql"
)

// Diagnostic severities.
const (
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// AnalysisInput is what a performance rule sees. Plan is nil for
// caller-supplied SQL, in which case rules work from Tokens alone.
type AnalysisInput struct {
	Plan           *models.QueryPlan
	Tokens         []sqlpkg.Token
	Dialect        models.Dialect
	Snapshot       *models.CatalogSnapshot
	Tables         []*models.TableSchema // tables the statement reads
	HighVolumeRows int64
}

// Finding is one rule hit, optionally with an index that would help.
type Finding struct {
	Diagnostic models.Diagnostic
	Index      *models.IndexRecommendation
}

// RuleDef is a data-driven performance rule. Rules are stateless.
type RuleDef struct {
	ID          string
	Name        string
	Severity    string
	Description string
	Rationale   string
	Check       func(in *AnalysisInput) []Finding
}

func (r RuleDef) finding(table, message string) Finding {
	return Finding{Diagnostic: models.Diagnostic{
		RuleID:   r.ID,
		Name:     r.Name,
		Severity: r.Severity,
		Message:  message,
		Table:    table,
	}}
}

var wildcardProjection = RuleDef{
	ID:          "PA01",
	Name:        "wildcard_projection",
	Severity:    SeverityWarning,
	Description: "SELECT * reads every column of every joined table.",
	Rationale:   "Wide WMS tables carry audit and payload columns that inflate transfer size and defeat covering indexes.",
}

var leadingWildcardLike = RuleDef{
	ID:          "PA02",
	Name:        "leading_wildcard_like",
	Severity:    SeverityWarning,
	Description: "A LIKE pattern that starts with a wildcard cannot use a b-tree index.",
	Rationale:   "The whole table is scanned to evaluate the pattern.",
}

var functionWrappedFilter = RuleDef{
	ID:          "PA03",
	Name:        "function_wrapped_filter",
	Severity:    SeverityWarning,
	Description: "A filter applies a function to a column before comparing it.",
	Rationale:   "Indexes on the bare column cannot serve the comparison.",
}

var missingDateBound = RuleDef{
	ID:          "PA04",
	Name:        "missing_date_bound",
	Severity:    SeverityWarning,
	Description: "A high-volume table is read without a date range.",
	Rationale:   "Order, shipment and event tables grow without bound; unbounded reads get slower every day.",
}

var unindexedJoinColumn = RuleDef{
	ID:          "PA05",
	Name:        "unindexed_join_column",
	Severity:    SeverityInfo,
	Description: "A join column has no index.",
	Rationale:   "Each joined row probes the other table with a scan.",
}

var unindexedFilterColumn = RuleDef{
	ID:          "PA06",
	Name:        "unindexed_filter_column",
	Severity:    SeverityInfo,
	Description: "An equality filter on a high-volume table uses a column without an index.",
	Rationale:   "Selective filters only help when an index can find the matching rows.",
}

func init() {
	wildcardProjection.Check = checkWildcardProjection
	leadingWildcardLike.Check = checkLeadingWildcardLike
	functionWrappedFilter.Check = checkFunctionWrappedFilter
	missingDateBound.Check = checkMissingDateBound
	unindexedJoinColumn.Check = checkUnindexedJoinColumn
	unindexedFilterColumn.Check = checkUnindexedFilterColumn
}

// PerformanceRules returns the rule registry in evaluation order.
func PerformanceRules() []RuleDef {
	return []RuleDef{
		wildcardProjection,
		leadingWildcardLike,
		functionWrappedFilter,
		missingDateBound,
		unindexedJoinColumn,
		unindexedFilterColumn,
	}
}

func checkWildcardProjection(in *AnalysisInput) []Finding {
	tokens := in.Tokens
	inList := false
	for i, tok := range tokens {
		if tok.Depth != 0 {
			continue
		}
		switch {
		case tok.IsWord("SELECT"):
			inList = true
			continue
		case tok.IsWord("FROM"):
			inList = false
			continue
		}
		if !inList || !tok.IsPunct('*') || i == 0 {
			continue
		}
		prev := tokens[i-1]
		if prev.IsWord("SELECT") || prev.IsWord("DISTINCT") || prev.IsWord("ALL") ||
			prev.IsPunct(',') || prev.IsPunct('.') || (prev.IsPunct(')') && followsTop(tokens, i-1)) {
			return []Finding{wildcardProjection.finding("", "Query selects every column with *; list the columns you need")}
		}
	}
	return nil
}

// followsTop reports whether the ")" at tokens[i] closes "TOP (n)".
func followsTop(tokens []sqlpkg.Token, i int) bool {
	return i >= 3 && tokens[i-2].IsPunct('(') && tokens[i-3].IsWord("TOP")
}

func checkLeadingWildcardLike(in *AnalysisInput) []Finding {
	var out []Finding
	tokens := in.Tokens
	for i, tok := range tokens {
		if !tok.IsWord("LIKE") && !tok.IsWord("ILIKE") {
			continue
		}
		j := i + 1
		if j < len(tokens) && tokens[j].IsWord("N") {
			j++
		}
		if j >= len(tokens) || tokens[j].Kind != sqlpkg.TokenString {
			continue
		}
		pattern := tokens[j].Value()
		if !strings.HasPrefix(pattern, "%") && !strings.HasPrefix(pattern, "_") {
			continue
		}
		column := identBefore(tokens, i)
		msg := fmt.Sprintf("LIKE '%s' starts with a wildcard and scans every row", pattern)
		if column != "" {
			msg = fmt.Sprintf("LIKE '%s' on %s starts with a wildcard and scans every row", pattern, column)
		}
		out = append(out, leadingWildcardLike.finding("", msg))
	}
	return out
}

// notFunctions are words followed by "(" that are not function calls.
var notFunctions = map[string]bool{
	"IN": true, "EXISTS": true, "ANY": true, "ALL": true, "SOME": true,
	"AND": true, "OR": true, "NOT": true, "VALUES": true, "WHERE": true,
}

func checkFunctionWrappedFilter(in *AnalysisInput) []Finding {
	var out []Finding
	tokens := in.Tokens
	for _, r := range whereRanges(tokens) {
		for i := r[0]; i < r[1]; i++ {
			tok := tokens[i]
			if tok.Kind != sqlpkg.TokenWord || notFunctions[tok.Upper()] || i+1 >= r[1] || !tokens[i+1].IsPunct('(') {
				continue
			}
			closeAt := matchingParen(tokens, i+1)
			if closeAt < 0 || closeAt+1 >= len(tokens) || !startsComparison(tokens[closeAt+1]) {
				continue
			}
			column := ""
			for k := i + 2; k < closeAt; k++ {
				if tokens[k].Kind == sqlpkg.TokenQuotedIdent || (tokens[k].Kind == sqlpkg.TokenWord && !tokens[k].IsWord("AS") && (k+1 >= closeAt || !tokens[k+1].IsPunct('.'))) {
					column = tokens[k].Value()
					break
				}
			}
			if column == "" {
				continue
			}
			out = append(out, functionWrappedFilter.finding("",
				fmt.Sprintf("%s(%s) in a filter prevents index use on %s; compare the bare column instead", tok.Upper(), column, column)))
			i = closeAt
		}
	}
	return out
}

func checkMissingDateBound(in *AnalysisInput) []Finding {
	if in.HighVolumeRows <= 0 {
		return nil
	}
	if in.Plan != nil && in.Plan.RowLimit == models.RowLimitSkipSelective {
		return nil
	}

	var out []Finding
	for _, t := range in.Tables {
		if t.RowCount < in.HighVolumeRows {
			continue
		}
		dc := dateColumn(t)
		if dc == nil || hasDateBound(in, t) {
			continue
		}
		f := missingDateBound.finding(t.QualifiedName(), fmt.Sprintf(
			"%s holds about %d rows and the query has no date range; filter on %s", t.Name, t.RowCount, dc.Name))
		if !dc.IsIndexed {
			f.Index = &models.IndexRecommendation{
				Table:     t.QualifiedName(),
				Columns:   []string{dc.Name},
				Rationale: "date-range filters on a high-volume table",
			}
		}
		out = append(out, f)
	}
	return out
}

func hasDateBound(in *AnalysisInput, t *models.TableSchema) bool {
	if in.Plan != nil {
		for _, p := range in.Plan.Predicates {
			if p.Column.Table != t.QualifiedName() {
				continue
			}
			if c, ok := t.Column(p.Column.Column); ok && c.IsTemporal() {
				return true
			}
		}
		return false
	}
	for _, r := range whereRanges(in.Tokens) {
		for i := r[0]; i < r[1]; i++ {
			tok := in.Tokens[i]
			if tok.Kind != sqlpkg.TokenWord && tok.Kind != sqlpkg.TokenQuotedIdent {
				continue
			}
			if c, ok := t.Column(tok.Value()); ok && c.IsTemporal() {
				return true
			}
		}
	}
	return false
}

func checkUnindexedJoinColumn(in *AnalysisInput) []Finding {
	if in.Plan == nil || in.Snapshot == nil {
		return nil
	}
	var out []Finding
	seen := make(map[string]bool)
	check := func(table, column string) {
		key := table + "." + column
		if seen[key] {
			return
		}
		seen[key] = true
		t, ok := in.Snapshot.Table(table)
		if !ok {
			return
		}
		c, ok := t.Column(column)
		if !ok || c.IsIndexed || c.IsKey {
			return
		}
		f := unindexedJoinColumn.finding(t.QualifiedName(), fmt.Sprintf("Join column %s.%s has no index", t.Name, c.Name))
		f.Index = &models.IndexRecommendation{
			Table:     t.QualifiedName(),
			Columns:   []string{c.Name},
			Rationale: "join column",
		}
		out = append(out, f)
	}
	for _, e := range in.Plan.JoinPath {
		for _, jc := range e.Columns {
			check(e.From, jc.From)
			check(e.To, jc.To)
		}
	}
	return out
}

func checkUnindexedFilterColumn(in *AnalysisInput) []Finding {
	if in.Plan == nil || in.Snapshot == nil || in.HighVolumeRows <= 0 {
		return nil
	}
	var out []Finding
	for _, p := range in.Plan.Predicates {
		if p.Op != models.OpEqual && p.Op != models.OpIn {
			continue
		}
		t, ok := in.Snapshot.Table(p.Column.Table)
		if !ok || t.RowCount < in.HighVolumeRows {
			continue
		}
		c, ok := t.Column(p.Column.Column)
		if !ok || c.IsIndexed || c.IsKey {
			continue
		}
		f := unindexedFilterColumn.finding(t.QualifiedName(), fmt.Sprintf("Filter on %s.%s has no index", t.Name, c.Name))
		f.Index = &models.IndexRecommendation{
			Table:     t.QualifiedName(),
			Columns:   []string{c.Name},
			Rationale: "equality filter on a high-volume table",
		}
		out = append(out, f)
	}
	return out
}

// whereRanges returns [start, end) token ranges of every WHERE clause at
// the outer level.
func whereRanges(tokens []sqlpkg.Token) [][2]int {
	var out [][2]int
	start := -1
	for i, tok := range tokens {
		if tok.Depth != 0 {
			continue
		}
		if tok.IsWord("WHERE") {
			start = i + 1
			continue
		}
		if start >= 0 && endsWhere(tok) {
			out = append(out, [2]int{start, i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, [2]int{start, len(tokens)})
	}
	return out
}

func endsWhere(tok sqlpkg.Token) bool {
	for _, kw := range []string{"GROUP", "ORDER", "HAVING", "LIMIT", "OFFSET", "FETCH", "UNION", "EXCEPT", "INTERSECT"} {
		if tok.IsWord(kw) {
			return true
		}
	}
	return false
}

// matchingParen returns the index of the ")" closing the "(" at open.
func matchingParen(tokens []sqlpkg.Token, open int) int {
	depth := tokens[open].Depth
	for i := open + 1; i < len(tokens); i++ {
		if tokens[i].Depth == depth && tokens[i].IsPunct(')') {
			return i
		}
	}
	return -1
}

func startsComparison(tok sqlpkg.Token) bool {
	if tok.Kind == sqlpkg.TokenPunct {
		return tok.IsPunct('=') || tok.IsPunct('<') || tok.IsPunct('>') || tok.IsPunct('!')
	}
	for _, kw := range []string{"LIKE", "ILIKE", "IN", "BETWEEN", "IS", "NOT"} {
		if tok.IsWord(kw) {
			return true
		}
	}
	return false
}

func identBefore(tokens []sqlpkg.Token, i int) string {
	if i == 0 {
		return ""
	}
	t := tokens[i-1]
	if t.Kind == sqlpkg.TokenWord || t.Kind == sqlpkg.TokenQuotedIdent {
		return t.Value()
	}
	return ""
}
