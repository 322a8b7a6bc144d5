package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/audit"
	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	sqlpkg "github.com/ekaya-inc/ekaya-nlq/pkg/sql"
)

// ValueMention is a literal the question names, such as "SO-0001" or
// 'Acme Corp'. Hint is the word right before it ("order", "customer").
type ValueMention struct {
	Text   string `json:"text"`
	Hint   string `json:"hint,omitempty"`
	Quoted bool   `json:"quoted,omitempty"`
}

// FilterMention is an explicit "column = value" or "column is value".
type FilterMention struct {
	ColumnTerm string `json:"column_term"`
	Value      string `json:"value"`
}

// LikeMention is a "containing X" text match. ColumnTerm may be empty.
type LikeMention struct {
	ColumnTerm string `json:"column_term,omitempty"`
	Pattern    string `json:"pattern"`
	Leading    bool   `json:"leading"` // match anywhere, not just the prefix
}

// DateRange is a half-open [From, To) interval. Anchor is the word that
// says which date is meant ("shipped", "ordered"), if any.
type DateRange struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Phrase string    `json:"phrase"`
	Anchor string    `json:"anchor,omitempty"`
}

// Intent is the structured reading of a question. It knows nothing about
// the catalog; the planner resolves its terms against a snapshot.
type Intent struct {
	Text            string               `json:"text"`
	Operation       models.Operation     `json:"operation"`
	Aggregate       models.AggregateFunc `json:"aggregate,omitempty"`
	MeasureTerm     string               `json:"measure_term,omitempty"`
	NestedAggregate bool                 `json:"nested_aggregate,omitempty"`
	GroupTerms      []string             `json:"group_terms,omitempty"`
	OrderTerm       string               `json:"order_term,omitempty"`
	OrderDesc       bool                 `json:"order_desc,omitempty"`
	Limit           int                  `json:"limit,omitempty"`
	Categories      []models.Category    `json:"categories,omitempty"`
	Filters         []FilterMention      `json:"filters,omitempty"`
	Values          []ValueMention       `json:"values,omitempty"`
	Likes           []LikeMention        `json:"likes,omitempty"`
	DateRange       *DateRange           `json:"date_range,omitempty"`
	Terms           []string             `json:"terms,omitempty"`
	Warnings        []string             `json:"warnings,omitempty"`
}

// MultiCategory reports whether the question is about more than one
// category of data.
func (in *Intent) MultiCategory() bool {
	return len(in.Categories) > 1
}

// nlToken is one word, number, quoted string or operator of a question.
type nlToken struct {
	text   string
	lower  string
	quoted bool
	op     bool
	used   bool
}

var nlTokenPattern = regexp.MustCompile(`'([^']*)'|"([^"]*)"|([\p{L}\p{N}#][\p{L}\p{N}_\-./#]*)|(=|:)`)

var idLikePattern = regexp.MustCompile(`^[\p{L}\p{N}]+([\-./][\p{L}\p{N}]+)*$`)

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// fillerWords carry no meaning once the aggregate, limit and grouping
// phrases have been read.
var fillerWords = map[string]bool{
	"count": true, "many": true, "number": true, "total": true, "sum": true,
	"average": true, "avg": true, "mean": true, "min": true, "max": true,
	"minimum": true, "maximum": true, "lowest": true, "highest": true,
	"smallest": true, "largest": true, "top": true, "first": true, "last": true,
	"each": true, "every": true, "record": true, "row": true, "data": true,
	"detail": true, "info": true, "information": true, "everything": true,
	"display": true, "see": true, "want": true, "need": true, "can": true,
	"you": true, "i": true, "be": true, "was": true, "were": true, "has": true,
	"had": true, "been": true, "it": true, "its": true, "their": true,
	"them": true, "those": true, "these": true, "where": true, "when": true,
	"who": true, "whose": true, "currently": true, "right": true, "now": true,
	"at": true, "as": true, "than": true, "tell": true, "about": true,
	"sorted": true, "ordered": true, "sort": true, "grouped": true,
	"broken": true, "down": true, "descending": true, "ascending": true,
	"desc": true, "asc": true, "recent": true, "latest": true, "oldest": true,
}

var timeUnits = map[string]time.Duration{
	"hour": time.Hour, "hours": time.Hour,
	"day": 24 * time.Hour, "days": 24 * time.Hour,
	"week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
}

var aggregateWords = map[string]models.AggregateFunc{
	"count": models.AggCount, "total": models.AggSum, "sum": models.AggSum,
	"average": models.AggAvg, "avg": models.AggAvg, "mean": models.AggAvg,
	"minimum": models.AggMin, "min": models.AggMin, "lowest": models.AggMin, "smallest": models.AggMin,
	"maximum": models.AggMax, "max": models.AggMax, "highest": models.AggMax, "largest": models.AggMax,
}

// anchorWords precede a date phrase to say which date column is meant.
var anchorWords = map[string]bool{
	"shipped": true, "ordered": true, "received": true, "created": true,
	"updated": true, "due": true, "started": true, "placed": true, "picked": true,
}

// IntentParser reads questions. Extracted literals are screened with
// libinjection; suspicious ones are dropped and audited.
type IntentParser struct {
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
	now     func() time.Time
}

// NewIntentParser creates a parser. auditor may be nil.
func NewIntentParser(auditor *audit.SecurityAuditor, logger *zap.Logger) *IntentParser {
	return &IntentParser{
		auditor: auditor,
		logger:  logger.Named("intent"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Parse extracts an Intent from a question.
func (p *IntentParser) Parse(ctx context.Context, requestID uuid.UUID, text string) *Intent {
	in := &Intent{Text: text}
	toks := tokenizeQuestion(text)
	now := p.now()

	p.parseDates(toks, now, in)
	parseLimit(toks, in)
	parseAggregates(toks, in)
	parseGrouping(toks, in)
	parseFilters(toks, in)
	parseLikes(toks, in)
	parseValues(toks, in)
	parseSubjects(toks, in)

	if len(in.GroupTerms) > 0 && in.Aggregate == "" {
		in.Aggregate = models.AggCount
	}
	in.Operation = models.OperationRead
	if in.Aggregate != "" {
		in.Operation = models.OperationAggregate
	}

	p.screenLiterals(ctx, requestID, in)

	p.logger.Debug("Parsed question",
		zap.String("request_id", requestID.String()),
		zap.String("operation", string(in.Operation)),
		zap.Int("values", len(in.Values)+len(in.Filters)),
		zap.Strings("terms", in.Terms))
	return in
}

func tokenizeQuestion(text string) []*nlToken {
	var toks []*nlToken
	for _, m := range nlTokenPattern.FindAllStringSubmatch(text, -1) {
		switch {
		case m[1] != "" || strings.HasPrefix(m[0], "'"):
			toks = append(toks, &nlToken{text: m[1], lower: strings.ToLower(m[1]), quoted: true})
		case m[2] != "" || strings.HasPrefix(m[0], `"`):
			toks = append(toks, &nlToken{text: m[2], lower: strings.ToLower(m[2]), quoted: true})
		case m[4] != "":
			toks = append(toks, &nlToken{text: m[4], lower: m[4], op: true})
		default:
			word := strings.TrimRight(m[3], "-./")
			if word == "" {
				continue
			}
			toks = append(toks, &nlToken{text: word, lower: strings.ToLower(word)})
		}
	}
	return toks
}

func isWord(t *nlToken) bool {
	return !t.quoted && !t.op
}

func isNumber(t *nlToken) bool {
	if !isWord(t) {
		return false
	}
	_, err := strconv.Atoi(t.lower)
	return err == nil
}

// isIDLike matches codes such as SO-0001, SKU-1001, 1Z999 or A-01-02: at
// least one digit plus letters or separators.
func isIDLike(t *nlToken) bool {
	if !isWord(t) || isNumber(t) || !idLikePattern.MatchString(t.text) {
		return false
	}
	hasDigit, hasOther := false, false
	for _, r := range t.text {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasOther = true
		}
	}
	return hasDigit && hasOther
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// parseDates recognizes one date range. Later phrases are ignored with a
// warning since a plan filters on a single date column.
func (p *IntentParser) parseDates(toks []*nlToken, now time.Time, in *Intent) {
	set := func(from, to time.Time, start, end int) {
		phrase := joinTokens(toks[start:end])
		for _, t := range toks[start:end] {
			t.used = true
		}
		if in.DateRange != nil {
			in.Warnings = append(in.Warnings, fmt.Sprintf("Only one date range is supported; ignored %q", phrase))
			return
		}
		in.DateRange = &DateRange{From: from, To: to, Phrase: phrase, Anchor: dateAnchor(toks, start)}
	}

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if !isWord(t) || t.used {
			continue
		}
		today := startOfDay(now)

		switch t.lower {
		case "today":
			set(today, today.AddDate(0, 0, 1), i, i+1)
			continue
		case "yesterday":
			set(today.AddDate(0, 0, -1), today, i, i+1)
			continue
		case "this", "last", "past", "previous":
			if i+1 >= len(toks) {
				continue
			}
			next := toks[i+1].lower
			switch {
			case t.lower == "this" && next == "week":
				set(startOfWeek(now), now, i, i+2)
			case t.lower == "this" && next == "month":
				set(startOfMonth(now), now, i, i+2)
			case t.lower == "this" && next == "year":
				set(time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), now, i, i+2)
			case t.lower != "this" && next == "week":
				wk := startOfWeek(now)
				set(wk.AddDate(0, 0, -7), wk, i, i+2)
			case t.lower != "this" && next == "month":
				m := startOfMonth(now)
				set(m.AddDate(0, -1, 0), m, i, i+2)
			case t.lower != "this" && isNumber(toks[i+1]) && i+2 < len(toks):
				n, _ := strconv.Atoi(next)
				unit := toks[i+2].lower
				if d, ok := timeUnits[unit]; ok && n > 0 {
					set(now.Add(-time.Duration(n)*d), now, i, i+3)
				} else if (unit == "month" || unit == "months") && n > 0 {
					set(now.AddDate(0, -n, 0), now, i, i+3)
				}
			}
			continue
		case "since":
			if i+1 < len(toks) {
				if d, ok := parseISODate(toks[i+1]); ok {
					set(d, now, i, i+2)
				}
			}
			continue
		case "between":
			if i+3 < len(toks) && toks[i+2].lower == "and" {
				from, ok1 := parseISODate(toks[i+1])
				to, ok2 := parseISODate(toks[i+3])
				if ok1 && ok2 {
					set(from, to.AddDate(0, 0, 1), i, i+4)
				}
			}
			continue
		}

		if d, ok := parseISODate(t); ok {
			start := i
			if i > 0 && toks[i-1].lower == "on" {
				start = i - 1
			}
			set(d, d.AddDate(0, 0, 1), start, i+1)
		}
	}
}

func parseISODate(t *nlToken) (time.Time, bool) {
	if !isoDatePattern.MatchString(t.text) {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", t.text)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// dateAnchor looks back from a date phrase for a word like "shipped",
// skipping prepositions.
func dateAnchor(toks []*nlToken, start int) string {
	for j := start - 1; j >= 0 && j >= start-3; j-- {
		w := toks[j].lower
		switch w {
		case "in", "the", "within", "during", "over", "on", "from", "for":
			continue
		}
		if anchorWords[w] {
			toks[j].used = true
			return w
		}
		return ""
	}
	return ""
}

func parseLimit(toks []*nlToken, in *Intent) {
	for i := 0; i+1 < len(toks); i++ {
		t := toks[i]
		if t.used || !isWord(t) || !isNumber(toks[i+1]) || toks[i+1].used {
			continue
		}
		switch t.lower {
		case "top", "first", "limit", "last":
			n, _ := strconv.Atoi(toks[i+1].lower)
			if n <= 0 {
				continue
			}
			in.Limit = n
			t.used, toks[i+1].used = true, true
			if t.lower == "last" {
				in.OrderDesc = true
			}
			return
		}
	}
}

func parseAggregates(toks []*nlToken, in *Intent) {
	seen := make(map[models.AggregateFunc]bool)
	note := func(fn models.AggregateFunc) {
		if in.Aggregate == "" {
			in.Aggregate = fn
		}
		seen[fn] = true
	}

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.used || !isWord(t) {
			continue
		}
		next := ""
		if i+1 < len(toks) {
			next = toks[i+1].lower
		}

		switch {
		case t.lower == "how" && next == "many":
			t.used, toks[i+1].used = true, true
			note(models.AggCount)
		case t.lower == "number" && next == "of":
			t.used = true
			note(models.AggCount)
		case t.lower == "total" && (next == "number" || next == "count"):
			t.used = true
		default:
			fn, ok := aggregateWords[t.lower]
			if !ok {
				continue
			}
			t.used = true
			note(fn)
			if fn != models.AggCount && in.MeasureTerm == "" {
				if j := nextContentWord(toks, i+1); j >= 0 {
					in.MeasureTerm = embedding.NormalizeTerm(toks[j].lower)
					toks[j].used = true
				}
			}
		}
	}
	in.NestedAggregate = len(seen) > 1
}

// nextContentWord returns the index of the next unused word that is not a
// stopword, or -1.
func nextContentWord(toks []*nlToken, from int) int {
	for j := from; j < len(toks) && j < from+3; j++ {
		t := toks[j]
		if !isWord(t) || t.used {
			return -1
		}
		if embedding.IsStopword(t.lower) || t.lower == "the" || t.lower == "each" {
			continue
		}
		if fillerWords[t.lower] {
			return -1
		}
		return j
	}
	return -1
}

func parseGrouping(toks []*nlToken, in *Intent) {
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.used || !isWord(t) {
			continue
		}
		prev := ""
		if i > 0 {
			prev = toks[i-1].lower
		}

		switch {
		case t.lower == "by" && (prev == "sort" || prev == "sorted" || prev == "order" || prev == "ordered"):
			if j := nextContentWord(toks, i+1); j >= 0 {
				in.OrderTerm = embedding.NormalizeTerm(toks[j].lower)
				toks[j].used = true
				if j+1 < len(toks) && (toks[j+1].lower == "desc" || toks[j+1].lower == "descending") {
					in.OrderDesc = true
				}
			}
			t.used = true
			if i > 0 {
				toks[i-1].used = true
			}
		case t.lower == "by" || t.lower == "per" || (t.lower == "for" && i+1 < len(toks) && toks[i+1].lower == "each"):
			j := nextContentWord(toks, i+1)
			if j < 0 {
				continue
			}
			// "by UPS" or "per SO-1" name a value, not a grouping.
			if isIDLike(toks[j]) || isNumber(toks[j]) {
				continue
			}
			in.GroupTerms = append(in.GroupTerms, embedding.NormalizeTerm(toks[j].lower))
			t.used, toks[j].used = true, true
		}
	}
}

func parseFilters(toks []*nlToken, in *Intent) {
	for i := 1; i+1 < len(toks); i++ {
		t := toks[i]
		if t.used {
			continue
		}
		isOp := t.op || (isWord(t) && (t.lower == "is" || t.lower == "equals"))
		if !isOp {
			continue
		}

		col := toks[i-1]
		if col.used || !isWord(col) || embedding.IsStopword(col.lower) || fillerWords[col.lower] {
			continue
		}

		vi := i + 1
		if toks[vi].lower == "not" {
			in.Warnings = append(in.Warnings, fmt.Sprintf("Negated conditions are not supported; ignored %q", joinTokens(toks[i-1:min(vi+2, len(toks))])))
			for k := i - 1; k < min(vi+2, len(toks)); k++ {
				toks[k].used = true
			}
			continue
		}
		val := toks[vi]
		if val.used || val.op || (isWord(val) && embedding.IsStopword(val.lower)) {
			continue
		}

		in.Filters = append(in.Filters, FilterMention{ColumnTerm: embedding.NormalizeTerm(col.lower), Value: val.text})
		col.used, t.used, val.used = true, true, true
	}
}

func parseLikes(toks []*nlToken, in *Intent) {
	for i := 0; i+1 < len(toks); i++ {
		t := toks[i]
		if t.used || !isWord(t) {
			continue
		}
		leading := true
		switch t.lower {
		case "containing", "contains", "like", "matching":
		case "starting":
			if toks[i+1].lower != "with" || i+2 >= len(toks) {
				continue
			}
			toks[i+1].used = true
			i++
			leading = false
		default:
			continue
		}
		val := toks[i+1]
		if val.used || val.op {
			continue
		}
		like := LikeMention{Pattern: val.text, Leading: leading}
		back := i - 1
		if !leading {
			back = i - 2
		}
		if back >= 0 && isWord(toks[back]) && !toks[back].used && !embedding.IsStopword(toks[back].lower) {
			if _, isCategory := CategoryForTerm(toks[back].lower); !isCategory {
				like.ColumnTerm = embedding.NormalizeTerm(toks[back].lower)
				toks[back].used = true
			}
		}
		in.Likes = append(in.Likes, like)
		t.used, val.used = true, true
	}
}

// parseValues collects quoted strings and code-like tokens, plus bare
// numbers that follow an entity word ("order 42", "#42").
func parseValues(toks []*nlToken, in *Intent) {
	for i, t := range toks {
		if t.used || t.op {
			continue
		}

		isValue := t.quoted || isIDLike(t)
		text := t.text
		if !isValue && isWord(t) && strings.HasPrefix(t.text, "#") {
			text = strings.TrimPrefix(t.text, "#")
			_, err := strconv.Atoi(text)
			isValue = err == nil
		}
		if !isValue && isNumber(t) && i > 0 && isWord(toks[i-1]) && !toks[i-1].used {
			if _, ok := CategoryForTerm(toks[i-1].lower); ok {
				isValue = true
			}
		}
		if !isValue || text == "" {
			continue
		}

		mention := ValueMention{Text: text, Quoted: t.quoted}
		if i > 0 {
			prev := toks[i-1]
			if isWord(prev) && !prev.used && !embedding.IsStopword(prev.lower) && !fillerWords[prev.lower] && !isIDLike(prev) {
				mention.Hint = embedding.NormalizeTerm(prev.lower)
				prev.used = true
			}
		}
		in.Values = append(in.Values, mention)
		t.used = true
	}
}

// parseSubjects records the categories named by the remaining words and
// keeps every other content word as a term for the planner.
func parseSubjects(toks []*nlToken, in *Intent) {
	seen := make(map[models.Category]bool)
	for _, t := range toks {
		if t.used || !isWord(t) || isNumber(t) {
			continue
		}
		if embedding.IsStopword(t.lower) || fillerWords[t.lower] {
			continue
		}
		term := embedding.NormalizeTerm(t.lower)
		if c, ok := CategoryForTerm(term); ok {
			if !seen[c] {
				seen[c] = true
				in.Categories = append(in.Categories, c)
			}
		}
		in.Terms = append(in.Terms, term)
	}
}

// screenLiterals drops values libinjection flags.
func (p *IntentParser) screenLiterals(ctx context.Context, requestID uuid.UUID, in *Intent) {
	suspicious := func(name, value string) bool {
		res := sqlpkg.ScreenValue(name, value)
		if res == nil {
			return false
		}
		in.Warnings = append(in.Warnings, "Ignored a value that looks like SQL injection")
		if p.auditor != nil {
			p.auditor.LogInjectionAttempt(ctx, requestID, audit.SQLInjectionDetails{
				Stage:       "intent",
				ParamName:   name,
				ParamValue:  value,
				Fingerprint: res.Fingerprint,
			})
		}
		return true
	}

	values := in.Values[:0]
	for _, v := range in.Values {
		if !suspicious("value", v.Text) {
			values = append(values, v)
		}
	}
	in.Values = values

	filters := in.Filters[:0]
	for _, f := range in.Filters {
		if !suspicious(f.ColumnTerm, f.Value) {
			filters = append(filters, f)
		}
	}
	in.Filters = filters

	likes := in.Likes[:0]
	for _, l := range in.Likes {
		if !suspicious("like", l.Pattern) {
			likes = append(likes, l)
		}
	}
	in.Likes = likes
}

func joinTokens(toks []*nlToken) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}
