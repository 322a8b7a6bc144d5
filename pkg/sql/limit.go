package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

var aggregateFuncs = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

// IsAggregate reports whether the query calls COUNT, SUM, AVG, MIN or MAX,
// or has a GROUP BY, at any nesting depth. Row limiting is skipped for such
// queries even when the aggregate sits inside a subquery.
func IsAggregate(tokens []Token) bool {
	return hasAggregate(tokens, false)
}

// IsOuterAggregate is IsAggregate restricted to the outer query. It decides
// whether the result itself is an aggregate report.
func IsOuterAggregate(tokens []Token) bool {
	return hasAggregate(tokens, true)
}

func hasAggregate(tokens []Token, outerOnly bool) bool {
	for i, tok := range tokens {
		if (outerOnly && tok.Depth != 0) || tok.Kind != TokenWord || i+1 >= len(tokens) {
			continue
		}
		next := tokens[i+1]
		if aggregateFuncs[tok.Upper()] && next.IsPunct('(') {
			return true
		}
		if tok.IsWord("GROUP") && next.IsWord("BY") {
			return true
		}
	}
	return false
}

// KeyColumnFunc reports whether a column name denotes a key or indexed column.
type KeyColumnFunc func(column string) bool

// SuffixKeyColumns returns a KeyColumnFunc matching column names that end
// with one of suffixes or equal a suffix stripped of its leading underscore
// ("sku", "id"), case-insensitively.
func SuffixKeyColumns(suffixes []string) KeyColumnFunc {
	lowered := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			lowered = append(lowered, s)
		}
	}
	return func(column string) bool {
		col := normalizeWord(column)
		for _, s := range lowered {
			if strings.HasSuffix(col, s) || col == strings.TrimPrefix(s, "_") {
				return true
			}
		}
		return false
	}
}

// HasSelectiveFilter reports whether the outer WHERE clause pins a key
// column to a literal, as in "WHERE order_id = 42" or
// "WHERE o.sku = 'SKU-1'". The column may sit on either side.
func HasSelectiveFilter(tokens []Token, isKey KeyColumnFunc) bool {
	inWhere := false
	for i, tok := range tokens {
		if tok.Depth != 0 {
			continue
		}
		switch {
		case tok.IsWord("WHERE"):
			inWhere = true
			continue
		case tok.IsWord("GROUP"), tok.IsWord("ORDER"), tok.IsWord("HAVING"),
			tok.IsWord("UNION"), tok.IsWord("LIMIT"), tok.IsWord("OFFSET"):
			inWhere = false
			continue
		}
		if !inWhere || !tok.IsPunct('=') {
			continue
		}
		// "<", ">" and "!" before "=" make a comparison, not equality.
		if i > 0 && tokens[i-1].Kind == TokenPunct && strings.ContainsAny(tokens[i-1].Text, "<>!") {
			continue
		}
		left, right := columnBefore(tokens, i), literalAfter(tokens, i)
		if left != "" && right && isKey(left) {
			return true
		}
		if literalBefore(tokens, i) {
			if col := columnAfter(tokens, i); col != "" && isKey(col) {
				return true
			}
		}
	}
	return false
}

// columnBefore returns the bare column name ending just before tokens[i].
func columnBefore(tokens []Token, i int) string {
	if i == 0 {
		return ""
	}
	t := tokens[i-1]
	if t.Kind == TokenWord || t.Kind == TokenQuotedIdent {
		return t.Value()
	}
	return ""
}

func columnAfter(tokens []Token, i int) string {
	j := i + 1
	// skip qualifiers: a . b . c
	for j+2 < len(tokens) && tokens[j+1].IsPunct('.') {
		j += 2
	}
	if j < len(tokens) && (tokens[j].Kind == TokenWord || tokens[j].Kind == TokenQuotedIdent) {
		return tokens[j].Value()
	}
	return ""
}

func literalAfter(tokens []Token, i int) bool {
	j := i + 1
	if j < len(tokens) && tokens[j].IsWord("N") { // N'...' in SQL Server
		j++
	}
	if j < len(tokens) && tokens[j].IsPunct('-') {
		j++
	}
	return j < len(tokens) && (tokens[j].Kind == TokenString || tokens[j].Kind == TokenNumber)
}

func literalBefore(tokens []Token, i int) bool {
	return i > 0 && (tokens[i-1].Kind == TokenString || tokens[i-1].Kind == TokenNumber)
}

// LimitResult describes the outcome of ApplyRowLimit.
type LimitResult struct {
	SQL     string
	Applied bool // the statement was rewritten to cap rows
	Limit   int
}

// ApplyRowLimit caps the outer query at n rows using LIMIT for PostgreSQL
// or TOP for SQL Server. An existing cap at or below n is left alone and
// a larger one is lowered to n.
func ApplyRowLimit(stmt *Statement, n int) (LimitResult, error) {
	if n <= 0 {
		return LimitResult{}, fmt.Errorf("row limit must be positive, got %d", n)
	}
	switch stmt.Dialect {
	case models.DialectMSSQL:
		return applyTop(stmt, n), nil
	default:
		return applyLimit(stmt, n), nil
	}
}

func applyLimit(stmt *Statement, n int) LimitResult {
	for i, tok := range stmt.Tokens {
		if tok.Depth != 0 {
			continue
		}
		if tok.IsWord("FETCH") {
			// FETCH FIRST n ROWS already bounds the result.
			return LimitResult{SQL: stmt.SQL, Limit: n}
		}
		if tok.IsWord("LIMIT") && i+1 < len(stmt.Tokens) {
			next := stmt.Tokens[i+1]
			if next.Kind == TokenNumber {
				if existing, err := strconv.Atoi(next.Text); err == nil && existing <= n {
					return LimitResult{SQL: stmt.SQL, Limit: existing}
				}
				rewritten := stmt.SQL[:next.Start] + strconv.Itoa(n) + stmt.SQL[next.End:]
				return LimitResult{SQL: rewritten, Applied: true, Limit: n}
			}
			if next.IsWord("ALL") {
				rewritten := stmt.SQL[:next.Start] + strconv.Itoa(n) + stmt.SQL[next.End:]
				return LimitResult{SQL: rewritten, Applied: true, Limit: n}
			}
		}
	}
	return LimitResult{SQL: fmt.Sprintf("%s LIMIT %d", stmt.SQL, n), Applied: true, Limit: n}
}

func applyTop(stmt *Statement, n int) LimitResult {
	wrap := false
	mainSelect := -1
	for i, tok := range stmt.Tokens {
		if tok.Depth != 0 {
			continue
		}
		switch {
		case tok.IsWord("FETCH"):
			return LimitResult{SQL: stmt.SQL, Limit: n}
		case tok.IsWord("UNION"), tok.IsWord("EXCEPT"), tok.IsWord("INTERSECT"), tok.IsWord("OFFSET"):
			// TOP cannot bound a set operation or share a query with OFFSET.
			wrap = true
		case tok.IsWord("SELECT") && mainSelect < 0:
			mainSelect = i
		}
	}

	if wrap || mainSelect < 0 {
		return LimitResult{
			SQL:     fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", n, stmt.SQL),
			Applied: true,
			Limit:   n,
		}
	}

	// Insert after SELECT [DISTINCT|ALL], or adjust an existing TOP.
	insertAt := mainSelect
	if j := mainSelect + 1; j < len(stmt.Tokens) && (stmt.Tokens[j].IsWord("DISTINCT") || stmt.Tokens[j].IsWord("ALL")) {
		insertAt = j
	}
	if j := insertAt + 1; j < len(stmt.Tokens) && stmt.Tokens[j].IsWord("TOP") {
		if existing, start, end, ok := topValue(stmt.Tokens, j); ok {
			if existing <= n {
				return LimitResult{SQL: stmt.SQL, Limit: existing}
			}
			return LimitResult{SQL: stmt.SQL[:start] + strconv.Itoa(n) + stmt.SQL[end:], Applied: true, Limit: n}
		}
		// TOP with an expression or PERCENT: wrap instead of guessing.
		return LimitResult{
			SQL:     fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", n, stmt.SQL),
			Applied: true,
			Limit:   n,
		}
	}

	pos := stmt.Tokens[insertAt].End
	return LimitResult{
		SQL:     fmt.Sprintf("%s TOP (%d)%s", stmt.SQL[:pos], n, stmt.SQL[pos:]),
		Applied: true,
		Limit:   n,
	}
}

// topValue reads "TOP n" or "TOP (n)" starting at tokens[i] == TOP.
func topValue(tokens []Token, i int) (value, start, end int, ok bool) {
	j := i + 1
	paren := j < len(tokens) && tokens[j].IsPunct('(')
	if paren {
		j++
	}
	if j >= len(tokens) || tokens[j].Kind != TokenNumber {
		return 0, 0, 0, false
	}
	if paren && (j+1 >= len(tokens) || !tokens[j+1].IsPunct(')')) {
		return 0, 0, 0, false
	}
	k := j + 1
	if paren {
		k++
	}
	if k < len(tokens) && tokens[k].IsWord("PERCENT") {
		return 0, 0, 0, false
	}
	v, err := strconv.Atoi(tokens[j].Text)
	if err != nil {
		return 0, 0, 0, false
	}
	return v, tokens[j].Start, tokens[j].End, true
}
