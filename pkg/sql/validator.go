// Package sql provides the lexical building blocks of the read-only query
// gate: tokenizing, statement checks, row limiting and literal screening.
package sql

import (
	"errors"
	"strings"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// forbiddenVerbs are rejected anywhere outside literals and comments.
var forbiddenVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true, "ALTER": true,
	"TRUNCATE": true, "EXEC": true, "EXECUTE": true, "MERGE": true, "CREATE": true,
	"GRANT": true, "REVOKE": true, "CALL": true, "UPSERT": true,
	"COPY": true, "VACUUM": true, "REINDEX": true, "BACKUP": true, "RESTORE": true,
	"SHUTDOWN": true, "DENY": true, "BULK": true, "DBCC": true, "KILL": true,
}

// forbiddenFunctions read server files, reach other servers or change state
// while looking like an ordinary function call.
var forbiddenFunctions = map[string]bool{
	"PG_READ_FILE": true, "PG_READ_BINARY_FILE": true, "PG_LS_DIR": true,
	"PG_TERMINATE_BACKEND": true, "PG_CANCEL_BACKEND": true, "PG_RELOAD_CONF": true,
	"LO_IMPORT": true, "LO_EXPORT": true, "DBLINK": true, "DBLINK_EXEC": true,
	"SET_CONFIG": true, "NEXTVAL": true, "SETVAL": true,
	"OPENROWSET": true, "OPENDATASOURCE": true, "OPENQUERY": true,
	"XP_CMDSHELL": true, "SP_EXECUTESQL": true,
}

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips the
// trailing semicolon.
//
// The validation order is:
// 1. Strip trailing semicolons and whitespace (normalize)
// 2. Check for multiple statements (any remaining semicolons outside literals and comments)
func ValidateAndNormalize(sqlQuery string, dialect models.Dialect) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	tokens, err := Tokenize(sqlQuery, dialect)
	if err != nil {
		return ValidationResult{Error: err}
	}

	// Drop trailing semicolons, then cut the text after the last real token
	// so a trailing comment cannot hide anything.
	for len(tokens) > 0 && tokens[len(tokens)-1].IsPunct(';') {
		tokens = tokens[:len(tokens)-1]
	}
	for _, tok := range tokens {
		if tok.IsPunct(';') {
			return ValidationResult{Error: ErrMultipleStatements}
		}
	}
	if len(tokens) == 0 {
		return ValidationResult{NormalizedSQL: ""}
	}

	return ValidationResult{NormalizedSQL: strings.TrimSpace(sqlQuery[:tokens[len(tokens)-1].End])}
}

// Policy configures CheckReadOnly.
type Policy struct {
	Dialect          models.Dialect
	MaxSubqueryDepth int
}

// Statement is a single read-only statement that passed CheckReadOnly.
type Statement struct {
	SQL     string
	Dialect models.Dialect
	Tokens  []Token
}

// CheckReadOnly accepts exactly one SELECT (or WITH ... SELECT) statement
// and rejects everything else with an *apperrors.UnsafeQueryError:
//   - a leading keyword other than SELECT or WITH
//   - any write, DDL or procedure verb outside literals and comments
//   - SELECT ... INTO
//   - multiple statements
//   - subqueries nested deeper than the policy allows
func CheckReadOnly(sqlQuery string, policy Policy) (*Statement, error) {
	normalized := ValidateAndNormalize(sqlQuery, policy.Dialect)
	if normalized.Error != nil {
		if errors.Is(normalized.Error, ErrMultipleStatements) {
			return nil, &apperrors.UnsafeQueryError{Reason: "multiple statements", Token: ";"}
		}
		return nil, &apperrors.UnsafeQueryError{Reason: normalized.Error.Error()}
	}
	if normalized.NormalizedSQL == "" {
		return nil, &apperrors.UnsafeQueryError{Reason: "empty statement"}
	}

	tokens, err := Tokenize(normalized.NormalizedSQL, policy.Dialect)
	if err != nil {
		return nil, &apperrors.UnsafeQueryError{Reason: err.Error()}
	}

	first := tokens[0]
	if !first.IsWord("SELECT") && !first.IsWord("WITH") {
		return nil, &apperrors.UnsafeQueryError{Reason: "only SELECT statements are allowed", Token: first.Text}
	}

	for i, tok := range tokens {
		if tok.Kind != TokenWord {
			continue
		}
		word := tok.Upper()
		if forbiddenVerbs[word] {
			return nil, &apperrors.UnsafeQueryError{Reason: "write or DDL keyword", Token: tok.Text}
		}
		if word == "INTO" {
			return nil, &apperrors.UnsafeQueryError{Reason: "SELECT INTO is not allowed", Token: tok.Text}
		}
		if forbiddenFunctions[word] && i+1 < len(tokens) && tokens[i+1].IsPunct('(') {
			return nil, &apperrors.UnsafeQueryError{Reason: "function not allowed", Token: tok.Text}
		}
	}

	if depth := SubqueryDepth(tokens); depth > policy.MaxSubqueryDepth {
		return nil, &apperrors.UnsafeQueryError{Reason: "subqueries nested too deeply", Token: "SELECT"}
	}

	return &Statement{SQL: normalized.NormalizedSQL, Dialect: policy.Dialect, Tokens: tokens}, nil
}

// SubqueryDepth returns the deepest nesting of parenthesized SELECTs.
// Common table expression bodies of a leading WITH do not count.
func SubqueryDepth(tokens []Token) int {
	leadingWith := len(tokens) > 0 && tokens[0].IsWord("WITH")

	// One entry per open parenthesis: true when it encloses a subquery.
	var stack []bool
	active, maxDepth := 0, 0

	for i, tok := range tokens {
		switch {
		case tok.IsPunct('('):
			stack = append(stack, false)
			if leadingWith && tok.Depth == 0 && i > 0 && tokens[i-1].IsWord("AS") {
				// CTE body
				continue
			}
			if i+1 < len(tokens) && (tokens[i+1].IsWord("SELECT") || tokens[i+1].IsWord("WITH")) {
				stack[len(stack)-1] = true
				active++
				if active > maxDepth {
					maxDepth = active
				}
			}
		case tok.IsPunct(')'):
			if n := len(stack); n > 0 {
				if stack[n-1] {
					active--
				}
				stack = stack[:n-1]
			}
		}
	}
	return maxDepth
}
