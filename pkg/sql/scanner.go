package sql

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenWord        TokenKind = iota // keyword or bare identifier
	TokenNumber                       // numeric literal
	TokenString                       // 'string' literal, including the quotes
	TokenQuotedIdent                  // "ident" or [ident]
	TokenPunct                        // any other single character
)

// Token is one lexical unit of a SQL statement. Comments and whitespace are
// not tokens.
type Token struct {
	Kind  TokenKind
	Text  string
	Start int // byte offset of the first character
	End   int // byte offset one past the last character
	Depth int // parenthesis depth the token appears at
}

// Upper returns the token text upper-cased, for keyword comparisons.
func (t Token) Upper() string { return strings.ToUpper(t.Text) }

// IsWord reports whether the token is the given keyword, case-insensitively.
func (t Token) IsWord(keyword string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, keyword)
}

// IsPunct reports whether the token is the given punctuation character.
func (t Token) IsPunct(ch byte) bool {
	return t.Kind == TokenPunct && len(t.Text) == 1 && t.Text[0] == ch
}

// Value returns the literal value of a string token with quotes removed and
// doubled quotes collapsed. Other tokens return their text.
func (t Token) Value() string {
	switch t.Kind {
	case TokenString:
		if t.Text[0] == '$' {
			tagLen := strings.IndexByte(t.Text[1:], '$') + 2
			return t.Text[tagLen : len(t.Text)-tagLen]
		}
		inner := t.Text[1 : len(t.Text)-1]
		return strings.ReplaceAll(inner, "''", "'")
	case TokenQuotedIdent:
		inner := t.Text[1 : len(t.Text)-1]
		if t.Text[0] == '[' {
			return strings.ReplaceAll(inner, "]]", "]")
		}
		return strings.ReplaceAll(inner, `""`, `"`)
	default:
		return t.Text
	}
}

var (
	// ErrUnterminated indicates a string, identifier or comment that never closes.
	ErrUnterminated = errors.New("unterminated literal or comment")
	// ErrUnbalancedParens indicates a closing parenthesis without an opener, or the reverse.
	ErrUnbalancedParens = errors.New("unbalanced parentheses")
)

// Tokenize splits a statement into tokens. String literals, quoted
// identifiers and comments are consumed whole so nothing inside them is ever
// mistaken for a keyword. Square-bracket identifiers are recognized for SQL
// Server and dollar-quoted strings for PostgreSQL.
//
// Backslash escapes are not honored, so a literal never ends later than the
// server would end it.
func Tokenize(sqlQuery string, dialect models.Dialect) ([]Token, error) {
	var tokens []Token
	depth := 0
	i := 0
	n := len(sqlQuery)

	emit := func(kind TokenKind, start, end int) {
		tokens = append(tokens, Token{Kind: kind, Text: sqlQuery[start:end], Start: start, End: end, Depth: depth})
	}

	for i < n {
		c := sqlQuery[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			i++

		case c == '-' && i+1 < n && sqlQuery[i+1] == '-':
			end := strings.IndexByte(sqlQuery[i:], '\n')
			if end < 0 {
				i = n
			} else {
				i += end + 1
			}

		case c == '/' && i+1 < n && sqlQuery[i+1] == '*':
			end := strings.Index(sqlQuery[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("%w: block comment at offset %d", ErrUnterminated, i)
			}
			i += 2 + end + 2

		case c == '\'':
			end, ok := scanQuoted(sqlQuery, i, '\'')
			if !ok {
				return nil, fmt.Errorf("%w: string literal at offset %d", ErrUnterminated, i)
			}
			emit(TokenString, i, end)
			i = end

		case c == '"':
			end, ok := scanQuoted(sqlQuery, i, '"')
			if !ok {
				return nil, fmt.Errorf("%w: quoted identifier at offset %d", ErrUnterminated, i)
			}
			emit(TokenQuotedIdent, i, end)
			i = end

		case c == '[' && dialect == models.DialectMSSQL:
			end, ok := scanQuoted(sqlQuery, i, ']')
			if !ok {
				return nil, fmt.Errorf("%w: bracketed identifier at offset %d", ErrUnterminated, i)
			}
			emit(TokenQuotedIdent, i, end)
			i = end

		case c == '$' && dialect != models.DialectMSSQL && isDollarQuoteStart(sqlQuery, i):
			end, ok := scanDollarQuoted(sqlQuery, i)
			if !ok {
				return nil, fmt.Errorf("%w: dollar-quoted string at offset %d", ErrUnterminated, i)
			}
			emit(TokenString, i, end)
			i = end

		case isWordStart(c):
			start := i
			for i < n && isWordPart(sqlQuery[i]) {
				i++
			}
			emit(TokenWord, start, i)

		case c >= '0' && c <= '9' || c == '.' && i+1 < n && sqlQuery[i+1] >= '0' && sqlQuery[i+1] <= '9':
			start := i
			for i < n && (sqlQuery[i] >= '0' && sqlQuery[i] <= '9' || sqlQuery[i] == '.') {
				i++
			}
			emit(TokenNumber, start, i)

		case c == '(':
			emit(TokenPunct, i, i+1)
			depth++
			i++

		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unexpected ')' at offset %d", ErrUnbalancedParens, i)
			}
			emit(TokenPunct, i, i+1)
			i++

		default:
			emit(TokenPunct, i, i+1)
			i++
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("%w: %d unclosed '('", ErrUnbalancedParens, depth)
	}
	return tokens, nil
}

// scanQuoted returns the offset just past the closing quote. A doubled
// closing character is an escaped literal character.
func scanQuoted(s string, start int, closer byte) (int, bool) {
	for i := start + 1; i < len(s); i++ {
		if s[i] != closer {
			continue
		}
		if i+1 < len(s) && s[i+1] == closer {
			i++
			continue
		}
		return i + 1, true
	}
	return 0, false
}

// isDollarQuoteStart reports whether s[i:] opens $$ or $tag$.
func isDollarQuoteStart(s string, i int) bool {
	if i > 0 && isWordPart(s[i-1]) {
		return false
	}
	j := i + 1
	for j < len(s) && (isWordStart(s[j]) || s[j] >= '0' && s[j] <= '9') {
		if j == i+1 && s[j] >= '0' && s[j] <= '9' {
			return false // $1 is a parameter
		}
		j++
	}
	return j < len(s) && s[j] == '$'
}

func scanDollarQuoted(s string, start int) (int, bool) {
	tagEnd := strings.IndexByte(s[start+1:], '$')
	tag := s[start : start+1+tagEnd+1]
	body := start + len(tag)
	end := strings.Index(s[body:], tag)
	if end < 0 {
		return 0, false
	}
	return body + end + len(tag), true
}

func isWordStart(c byte) bool {
	return c == '_' || c == '@' || c == '#' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isWordPart(c byte) bool {
	return isWordStart(c) || c >= '0' && c <= '9' || c == '$'
}

// normalizeWord lower-cases and trims an identifier-like term for comparisons.
func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}))
}
