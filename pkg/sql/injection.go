package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionHit is a value libinjection classified as SQL injection.
type InjectionHit struct {
	Source      string // where the value came from, e.g. "value" or "literal[2]"
	Value       string
	Fingerprint string // libinjection token fingerprint, e.g. "s&1c"
}

// ScreenValue runs libinjection over one user-supplied value. It returns nil
// for clean values, including ordinary warehouse codes and names with
// apostrophes such as O'Brien.
func ScreenValue(source, value string) *InjectionHit {
	if value == "" {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionHit{Source: source, Value: value, Fingerprint: string(fingerprint)}
}

// ScreenLiterals screens every string literal of a tokenized statement.
// Hits are named "literal[N]" by their position among the literals.
func ScreenLiterals(tokens []Token) []*InjectionHit {
	var hits []*InjectionHit
	n := 0
	for _, tok := range tokens {
		if tok.Kind != TokenString {
			continue
		}
		n++
		if hit := ScreenValue(fmt.Sprintf("literal[%d]", n), tok.Value()); hit != nil {
			hits = append(hits, hit)
		}
	}
	return hits
}
