package sql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

func tokenTexts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

func TestTokenize(t *testing.T) {
	tokens, err := Tokenize(`SELECT o."order_id", 'it''s' -- trailing
FROM orders o /* block; comment */ WHERE o.qty >= 1.5`, models.DialectPostgres)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"SELECT", "o", ".", `"order_id"`, ",", "'it''s'",
		"FROM", "orders", "o", "WHERE", "o", ".", "qty", ">", "=", "1.5",
	}, tokenTexts(tokens))

	assert.Equal(t, TokenQuotedIdent, tokens[3].Kind)
	assert.Equal(t, "order_id", tokens[3].Value())
	assert.Equal(t, TokenString, tokens[5].Kind)
	assert.Equal(t, "it's", tokens[5].Value())
	assert.Equal(t, TokenNumber, tokens[15].Kind)
}

func TestTokenize_Depth(t *testing.T) {
	tokens, err := Tokenize("SELECT count(*) FROM (SELECT 1) s", models.DialectPostgres)
	require.NoError(t, err)

	depths := map[string]int{}
	for _, tok := range tokens {
		depths[tok.Text] = tok.Depth
	}
	assert.Equal(t, 0, depths["count"])
	assert.Equal(t, 1, depths["*"])
	assert.Equal(t, 1, depths["1"])
	assert.Equal(t, 0, depths["s"])
}

func TestTokenize_DialectQuoting(t *testing.T) {
	t.Run("mssql brackets", func(t *testing.T) {
		tokens, err := Tokenize("SELECT [order]]s] FROM [dbo].[orders]", models.DialectMSSQL)
		require.NoError(t, err)
		assert.Equal(t, "order]s", tokens[1].Value())
		assert.Equal(t, TokenQuotedIdent, tokens[3].Kind)
	})

	t.Run("postgres dollar quotes", func(t *testing.T) {
		tokens, err := Tokenize("SELECT $tag$ it's; $$ $tag$, $1", models.DialectPostgres)
		require.NoError(t, err)
		assert.Equal(t, TokenString, tokens[1].Kind)
		assert.Equal(t, " it's; $$ ", tokens[1].Value())
		assert.Equal(t, "$1", tokens[3].Text+tokens[4].Text)
	})

	t.Run("mssql has no dollar quotes", func(t *testing.T) {
		tokens, err := Tokenize("SELECT $$x$$", models.DialectMSSQL)
		require.NoError(t, err)
		for _, tok := range tokens {
			assert.NotEqual(t, TokenString, tok.Kind)
		}
	})
}

func TestTokenize_Errors(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want error
	}{
		{"open string", "SELECT 'abc", ErrUnterminated},
		{"open identifier", `SELECT "abc`, ErrUnterminated},
		{"open comment", "SELECT 1 /* x", ErrUnterminated},
		{"open dollar quote", "SELECT $$abc", ErrUnterminated},
		{"extra close", "SELECT 1)", ErrUnbalancedParens},
		{"extra open", "SELECT (1", ErrUnbalancedParens},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.sql, models.DialectPostgres)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}
