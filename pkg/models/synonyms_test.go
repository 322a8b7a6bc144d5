package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSynonyms_MergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	content := `
synonyms:
  qty:
    - inventory.units
  pallet:
    - lpn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	m, err := LoadSynonyms(path)
	require.NoError(t, err)

	refs := m.Lookup("QTY")
	require.NotEmpty(t, refs)
	assert.Equal(t, "inventory.units", refs[0], "file entries take precedence")
	assert.Contains(t, refs, "quantity_on_hand", "defaults are kept behind file entries")
	assert.Equal(t, []string{"lpn"}, m.Lookup("pallet"))
}

func TestLoadSynonyms_Errors(t *testing.T) {
	_, err := LoadSynonyms(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("synonyms: [unclosed"), 0o600))
	_, err = LoadSynonyms(path)
	assert.Error(t, err)

	m, err := LoadSynonyms("")
	require.NoError(t, err)
	assert.NotEmpty(t, m.Lookup("sku"))
}

func TestColumnSynonymMap_Resolve(t *testing.T) {
	m := DefaultSynonyms()
	m.Add("units", "stock_levels.qty_units")

	inventory := &TableSchema{Name: "inventory", Columns: []Column{{Name: "sku"}, {Name: "quantity_on_hand"}}}
	levels := &TableSchema{Name: "stock_levels", Columns: []Column{{Name: "qty_units"}}}

	col, ok := m.Resolve("on hand", inventory)
	require.True(t, ok)
	assert.Equal(t, "quantity_on_hand", col.Name)

	_, ok = m.Resolve("units", inventory)
	assert.False(t, ok, "qualified reference only matches its table")

	col, ok = m.Resolve("units", levels)
	require.True(t, ok)
	assert.Equal(t, "qty_units", col.Name)

	_, ok = m.Resolve("unknown term", inventory)
	assert.False(t, ok)
}

func TestColumnSynonymMap_TermsLongestFirst(t *testing.T) {
	terms := DefaultSynonyms().Terms()
	require.NotEmpty(t, terms)
	for i := 1; i < len(terms); i++ {
		assert.GreaterOrEqual(t, len(terms[i-1]), len(terms[i]))
	}
}
