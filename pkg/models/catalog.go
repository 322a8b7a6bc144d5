package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is the business domain a table belongs to. The set is closed.
type Category string

const (
	CategoryInventory Category = "inventory"
	CategoryOrders    Category = "orders"
	CategoryShipping  Category = "shipping"
	CategoryReceiving Category = "receiving"
	CategoryLocations Category = "locations"
	CategoryProducts  Category = "products"
	CategoryCustomers Category = "customers"
	CategorySuppliers Category = "suppliers"
	CategoryLabor     Category = "labor"
	CategoryBilling   Category = "billing"
	CategoryOther     Category = "other"
)

// AllCategories lists every category in rule order.
var AllCategories = []Category{
	CategoryInventory,
	CategoryOrders,
	CategoryShipping,
	CategoryReceiving,
	CategoryLocations,
	CategoryProducts,
	CategoryCustomers,
	CategorySuppliers,
	CategoryLabor,
	CategoryBilling,
	CategoryOther,
}

// ParseCategory returns the category named by s, ignoring case.
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllCategories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Dialect identifies the SQL flavor of the operational database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMSSQL    Dialect = "mssql"
)

// Column describes a table column.
type Column struct {
	Name      string `json:"name"`
	DataType  string `json:"data_type"`
	Nullable  bool   `json:"nullable"`
	IsKey     bool   `json:"is_key"`     // primary key or unique
	IsIndexed bool   `json:"is_indexed"` // leading column of some index
	Ordinal   int    `json:"ordinal"`
}

// IsTemporal reports whether the column holds dates or timestamps.
func (c Column) IsTemporal() bool {
	t := strings.ToLower(c.DataType)
	return strings.Contains(t, "date") || strings.Contains(t, "time")
}

// IsText reports whether the column holds character data.
func (c Column) IsText() bool {
	t := strings.ToLower(c.DataType)
	for _, s := range []string{"char", "text", "string", "citext"} {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}

// IsNumeric reports whether the column holds numbers.
func (c Column) IsNumeric() bool {
	t := strings.ToLower(c.DataType)
	for _, s := range []string{"int", "numeric", "decimal", "float", "double", "real", "money"} {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}

// ForeignKey is a declared foreign key constraint. Multi-column keys keep
// their columns in constraint order.
type ForeignKey struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"` // qualified
	RefColumns []string `json:"ref_columns"`
}

// TableSchema is the catalog entry for one table.
type TableSchema struct {
	Schema       string              `json:"schema"`
	Name         string              `json:"name"`
	Category     Category            `json:"category"`
	Columns      []Column            `json:"columns"`
	PrimaryKey   []string            `json:"primary_key,omitempty"`
	ForeignKeys  []ForeignKey        `json:"foreign_keys,omitempty"`
	SampleValues map[string][]string `json:"sample_values,omitempty"`
	RowCount     int64               `json:"row_count"`
	Embedding    []float32           `json:"-"`

	// EmbeddingSpace names the embedder that produced Embedding.
	EmbeddingSpace string `json:"-"`
}

// QualifiedName returns schema.table.
func (t *TableSchema) QualifiedName() string {
	return QualifiedName(t.Schema, t.Name)
}

// QualifiedName joins a schema and table name.
func QualifiedName(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

// Column looks a column up by name, ignoring case.
func (t *TableSchema) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// EmbeddingText is the text a table's embedding is computed from.
func (t *TableSchema) EmbeddingText() string {
	var sb strings.Builder
	sb.WriteString(strings.ReplaceAll(t.Name, "_", " "))
	sb.WriteString(" ")
	sb.WriteString(string(t.Category))
	for _, c := range t.Columns {
		sb.WriteString(" ")
		sb.WriteString(strings.ReplaceAll(c.Name, "_", " "))
	}
	return sb.String()
}

// JoinColumn pairs a column of the edge's From table with one of its To table.
type JoinColumn struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RelationshipEdge connects two tables through one or more column pairs.
type RelationshipEdge struct {
	From       string       `json:"from"`
	To         string       `json:"to"`
	Columns    []JoinColumn `json:"columns"`
	Confidence float64      `json:"confidence"`
	Constraint string       `json:"constraint,omitempty"`
}

// Reverse returns the same edge traversed from To to From.
func (e RelationshipEdge) Reverse() RelationshipEdge {
	cols := make([]JoinColumn, len(e.Columns))
	for i, c := range e.Columns {
		cols[i] = JoinColumn{From: c.To, To: c.From}
	}
	return RelationshipEdge{
		From:       e.To,
		To:         e.From,
		Columns:    cols,
		Confidence: e.Confidence,
		Constraint: e.Constraint,
	}
}

// String renders the edge as a join condition, e.g. "a.x = b.y".
func (e RelationshipEdge) String() string {
	parts := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		parts[i] = e.From + "." + c.From + " = " + e.To + "." + c.To
	}
	return strings.Join(parts, " AND ")
}

// CatalogSnapshot is an immutable, versioned view of the operational schema.
// Build one with NewCatalogSnapshot; nothing mutates it afterwards, so it is
// safe to share across goroutines.
type CatalogSnapshot struct {
	id        uuid.UUID
	version   int64
	builtAt   time.Time
	dialect   Dialect
	tables    map[string]*TableSchema
	bare      map[string][]string
	names     []string
	edges     []RelationshipEdge
	adjacency map[string][]RelationshipEdge
}

// NewCatalogSnapshot copies tables and edges into a new snapshot. Edges that
// reference tables outside the set are dropped.
func NewCatalogSnapshot(version int64, dialect Dialect, tables []*TableSchema, edges []RelationshipEdge) *CatalogSnapshot {
	s := &CatalogSnapshot{
		id:        uuid.New(),
		version:   version,
		builtAt:   time.Now().UTC(),
		dialect:   dialect,
		tables:    make(map[string]*TableSchema, len(tables)),
		bare:      make(map[string][]string),
		adjacency: make(map[string][]RelationshipEdge),
	}

	for _, t := range tables {
		cp := *t
		cp.Columns = append([]Column(nil), t.Columns...)
		cp.PrimaryKey = append([]string(nil), t.PrimaryKey...)
		cp.ForeignKeys = append([]ForeignKey(nil), t.ForeignKeys...)
		cp.Embedding = append([]float32(nil), t.Embedding...)
		if t.SampleValues != nil {
			cp.SampleValues = make(map[string][]string, len(t.SampleValues))
			for k, v := range t.SampleValues {
				cp.SampleValues[k] = append([]string(nil), v...)
			}
		}
		qn := cp.QualifiedName()
		s.tables[qn] = &cp
		s.names = append(s.names, qn)
		lower := strings.ToLower(cp.Name)
		s.bare[lower] = append(s.bare[lower], qn)
	}
	sort.Strings(s.names)

	for _, e := range edges {
		if _, ok := s.tables[e.From]; !ok {
			continue
		}
		if _, ok := s.tables[e.To]; !ok {
			continue
		}
		e.Columns = append([]JoinColumn(nil), e.Columns...)
		s.edges = append(s.edges, e)
		s.adjacency[e.From] = append(s.adjacency[e.From], e)
		if e.From != e.To {
			s.adjacency[e.To] = append(s.adjacency[e.To], e.Reverse())
		}
	}

	return s
}

func (s *CatalogSnapshot) ID() uuid.UUID      { return s.id }
func (s *CatalogSnapshot) Version() int64     { return s.version }
func (s *CatalogSnapshot) BuiltAt() time.Time { return s.builtAt }
func (s *CatalogSnapshot) Dialect() Dialect   { return s.dialect }
func (s *CatalogSnapshot) Len() int           { return len(s.names) }

// Table resolves a qualified name, or a bare table name when it is unambiguous.
func (s *CatalogSnapshot) Table(name string) (*TableSchema, bool) {
	if t, ok := s.tables[name]; ok {
		return t, true
	}
	if qns := s.bare[strings.ToLower(name)]; len(qns) == 1 {
		return s.tables[qns[0]], true
	}
	return nil, false
}

// Has reports whether the qualified name is part of this snapshot.
func (s *CatalogSnapshot) Has(qualified string) bool {
	_, ok := s.tables[qualified]
	return ok
}

// Tables returns all tables ordered by qualified name.
func (s *CatalogSnapshot) Tables() []*TableSchema {
	out := make([]*TableSchema, len(s.names))
	for i, n := range s.names {
		out[i] = s.tables[n]
	}
	return out
}

// TablesInCategory returns the tables of one category ordered by qualified name.
func (s *CatalogSnapshot) TablesInCategory(c Category) []*TableSchema {
	var out []*TableSchema
	for _, n := range s.names {
		if s.tables[n].Category == c {
			out = append(out, s.tables[n])
		}
	}
	return out
}

// Edges returns the relationship edges as discovered.
func (s *CatalogSnapshot) Edges() []RelationshipEdge {
	return append([]RelationshipEdge(nil), s.edges...)
}

// EdgesOf returns the edges touching table, oriented so From is table.
func (s *CatalogSnapshot) EdgesOf(table string) []RelationshipEdge {
	return s.adjacency[table]
}
