package models

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ColumnSynonymMap maps natural-language terms to canonical column
// references. A reference is either "table.column", which only matches that
// table, or a bare "column", which matches any table that has it.
type ColumnSynonymMap struct {
	entries map[string][]string
}

// synonymFile is the on-disk layout of a synonyms file.
type synonymFile struct {
	Synonyms map[string][]string `yaml:"synonyms"`
}

var defaultWMSSynonyms = map[string][]string{
	"quantity":    {"quantity_on_hand", "qty_on_hand", "on_hand_qty", "quantity", "qty"},
	"qty":         {"quantity_on_hand", "qty_on_hand", "on_hand_qty", "quantity", "qty"},
	"stock":       {"quantity_on_hand", "qty_on_hand", "on_hand_qty", "quantity_available"},
	"on hand":     {"quantity_on_hand", "qty_on_hand", "on_hand_qty"},
	"available":   {"quantity_available", "qty_available", "available_qty"},
	"sku":         {"sku", "item_code", "item_id", "product_id"},
	"item":        {"sku", "item_id", "item_code", "product_id"},
	"product":     {"product_id", "sku", "item_id"},
	"location":    {"location_id", "location_code", "bin_id", "bin_code"},
	"bin":         {"bin_id", "bin_code", "location_code", "location_id"},
	"slot":        {"location_code", "location_id", "bin_code"},
	"warehouse":   {"warehouse_id", "warehouse_code", "site_id"},
	"site":        {"site_id", "warehouse_id", "warehouse_code"},
	"zone":        {"zone", "zone_code", "zone_id"},
	"aisle":       {"aisle", "aisle_code"},
	"status":      {"status", "order_status", "shipment_status", "state"},
	"customer":    {"customer_id", "customer_name", "customer_code"},
	"client":      {"customer_id", "customer_name", "client_id"},
	"carrier":     {"carrier", "carrier_code", "carrier_name"},
	"tracking":    {"tracking_number", "tracking_no"},
	"supplier":    {"supplier_id", "supplier_name", "vendor_id"},
	"vendor":      {"vendor_id", "vendor_name", "supplier_id"},
	"lot":         {"lot_number", "lot_no", "batch_number"},
	"batch":       {"batch_number", "lot_number"},
	"order":       {"order_id", "order_number", "order_no"},
	"shipment":    {"shipment_id", "shipment_number"},
	"receipt":     {"receipt_id", "receipt_number", "asn_number"},
	"po":          {"po_number", "purchase_order_id"},
	"employee":    {"employee_id", "user_id", "picker_id"},
	"picker":      {"picker_id", "employee_id"},
	"shipped":     {"shipped_at", "ship_date", "shipped_date"},
	"ordered":     {"order_date", "ordered_at", "created_at"},
	"received":    {"received_at", "receipt_date", "received_date"},
	"created":     {"created_at", "created_date"},
	"updated":     {"updated_at", "last_updated"},
	"due":         {"due_date", "required_date", "promised_date"},
	"amount":      {"amount", "total_amount", "invoice_amount"},
	"total":       {"total_amount", "total", "amount"},
	"weight":      {"weight", "gross_weight", "weight_kg", "weight_lb"},
	"description": {"description", "item_description", "product_description"},
}

// DefaultSynonyms returns the built-in warehouse vocabulary.
func DefaultSynonyms() *ColumnSynonymMap {
	m := &ColumnSynonymMap{entries: make(map[string][]string, len(defaultWMSSynonyms))}
	for term, refs := range defaultWMSSynonyms {
		m.entries[term] = append([]string(nil), refs...)
	}
	return m
}

// LoadSynonyms reads a synonyms YAML file and merges it over the defaults.
// File entries for a term take precedence over the built-in references.
func LoadSynonyms(path string) (*ColumnSynonymMap, error) {
	m := DefaultSynonyms()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read synonyms file: %w", err)
	}

	var f synonymFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse synonyms file %s: %w", path, err)
	}

	for term, refs := range f.Synonyms {
		m.Add(term, refs...)
	}
	return m, nil
}

// Add puts refs ahead of any existing references for term.
func (m *ColumnSynonymMap) Add(term string, refs ...string) {
	if m.entries == nil {
		m.entries = make(map[string][]string)
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return
	}

	seen := make(map[string]bool)
	var merged []string
	for _, r := range append(append([]string(nil), refs...), m.entries[term]...) {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		merged = append(merged, r)
	}
	m.entries[term] = merged
}

// Lookup returns the references for term in preference order.
func (m *ColumnSynonymMap) Lookup(term string) []string {
	if m == nil {
		return nil
	}
	return m.entries[strings.ToLower(strings.TrimSpace(term))]
}

// Terms returns every known term, longest first so multi-word phrases win
// over their parts.
func (m *ColumnSynonymMap) Terms() []string {
	if m == nil {
		return nil
	}
	terms := make([]string, 0, len(m.entries))
	for t := range m.entries {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})
	return terms
}

// Resolve maps term to a column of table, if any reference matches.
func (m *ColumnSynonymMap) Resolve(term string, table *TableSchema) (*Column, bool) {
	for _, ref := range m.Lookup(term) {
		tbl, col, qualified := strings.Cut(ref, ".")
		if qualified {
			if !strings.EqualFold(tbl, table.Name) {
				continue
			}
		} else {
			col = tbl
		}
		if c, ok := table.Column(col); ok {
			return c, true
		}
	}
	return nil, false
}
