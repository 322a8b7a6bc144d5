package services

import (
	"strings"
	"unicode"

	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// ruleKind says what a category rule inspects.
type ruleKind int

const (
	matchTableName ruleKind = iota
	matchColumnName
)

// categoryRule assigns Category when any token matches and no Exclude
// token is present. Tokens are compared after singularization.
type categoryRule struct {
	Category models.Category
	Kind     ruleKind
	Tokens   []string
	Exclude  []string
}

// categoryRules is evaluated top to bottom and the first match wins. Every
// table-name rule precedes every column rule, so a table called
// "order_lines" is an orders table even though it carries a sku column.
var categoryRules = []categoryRule{
	{Category: models.CategoryInventory, Kind: matchTableName, Tokens: []string{"inventory", "stock", "onhand", "balance", "lot"}},
	{Category: models.CategoryOrders, Kind: matchTableName, Tokens: []string{"order", "sale", "so", "backorder", "wave", "pick"}, Exclude: []string{"purchase", "po", "work"}},
	{Category: models.CategoryShipping, Kind: matchTableName, Tokens: []string{"shipment", "ship", "shipping", "carrier", "parcel", "package", "manifest", "tracking", "outbound", "dispatch", "freight"}},
	{Category: models.CategoryReceiving, Kind: matchTableName, Tokens: []string{"receipt", "receiving", "asn", "inbound", "putaway", "purchase", "po"}},
	{Category: models.CategoryLocations, Kind: matchTableName, Tokens: []string{"location", "bin", "zone", "aisle", "warehouse", "slot", "dock", "site", "rack"}},
	{Category: models.CategoryProducts, Kind: matchTableName, Tokens: []string{"product", "item", "sku", "material", "article", "uom"}},
	{Category: models.CategoryCustomers, Kind: matchTableName, Tokens: []string{"customer", "client", "consignee"}},
	{Category: models.CategorySuppliers, Kind: matchTableName, Tokens: []string{"supplier", "vendor", "manufacturer"}},
	{Category: models.CategoryLabor, Kind: matchTableName, Tokens: []string{"employee", "labor", "labour", "worker", "picker", "shift", "task", "operator", "timesheet", "work"}},
	{Category: models.CategoryBilling, Kind: matchTableName, Tokens: []string{"invoice", "billing", "bill", "charge", "payment", "rate", "tariff", "fee"}},

	{Category: models.CategoryInventory, Kind: matchColumnName, Tokens: []string{"quantity_on_hand", "qty_on_hand", "on_hand_qty", "quantity_available"}},
	{Category: models.CategoryOrders, Kind: matchColumnName, Tokens: []string{"order_number", "order_date", "order_status"}},
	{Category: models.CategoryShipping, Kind: matchColumnName, Tokens: []string{"tracking_number", "shipped_at", "ship_date"}},
	{Category: models.CategoryReceiving, Kind: matchColumnName, Tokens: []string{"asn_number", "received_at", "receipt_date"}},
	{Category: models.CategoryLocations, Kind: matchColumnName, Tokens: []string{"location_code", "bin_code", "aisle"}},
	{Category: models.CategoryProducts, Kind: matchColumnName, Tokens: []string{"sku", "item_code", "upc", "barcode"}},
	{Category: models.CategoryCustomers, Kind: matchColumnName, Tokens: []string{"customer_name"}},
	{Category: models.CategorySuppliers, Kind: matchColumnName, Tokens: []string{"supplier_name", "vendor_name"}},
	{Category: models.CategoryLabor, Kind: matchColumnName, Tokens: []string{"employee_id", "shift_start"}},
	{Category: models.CategoryBilling, Kind: matchColumnName, Tokens: []string{"invoice_number", "amount_due"}},
}

// CategorizeTable assigns a table to the first matching category, or
// CategoryOther.
func CategorizeTable(t *models.TableSchema) models.Category {
	nameTokens := nameTokenSet(t.Name)

	columns := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		columns[strings.ToLower(c.Name)] = true
	}

	for _, rule := range categoryRules {
		var have map[string]bool
		switch rule.Kind {
		case matchTableName:
			have = nameTokens
		case matchColumnName:
			have = columns
		}
		if rule.matches(have) {
			return rule.Category
		}
	}
	return models.CategoryOther
}

func (r categoryRule) matches(have map[string]bool) bool {
	for _, ex := range r.Exclude {
		if have[ex] {
			return false
		}
	}
	for _, tok := range r.Tokens {
		if have[tok] {
			return true
		}
	}
	return false
}

// CategoryForTerm maps a single question word to the category whose
// table-name rule names it, e.g. "shipments" -> shipping.
func CategoryForTerm(term string) (models.Category, bool) {
	term = embedding.NormalizeTerm(term)
	for _, rule := range categoryRules {
		if rule.Kind != matchTableName {
			continue
		}
		for _, tok := range rule.Tokens {
			// Two-letter codes ("so", "po") are too ambiguous in prose.
			if len(tok) > 2 && tok == term {
				return rule.Category, true
			}
		}
	}
	return "", false
}

// nameTokenSet splits a table name on underscores, punctuation and camel
// case, singularizes each part and also adds the glued form of adjacent
// pairs so "on_hand" yields "onhand".
func nameTokenSet(name string) map[string]bool {
	parts := splitIdentifier(name)
	set := make(map[string]bool, len(parts)*2)
	for i, p := range parts {
		set[embedding.NormalizeTerm(p)] = true
		if i > 0 {
			set[parts[i-1]+p] = true
		}
	}
	return set
}

func splitIdentifier(name string) []string {
	var parts []string
	var cur []rune
	runes := []rune(name)
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return parts
}
