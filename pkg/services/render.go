package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// sqlRenderer writes plans as dialect-specific SQL. Table aliases are
// t0, t1, ... in plan table order, so equal plans render identically.
type sqlRenderer struct {
	dialect models.Dialect
	aliases map[string]string
}

func newSQLRenderer(dialect models.Dialect, tables []string) *sqlRenderer {
	r := &sqlRenderer{dialect: dialect, aliases: make(map[string]string, len(tables))}
	for i, t := range tables {
		r.aliases[t] = fmt.Sprintf("t%d", i)
	}
	return r
}

// quoteIdent quotes one identifier, doubling the closing quote character.
func (r *sqlRenderer) quoteIdent(name string) string {
	if r.dialect == models.DialectMSSQL {
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (r *sqlRenderer) quoteTable(t *models.TableSchema) string {
	if t.Schema == "" {
		return r.quoteIdent(t.Name)
	}
	return r.quoteIdent(t.Schema) + "." + r.quoteIdent(t.Name)
}

func (r *sqlRenderer) column(ref models.ColumnRef) string {
	return r.aliases[ref.Table] + "." + r.quoteIdent(ref.Column)
}

// literal renders a value. Numbers must parse as numbers; everything else
// is a quoted string with embedded quotes doubled.
func (r *sqlRenderer) literal(value string, kind models.ValueKind) string {
	if kind == models.ValueNumber {
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return value
		}
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func (r *sqlRenderer) predicate(p models.Predicate) string {
	col := r.column(p.Column)
	switch p.Op {
	case models.OpIn:
		vals := make([]string, len(p.Values))
		for i, v := range p.Values {
			vals[i] = r.literal(v, p.Kind)
		}
		return col + " IN (" + strings.Join(vals, ", ") + ")"
	case models.OpBetween:
		// Half-open: [from, to)
		return col + " >= " + r.literal(p.Values[0], p.Kind) + " AND " + col + " < " + r.literal(p.Values[1], p.Kind)
	default:
		return col + " " + string(p.Op) + " " + r.literal(p.Values[0], p.Kind)
	}
}

func (r *sqlRenderer) aggregate(a *models.Aggregate) string {
	if a.Column == nil {
		return string(a.Func) + "(*)"
	}
	return string(a.Func) + "(" + r.column(*a.Column) + ")"
}

// aggregateAlias names the aggregate output column, e.g. "count" or
// "sum_quantity".
func aggregateAlias(a *models.Aggregate) string {
	if a.Column == nil {
		return strings.ToLower(string(a.Func))
	}
	return strings.ToLower(string(a.Func)) + "_" + a.Column.Column
}

// render produces the SELECT for a plan. limit > 0 adds an explicit cap
// asked for by the question ("top 10"); the safety validator may still
// lower it.
func (r *sqlRenderer) render(plan *models.QueryPlan, snapshot *models.CatalogSnapshot, orderBy *orderSpec, limit int) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if limit > 0 && r.dialect == models.DialectMSSQL {
		fmt.Fprintf(&sb, "TOP (%d) ", limit)
	}

	var cols []string
	for _, g := range plan.GroupBy {
		cols = append(cols, r.column(g))
	}
	if plan.Aggregate != nil {
		cols = append(cols, r.aggregate(plan.Aggregate)+" AS "+r.quoteIdent(aggregateAlias(plan.Aggregate)))
	} else {
		for _, p := range plan.Projection {
			cols = append(cols, r.column(p))
		}
	}
	sb.WriteString(strings.Join(cols, ", "))

	primary, _ := snapshot.Table(plan.Tables[0])
	sb.WriteString(" FROM ")
	sb.WriteString(r.quoteTable(primary))
	sb.WriteString(" AS ")
	sb.WriteString(r.aliases[plan.Tables[0]])

	for _, e := range plan.JoinPath {
		to, _ := snapshot.Table(e.To)
		conds := make([]string, len(e.Columns))
		for i, c := range e.Columns {
			conds[i] = r.aliases[e.From] + "." + r.quoteIdent(c.From) + " = " + r.aliases[e.To] + "." + r.quoteIdent(c.To)
		}
		fmt.Fprintf(&sb, " JOIN %s AS %s ON %s", r.quoteTable(to), r.aliases[e.To], strings.Join(conds, " AND "))
	}

	if len(plan.Predicates) > 0 {
		conds := make([]string, len(plan.Predicates))
		for i, p := range plan.Predicates {
			conds[i] = r.predicate(p)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	if len(plan.GroupBy) > 0 {
		groups := make([]string, len(plan.GroupBy))
		for i, g := range plan.GroupBy {
			groups[i] = r.column(g)
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(groups, ", "))
	}

	if orderBy != nil {
		sb.WriteString(" ORDER BY ")
		if orderBy.aggregate && plan.Aggregate != nil {
			sb.WriteString(r.aggregate(plan.Aggregate))
		} else {
			sb.WriteString(r.column(orderBy.column))
		}
		if orderBy.desc {
			sb.WriteString(" DESC")
		}
	}

	if limit > 0 && r.dialect != models.DialectMSSQL {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String()
}

// orderSpec is an ORDER BY on a column or on the plan's aggregate.
type orderSpec struct {
	column    models.ColumnRef
	aggregate bool
	desc      bool
}
