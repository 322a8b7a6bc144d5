package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// ToolParam describes one string argument of a tool.
type ToolParam struct {
	Name        string
	Description string
	Required    bool
	Enum        []string
}

// ToolDefinition describes a tool as exposed to an upstream agent.
type ToolDefinition struct {
	Name        string // Tool name as exposed via MCP (e.g., "run_query")
	Description string
	Params      []ToolParam
	ReadOnly    bool // true when the tool never touches the operational database
}

// ToolPlan is a decoded tool call, ready to validate and execute.
type ToolPlan struct {
	Tool     string
	Question string
	Hint     models.Category
	SQL      string
	Category models.Category
}

// QueryTool is the fixed contract every agent-facing tool implements.
// Plan decodes arguments without side effects, Validate checks them, and
// Execute does the work.
type QueryTool interface {
	Definition() ToolDefinition
	Plan(ctx context.Context, args map[string]any) (*ToolPlan, error)
	Validate(ctx context.Context, plan *ToolPlan) error
	Execute(ctx context.Context, plan *ToolPlan) (any, error)
}

var categoryEnum = func() []string {
	out := make([]string, len(models.AllCategories))
	for i, c := range models.AllCategories {
		out[i] = string(c)
	}
	return out
}()

var (
	questionParam = ToolParam{Name: "question", Description: "The question in plain language, for example \"pending orders for customer Acme\"", Required: true}
	hintParam     = ToolParam{Name: "hint", Description: "Optional business category to focus on", Enum: categoryEnum}
)

// ToolDefinitions is the static list of tools, in registration order.
var ToolDefinitions = []ToolDefinition{
	{Name: "run_query", Description: "Answer a warehouse question by generating, validating and running read-only SQL", Params: []ToolParam{questionParam, hintParam}},
	{Name: "plan_query", Description: "Show the SQL and plan a question would run, without executing it", Params: []ToolParam{questionParam, hintParam}, ReadOnly: true},
	{Name: "validate_sql", Description: "Check SQL against the read-only safety rules and report performance findings", Params: []ToolParam{{Name: "sql", Description: "A single SELECT statement", Required: true}}, ReadOnly: true},
	{Name: "list_tables", Description: "List catalog tables with their business category", Params: []ToolParam{{Name: "category", Description: "Only list tables of this category", Enum: categoryEnum}}, ReadOnly: true},
	{Name: "refresh_catalog", Description: "Rebuild the schema catalog from the database"},
	{Name: "health", Description: "Report catalog version and execution load", ReadOnly: true},
}

func definition(name string) ToolDefinition {
	for _, d := range ToolDefinitions {
		if d.Name == name {
			return d
		}
	}
	panic(fmt.Sprintf("no tool definition named %q", name))
}

// ToolRegistry binds the static tool list to a QueryService.
type ToolRegistry struct {
	tools []QueryTool
	index map[string]QueryTool
}

// NewToolRegistry creates the registry of every tool in ToolDefinitions.
func NewToolRegistry(svc *QueryService) *ToolRegistry {
	tools := []QueryTool{
		&runQueryTool{svc: svc},
		&planQueryTool{svc: svc},
		&validateSQLTool{svc: svc},
		&listTablesTool{svc: svc},
		&refreshCatalogTool{svc: svc},
		&healthTool{svc: svc},
	}
	r := &ToolRegistry{tools: tools, index: make(map[string]QueryTool, len(tools))}
	for _, t := range tools {
		r.index[t.Definition().Name] = t
	}
	return r
}

// Tools returns the tools in registration order.
func (r *ToolRegistry) Tools() []QueryTool { return r.tools }

// Lookup finds a tool by name.
func (r *ToolRegistry) Lookup(name string) (QueryTool, bool) {
	t, ok := r.index[name]
	return t, ok
}

// Invoke runs Plan, Validate and Execute for the named tool. Execute may
// return a result together with an error; callers should report both.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return nil, &apperrors.InvalidArgumentError{Param: "name", Reason: fmt.Sprintf("unknown tool %q", name)}
	}
	plan, err := tool.Plan(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := tool.Validate(ctx, plan); err != nil {
		return nil, err
	}
	return tool.Execute(ctx, plan)
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &apperrors.InvalidArgumentError{Param: name, Reason: fmt.Sprintf("must be a string, got %T", v)}
	}
	return strings.TrimSpace(s), nil
}

func categoryArg(args map[string]any, name string) (models.Category, error) {
	s, err := stringArg(args, name)
	if err != nil || s == "" {
		return "", err
	}
	c, ok := models.ParseCategory(s)
	if !ok {
		return "", &apperrors.InvalidArgumentError{Param: name, Reason: fmt.Sprintf("unknown category %q", s)}
	}
	return c, nil
}

func requireArg(param, value string) error {
	if value == "" {
		return &apperrors.InvalidArgumentError{Param: param, Reason: "cannot be empty"}
	}
	return nil
}

func decodeQuestion(tool string, args map[string]any) (*ToolPlan, error) {
	question, err := stringArg(args, "question")
	if err != nil {
		return nil, err
	}
	hint, err := categoryArg(args, "hint")
	if err != nil {
		return nil, err
	}
	return &ToolPlan{Tool: tool, Question: question, Hint: hint}, nil
}

type runQueryTool struct{ svc *QueryService }

func (t *runQueryTool) Definition() ToolDefinition { return definition("run_query") }

func (t *runQueryTool) Plan(ctx context.Context, args map[string]any) (*ToolPlan, error) {
	return decodeQuestion("run_query", args)
}

func (t *runQueryTool) Validate(ctx context.Context, plan *ToolPlan) error {
	return requireArg("question", plan.Question)
}

func (t *runQueryTool) Execute(ctx context.Context, plan *ToolPlan) (any, error) {
	return t.svc.RunQuery(ctx, QueryRequest{Text: plan.Question, Hint: plan.Hint})
}

type planQueryTool struct{ svc *QueryService }

func (t *planQueryTool) Definition() ToolDefinition { return definition("plan_query") }

func (t *planQueryTool) Plan(ctx context.Context, args map[string]any) (*ToolPlan, error) {
	return decodeQuestion("plan_query", args)
}

func (t *planQueryTool) Validate(ctx context.Context, plan *ToolPlan) error {
	return requireArg("question", plan.Question)
}

func (t *planQueryTool) Execute(ctx context.Context, plan *ToolPlan) (any, error) {
	return t.svc.Plan(ctx, QueryRequest{Text: plan.Question, Hint: plan.Hint})
}

type validateSQLTool struct{ svc *QueryService }

func (t *validateSQLTool) Definition() ToolDefinition { return definition("validate_sql") }

func (t *validateSQLTool) Plan(ctx context.Context, args map[string]any) (*ToolPlan, error) {
	sqlQuery, err := stringArg(args, "sql")
	if err != nil {
		return nil, err
	}
	return &ToolPlan{Tool: "validate_sql", SQL: sqlQuery}, nil
}

func (t *validateSQLTool) Validate(ctx context.Context, plan *ToolPlan) error {
	return requireArg("sql", plan.SQL)
}

func (t *validateSQLTool) Execute(ctx context.Context, plan *ToolPlan) (any, error) {
	return t.svc.ValidateSQL(ctx, plan.SQL)
}

// TableList is the list_tables result.
type TableList struct {
	SnapshotVersion int64          `json:"snapshot_version"`
	Tables          []TableSummary `json:"tables"`
}

type listTablesTool struct{ svc *QueryService }

func (t *listTablesTool) Definition() ToolDefinition { return definition("list_tables") }

func (t *listTablesTool) Plan(ctx context.Context, args map[string]any) (*ToolPlan, error) {
	c, err := categoryArg(args, "category")
	if err != nil {
		return nil, err
	}
	return &ToolPlan{Tool: "list_tables", Category: c}, nil
}

func (t *listTablesTool) Validate(ctx context.Context, plan *ToolPlan) error { return nil }

func (t *listTablesTool) Execute(ctx context.Context, plan *ToolPlan) (any, error) {
	version, tables, err := t.svc.ListTables(plan.Category)
	if err != nil {
		return nil, err
	}
	return &TableList{SnapshotVersion: version, Tables: tables}, nil
}

// CatalogRefresh is the refresh_catalog result.
type CatalogRefresh struct {
	SnapshotVersion int64 `json:"snapshot_version"`
}

type refreshCatalogTool struct{ svc *QueryService }

func (t *refreshCatalogTool) Definition() ToolDefinition { return definition("refresh_catalog") }

func (t *refreshCatalogTool) Plan(ctx context.Context, args map[string]any) (*ToolPlan, error) {
	return &ToolPlan{Tool: "refresh_catalog"}, nil
}

func (t *refreshCatalogTool) Validate(ctx context.Context, plan *ToolPlan) error { return nil }

func (t *refreshCatalogTool) Execute(ctx context.Context, plan *ToolPlan) (any, error) {
	version, err := t.svc.RefreshCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return &CatalogRefresh{SnapshotVersion: version}, nil
}

type healthTool struct{ svc *QueryService }

func (t *healthTool) Definition() ToolDefinition { return definition("health") }

func (t *healthTool) Plan(ctx context.Context, args map[string]any) (*ToolPlan, error) {
	return &ToolPlan{Tool: "health"}, nil
}

func (t *healthTool) Validate(ctx context.Context, plan *ToolPlan) error { return nil }

func (t *healthTool) Execute(ctx context.Context, plan *ToolPlan) (any, error) {
	report := t.svc.Health()
	return &report, nil
}
