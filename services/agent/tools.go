package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"fraudchat/models"
	"fraudchat/services/chart"
	"fraudchat/services/dataset"
	"fraudchat/services/query"

	"github.com/invopop/jsonschema"
	"github.com/samber/lo"
)

// ToolOutput is what a tool hands back to the orchestrator.
type ToolOutput struct {
	Content string
	ChartID string
	IsError bool
}

// AgentTool interface that all tools must implement
type AgentTool interface {
	Name() string
	Description() string
	Call(ctx context.Context, session *Session, input string) (ToolOutput, error)
	InputSchema() *jsonschema.Schema
}

func generateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Registry is the single source of the tool catalog. The specs advertised to
// the reasoning service and the argument checks in Dispatch come from the same
// reflected schemas.
type Registry struct {
	tools   []AgentTool
	byName  map[string]AgentTool
	schemas map[string]*jsonschema.Schema
	specs   []ToolSpec
}

func NewRegistry(tools ...AgentTool) *Registry {
	r := &Registry{
		byName:  make(map[string]AgentTool, len(tools)),
		schemas: make(map[string]*jsonschema.Schema, len(tools)),
	}
	for _, tool := range tools {
		schema := tool.InputSchema()
		r.tools = append(r.tools, tool)
		r.byName[tool.Name()] = tool
		r.schemas[tool.Name()] = schema
		r.specs = append(r.specs, ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      schema,
		})
	}
	return r
}

func (r *Registry) Specs() []ToolSpec {
	return r.specs
}

func (r *Registry) Names() []string {
	return lo.Map(r.tools, func(t AgentTool, _ int) string { return t.Name() })
}

// Has reports whether name is in the catalog.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Dispatch runs one tool call. It never fails: unknown tools, missing arguments
// and tool errors all come back as an error result for the reasoning service.
func (r *Registry) Dispatch(ctx context.Context, session *Session, call models.ToolCall) models.ToolResult {
	result := models.ToolResult{ToolCallID: call.ID, Name: call.Name}

	tool, ok := r.byName[call.Name]
	if !ok {
		log.Printf("[WARN] Tool not recognized: %s", call.Name)
		result.Content = fmt.Sprintf("tool not recognized: %s (available tools: %s)", call.Name, strings.Join(r.Names(), ", "))
		result.IsError = true
		return result
	}

	if missing := missingArguments(r.schemas[call.Name], call.Arguments); len(missing) > 0 {
		result.Content = fmt.Sprintf("Error: missing required argument(s) for %s: %s", call.Name, strings.Join(missing, ", "))
		result.IsError = true
		return result
	}

	arguments := call.Arguments
	if arguments == nil {
		arguments = map[string]any{}
	}
	inputJSON, err := json.Marshal(arguments)
	if err != nil {
		result.Content = fmt.Sprintf("Error: failed to encode arguments: %v", err)
		result.IsError = true
		return result
	}

	log.Printf("[INFO] Executing tool: %s with arguments: %s", call.Name, inputJSON)

	output, err := tool.Call(ctx, session, string(inputJSON))
	if err != nil {
		log.Printf("[ERROR] Tool execution failed: %v", err)
		result.Content = fmt.Sprintf("Error: %v", err)
		result.IsError = true
		return result
	}

	log.Printf("[INFO] Tool execution result: %d bytes", len(output.Content))

	result.Content = output.Content
	result.ChartID = output.ChartID
	result.IsError = output.IsError
	return result
}

func missingArguments(schema *jsonschema.Schema, arguments map[string]any) []string {
	return lo.Filter(schema.Required, func(name string, _ int) bool {
		v, ok := arguments[name]
		return !ok || v == nil
	})
}

type LoadDataToolInput struct {
	URL string `json:"url" jsonschema:"description=HTTP(S) URL or file path of a CSV with the credit card schema. Compressed files (.gz .zip .bz2 .zst) are accepted."`
}

type LoadDataTool struct {
	provider *dataset.Provider
}

func NewLoadDataTool(provider *dataset.Provider) LoadDataTool {
	return LoadDataTool{provider: provider}
}

func (l LoadDataTool) Name() string {
	return "load_data"
}

func (l LoadDataTool) Description() string {
	return "Loads a CSV file from a URL and replaces the table used by query, chart and summarize. Use it only when the user gives a new file location."
}

func (l LoadDataTool) InputSchema() *jsonschema.Schema {
	return generateSchema[LoadDataToolInput]()
}

func (l LoadDataTool) Call(ctx context.Context, session *Session, input string) (ToolOutput, error) {
	var params LoadDataToolInput
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return ToolOutput{}, fmt.Errorf("failed to parse load data tool input: %v", err)
	}

	table, err := l.provider.LoadFrom(ctx, params.URL)
	if err != nil {
		return ToolOutput{}, err
	}

	session.SetTable(table)

	counts := table.ClassCounts()
	return ToolOutput{Content: fmt.Sprintf(
		"Loaded %d rows x %d columns from %s. Class counts: %d normal, %d fraud. The new table is now bound to df.",
		table.Rows(), len(table.Columns()), table.Origin(), counts[0], counts[1],
	)}, nil
}

type QueryToolInput struct {
	Code string `json:"code" jsonschema:"description=A single expression over the table df such as df.Col(\"Amount\").Mean()"`
}

type QueryTool struct {
	executor *query.Executor
}

func NewQueryTool(executor *query.Executor) QueryTool {
	return QueryTool{executor: executor}
}

func (q QueryTool) Name() string {
	return "query"
}

func (q QueryTool) Description() string {
	return "Evaluates an expression against the loaded table (bound to df) and returns the result as text. Tables and series are rendered as fixed-width text."
}

func (q QueryTool) InputSchema() *jsonschema.Schema {
	return generateSchema[QueryToolInput]()
}

func (q QueryTool) Call(ctx context.Context, session *Session, input string) (ToolOutput, error) {
	var params QueryToolInput
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return ToolOutput{}, fmt.Errorf("failed to parse query tool input: %v", err)
	}

	out := q.executor.Execute(session.Table(), params.Code)
	return ToolOutput{Content: out, IsError: strings.HasPrefix(out, "Execution error")}, nil
}

type ChartToolInput struct {
	Kind    string   `json:"kind" jsonschema:"enum=histogram,enum=box,enum=scatter,enum=bar,enum=pie,enum=line,enum=area,description=Chart kind"`
	Columns []string `json:"columns" jsonschema:"description=Columns to plot. histogram and box take one column; scatter line and area take two (x then y); bar and pie take exactly [\"Class\"]"`
	Title   string   `json:"title" jsonschema:"description=Chart title"`
}

type ChartTool struct {
	renderer *chart.Renderer
}

func NewChartTool(renderer *chart.Renderer) ChartTool {
	return ChartTool{renderer: renderer}
}

func (c ChartTool) Name() string {
	return "chart"
}

func (c ChartTool) Description() string {
	return "Renders a chart of the loaded table as a PNG image that is shown to the user. Returns a confirmation, not the image."
}

func (c ChartTool) InputSchema() *jsonschema.Schema {
	return generateSchema[ChartToolInput]()
}

func (c ChartTool) Call(ctx context.Context, session *Session, input string) (ToolOutput, error) {
	var params ChartToolInput
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return ToolOutput{}, fmt.Errorf("failed to parse chart tool input: %v", err)
	}

	img, err := c.renderer.Render(session.Table(), params.Kind, params.Columns, params.Title)
	if err != nil {
		return ToolOutput{}, err
	}

	id := session.StoreChart(img)
	return ToolOutput{
		Content: fmt.Sprintf("Chart rendered: %s of %s (chart_id=%s, %d bytes). It is displayed to the user.", img.Kind, strings.Join(params.Columns, ", "), id, len(img.PNG)),
		ChartID: id,
	}, nil
}

type SummarizeToolInput struct{}

type SummarizeTool struct{}

func (s SummarizeTool) Name() string {
	return "summarize"
}

func (s SummarizeTool) Description() string {
	return "Summarizes the loaded table: source, size, class balance and the Amount and Time ranges."
}

func (s SummarizeTool) InputSchema() *jsonschema.Schema {
	return generateSchema[SummarizeToolInput]()
}

func (s SummarizeTool) Call(ctx context.Context, session *Session, input string) (ToolOutput, error) {
	table := session.Table()
	if table == nil {
		return ToolOutput{}, fmt.Errorf("no table loaded")
	}
	return ToolOutput{Content: Summarize(table)}, nil
}

// Summarize describes table in a few lines of plain text.
func Summarize(table *dataset.Table) string {
	counts := table.ClassCounts()
	rows := table.Rows()
	amount := table.Col(dataset.ColumnAmount)
	tm := table.Col(dataset.ColumnTime)

	var b strings.Builder
	source := table.Origin()
	if table.IsDemo() {
		source += " (synthetic demonstration data)"
	}
	fmt.Fprintf(&b, "Source: %s\n", source)
	fmt.Fprintf(&b, "Size: %d rows x %d columns\n", rows, len(table.Columns()))
	fmt.Fprintf(&b, "Class: %d normal, %d fraud (fraud rate %.4f%%)\n", counts[0], counts[1], 100*float64(counts[1])/float64(rows))
	fmt.Fprintf(&b, "Amount: mean %.2f, median %.2f, min %.2f, max %.2f\n", amount.Mean(), amount.Median(), amount.Min(), amount.Max())
	fmt.Fprintf(&b, "Time: %.0f to %.0f\n", tm.Min(), tm.Max())
	fmt.Fprintf(&b, "Features: V1..V%d (anonymized)", dataset.FeatureColumns)
	return b.String()
}
