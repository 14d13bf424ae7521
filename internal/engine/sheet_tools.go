package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sheetpilot/engine/internal/host"
	"sheetpilot/engine/internal/llm"
)

// selectedRangeDescription is instantiated per request with the live
// selection address and dimensions, since writing to "the selected
// range" depends on what is selected right now.
const selectedRangeDescription = "Write values into the currently selected range (%s, %d rows x %d columns). The values array must match the selection dimensions."

// SheetTools is the fixed capability catalog exposed to the model on
// every turn. Names are unique; duplicate names are rejected when the
// registry is built.
var SheetTools = []llm.Tool{
	{
		Name:        "write_range",
		Description: "Write a 2D array of values into a cell range. Values are written row by row starting at the top-left cell of the range.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"range": {"type": "string", "description": "Target range like A1:C3"},
				"values": {
					"type": "array",
					"description": "Rows of cell values",
					"items": {"type": "array", "items": {}}
				}
			},
			"required": ["range", "values"]
		}`),
	},
	{
		Name:        "read_cell",
		Description: "Read the value of a single cell.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"cellAddress": {"type": "string", "description": "Cell address like A1"}
			},
			"required": ["cellAddress"]
		}`),
	},
	{
		Name:        "format_cell",
		Description: "Apply formatting to a cell: bold, italic, font color, fill color, or a number format. Only the provided attributes are changed.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"cell": {"type": "string", "description": "Cell address like B2"},
				"bold": {"type": "boolean"},
				"italic": {"type": "boolean"},
				"fontColor": {"type": "string", "description": "Hex color like #FF0000"},
				"fillColor": {"type": "string", "description": "Hex color like #FFFF00"},
				"numberFormat": {"type": "string", "description": "Number format string like 0.00%"}
			},
			"required": ["cell"]
		}`),
	},
	{
		Name:        "add_chart",
		Description: "Insert a chart over a data range.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"dataRange": {"type": "string", "description": "Source data range like A1:B10"},
				"chartType": {"type": "string", "enum": ["column", "bar", "line", "pie", "scatter", "area"]},
				"title": {"type": "string", "description": "Chart title"}
			},
			"required": ["dataRange", "chartType"]
		}`),
	},
	{
		Name:        "analyze_selection",
		Description: "Read the values and dimensions of the currently selected range for analysis.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
	},
	{
		Name:        "write_selected_range",
		Description: fmt.Sprintf(selectedRangeDescription, "A1", 1, 1),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"values": {
					"type": "array",
					"description": "Rows of cell values matching the selection dimensions",
					"items": {"type": "array", "items": {}}
				}
			},
			"required": ["values"]
		}`),
	},
	{
		Name:        "read_range",
		Description: "Read all values in a cell range.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"range": {"type": "string", "description": "Range like A1:D20"}
			},
			"required": ["range"]
		}`),
	},
	{
		Name:        "add_pivot_table",
		Description: "Create a pivot table from a source range.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet to place the pivot table on; defaults to the active sheet"},
				"sourceRange": {"type": "string", "description": "Source data range including headers"},
				"targetCell": {"type": "string", "description": "Top-left cell for the pivot table"},
				"rowFields": {"type": "array", "items": {"type": "string"}, "description": "Column headers used as row groupings"},
				"dataField": {"type": "string", "description": "Column header to aggregate"},
				"aggregation": {"type": "string", "enum": ["sum", "count", "average", "max", "min"]}
			},
			"required": ["sourceRange", "targetCell", "rowFields", "dataField", "aggregation"]
		}`),
	},
	{
		Name:        "manage_worksheet",
		Description: "Create or delete a worksheet.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["create", "delete"]},
				"name": {"type": "string", "description": "Worksheet name"}
			},
			"required": ["action", "name"]
		}`),
	},
	{
		Name:        "filter_data",
		Description: "Apply a filter to one column of a range.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"range": {"type": "string", "description": "Range to filter, including headers"},
				"column": {"type": "integer", "description": "Zero-based column offset within the range"},
				"filterType": {"type": "string", "enum": ["equals", "not_equals", "contains", "greater_than", "less_than"]},
				"criterion": {"type": "string", "description": "Comparison value"}
			},
			"required": ["range", "column", "filterType", "criterion"]
		}`),
	},
	{
		Name:        "sort_data",
		Description: "Sort a range by one or more columns.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"range": {"type": "string", "description": "Range to sort like A1:C10"},
				"sortFields": {
					"type": "array",
					"description": "Sort keys in priority order",
					"items": {
						"type": "object",
						"properties": {
							"key": {"type": "integer", "description": "Zero-based column offset within the range"},
							"ascending": {"type": "boolean"}
						},
						"required": ["key", "ascending"]
					}
				}
			},
			"required": ["range", "sortFields"]
		}`),
	},
	{
		Name:        "merge_cells",
		Description: "Merge a cell range into one cell.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"range": {"type": "string", "description": "Range to merge like A1:B2"}
			},
			"required": ["range"]
		}`),
	},
	{
		Name:        "unmerge_cells",
		Description: "Split a previously merged range back into individual cells.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"range": {"type": "string", "description": "Merged range like A1:B2"}
			},
			"required": ["range"]
		}`),
	},
	{
		Name:        "autofit_columns",
		Description: "Resize columns in a range to fit their content.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"range": {"type": "string", "description": "Range whose columns are resized"}
			},
			"required": ["range"]
		}`),
	},
	{
		Name:        "autofit_rows",
		Description: "Resize rows in a range to fit their content.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"range": {"type": "string", "description": "Range whose rows are resized"}
			},
			"required": ["range"]
		}`),
	},
	{
		Name:        "apply_conditional_format",
		Description: "Apply a conditional format rule to a range.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"range": {"type": "string", "description": "Range to format"},
				"formatType": {"type": "string", "enum": ["cell_value", "color_scale", "data_bar", "icon_set"]},
				"rule": {"type": "string", "description": "Comparison rule for cell_value, like greater_than"},
				"value": {"type": "string", "description": "Comparison value for cell_value rules"},
				"fillColor": {"type": "string", "description": "Hex fill color for matching cells"}
			},
			"required": ["range", "formatType"]
		}`),
	},
	{
		Name:        "clear_conditional_formats",
		Description: "Remove all conditional format rules from a range.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sheet": {"type": "string", "description": "Worksheet name; defaults to the active sheet"},
				"range": {"type": "string", "description": "Range to clear"}
			},
			"required": ["range"]
		}`),
	},
	{
		Name:        "list_worksheet_names",
		Description: "List the names of all worksheets in the workbook.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
	},
	{
		Name:        "get_active_worksheet_name",
		Description: "Get the name of the currently active worksheet.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
	},
}

type toolFunc func(ctx context.Context, raw json.RawMessage) (string, error)

type toolEntry struct {
	tool llm.Tool
	run  toolFunc
}

// ToolRegistry is the closed mapping from capability name to schema and
// handler. Built once at startup; duplicate names are a configuration
// error, not a runtime failure.
type ToolRegistry struct {
	order   []string
	entries map[string]toolEntry
	host    host.Host
}

func NewToolRegistry(h host.Host) (*ToolRegistry, error) {
	r := &ToolRegistry{
		entries: make(map[string]toolEntry, len(SheetTools)),
		host:    h,
	}
	handlers := map[string]toolFunc{
		"write_range":               r.writeRange,
		"read_cell":                 r.readCell,
		"format_cell":               r.formatCell,
		"add_chart":                 r.addChart,
		"analyze_selection":         r.analyzeSelection,
		"write_selected_range":      r.writeSelectedRange,
		"read_range":                r.readRange,
		"add_pivot_table":           r.addPivotTable,
		"manage_worksheet":          r.manageWorksheet,
		"filter_data":               r.filterData,
		"sort_data":                 r.sortData,
		"merge_cells":               r.mergeCells,
		"unmerge_cells":             r.unmergeCells,
		"autofit_columns":           r.autofitColumns,
		"autofit_rows":              r.autofitRows,
		"apply_conditional_format":  r.applyConditionalFormat,
		"clear_conditional_formats": r.clearConditionalFormats,
		"list_worksheet_names":      r.listWorksheetNames,
		"get_active_worksheet_name": r.getActiveWorksheetName,
	}
	for _, tool := range SheetTools {
		if _, exists := r.entries[tool.Name]; exists {
			return nil, fmt.Errorf("duplicate tool name: %s", tool.Name)
		}
		run, ok := handlers[tool.Name]
		if !ok {
			return nil, fmt.Errorf("tool %s has no handler", tool.Name)
		}
		r.entries[tool.Name] = toolEntry{tool: tool, run: run}
		r.order = append(r.order, tool.Name)
	}
	return r, nil
}

// Tools returns the full catalog in stable order, with the selected-range
// descriptor parameterized to the current selection.
func (r *ToolRegistry) Tools(sel host.Selection) []llm.Tool {
	tools := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		tool := r.entries[name].tool
		if name == "write_selected_range" {
			address := sel.Address
			if address == "" {
				address = "A1"
			}
			rows, cols := sel.RowCount, sel.ColumnCount
			if rows < 1 {
				rows = 1
			}
			if cols < 1 {
				cols = 1
			}
			tool.Description = fmt.Sprintf(selectedRangeDescription, address, rows, cols)
		}
		tools = append(tools, tool)
	}
	return tools
}

// Execute runs one proposed invocation and always yields exactly one
// result string. Unknown names and handler failures become tool feedback
// for the model; they never abort the batch.
func (r *ToolRegistry) Execute(ctx context.Context, call llm.ToolCall) string {
	entry, ok := r.entries[call.Name]
	if !ok {
		return fmt.Sprintf("The action %q is not supported.", call.Name)
	}
	result, err := entry.run(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		return fmt.Sprintf("Error: %s", err.Error())
	}
	return result
}

func parseArgs(raw json.RawMessage, out any) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		trimmed = "{}"
	}
	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return fmt.Errorf("invalid arguments: %s", err.Error())
	}
	return nil
}

func missingField(name string) error {
	return fmt.Errorf("missing required field %q", name)
}

func invalidEnum(field, value string, allowed []string) error {
	return fmt.Errorf("invalid %s %q (expected one of %s)", field, value, strings.Join(allowed, ", "))
}

func (r *ToolRegistry) writeRange(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Sheet  string  `json:"sheet"`
		Range  string  `json:"range"`
		Values [][]any `json:"values"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Range == "" {
		return "", missingField("range")
	}
	if len(args.Values) == 0 {
		return "", missingField("values")
	}
	return r.host.WriteRange(ctx, args.Sheet, args.Range, args.Values)
}

func (r *ToolRegistry) readCell(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Sheet       string `json:"sheet"`
		CellAddress string `json:"cellAddress"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.CellAddress == "" {
		return "", missingField("cellAddress")
	}
	data, err := r.host.ReadCell(ctx, args.Sheet, args.CellAddress)
	if err != nil {
		return "", err
	}
	var value any
	if len(data.Values) > 0 && len(data.Values[0]) > 0 {
		value = data.Values[0][0]
	}
	address := data.Address
	if address == "" {
		address = args.CellAddress
	}
	return fmt.Sprintf("The value in cell %s is %q", address, fmt.Sprint(value)), nil
}

func (r *ToolRegistry) formatCell(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Sheet        string `json:"sheet"`
		Cell         string `json:"cell"`
		Bold         *bool  `json:"bold"`
		Italic       *bool  `json:"italic"`
		FontColor    string `json:"fontColor"`
		FillColor    string `json:"fillColor"`
		NumberFormat string `json:"numberFormat"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Cell == "" {
		return "", missingField("cell")
	}
	return r.host.FormatCell(ctx, host.FormatOptions{
		Sheet:     args.Sheet,
		Cell:      args.Cell,
		Bold:      args.Bold,
		Italic:    args.Italic,
		FontColor: args.FontColor,
		FillColor: args.FillColor,
		NumberFmt: args.NumberFormat,
	})
}

var chartTypes = []string{"column", "bar", "line", "pie", "scatter", "area"}

func (r *ToolRegistry) addChart(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Sheet     string `json:"sheet"`
		DataRange string `json:"dataRange"`
		ChartType string `json:"chartType"`
		Title     string `json:"title"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.DataRange == "" {
		return "", missingField("dataRange")
	}
	if !contains(chartTypes, args.ChartType) {
		return "", invalidEnum("chartType", args.ChartType, chartTypes)
	}
	return r.host.AddChart(ctx, host.ChartOptions{
		Sheet:     args.Sheet,
		DataRange: args.DataRange,
		ChartType: args.ChartType,
		Title:     args.Title,
	})
}

// analyzeSelection and readRange wrap their own failures into the result
// string so a host hiccup on a read never surfaces as a handler error.
func (r *ToolRegistry) analyzeSelection(ctx context.Context, raw json.RawMessage) (string, error) {
	data, err := r.host.AnalyzeSelection(ctx)
	if err != nil {
		return fmt.Sprintf("Unable to analyze the current selection: %s", err.Error()), nil
	}
	return describeRange(data), nil
}

func (r *ToolRegistry) writeSelectedRange(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Values [][]any `json:"values"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if len(args.Values) == 0 {
		return "", missingField("values")
	}
	return r.host.WriteSelectedRange(ctx, args.Values)
}

func (r *ToolRegistry) readRange(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Sheet string `json:"sheet"`
		Range string `json:"range"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Range == "" {
		return "", missingField("range")
	}
	data, err := r.host.ReadRange(ctx, args.Sheet, args.Range)
	if err != nil {
		return fmt.Sprintf("Unable to read range %s: %s", args.Range, err.Error()), nil
	}
	return describeRange(data), nil
}

var aggregations = []string{"sum", "count", "average", "max", "min"}

func (r *ToolRegistry) addPivotTable(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Sheet       string   `json:"sheet"`
		SourceRange string   `json:"sourceRange"`
		TargetCell  string   `json:"targetCell"`
		RowFields   []string `json:"rowFields"`
		DataField   string   `json:"dataField"`
		Aggregation string   `json:"aggregation"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.SourceRange == "" {
		return "", missingField("sourceRange")
	}
	if args.TargetCell == "" {
		return "", missingField("targetCell")
	}
	if len(args.RowFields) == 0 {
		return "", missingField("rowFields")
	}
	if args.DataField == "" {
		return "", missingField("dataField")
	}
	if !contains(aggregations, args.Aggregation) {
		return "", invalidEnum("aggregation", args.Aggregation, aggregations)
	}
	return r.host.AddPivotTable(ctx, host.PivotOptions{
		Sheet:       args.Sheet,
		SourceRange: args.SourceRange,
		TargetCell:  args.TargetCell,
		RowFields:   args.RowFields,
		DataField:   args.DataField,
		Aggregation: args.Aggregation,
	})
}

var worksheetActions = []string{"create", "delete"}

func (r *ToolRegistry) manageWorksheet(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Action string `json:"action"`
		Name   string `json:"name"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if !contains(worksheetActions, args.Action) {
		return "", invalidEnum("action", args.Action, worksheetActions)
	}
	if args.Name == "" {
		return "", missingField("name")
	}
	return r.host.ManageWorksheet(ctx, args.Action, args.Name)
}

var filterTypes = []string{"equals", "not_equals", "contains", "greater_than", "less_than"}

func (r *ToolRegistry) filterData(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Sheet      string `json:"sheet"`
		Range      string `json:"range"`
		Column     *int   `json:"column"`
		FilterType string `json:"filterType"`
		Criterion  string `json:"criterion"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Range == "" {
		return "", missingField("range")
	}
	if args.Column == nil {
		return "", missingField("column")
	}
	if !contains(filterTypes, args.FilterType) {
		return "", invalidEnum("filterType", args.FilterType, filterTypes)
	}
	if args.Criterion == "" {
		return "", missingField("criterion")
	}
	return r.host.FilterData(ctx, host.FilterOptions{
		Sheet:      args.Sheet,
		Range:      args.Range,
		Column:     *args.Column,
		FilterType: args.FilterType,
		Criterion:  args.Criterion,
	})
}

func (r *ToolRegistry) sortData(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Sheet      string           `json:"sheet"`
		Range      string           `json:"range"`
		SortFields []host.SortField `json:"sortFields"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Range == "" {
		return "", missingField("range")
	}
	if len(args.SortFields) == 0 {
		return "", missingField("sortFields")
	}
	return r.host.SortData(ctx, args.Sheet, args.Range, args.SortFields)
}

type rangeArgs struct {
	Sheet string `json:"sheet"`
	Range string `json:"range"`
}

func parseRangeArgs(raw json.RawMessage) (rangeArgs, error) {
	var args rangeArgs
	if err := parseArgs(raw, &args); err != nil {
		return args, err
	}
	if args.Range == "" {
		return args, missingField("range")
	}
	return args, nil
}

func (r *ToolRegistry) mergeCells(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := parseRangeArgs(raw)
	if err != nil {
		return "", err
	}
	return r.host.MergeCells(ctx, args.Sheet, args.Range)
}

func (r *ToolRegistry) unmergeCells(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := parseRangeArgs(raw)
	if err != nil {
		return "", err
	}
	return r.host.UnmergeCells(ctx, args.Sheet, args.Range)
}

func (r *ToolRegistry) autofitColumns(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := parseRangeArgs(raw)
	if err != nil {
		return "", err
	}
	return r.host.AutofitColumns(ctx, args.Sheet, args.Range)
}

func (r *ToolRegistry) autofitRows(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := parseRangeArgs(raw)
	if err != nil {
		return "", err
	}
	return r.host.AutofitRows(ctx, args.Sheet, args.Range)
}

var conditionalFormatTypes = []string{"cell_value", "color_scale", "data_bar", "icon_set"}

func (r *ToolRegistry) applyConditionalFormat(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Sheet      string `json:"sheet"`
		Range      string `json:"range"`
		FormatType string `json:"formatType"`
		Rule       string `json:"rule"`
		Value      string `json:"value"`
		FillColor  string `json:"fillColor"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Range == "" {
		return "", missingField("range")
	}
	if !contains(conditionalFormatTypes, args.FormatType) {
		return "", invalidEnum("formatType", args.FormatType, conditionalFormatTypes)
	}
	return r.host.ApplyConditionalFormat(ctx, host.ConditionalFormatOptions{
		Sheet:      args.Sheet,
		Range:      args.Range,
		FormatType: args.FormatType,
		Rule:       args.Rule,
		Value:      args.Value,
		FillColor:  args.FillColor,
	})
}

func (r *ToolRegistry) clearConditionalFormats(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := parseRangeArgs(raw)
	if err != nil {
		return "", err
	}
	return r.host.ClearConditionalFormats(ctx, args.Sheet, args.Range)
}

func (r *ToolRegistry) listWorksheetNames(ctx context.Context, raw json.RawMessage) (string, error) {
	names, err := r.host.SheetNames(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "The workbook has no worksheets.", nil
	}
	return fmt.Sprintf("Worksheets: %s", strings.Join(names, ", ")), nil
}

func (r *ToolRegistry) getActiveWorksheetName(ctx context.Context, raw json.RawMessage) (string, error) {
	name, err := r.host.ActiveSheetName(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("The active worksheet is %q", name), nil
}

func describeRange(data host.RangeData) string {
	encoded, err := json.Marshal(data.Values)
	if err != nil {
		return fmt.Sprintf("Range %s read, but its values could not be encoded.", data.Address)
	}
	return fmt.Sprintf("Range %s values: %s", data.Address, encoded)
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
