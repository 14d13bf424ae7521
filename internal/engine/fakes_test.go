package engine

import (
	"context"
	"fmt"
	"sync"

	"sheetpilot/engine/internal/host"
	"sheetpilot/engine/internal/llm"
)

// fakeHost answers every spreadsheet operation with a canned
// confirmation and records the call order for assertions.
type fakeHost struct {
	mu          sync.Mutex
	calls       []string
	activeSheet string
	selection   host.Selection
	sheetNames  []string
	cellValue   any
	failOps     map[string]error
	embedErr    error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		activeSheet: "Sheet1",
		selection:   host.Selection{Address: "B2:C4", RowCount: 3, ColumnCount: 2},
		sheetNames:  []string{"Sheet1", "Budget"},
		cellValue:   "42",
		failOps:     make(map[string]error),
	}
}

func (f *fakeHost) record(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
	return f.failOps[op]
}

func (f *fakeHost) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeHost) ActiveSheetName(ctx context.Context) (string, error) {
	if err := f.record("ActiveSheetName"); err != nil {
		return "", err
	}
	return f.activeSheet, nil
}

func (f *fakeHost) Selection(ctx context.Context) (host.Selection, error) {
	if err := f.record("Selection"); err != nil {
		return host.Selection{}, err
	}
	return f.selection, nil
}

func (f *fakeHost) SheetNames(ctx context.Context) ([]string, error) {
	if err := f.record("SheetNames"); err != nil {
		return nil, err
	}
	return f.sheetNames, nil
}

func (f *fakeHost) WriteRange(ctx context.Context, sheet, rng string, values [][]any) (string, error) {
	if err := f.record("WriteRange"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d rows to %s", len(values), rng), nil
}

func (f *fakeHost) WriteSelectedRange(ctx context.Context, values [][]any) (string, error) {
	if err := f.record("WriteSelectedRange"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d rows to the selection", len(values)), nil
}

func (f *fakeHost) ReadCell(ctx context.Context, sheet, cell string) (host.RangeData, error) {
	if err := f.record("ReadCell"); err != nil {
		return host.RangeData{}, err
	}
	return host.RangeData{Address: cell, Values: [][]any{{f.cellValue}}}, nil
}

func (f *fakeHost) ReadRange(ctx context.Context, sheet, rng string) (host.RangeData, error) {
	if err := f.record("ReadRange"); err != nil {
		return host.RangeData{}, err
	}
	return host.RangeData{Address: rng, Values: [][]any{{"a", "b"}}}, nil
}

func (f *fakeHost) AnalyzeSelection(ctx context.Context) (host.RangeData, error) {
	if err := f.record("AnalyzeSelection"); err != nil {
		return host.RangeData{}, err
	}
	return host.RangeData{Address: f.selection.Address, Values: [][]any{{1, 2}}}, nil
}

func (f *fakeHost) FormatCell(ctx context.Context, opts host.FormatOptions) (string, error) {
	if err := f.record("FormatCell"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Formatted %s", opts.Cell), nil
}

func (f *fakeHost) AddChart(ctx context.Context, opts host.ChartOptions) (string, error) {
	if err := f.record("AddChart"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added %s chart over %s", opts.ChartType, opts.DataRange), nil
}

func (f *fakeHost) AddPivotTable(ctx context.Context, opts host.PivotOptions) (string, error) {
	if err := f.record("AddPivotTable"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added pivot table at %s", opts.TargetCell), nil
}

func (f *fakeHost) ManageWorksheet(ctx context.Context, action, name string) (string, error) {
	if err := f.record("ManageWorksheet"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Worksheet %q: %s done", name, action), nil
}

func (f *fakeHost) FilterData(ctx context.Context, opts host.FilterOptions) (string, error) {
	if err := f.record("FilterData"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Filtered %s", opts.Range), nil
}

func (f *fakeHost) SortData(ctx context.Context, sheet, rng string, fields []host.SortField) (string, error) {
	if err := f.record("SortData"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Sorted %s on %d fields", rng, len(fields)), nil
}

func (f *fakeHost) MergeCells(ctx context.Context, sheet, rng string) (string, error) {
	if err := f.record("MergeCells"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Merged %s", rng), nil
}

func (f *fakeHost) UnmergeCells(ctx context.Context, sheet, rng string) (string, error) {
	if err := f.record("UnmergeCells"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Unmerged %s", rng), nil
}

func (f *fakeHost) AutofitColumns(ctx context.Context, sheet, rng string) (string, error) {
	if err := f.record("AutofitColumns"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Autofit columns in %s", rng), nil
}

func (f *fakeHost) AutofitRows(ctx context.Context, sheet, rng string) (string, error) {
	if err := f.record("AutofitRows"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Autofit rows in %s", rng), nil
}

func (f *fakeHost) ApplyConditionalFormat(ctx context.Context, opts host.ConditionalFormatOptions) (string, error) {
	if err := f.record("ApplyConditionalFormat"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Applied %s format to %s", opts.FormatType, opts.Range), nil
}

func (f *fakeHost) ClearConditionalFormats(ctx context.Context, sheet, rng string) (string, error) {
	if err := f.record("ClearConditionalFormats"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Cleared conditional formats in %s", rng), nil
}

func (f *fakeHost) IndexSheet(ctx context.Context, sheet string) error {
	if err := f.record("IndexSheet"); err != nil {
		return err
	}
	return f.embedErr
}

type llmExchange struct {
	model    string
	messages []llm.ChatMessage
	tools    []llm.Tool
}

// fakeLLM plays back a script of responses, one per round trip, and
// records every exchange it saw.
type fakeLLM struct {
	mu          sync.Mutex
	script      []llm.ChatResponse
	errs        []error
	exchanges   []llmExchange
	validateErr error
}

func (f *fakeLLM) ValidateKey(ctx context.Context) error {
	return f.validateErr
}

func (f *fakeLLM) ChatWithTools(ctx context.Context, model string, messages []llm.ChatMessage, tools []llm.Tool) (llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]llm.ChatMessage, len(messages))
	copy(copied, messages)
	f.exchanges = append(f.exchanges, llmExchange{model: model, messages: copied, tools: tools})
	idx := len(f.exchanges) - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return llm.ChatResponse{}, f.errs[idx]
	}
	if idx < len(f.script) {
		return f.script[idx], nil
	}
	return llm.ChatResponse{Content: "Done."}, nil
}

func (f *fakeLLM) rounds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exchanges)
}

func (f *fakeLLM) exchange(i int) llmExchange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges[i]
}
