package engine

import (
	"context"
	"strings"
	"testing"

	"sheetpilot/engine/internal/host"
	"sheetpilot/engine/internal/llm"
)

func newTestRegistry(t *testing.T) (*ToolRegistry, *fakeHost) {
	t.Helper()
	fh := newFakeHost()
	registry, err := NewToolRegistry(fh)
	if err != nil {
		t.Fatalf("NewToolRegistry: %v", err)
	}
	return registry, fh
}

func TestRegistryCoversWholeCatalog(t *testing.T) {
	registry, _ := newTestRegistry(t)
	tools := registry.Tools(host.Selection{})
	if len(tools) != len(SheetTools) {
		t.Fatalf("catalog = %d tools, want %d", len(tools), len(SheetTools))
	}
	for i, tool := range tools {
		if tool.Name != SheetTools[i].Name {
			t.Fatalf("catalog order changed at %d: %s vs %s", i, tool.Name, SheetTools[i].Name)
		}
		if len(tool.Parameters) == 0 {
			t.Errorf("tool %s has no parameter schema", tool.Name)
		}
	}
}

func TestRegistryParameterizesSelectedRange(t *testing.T) {
	registry, _ := newTestRegistry(t)
	tools := registry.Tools(host.Selection{Address: "D2:F10", RowCount: 9, ColumnCount: 3})
	var desc string
	for _, tool := range tools {
		if tool.Name == "write_selected_range" {
			desc = tool.Description
		}
	}
	if !strings.Contains(desc, "D2:F10") || !strings.Contains(desc, "9 rows x 3 columns") {
		t.Fatalf("description not parameterized: %q", desc)
	}

	// An empty selection still yields a usable descriptor.
	tools = registry.Tools(host.Selection{})
	for _, tool := range tools {
		if tool.Name == "write_selected_range" && !strings.Contains(tool.Description, "A1") {
			t.Fatalf("empty selection descriptor: %q", tool.Description)
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	registry, fh := newTestRegistry(t)
	got := registry.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "format_hard_drive", Arguments: "{}"})
	if want := `The action "format_hard_drive" is not supported.`; got != want {
		t.Fatalf("result = %q, want %q", got, want)
	}
	if len(fh.calls) != 0 {
		t.Errorf("unknown tool reached the host")
	}
}

func TestExecuteMissingRequiredField(t *testing.T) {
	registry, fh := newTestRegistry(t)
	got := registry.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "write_range", Arguments: `{"values":[[1]]}`})
	if want := `Error: missing required field "range"`; got != want {
		t.Fatalf("result = %q, want %q", got, want)
	}
	if fh.callCount("WriteRange") != 0 {
		t.Errorf("invalid call reached the host")
	}
}

func TestExecuteEmptyArgumentsTreatedAsEmptyObject(t *testing.T) {
	registry, fh := newTestRegistry(t)
	got := registry.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "list_worksheet_names", Arguments: ""})
	if want := "Worksheets: Sheet1, Budget"; got != want {
		t.Fatalf("result = %q, want %q", got, want)
	}
	if fh.callCount("SheetNames") != 1 {
		t.Errorf("host not called")
	}
}

func TestExecuteInvalidEnum(t *testing.T) {
	registry, _ := newTestRegistry(t)
	got := registry.Execute(context.Background(), llm.ToolCall{
		ID:        "c1",
		Name:      "add_chart",
		Arguments: `{"dataRange":"A1:B5","chartType":"hologram"}`,
	})
	if !strings.HasPrefix(got, "Error: invalid chartType") {
		t.Fatalf("result = %q", got)
	}
}

func TestExecuteHostFailureBecomesResultText(t *testing.T) {
	registry, fh := newTestRegistry(t)
	fh.failOps["SortData"] = &host.Error{Op: "SortData", Detail: "range is protected"}
	got := registry.Execute(context.Background(), llm.ToolCall{
		ID:        "c1",
		Name:      "sort_data",
		Arguments: `{"range":"A1:C9","sortFields":[{"key":0,"ascending":true}]}`,
	})
	if want := "Error: SortData failed: range is protected"; got != want {
		t.Fatalf("result = %q, want %q", got, want)
	}
}

func TestExecuteReadCellFormatsValue(t *testing.T) {
	registry, _ := newTestRegistry(t)
	got := registry.Execute(context.Background(), llm.ToolCall{
		ID:        "c1",
		Name:      "read_cell",
		Arguments: `{"sheet":"Budget","cellAddress":"A1"}`,
	})
	if want := `The value in cell A1 is "42"`; got != want {
		t.Fatalf("result = %q, want %q", got, want)
	}
}

func TestExecuteManageWorksheetValidatesAction(t *testing.T) {
	registry, _ := newTestRegistry(t)
	got := registry.Execute(context.Background(), llm.ToolCall{
		ID:        "c1",
		Name:      "manage_worksheet",
		Arguments: `{"action":"rename","name":"Q3"}`,
	})
	if !strings.HasPrefix(got, "Error: invalid action") {
		t.Fatalf("result = %q", got)
	}

	got = registry.Execute(context.Background(), llm.ToolCall{
		ID:        "c2",
		Name:      "manage_worksheet",
		Arguments: `{"action":"create","name":"Q3"}`,
	})
	if want := `Worksheet "Q3": create done`; got != want {
		t.Fatalf("result = %q, want %q", got, want)
	}
}
