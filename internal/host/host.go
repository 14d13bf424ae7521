// Package host defines the spreadsheet-side collaborator interface the
// engine drives. The concrete implementation lives on the other end of
// the RPC pipe; the engine only sees short text confirmations, read
// payloads, and typed failures.
package host

import (
	"context"
	"fmt"
)

// Error is a host-API failure for one operation. The tool layer converts
// it to result text; it never aborts a batch.
type Error struct {
	Op     string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Op + " failed"
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Detail)
}

// Selection describes the currently selected range.
type Selection struct {
	Address     string `json:"address"`
	RowCount    int    `json:"row_count"`
	ColumnCount int    `json:"column_count"`
}

// RangeData is the payload returned by read-style operations.
type RangeData struct {
	Address string  `json:"address"`
	Values  [][]any `json:"values"`
}

// SortField selects one column of the sorted range, by zero-based offset.
type SortField struct {
	Key       int  `json:"key"`
	Ascending bool `json:"ascending"`
}

// FormatOptions carries cell formatting attributes; empty fields are
// left untouched by the host.
type FormatOptions struct {
	Sheet     string `json:"sheet,omitempty"`
	Cell      string `json:"cell"`
	Bold      *bool  `json:"bold,omitempty"`
	Italic    *bool  `json:"italic,omitempty"`
	FontColor string `json:"font_color,omitempty"`
	FillColor string `json:"fill_color,omitempty"`
	NumberFmt string `json:"number_format,omitempty"`
}

type ChartOptions struct {
	Sheet     string `json:"sheet,omitempty"`
	DataRange string `json:"data_range"`
	ChartType string `json:"chart_type"`
	Title     string `json:"title,omitempty"`
}

type PivotOptions struct {
	Sheet       string   `json:"sheet,omitempty"`
	SourceRange string   `json:"source_range"`
	TargetCell  string   `json:"target_cell"`
	RowFields   []string `json:"row_fields"`
	DataField   string   `json:"data_field"`
	Aggregation string   `json:"aggregation"`
}

type FilterOptions struct {
	Sheet      string `json:"sheet,omitempty"`
	Range      string `json:"range"`
	Column     int    `json:"column"`
	FilterType string `json:"filter_type"`
	Criterion  string `json:"criterion"`
}

type ConditionalFormatOptions struct {
	Sheet      string `json:"sheet,omitempty"`
	Range      string `json:"range"`
	FormatType string `json:"format_type"`
	Rule       string `json:"rule,omitempty"`
	Value      string `json:"value,omitempty"`
	FillColor  string `json:"fill_color,omitempty"`
}

// Host is the per-operation surface of the spreadsheet application.
// Every method maps one capability to one host round trip. Write-style
// methods return a short confirmation; failures are *Error values.
type Host interface {
	ActiveSheetName(ctx context.Context) (string, error)
	Selection(ctx context.Context) (Selection, error)
	SheetNames(ctx context.Context) ([]string, error)

	WriteRange(ctx context.Context, sheet, rng string, values [][]any) (string, error)
	WriteSelectedRange(ctx context.Context, values [][]any) (string, error)
	ReadCell(ctx context.Context, sheet, cell string) (RangeData, error)
	ReadRange(ctx context.Context, sheet, rng string) (RangeData, error)
	AnalyzeSelection(ctx context.Context) (RangeData, error)
	FormatCell(ctx context.Context, opts FormatOptions) (string, error)
	AddChart(ctx context.Context, opts ChartOptions) (string, error)
	AddPivotTable(ctx context.Context, opts PivotOptions) (string, error)
	ManageWorksheet(ctx context.Context, action, name string) (string, error)
	FilterData(ctx context.Context, opts FilterOptions) (string, error)
	SortData(ctx context.Context, sheet, rng string, fields []SortField) (string, error)
	MergeCells(ctx context.Context, sheet, rng string) (string, error)
	UnmergeCells(ctx context.Context, sheet, rng string) (string, error)
	AutofitColumns(ctx context.Context, sheet, rng string) (string, error)
	AutofitRows(ctx context.Context, sheet, rng string) (string, error)
	ApplyConditionalFormat(ctx context.Context, opts ConditionalFormatOptions) (string, error)
	ClearConditionalFormats(ctx context.Context, sheet, rng string) (string, error)
}

// Embedder indexes sheet content for semantic context. Best-effort: the
// engine reports failures but never blocks a turn on them.
type Embedder interface {
	IndexSheet(ctx context.Context, sheet string) error
}
