// Package hostbridge implements the host interface over the engine's
// RPC connection: every spreadsheet operation becomes one request to the
// host application on the other end of the stdio pipe.
package hostbridge

import (
	"context"
	"encoding/json"

	"sheetpilot/engine/internal/host"
	"sheetpilot/engine/internal/rpc"
)

type Bridge struct {
	server *rpc.Server
}

func New(server *rpc.Server) *Bridge {
	return &Bridge{server: server}
}

var _ host.Host = (*Bridge)(nil)
var _ host.Embedder = (*Bridge)(nil)

func (b *Bridge) call(ctx context.Context, method string, params any, out any) error {
	raw, err := b.server.Call(ctx, method, params)
	if err != nil {
		return &host.Error{Op: method, Detail: err.Error()}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &host.Error{Op: method, Detail: "bad response payload: " + err.Error()}
	}
	return nil
}

// callText decodes the host's {"message": "..."} confirmation shape.
func (b *Bridge) callText(ctx context.Context, method string, params any) (string, error) {
	var result struct {
		Message string `json:"message"`
	}
	if err := b.call(ctx, method, params, &result); err != nil {
		return "", err
	}
	return result.Message, nil
}

func (b *Bridge) ActiveSheetName(ctx context.Context) (string, error) {
	var result struct {
		Name string `json:"name"`
	}
	if err := b.call(ctx, "Sheet.ActiveSheetName", nil, &result); err != nil {
		return "", err
	}
	return result.Name, nil
}

func (b *Bridge) Selection(ctx context.Context) (host.Selection, error) {
	var result host.Selection
	err := b.call(ctx, "Sheet.Selection", nil, &result)
	return result, err
}

func (b *Bridge) SheetNames(ctx context.Context) ([]string, error) {
	var result struct {
		Names []string `json:"names"`
	}
	if err := b.call(ctx, "Sheet.SheetNames", nil, &result); err != nil {
		return nil, err
	}
	return result.Names, nil
}

func (b *Bridge) WriteRange(ctx context.Context, sheet, rng string, values [][]any) (string, error) {
	return b.callText(ctx, "Sheet.WriteRange", map[string]any{
		"sheet": sheet, "range": rng, "values": values,
	})
}

func (b *Bridge) WriteSelectedRange(ctx context.Context, values [][]any) (string, error) {
	return b.callText(ctx, "Sheet.WriteSelectedRange", map[string]any{"values": values})
}

func (b *Bridge) ReadCell(ctx context.Context, sheet, cell string) (host.RangeData, error) {
	var result host.RangeData
	err := b.call(ctx, "Sheet.ReadCell", map[string]any{"sheet": sheet, "cell": cell}, &result)
	return result, err
}

func (b *Bridge) ReadRange(ctx context.Context, sheet, rng string) (host.RangeData, error) {
	var result host.RangeData
	err := b.call(ctx, "Sheet.ReadRange", map[string]any{"sheet": sheet, "range": rng}, &result)
	return result, err
}

func (b *Bridge) AnalyzeSelection(ctx context.Context) (host.RangeData, error) {
	var result host.RangeData
	err := b.call(ctx, "Sheet.AnalyzeSelection", nil, &result)
	return result, err
}

func (b *Bridge) FormatCell(ctx context.Context, opts host.FormatOptions) (string, error) {
	return b.callText(ctx, "Sheet.FormatCell", opts)
}

func (b *Bridge) AddChart(ctx context.Context, opts host.ChartOptions) (string, error) {
	return b.callText(ctx, "Sheet.AddChart", opts)
}

func (b *Bridge) AddPivotTable(ctx context.Context, opts host.PivotOptions) (string, error) {
	return b.callText(ctx, "Sheet.AddPivotTable", opts)
}

func (b *Bridge) ManageWorksheet(ctx context.Context, action, name string) (string, error) {
	return b.callText(ctx, "Sheet.ManageWorksheet", map[string]any{"action": action, "name": name})
}

func (b *Bridge) FilterData(ctx context.Context, opts host.FilterOptions) (string, error) {
	return b.callText(ctx, "Sheet.FilterData", opts)
}

func (b *Bridge) SortData(ctx context.Context, sheet, rng string, fields []host.SortField) (string, error) {
	return b.callText(ctx, "Sheet.SortData", map[string]any{
		"sheet": sheet, "range": rng, "sort_fields": fields,
	})
}

func (b *Bridge) MergeCells(ctx context.Context, sheet, rng string) (string, error) {
	return b.callText(ctx, "Sheet.MergeCells", map[string]any{"sheet": sheet, "range": rng})
}

func (b *Bridge) UnmergeCells(ctx context.Context, sheet, rng string) (string, error) {
	return b.callText(ctx, "Sheet.UnmergeCells", map[string]any{"sheet": sheet, "range": rng})
}

func (b *Bridge) AutofitColumns(ctx context.Context, sheet, rng string) (string, error) {
	return b.callText(ctx, "Sheet.AutofitColumns", map[string]any{"sheet": sheet, "range": rng})
}

func (b *Bridge) AutofitRows(ctx context.Context, sheet, rng string) (string, error) {
	return b.callText(ctx, "Sheet.AutofitRows", map[string]any{"sheet": sheet, "range": rng})
}

func (b *Bridge) ApplyConditionalFormat(ctx context.Context, opts host.ConditionalFormatOptions) (string, error) {
	return b.callText(ctx, "Sheet.ApplyConditionalFormat", opts)
}

func (b *Bridge) ClearConditionalFormats(ctx context.Context, sheet, rng string) (string, error) {
	return b.callText(ctx, "Sheet.ClearConditionalFormats", map[string]any{"sheet": sheet, "range": rng})
}

func (b *Bridge) IndexSheet(ctx context.Context, sheet string) error {
	return b.call(ctx, "Embeddings.IndexSheet", map[string]any{"sheet": sheet}, nil)
}
