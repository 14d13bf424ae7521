package engine

import (
	"context"
	"encoding/json"
	"strings"

	"sheetpilot/engine/internal/errinfo"
	"sheetpilot/engine/internal/rpc"
	"sheetpilot/engine/internal/settings"
)

// RegisterRPC wires the engine's request surface onto the stdio server.
// The spreadsheet host is the only peer.
func (e *Engine) RegisterRPC(server *rpc.Server) {
	server.Register("Chat.Send", e.rpcChatSend)
	server.Register("Chat.Transcript", e.rpcChatTranscript)
	server.Register("Settings.Get", e.rpcSettingsGet)
	server.Register("Settings.Update", e.rpcSettingsUpdate)
	server.Register("Secrets.SetAPIKey", e.rpcSecretsSetAPIKey)
	server.Register("Secrets.ClearAPIKey", e.rpcSecretsClearAPIKey)
	server.Register("Secrets.Status", e.rpcSecretsStatus)
	server.Register("Models.List", e.rpcModelsList)
	server.Register("Host.ActiveSheetChanged", e.rpcActiveSheetChanged)
}

func rpcError(info *errinfo.ErrorInfo) *rpc.Error {
	return &rpc.Error{Message: info.ErrorCode, Data: info}
}

func (e *Engine) rpcChatSend(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
	var req ChatRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, rpcError(errinfo.ValidationFailed("chat", "invalid Chat.Send params: "+err.Error()))
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, rpcError(errinfo.ValidationFailed("chat", "text must not be empty"))
	}
	return e.HandleChat(ctx, req), nil
}

func (e *Engine) rpcChatTranscript(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
	return map[string]any{"turns": e.Transcript()}, nil
}

type settingsView struct {
	DefaultModelID string                               `json:"default_model_id"`
	Providers      map[string]settings.ProviderSettings `json:"providers"`
}

func (e *Engine) rpcSettingsGet(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
	loaded, err := e.settings.Load()
	if err != nil {
		return nil, rpcError(errinfo.ValidationFailed("settings", err.Error()))
	}
	return settingsView{DefaultModelID: loaded.DefaultModelID, Providers: loaded.Providers}, nil
}

type settingsUpdateParams struct {
	DefaultModelID *string                               `json:"default_model_id,omitempty"`
	Providers      map[string]*settings.ProviderSettings `json:"providers,omitempty"`
}

func (e *Engine) rpcSettingsUpdate(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
	var upd settingsUpdateParams
	if err := json.Unmarshal(params, &upd); err != nil {
		return nil, rpcError(errinfo.ValidationFailed("settings", "invalid Settings.Update params: "+err.Error()))
	}
	if upd.DefaultModelID != nil {
		if _, ok := getModel(*upd.DefaultModelID); !ok {
			return nil, rpcError(errinfo.UnknownModel(*upd.DefaultModelID))
		}
	}
	for providerID := range upd.Providers {
		if providerID != ProviderOpenAI && providerID != ProviderAnthropic {
			return nil, rpcError(errinfo.ValidationFailed("settings", "unknown provider: "+providerID))
		}
	}
	updated, err := e.settings.Update(func(s *settings.Settings) {
		if upd.DefaultModelID != nil {
			s.DefaultModelID = *upd.DefaultModelID
		}
		for providerID, ps := range upd.Providers {
			if ps != nil {
				s.Providers[providerID] = *ps
			}
		}
	})
	if err != nil {
		return nil, rpcError(errinfo.ValidationFailed("settings", err.Error()))
	}
	e.logger.Info("settings.updated", "default_model_id", updated.DefaultModelID)
	return settingsView{DefaultModelID: updated.DefaultModelID, Providers: updated.Providers}, nil
}

type setAPIKeyParams struct {
	ProviderID string `json:"provider_id"`
	APIKey     string `json:"api_key"`
}

// rpcSecretsSetAPIKey validates the key against the provider before
// persisting it; a stored key is a key that worked at least once. The
// cached client for the provider is dropped so the next chat round is
// built on the new credential.
func (e *Engine) rpcSecretsSetAPIKey(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
	var p setAPIKeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcError(errinfo.ValidationFailed("settings", "invalid Secrets.SetAPIKey params: "+err.Error()))
	}
	if p.ProviderID != ProviderOpenAI && p.ProviderID != ProviderAnthropic {
		return nil, rpcError(errinfo.ValidationFailed("settings", "unknown provider: "+p.ProviderID))
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, rpcError(errinfo.ValidationFailed("settings", "api_key must not be empty"))
	}
	probe := e.newClient(p.ProviderID, p.APIKey)
	if err := probe.ValidateKey(ctx); err != nil {
		e.logger.Warn("secrets.key_rejected", "provider_id", p.ProviderID, "error", err.Error())
		return nil, rpcError(mapLLMError("settings", p.ProviderID, err))
	}
	if err := e.secrets.SetProviderKey(p.ProviderID, p.APIKey); err != nil {
		return nil, rpcError(errinfo.ValidationFailed("settings", err.Error()))
	}
	e.dropClient(p.ProviderID)
	e.logger.Info("secrets.key_set", "provider_id", p.ProviderID)
	return map[string]any{"provider_id": p.ProviderID, "valid": true}, nil
}

type clearAPIKeyParams struct {
	ProviderID string `json:"provider_id"`
}

func (e *Engine) rpcSecretsClearAPIKey(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
	var p clearAPIKeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcError(errinfo.ValidationFailed("settings", "invalid Secrets.ClearAPIKey params: "+err.Error()))
	}
	if p.ProviderID != ProviderOpenAI && p.ProviderID != ProviderAnthropic {
		return nil, rpcError(errinfo.ValidationFailed("settings", "unknown provider: "+p.ProviderID))
	}
	if err := e.secrets.ClearProviderKey(p.ProviderID); err != nil {
		return nil, rpcError(errinfo.ValidationFailed("settings", err.Error()))
	}
	e.dropClient(p.ProviderID)
	e.logger.Info("secrets.key_cleared", "provider_id", p.ProviderID)
	return map[string]any{"provider_id": p.ProviderID}, nil
}

func (e *Engine) rpcSecretsStatus(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
	status := make(map[string]bool, 2)
	for _, providerID := range []string{ProviderOpenAI, ProviderAnthropic} {
		key, err := e.secrets.ProviderKey(providerID)
		status[providerID] = err == nil && key != ""
	}
	return map[string]any{"configured": status}, nil
}

func (e *Engine) rpcModelsList(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
	loaded, err := e.settings.Load()
	if err != nil {
		return nil, rpcError(errinfo.ValidationFailed("settings", err.Error()))
	}
	return map[string]any{
		"models":           listModels(),
		"default_model_id": loaded.DefaultModelID,
	}, nil
}

type activeSheetChangedParams struct {
	Name string `json:"name"`
}

// rpcActiveSheetChanged records the host's view change. The chat loop
// still reads the active sheet fresh per round; this keeps a fallback
// for when that read fails.
func (e *Engine) rpcActiveSheetChanged(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
	var p activeSheetChangedParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcError(errinfo.ValidationFailed("host", "invalid Host.ActiveSheetChanged params: "+err.Error()))
	}
	e.setActiveSheet(p.Name)
	e.logger.Info("host.active_sheet_changed", "name", p.Name)
	return map[string]any{"ok": true}, nil
}
