package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sheetpilot/engine/internal/anthropic"
	"sheetpilot/engine/internal/appdirs"
	"sheetpilot/engine/internal/host"
	"sheetpilot/engine/internal/llm"
	"sheetpilot/engine/internal/logging"
	"sheetpilot/engine/internal/openai"
	"sheetpilot/engine/internal/secrets"
	"sheetpilot/engine/internal/settings"
)

const (
	EngineVersion = "0.1.0"
	APIVersion    = "1"
)

const systemInstructionTemplate = "You are a spreadsheet assistant. You can read, write, format, and analyze spreadsheet data using the provided tools. " +
	"The currently active worksheet is %q. When the user does not name a sheet, operate on the active one. " +
	"Keep answers short and concrete, and confirm what was changed."

// Notifier delivers engine-initiated notifications to the host UI.
type Notifier func(method string, params any)

// LLMClient is the gateway contract: one round trip that yields either
// direct text or a batch of proposed tool calls, never both.
type LLMClient interface {
	ValidateKey(ctx context.Context) error
	ChatWithTools(ctx context.Context, model string, messages []llm.ChatMessage, tools []llm.Tool) (llm.ChatResponse, error)
}

// clientFactory builds a provider client bound to one API key. The
// engine owns the clients and rebuilds them when credentials change.
type clientFactory func(providerID, apiKey string) LLMClient

func defaultClientFactory(providerID, apiKey string) LLMClient {
	switch providerID {
	case ProviderAnthropic:
		return anthropic.NewClient(apiKey)
	default:
		return openai.NewClient(apiKey)
	}
}

type Engine struct {
	dataDir  string
	settings *settings.Store
	secrets  *secrets.Store
	logger   *slog.Logger
	notify   Notifier

	host     host.Host
	embedder host.Embedder
	registry *ToolRegistry
	conv     *Conversation

	newClient clientFactory

	mu          sync.Mutex
	clients     map[string]LLMClient
	activeSheet string

	// turnMu serializes user turns: one conversation, one in-flight turn.
	turnMu sync.Mutex
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithDataDir(dir string) Option {
	return func(e *Engine) { e.dataDir = dir }
}

func WithHost(h host.Host) Option {
	return func(e *Engine) { e.host = h }
}

func WithEmbedder(em host.Embedder) Option {
	return func(e *Engine) { e.embedder = em }
}

func WithClientFactory(factory clientFactory) Option {
	return func(e *Engine) { e.newClient = factory }
}

func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:    logging.Nop(),
		newClient: defaultClientFactory,
		clients:   make(map[string]LLMClient),
		conv:      NewConversation(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.host == nil {
		return nil, errors.New("engine requires a spreadsheet host")
	}
	if e.dataDir == "" {
		dir, err := appdirs.DataDir()
		if err != nil {
			return nil, err
		}
		e.dataDir = dir
	}
	e.settings = settings.NewStore(filepath.Join(e.dataDir, "settings.json"))
	e.secrets = secrets.NewStore(filepath.Join(e.dataDir, "secrets.enc"), filepath.Join(e.dataDir, "master.key"))

	registry, err := NewToolRegistry(e.host)
	if err != nil {
		return nil, err
	}
	e.registry = registry
	return e, nil
}

func (e *Engine) SetNotifier(notify Notifier) {
	e.notify = notify
}

// client returns the provider client for the given key, building it on
// first use. Rebuilt explicitly via dropClient when the credential
// changes; there is no process-wide singleton.
func (e *Engine) client(providerID, apiKey string) LLMClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[providerID]; ok {
		return c
	}
	c := e.newClient(providerID, apiKey)
	e.clients[providerID] = c
	return c
}

func (e *Engine) dropClient(providerID string) {
	e.mu.Lock()
	delete(e.clients, providerID)
	e.mu.Unlock()
}

func (e *Engine) setActiveSheet(name string) {
	e.mu.Lock()
	e.activeSheet = name
	e.mu.Unlock()
}

func (e *Engine) lastActiveSheet() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeSheet
}

// currentSheet reads the active sheet fresh from the host; the host user
// may have switched sheets since the last turn. Falls back to the last
// value delivered by an active-view notification.
func (e *Engine) currentSheet(ctx context.Context) string {
	name, err := e.host.ActiveSheetName(ctx)
	if err != nil {
		e.logger.Warn("chat.active_sheet_read_failed", "error", err.Error())
		return e.lastActiveSheet()
	}
	e.setActiveSheet(name)
	return name
}

type ChatRequest struct {
	Text          string   `json:"text"`
	ContextSheets []string `json:"context_sheets,omitempty"`
	WholeWorkbook bool     `json:"whole_workbook,omitempty"`
}

type ChatResult struct {
	Reply string `json:"reply"`
	Turns []Turn `json:"turns"`
}

// HandleChat drives one user turn through the two-round protocol:
// round 1 proposes, tools execute concurrently, round 2 synthesizes.
// Gateway failures are turn-scoped: they become assistant turns and the
// next user message starts clean.
func (e *Engine) HandleChat(ctx context.Context, req ChatRequest) ChatResult {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	turnStart := time.Now()
	sheet := e.currentSheet(ctx)

	userContent := req.Text
	if sheet != "" {
		userContent = fmt.Sprintf("[Active sheet: %s] %s", sheet, req.Text)
	}
	e.conv.Append(Turn{Role: llm.RoleUser, Content: userContent})

	model, ok := getModel(e.defaultModelID())
	if !ok {
		return e.failTurn("The configured model is not recognized. Please pick a model in settings.")
	}

	apiKey, err := e.secrets.ProviderKey(model.ProviderID)
	if err != nil {
		e.logger.Error("chat.secrets_read_failed", "error", err.Error())
		return e.failTurn(missingCredentialText)
	}
	if strings.TrimSpace(apiKey) == "" {
		e.logger.Info("chat.missing_credential", "provider_id", model.ProviderID)
		return e.failTurn(missingCredentialText)
	}

	e.primeContext(ctx, req)

	client := e.client(model.ProviderID, apiKey)
	tools := e.registry.Tools(e.currentSelection(ctx))
	system := fmt.Sprintf(systemInstructionTemplate, sheet)

	e.logger.Info("chat.round1_start", "model_id", model.ModelID, "turns", e.conv.Len())
	resp, err := client.ChatWithTools(ctx, model.Model, e.conv.Messages(system), tools)
	if err != nil {
		e.logger.Warn("chat.round1_failed", "provider_id", model.ProviderID, "error", err.Error())
		return e.failTurn(gatewayFailureText(model.ProviderID, err))
	}
	e.logger.Info("chat.round1_done", "tool_call_count", len(resp.ToolCalls), "content_length", len(resp.Content))

	if len(resp.ToolCalls) == 0 {
		reply := strings.TrimSpace(resp.Content)
		turn := e.conv.Append(Turn{Role: llm.RoleAssistant, Content: reply})
		e.notifyAssistant(turn)
		e.logger.Info("chat.turn_done", "rounds", 1, "elapsed_ms", time.Since(turnStart).Milliseconds())
		return ChatResult{Reply: reply, Turns: e.conv.Snapshot()}
	}

	// The proposing assistant turn goes into the transcript ahead of the
	// tool results it caused.
	e.conv.Append(Turn{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

	results := e.executeBatch(ctx, resp.ToolCalls)
	for i, call := range resp.ToolCalls {
		e.conv.Append(Turn{
			Role:          llm.RoleTool,
			Content:       results[i],
			CorrelationID: call.ID,
		})
	}

	// The instruction is recomputed: the active sheet may have changed
	// while tools were executing (e.g. manage_worksheet).
	system = fmt.Sprintf(systemInstructionTemplate, e.currentSheet(ctx))

	e.logger.Info("chat.round2_start", "turns", e.conv.Len())
	final, err := client.ChatWithTools(ctx, model.Model, e.conv.Messages(system), tools)
	if err != nil {
		e.logger.Warn("chat.round2_failed", "provider_id", model.ProviderID, "error", err.Error())
		return e.failTurn(gatewayFailureText(model.ProviderID, err))
	}

	// A second batch of proposals is not executed; the protocol is two
	// rounds per user turn. Fall back to a summary so completed side
	// effects are never silent.
	reply := strings.TrimSpace(final.Content)
	if reply == "" {
		reply = summarizeBatch(resp.ToolCalls, results)
	}
	turn := e.conv.Append(Turn{Role: llm.RoleAssistant, Content: reply})
	e.notifyAssistant(turn)
	e.logger.Info("chat.turn_done", "rounds", 2, "tool_call_count", len(resp.ToolCalls),
		"elapsed_ms", time.Since(turnStart).Milliseconds())
	return ChatResult{Reply: reply, Turns: e.conv.Snapshot()}
}

// executeBatch fans the proposed invocations out concurrently and
// collects results positionally. Each task's failure is captured as
// result text by the registry; one bad call never aborts its siblings.
func (e *Engine) executeBatch(ctx context.Context, calls []llm.ToolCall) []string {
	results := make([]string, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			if e.notify != nil {
				e.notify("ChatToolExecuting", map[string]any{
					"tool_name":    call.Name,
					"tool_call_id": call.ID,
				})
			}
			start := time.Now()
			result := e.registry.Execute(ctx, call)
			results[i] = result
			success := !strings.HasPrefix(result, "Error:")
			e.logger.Info("chat.tool_complete", "tool", call.Name, "success", success,
				"elapsed_ms", time.Since(start).Milliseconds(), "result_bytes", len(result))
			if e.notify != nil {
				e.notify("ChatToolComplete", map[string]any{
					"tool_name":    call.Name,
					"tool_call_id": call.ID,
					"success":      success,
				})
			}
		}(i, call)
	}
	wg.Wait()
	return results
}

// primeContext runs the best-effort embedding pre-step for tagged
// sheets. Failures become visible assistant turns but never block the
// model rounds.
func (e *Engine) primeContext(ctx context.Context, req ChatRequest) {
	if e.embedder == nil {
		return
	}
	sheets := req.ContextSheets
	if req.WholeWorkbook {
		names, err := e.host.SheetNames(ctx)
		if err != nil {
			e.conv.Append(Turn{
				Role:    llm.RoleAssistant,
				Content: fmt.Sprintf("I couldn't list the workbook's sheets for context: %s", err.Error()),
			})
			return
		}
		sheets = names
	}
	for _, sheet := range sheets {
		if err := e.embedder.IndexSheet(ctx, sheet); err != nil {
			e.logger.Warn("chat.embed_failed", "sheet", sheet, "error", err.Error())
			e.conv.Append(Turn{
				Role:    llm.RoleAssistant,
				Content: fmt.Sprintf("I couldn't index sheet %q for context: %s", sheet, err.Error()),
			})
		}
	}
}

func (e *Engine) currentSelection(ctx context.Context) host.Selection {
	sel, err := e.host.Selection(ctx)
	if err != nil {
		e.logger.Warn("chat.selection_read_failed", "error", err.Error())
		return host.Selection{}
	}
	return sel
}

func (e *Engine) defaultModelID() string {
	loaded, err := e.settings.Load()
	if err != nil {
		e.logger.Error("chat.settings_read_failed", "error", err.Error())
		return ModelOpenAIID
	}
	return loaded.DefaultModelID
}

// failTurn records a user-visible assistant turn for a turn-scoped
// failure and leaves the session usable for the next message.
func (e *Engine) failTurn(text string) ChatResult {
	turn := e.conv.Append(Turn{Role: llm.RoleAssistant, Content: text})
	e.notifyAssistant(turn)
	return ChatResult{Reply: text, Turns: e.conv.Snapshot()}
}

func (e *Engine) notifyAssistant(turn Turn) {
	if e.notify == nil {
		return
	}
	e.notify("ChatAssistantMessage", map[string]any{
		"turn_id": turn.ID,
		"text":    turn.Content,
	})
}

func summarizeBatch(calls []llm.ToolCall, results []string) string {
	var b strings.Builder
	b.WriteString("I ran the requested operations:\n")
	for i, call := range calls {
		fmt.Fprintf(&b, "- %s: %s\n", call.Name, results[i])
	}
	return strings.TrimSpace(b.String())
}

// Transcript returns a read-only snapshot of the conversation.
func (e *Engine) Transcript() []Turn {
	return e.conv.Snapshot()
}
