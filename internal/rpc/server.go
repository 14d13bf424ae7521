package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"sheetpilot/engine/internal/logging"
)

const (
	jsonRPCVersion = "2.0"
	rpcErrorCode   = -32000
	maxMessageSize = 10 * 1024 * 1024
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	APIVer  string          `json:"api_version,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type ErrorPayload struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// incoming is the union of everything the peer can send on the pipe: a
// request (Method set), or a response to an engine-initiated call
// (Method empty, ID set).
type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	APIVer  string          `json:"api_version,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

type Handler func(ctx context.Context, params json.RawMessage) (any, *Error)

type Error struct {
	Message string
	Data    interface{}
}

type callResult struct {
	result json.RawMessage
	err    *ErrorPayload
}

// Server speaks line-delimited JSON-RPC 2.0 over a byte pipe. It serves
// requests from the peer and can issue its own requests back over the
// same pipe via Call (used for spreadsheet host operations).
type Server struct {
	apiVersion string
	reader     *bufio.Reader
	writer     *bufio.Writer
	mu         sync.Mutex
	handlers   map[string]Handler
	logger     *slog.Logger

	callMu  sync.Mutex
	pending map[string]chan callResult
	closed  bool
}

func NewServer(apiVersion string, r io.Reader, w io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		apiVersion: apiVersion,
		reader:     bufio.NewReader(r),
		writer:     bufio.NewWriter(w),
		handlers:   make(map[string]Handler),
		pending:    make(map[string]chan callResult),
		logger:     logger,
	}
}

func (s *Server) Register(method string, handler Handler) {
	s.handlers[method] = handler
}

func (s *Server) Serve(ctx context.Context) error {
	defer s.failPending()
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logger.Error("rpc.read_failed", "error", err.Error())
			return err
		}
		if len(line) == 0 {
			continue
		}
		if len(line) > maxMessageSize {
			s.logger.Warn("rpc.message_too_large", "bytes", len(line))
			s.sendError(nil, "message too large", nil)
			continue
		}
		var msg incoming
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn("rpc.invalid_json", "error", err.Error())
			s.sendError(nil, "invalid json", nil)
			continue
		}
		if msg.JSONRPC != jsonRPCVersion {
			s.logger.Warn("rpc.invalid_version", "version", msg.JSONRPC)
			s.sendError(msg.ID, "invalid jsonrpc version", nil)
			continue
		}
		if msg.Method == "" {
			s.dispatchCallResult(msg)
			continue
		}
		if msg.APIVer != "" && msg.APIVer != s.apiVersion {
			s.logger.Warn("rpc.incompatible_version", "requested", msg.APIVer, "expected", s.apiVersion)
			s.sendError(msg.ID, "incompatible api_version", map[string]string{"expected": s.apiVersion})
			continue
		}
		handler, ok := s.handlers[msg.Method]
		if !ok {
			s.logger.Warn("rpc.method_not_found", "method", msg.Method)
			s.sendError(msg.ID, fmt.Sprintf("method not found: %s", msg.Method), nil)
			continue
		}
		req := Request{JSONRPC: msg.JSONRPC, ID: msg.ID, Method: msg.Method, Params: msg.Params, APIVer: msg.APIVer}
		s.logger.Debug("rpc.request", "method", req.Method, "id", string(req.ID), "params", logging.RedactJSON(req.Params))
		go s.handleRequest(ctx, req, handler)
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request, handler Handler) {
	result, err := handler(ctx, req.Params)
	if req.ID == nil {
		return
	}
	if err != nil {
		s.logger.Error("rpc.response_error", "method", req.Method, "id", string(req.ID), "error", logging.RedactAny(err.Data))
		s.sendError(req.ID, err.Message, err.Data)
		return
	}
	s.logger.Debug("rpc.response", "method", req.Method, "id", string(req.ID), "result", logging.RedactAny(result))
	resp := Response{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result}
	s.send(resp)
}

func (s *Server) Notify(method string, params any) {
	s.logger.Debug("rpc.notify", "method", method, "params", logging.RedactAny(params))
	n := Notification{JSONRPC: jsonRPCVersion, Method: method, Params: params}
	s.send(n)
}

// Call issues an engine-initiated request to the peer and waits for the
// matching response. Responses are correlated by the generated request id.
func (s *Server) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	callID := "srv-" + uuid.NewString()
	ch := make(chan callResult, 1)

	s.callMu.Lock()
	if s.closed {
		s.callMu.Unlock()
		return nil, errors.New("rpc connection closed")
	}
	s.pending[callID] = ch
	s.callMu.Unlock()

	defer func() {
		s.callMu.Lock()
		delete(s.pending, callID)
		s.callMu.Unlock()
	}()

	id, err := json.Marshal(callID)
	if err != nil {
		return nil, err
	}
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req := Request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: paramsRaw}
	s.logger.Debug("rpc.call", "method", method, "id", callID, "params", logging.RedactJSON(paramsRaw))
	s.send(req)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-ch:
		if !ok {
			return nil, errors.New("rpc connection closed")
		}
		if res.err != nil {
			return nil, fmt.Errorf("%s: %s", method, res.err.Message)
		}
		return res.result, nil
	}
}

func (s *Server) dispatchCallResult(msg incoming) {
	var callID string
	if err := json.Unmarshal(msg.ID, &callID); err != nil {
		s.logger.Warn("rpc.call_result_bad_id", "id", string(msg.ID))
		return
	}
	s.callMu.Lock()
	ch, ok := s.pending[callID]
	if ok {
		delete(s.pending, callID)
	}
	s.callMu.Unlock()
	if !ok {
		s.logger.Warn("rpc.call_result_unmatched", "id", callID)
		return
	}
	ch <- callResult{result: msg.Result, err: msg.Error}
}

func (s *Server) failPending() {
	s.callMu.Lock()
	defer s.callMu.Unlock()
	s.closed = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

func (s *Server) sendError(id json.RawMessage, message string, data interface{}) {
	resp := Response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &ErrorPayload{Code: rpcErrorCode, Message: message, Data: data},
	}
	s.send(resp)
}

func (s *Server) send(payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = s.writer.Write(append(data, '\n'))
	_ = s.writer.Flush()
}
