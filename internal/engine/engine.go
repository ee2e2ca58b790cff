// Package engine dispatches decoded JSON-RPC messages to the capabilities of
// an mcpservice.ServerCapabilities. Transports own framing and sessions; the
// engine owns protocol semantics.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/internal/jsonrpc"
	"github.com/ggoodman/cheqd-mcp-toolkit/internal/logctx"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcp"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
)

// Engine is safe for concurrent use by many sessions.
type Engine struct {
	srv mcpservice.ServerCapabilities
	log *slog.Logger

	onInitialized func(ctx context.Context, sess *sessions.Handle)

	inflightMu sync.Mutex
	inflight   map[inflightKey]context.CancelCauseFunc
}

type inflightKey struct {
	session string
	request string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithInitializedHook registers fn to run once per session when the client
// sends notifications/initialized.
func WithInitializedHook(fn func(ctx context.Context, sess *sessions.Handle)) EngineOption {
	return func(e *Engine) { e.onInitialized = fn }
}

// NewEngine creates an engine serving srv.
func NewEngine(srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		srv:      srv,
		log:      slog.Default(),
		inflight: make(map[inflightKey]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage decodes raw and dispatches it. It returns the response to
// deliver to the client, or nil for notifications and client responses.
func (e *Engine) HandleMessage(ctx context.Context, sess *sessions.Handle, raw []byte) (*jsonrpc.Response, error) {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.log.InfoContext(ctx, "engine.handle_message.parse_error", slog.String("err", err.Error()))
		if isSyntaxError(err) {
			return jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "Parse error", nil), nil
		}
		return jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request", nil), nil
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	switch msg.Type() {
	case "request":
		return e.HandleRequest(ctx, sess, msg.AsRequest())
	case "notification":
		return nil, e.HandleNotification(ctx, sess, msg.AsRequest())
	default:
		// Client responses are only expected for server-initiated requests,
		// which this server never sends.
		e.log.DebugContext(ctx, "engine.handle_message.unexpected_response")
		return nil, nil
	}
}

func isSyntaxError(err error) bool {
	var se *json.SyntaxError
	return errors.As(err, &se)
}

// HandleRequest routes a request with an ID to its method handler.
func (e *Engine) HandleRequest(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(ctx, sess, req)
	case mcp.PingMethod:
		return jsonrpc.NewResultResponse(req.ID, mcp.EmptyResult{})
	}

	if sess.ProtocolVersion() == "" {
		e.log.InfoContext(ctx, "engine.handle_request.uninitialized", slog.String("method", req.Method))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session not initialized", nil), nil
	}

	switch mcp.Method(req.Method) {
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, sess, req)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, sess, req)
	case mcp.ResourcesListMethod:
		return e.handleResourcesList(ctx, sess, req)
	case mcp.ResourcesReadMethod:
		return e.handleResourcesRead(ctx, sess, req)
	case mcp.ResourcesTemplatesListMethod:
		return e.handleResourcesTemplatesList(ctx, sess, req)
	case mcp.PromptsListMethod:
		return e.handlePromptsList(ctx, sess, req)
	case mcp.PromptsGetMethod:
		return e.handlePromptsGet(ctx, sess, req)
	case mcp.LoggingSetLevelMethod:
		return e.handleSetLoggingLevel(ctx, sess, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unknown_method", slog.String("method", req.Method))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil), nil
}

// HandleNotification processes a client notification. Unknown notifications
// are ignored.
func (e *Engine) HandleNotification(ctx context.Context, sess *sessions.Handle, note *jsonrpc.Request) error {
	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		if sess.MarkInitialized() {
			e.log.InfoContext(ctx, "engine.session.initialized", slog.String("session_id", sess.SessionID()))
			if e.onInitialized != nil {
				e.onInitialized(ctx, sess)
			}
		}
	case mcp.CancelledNotificationMethod:
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return nil
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(params.RequestID, &id); err != nil || id.IsNil() {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", "missing requestId"))
			return nil
		}
		if e.cancel(sess.SessionID(), id.String(), params.Reason) {
			e.log.InfoContext(ctx, "engine.request.cancelled", slog.String("request_id", id.String()), slog.String("reason", params.Reason))
		}
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	}
	return nil
}

// CancelSession cancels every in-flight request belonging to sessionID. It is
// called by transports when a session goes away.
func (e *Engine) CancelSession(sessionID string) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	for k, cancel := range e.inflight {
		if k.session == sessionID {
			cancel(sessions.ErrSessionClosed)
			delete(e.inflight, k)
		}
	}
}

func (e *Engine) track(ctx context.Context, sessionID, requestID string) (context.Context, func(), error) {
	key := inflightKey{session: sessionID, request: requestID}
	cctx, cancel := context.WithCancelCause(ctx)
	e.inflightMu.Lock()
	if _, exists := e.inflight[key]; exists {
		e.inflightMu.Unlock()
		cancel(context.Canceled)
		return nil, nil, fmt.Errorf("duplicate request id %q", requestID)
	}
	e.inflight[key] = cancel
	e.inflightMu.Unlock()
	return cctx, func() {
		e.inflightMu.Lock()
		delete(e.inflight, key)
		e.inflightMu.Unlock()
		cancel(context.Canceled)
	}, nil
}

func (e *Engine) cancel(sessionID, requestID, reason string) bool {
	key := inflightKey{session: sessionID, request: requestID}
	e.inflightMu.Lock()
	cancel, ok := e.inflight[key]
	delete(e.inflight, key)
	e.inflightMu.Unlock()
	if !ok {
		return false
	}
	if reason == "" {
		reason = "cancelled by client"
	}
	cancel(errors.New(reason))
	return true
}

func (e *Engine) handleInitialize(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	res, err := e.initializeResult(ctx, sess, &params)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	sess.Negotiate(res.ProtocolVersion, params.ClientInfo, params.Capabilities)

	log.InfoContext(ctx, "engine.handle_request.ok",
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		slog.String("protocol_version", res.ProtocolVersion),
		slog.String("client_name", params.ClientInfo.Name),
	)
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) initializeResult(ctx context.Context, sess *sessions.Handle, req *mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	version := mcp.LatestProtocolVersion
	if mcp.IsSupportedProtocolVersion(req.ProtocolVersion) {
		version = req.ProtocolVersion
	}
	if v, ok, err := e.srv.GetPreferredProtocolVersion(ctx, sess, req.ProtocolVersion); err != nil {
		return nil, fmt.Errorf("get preferred protocol version: %w", err)
	} else if ok && v != "" {
		version = v
	}

	info, err := e.srv.GetServerInfo(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}

	res := &mcp.InitializeResult{ProtocolVersion: version, ServerInfo: info}

	if instr, ok, err := e.srv.GetInstructions(ctx, sess); err != nil {
		return nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		res.Instructions = instr
	}

	if _, ok, err := e.srv.GetResourcesCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get resources capability: %w", err)
	} else if ok {
		res.Capabilities.Resources = &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{}
	}
	if _, ok, err := e.srv.GetToolsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok {
		res.Capabilities.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}
	if _, ok, err := e.srv.GetPromptsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get prompts capability: %w", err)
	} else if ok {
		res.Capabilities.Prompts = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}
	if _, ok, err := e.srv.GetLoggingCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get logging capability: %w", err)
	} else if ok {
		res.Capabilities.Logging = &struct{}{}
	}
	return res, nil
}

// pageRequest is implemented by the list request types through their
// embedded mcp.PaginatedRequest.
type pageRequest interface {
	PageCursor() *string
}

// decodeCursor decodes params into into and returns its optional pagination
// cursor. Absent params are valid.
func decodeCursor(params json.RawMessage, into pageRequest) (*string, error) {
	if len(params) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(params, into); err != nil {
		return nil, err
	}
	return into.PageCursor(), nil
}

func (e *Engine) handleToolsList(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	cursor, err := decodeCursor(req.Params, &mcp.ListToolsRequest{})
	if err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	cap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}
	page, err := cap.ListTools(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	res := mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("tool_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleToolCall(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	cap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	toolCtx, done, err := e.track(ctx, sess.SessionID(), req.ID.String())
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil), nil
	}
	defer done()

	res, err := cap.CallTool(toolCtx, sess, &params)
	if err != nil {
		switch {
		case errors.Is(err, mcpservice.ErrToolNotFound):
			log.InfoContext(ctx, "engine.handle_request.unknown_tool", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("Tool %s not found", params.Name), nil), nil
		case toolCtx.Err() != nil:
			log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.String("cause", context.Cause(toolCtx).Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil), nil
		}
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			return jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if res == nil {
		res = &mcp.CallToolResult{Content: []mcp.ContentBlock{}}
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Bool("is_error", res.IsError))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesList(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	cursor, err := decodeCursor(req.Params, &mcp.ListResourcesRequest{})
	if err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	cap, resp := e.resources(ctx, sess, req, log, start)
	if resp != nil {
		return resp, nil
	}
	page, err := cap.ListResources(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	res := mcp.ListResourcesResult{Resources: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("resource_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesTemplatesList(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	cursor, err := decodeCursor(req.Params, &mcp.ListResourceTemplatesRequest{})
	if err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	cap, resp := e.resources(ctx, sess, req, log, start)
	if resp != nil {
		return resp, nil
	}
	page, err := cap.ListResourceTemplates(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	res := mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("template_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesRead(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.URI == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing uri"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	cap, resp := e.resources(ctx, sess, req, log, start)
	if resp != nil {
		return resp, nil
	}
	contents, err := cap.ReadResource(ctx, sess, params.URI)
	if err != nil {
		if errors.Is(err, mcpservice.ErrResourceNotFound) {
			log.InfoContext(ctx, "engine.handle_request.not_found", slog.String("uri", params.URI), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeResourceNotFound, "Resource not found", map[string]string{"uri": params.URI}), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if contents == nil {
		contents = []mcp.ResourceContents{}
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("content_count", len(contents)))
	return jsonrpc.NewResultResponse(req.ID, mcp.ReadResourceResult{Contents: contents})
}

// resources resolves the resources capability or the error response to send.
func (e *Engine) resources(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request, log *slog.Logger, start time.Time) (mcpservice.ResourcesCapability, *jsonrpc.Response) {
	cap, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return nil, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil)
	}
	return cap, nil
}

func (e *Engine) handlePromptsList(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	cursor, err := decodeCursor(req.Params, &mcp.ListPromptsRequest{})
	if err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	cap, ok, err := e.srv.GetPromptsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "prompts capability not supported", nil), nil
	}
	page, err := cap.ListPrompts(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	res := mcp.ListPromptsResult{Prompts: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("prompt_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handlePromptsGet(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.GetPromptRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	cap, ok, err := e.srv.GetPromptsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "prompts capability not supported", nil), nil
	}
	res, err := cap.GetPrompt(ctx, sess, &params)
	if err != nil {
		if errors.Is(err, mcpservice.ErrPromptNotFound) || errors.Is(err, mcpservice.ErrInvalidPromptArguments) {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.SetLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	cap, ok, err := e.srv.GetLoggingCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "logging level not supported", nil), nil
	}
	if err := cap.SetLevel(ctx, sess, params.Level); err != nil {
		if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.String("level", string(params.Level)))
	return jsonrpc.NewResultResponse(req.ID, mcp.EmptyResult{})
}
