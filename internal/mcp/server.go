// Package mcp serves the memory tools over the Model Context Protocol:
// newline-delimited JSON-RPC 2.0 on a byte stream, usually stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/rcliao/closer/internal/app"
)

const (
	ServerName    = "closer"
	ServerVersion = "0.1.0"

	// ProtocolVersion is answered when the client asks for a version we do
	// not know.
	ProtocolVersion = "2024-11-05"

	toolTimeout = 4 * time.Minute
)

var supportedProtocolVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

// Server dispatches MCP requests to tools.
type Server struct {
	app    *app.App
	tools  []*tool
	byName map[string]*tool
	logger *slog.Logger
}

// NewServer registers every tool and compiles its input schema. A nil
// logger uses slog.Default().
func NewServer(a *app.App, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{app: a, byName: make(map[string]*tool), logger: logger}
	for _, t := range s.toolset() {
		schema, err := jsonschema.CompileString("mem://closer/tools/"+t.name+".json", t.inputSchema)
		if err != nil {
			return nil, fmt.Errorf("mcp: compile schema for %s: %w", t.name, err)
		}
		t.schema = schema
		s.tools = append(s.tools, t)
		s.byName[t.name] = t
	}
	return s, nil
}

// Serve handles requests on rwc until ctx is done or the peer disconnects.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewPlainObjectStream(rwc),
		jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handle)))
	s.logger.Info("mcp server started", "tools", len(s.tools))

	select {
	case <-ctx.Done():
		conn.Close()
	case <-conn.DisconnectNotify():
	}
	s.logger.Info("mcp server stopped")
	return nil
}

func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case "initialize":
		return s.initialize(req)
	case "ping":
		return map[string]any{}, nil
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "tools/list":
		return s.listTools(), nil
	case "tools/call":
		return s.callTool(ctx, req)
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (s *Server) initialize(req *jsonrpc2.Request) (any, error) {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	s.logger.Info("mcp client connected", "client", params.ClientInfo.Name, "version", params.ClientInfo.Version)

	return map[string]any{
		"protocolVersion": negotiateProtocolVersion(params.ProtocolVersion),
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    ServerName,
			"version": ServerVersion,
		},
	}, nil
}

func negotiateProtocolVersion(clientVersion string) string {
	for _, v := range supportedProtocolVersions {
		if clientVersion == v {
			return v
		}
	}
	return ProtocolVersion
}

func (s *Server) listTools() any {
	out := make([]map[string]any, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, map[string]any{
			"name":        t.name,
			"description": t.description,
			"inputSchema": json.RawMessage(t.inputSchema),
		})
	}
	return map[string]any{"tools": out}
}

func (s *Server) callTool(ctx context.Context, req *jsonrpc2.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panic recovered", "panic", r, "stack", string(debug.Stack()))
			result, err = nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: fmt.Sprintf("tool execution panicked: %v", r)}
		}
	}()

	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}

	out, err := s.Call(ctx, params.Name, params.Arguments)
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: argErr.Msg}
	}
	if err != nil {
		return toolError(err), nil
	}
	return toolResult(out)
}

// ArgumentError reports a call rejected before any tool ran: an unknown
// tool name or arguments that fail the tool's input schema.
type ArgumentError struct {
	Tool string
	Msg  string
}

func (e *ArgumentError) Error() string { return e.Msg }

// ToolNames lists the registered tools in registration order.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for _, t := range s.tools {
		names = append(names, t.name)
	}
	return names
}

// Call validates args against the named tool's schema and runs it. Empty
// or null args count as {}. Rejections are *ArgumentError; anything else
// is the tool's own failure.
func (s *Server) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := s.byName[name]
	if !ok {
		return nil, &ArgumentError{Tool: name, Msg: fmt.Sprintf("unknown tool %q", name)}
	}

	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return nil, &ArgumentError{Tool: name, Msg: "arguments are not valid JSON: " + err.Error()}
	}
	if err := t.schema.Validate(doc); err != nil {
		return nil, &ArgumentError{Tool: name, Msg: fmt.Sprintf("invalid arguments for %s: %v", t.name, err)}
	}

	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	start := time.Now()
	out, err := t.run(ctx, args)
	s.logger.Debug("tool call", "tool", t.name, "duration", time.Since(start), "err", err)
	return out, err
}

func decodeParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return nil
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func toolResult(v any) (any, error) {
	text, err := resultText(v)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}, nil
}

// resultText renders strings as they are and anything else as indented
// JSON.
func resultText(v any) (string, error) {
	if text, ok := v.(string); ok {
		return text, nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(b), nil
}

// toolError reports a failed tool run inside the result, as MCP expects,
// so the model can see what went wrong.
func toolError(err error) any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": err.Error()}},
		"isError": true,
	}
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }

// Stdio joins a reader and a writer into the stream Serve expects.
func Stdio(in io.Reader, out io.Writer) io.ReadWriteCloser {
	return stdio{Reader: in, Writer: out}
}
