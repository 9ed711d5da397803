package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ToolHandler is the interface for handling tool calls.
type ToolHandler interface {
	GetTools() []Tool
	HandleTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error)
}

// Server is the MCP server that handles protocol messages. Tool calls run
// concurrently; the handler is responsible for any ordering it needs.
type Server struct {
	transport *Transport
	handler   ToolHandler
	log       *slog.Logger

	mu          sync.Mutex
	initialized bool
	wg          sync.WaitGroup

	serverInfo   Implementation
	instructions string
}

// NewServer creates a new MCP server.
func NewServer(reader io.Reader, writer io.Writer, handler ToolHandler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "mcp")
	return &Server{
		transport: NewTransport(reader, writer, log),
		handler:   handler,
		log:       log,
		serverInfo: Implementation{
			Name:    "whatsapp-session",
			Version: "1.0.0",
		},
		instructions: "Check get_auth_status first. If not authenticated, call get_pairing_code " +
			"and scan the code with WhatsApp > Linked devices.",
	}
}

// Initialized reports whether the client completed the handshake.
func (s *Server) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Notify sends a log notification to the client. It is a no-op before the
// handshake completes.
func (s *Server) Notify(level, logger string, data any) error {
	if !s.Initialized() {
		return nil
	}
	return s.transport.SendNotification("notifications/message", LogMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}

// Run reads messages until the input ends or ctx is cancelled, then waits
// for in-flight tool calls.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("MCP server starting")
	defer s.wg.Wait()

	msgs := make(chan *Request)
	errs := make(chan error, 1)
	go func() {
		for {
			req, err := s.transport.ReadMessage()
			if err != nil && !errors.Is(err, ErrMalformed) {
				errs <- err
				return
			}
			if err != nil {
				s.log.Warn("malformed message", "error", err)
				var id any
				if req != nil {
					id = req.ID
				}
				code := ParseError
				if req != nil {
					code = InvalidRequest
				}
				_ = s.transport.SendError(id, code, err.Error(), nil)
				continue
			}
			select {
			case msgs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("MCP server shutting down")
			return ctx.Err()
		case err := <-errs:
			if errors.Is(err, io.EOF) {
				s.log.Info("client disconnected")
				return nil
			}
			return err
		case req := <-msgs:
			if err := s.handleRequest(ctx, req); err != nil {
				s.log.Error("failed to handle request", "method", req.Method, "error", err)
			}
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req *Request) error {
	s.log.Debug("handling request", "method", req.Method, "id", req.ID)

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized", "initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		s.log.Info("client initialized")
		return nil
	case "ping":
		return s.transport.SendResult(req.ID, map[string]any{})
	case "tools/list":
		return s.transport.SendResult(req.ID, ListToolsResult{Tools: s.handler.GetTools()})
	case "tools/call":
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.handleToolsCall(ctx, req); err != nil {
				s.log.Error("failed to answer tool call", "error", err)
			}
		}()
		return nil
	default:
		if req.IsNotification() {
			return nil
		}
		return s.transport.SendError(req.ID, MethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), nil)
	}
}

func (s *Server) handleInitialize(req *Request) error {
	var params InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return s.transport.SendError(req.ID, InvalidParams, "Invalid initialize params", nil)
		}
	}

	s.log.Info("client initializing",
		"client", params.ClientInfo.Name,
		"version", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion,
	)

	return s.transport.SendResult(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:   &ToolsCapability{},
			Logging: &struct{}{},
		},
		ServerInfo:   s.serverInfo,
		Instructions: s.instructions,
	})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) error {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return s.transport.SendError(req.ID, InvalidParams, "Invalid tool call params", nil)
	}

	s.log.Info("tool call", "name", params.Name)

	result, err := s.handler.HandleTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Error("tool call failed", "name", params.Name, "error", err)
		// Errors are reported as tool results, not JSON-RPC errors.
		return s.transport.SendResult(req.ID, &CallToolResult{
			Content: []ContentBlock{TextContent(fmt.Sprintf("Error: %s", err.Error()))},
			IsError: true,
		})
	}

	return s.transport.SendResult(req.ID, result)
}
