package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// maxMessageSize bounds a single inbound line.
const maxMessageSize = 4 << 20

// ErrMalformed wraps messages that are not valid JSON-RPC.
var ErrMalformed = errors.New("malformed message")

// Transport reads newline-delimited JSON-RPC from a reader and writes
// responses to a writer. Writes are serialized; reads are not.
type Transport struct {
	scanner *bufio.Scanner
	writer  io.Writer
	log     *slog.Logger
	mu      sync.Mutex
}

// NewTransport creates a new stdio transport.
func NewTransport(reader io.Reader, writer io.Writer, log *slog.Logger) *Transport {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	return &Transport{
		scanner: scanner,
		writer:  writer,
		log:     log,
	}
}

// ReadMessage returns the next request. Blank lines are skipped. At end of
// input it returns io.EOF; undecodable lines return an error wrapping
// ErrMalformed and the transport stays usable.
func (t *Transport) ReadMessage() (*Request, error) {
	for t.scanner.Scan() {
		line := bytes.TrimSpace(t.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		t.log.Debug("received message", "bytes", len(line))

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if req.JSONRPC != "2.0" || req.Method == "" {
			return &req, fmt.Errorf("%w: not a JSON-RPC 2.0 request", ErrMalformed)
		}
		return &req, nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return nil, io.EOF
}

func (t *Transport) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	t.log.Debug("sent message", "bytes", len(data))
	return nil
}

// SendResult sends a successful response.
func (t *Transport) SendResult(id any, result any) error {
	return t.write(&Response{JSONRPC: "2.0", ID: id, Result: result})
}

// SendError sends an error response.
func (t *Transport) SendError(id any, code int, message string, data any) error {
	return t.write(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	})
}

// SendNotification sends a notification (no id, no response expected).
func (t *Transport) SendNotification(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	return t.write(&Request{JSONRPC: "2.0", Method: method, Params: raw})
}
