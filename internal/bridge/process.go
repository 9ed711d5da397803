package bridge

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Launcher starts bridge processes. The exec-backed implementation is
// ExecLauncher; tests substitute a fake.
type Launcher interface {
	Launch(ctx context.Context, args []string) (Process, error)
}

// Process is a running bridge invocation.
type Process interface {
	PID() int
	// Output returns the live stdout/stderr accumulator.
	Output() *Output
	// WriteInput writes s to the process's stdin.
	WriteInput(s string) error
	// Done is closed once the process has exited and its output is drained.
	Done() <-chan struct{}
	// ExitCode is valid after Done; -1 when the process was killed.
	ExitCode() int
	// Kill terminates the process and its children. Safe to call repeatedly.
	Kill() error
}

// Output accumulates a process's stdout and stderr as they arrive.
type Output struct {
	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// Stdout returns everything written to stdout so far.
func (o *Output) Stdout() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stdout.String()
}

// Stderr returns everything written to stderr so far.
func (o *Output) Stderr() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stderr.String()
}

// Combined returns stdout followed by stderr.
func (o *Output) Combined() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stderr.Len() == 0 {
		return o.stdout.String()
	}
	return o.stdout.String() + "\n" + o.stderr.String()
}

// Len returns the number of bytes captured on both streams.
func (o *Output) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stdout.Len() + o.stderr.Len()
}

// StdoutWriter returns a writer appending to stdout.
func (o *Output) StdoutWriter() io.Writer {
	return &streamWriter{o: o, buf: &o.stdout}
}

// StderrWriter returns a writer appending to stderr.
func (o *Output) StderrWriter() io.Writer {
	return &streamWriter{o: o, buf: &o.stderr}
}

type streamWriter struct {
	o   *Output
	buf *bytes.Buffer
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.o.mu.Lock()
	defer w.o.mu.Unlock()
	return w.buf.Write(p)
}
