// Package bridgetest provides a scriptable fake of the bridge process for
// tests.
package bridgetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
)

// Handler produces the process for one launch.
type Handler func(args []string) (*Process, error)

// Launcher implements bridge.Launcher by dispatching on the subcommand.
type Launcher struct {
	mu       sync.Mutex
	handlers map[string]Handler
	launches []string
	procs    []*Process

	alive     atomic.Int32
	maxAlive  atomic.Int32
	nextPID   atomic.Int32
	spawnFail error
}

// NewLauncher creates a launcher with no handlers. Unhandled subcommands
// exit 1 with an "unknown command" message.
func NewLauncher() *Launcher {
	l := &Launcher{handlers: make(map[string]Handler)}
	l.nextPID.Store(1000)
	return l
}

// On registers h for a subcommand, replacing any previous handler.
func (l *Launcher) On(sub string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[sub] = h
}

// Respond registers a handler that exits immediately with the given output.
func (l *Launcher) Respond(sub, stdout, stderr string, exitCode int) {
	l.On(sub, func([]string) (*Process, error) {
		return Exited(stdout, stderr, exitCode), nil
	})
}

// FailSpawn makes every launch fail with err until cleared with nil.
func (l *Launcher) FailSpawn(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spawnFail = err
}

// Launch implements bridge.Launcher.
func (l *Launcher) Launch(ctx context.Context, args []string) (bridge.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := Subcommand(args)

	l.mu.Lock()
	fail := l.spawnFail
	h, ok := l.handlers[sub]
	l.launches = append(l.launches, sub)
	l.mu.Unlock()

	if fail != nil {
		return nil, &bridge.SpawnError{Command: "fake-bridge", Err: fail}
	}
	if !ok {
		h = func([]string) (*Process, error) {
			return Exited("", fmt.Sprintf("unknown command %q", sub), 1), nil
		}
	}

	p, err := h(args)
	if err != nil {
		return nil, &bridge.SpawnError{Command: "fake-bridge", Err: err}
	}
	p.pid = int(l.nextPID.Add(1))

	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()

	n := l.alive.Add(1)
	for {
		cur := l.maxAlive.Load()
		if n <= cur || l.maxAlive.CompareAndSwap(cur, n) {
			break
		}
	}
	go func() {
		<-p.Done()
		l.alive.Add(-1)
	}()
	return p, nil
}

// Launches returns the subcommands launched so far, in order.
func (l *Launcher) Launches() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.launches))
	copy(out, l.launches)
	return out
}

// Count returns how many times sub was launched.
func (l *Launcher) Count(sub string) int {
	n := 0
	for _, s := range l.Launches() {
		if s == sub {
			n++
		}
	}
	return n
}

// Processes returns every process handed out.
func (l *Launcher) Processes() []*Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Process, len(l.procs))
	copy(out, l.procs)
	return out
}

// MaxConcurrent returns the highest number of processes alive at once.
func (l *Launcher) MaxConcurrent() int {
	return int(l.maxAlive.Load())
}

// Subcommand returns the bridge subcommand in args, skipping --cache <dir>.
func Subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "--cache" {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

// Process is a fake bridge.Process controlled by the test.
type Process struct {
	pid    int
	output bridge.Output
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	exit    int
	killed  bool
	input   strings.Builder
	onInput func(string)
}

// NewProcess returns a running process with no output.
func NewProcess() *Process {
	return &Process{done: make(chan struct{}), exit: -1}
}

// Exited returns a process that has already finished.
func Exited(stdout, stderr string, exitCode int) *Process {
	p := NewProcess()
	p.WriteStdout(stdout)
	p.WriteStderr(stderr)
	p.Exit(exitCode)
	return p
}

// Delayed returns a process that finishes after d unless killed first.
func Delayed(d time.Duration, stdout, stderr string, exitCode int) *Process {
	p := NewProcess()
	go func() {
		select {
		case <-time.After(d):
			p.WriteStdout(stdout)
			p.WriteStderr(stderr)
			p.Exit(exitCode)
		case <-p.done:
		}
	}()
	return p
}

// WriteStdout appends to stdout.
func (p *Process) WriteStdout(s string) {
	if s != "" {
		_, _ = p.output.StdoutWriter().Write([]byte(s))
	}
}

// WriteStderr appends to stderr.
func (p *Process) WriteStderr(s string) {
	if s != "" {
		_, _ = p.output.StderrWriter().Write([]byte(s))
	}
}

// Exit finishes the process with code. Later calls are ignored.
func (p *Process) Exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exit = code
		p.mu.Unlock()
		close(p.done)
	})
}

// OnInput registers a callback for stdin writes.
func (p *Process) OnInput(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onInput = fn
}

// Input returns everything written to stdin.
func (p *Process) Input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

// Killed reports whether Kill was called before the process exited.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Exited reports whether the process has finished.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) PID() int               { return p.pid }
func (p *Process) Output() *bridge.Output { return &p.output }
func (p *Process) Done() <-chan struct{}  { return p.done }

func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

func (p *Process) WriteInput(s string) error {
	if p.Exited() {
		return errors.New("process has exited")
	}
	p.mu.Lock()
	p.input.WriteString(s)
	fn := p.onInput
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	return nil
}

func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.Exit(-1)
	return nil
}
