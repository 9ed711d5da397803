package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// SpawnError reports that the bridge binary could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExecLauncher runs the bridge binary with os/exec. Prefix is placed
// before the per-call arguments, for wrappers like "npx whatsapp-cli".
type ExecLauncher struct {
	Command string
	Prefix  []string
	Log     *slog.Logger
}

// NewExecLauncher creates a launcher from a command line. The first field
// is the binary; the rest become Prefix.
func NewExecLauncher(commandLine string, log *slog.Logger) *ExecLauncher {
	if log == nil {
		log = slog.Default()
	}
	fields := strings.Fields(commandLine)
	l := &ExecLauncher{Log: log.With("component", "launcher")}
	if len(fields) > 0 {
		l.Command = fields[0]
		l.Prefix = fields[1:]
	}
	return l
}

// Launch starts the binary in its own process group. The process outlives
// ctx; callers stop it with Kill.
func (l *ExecLauncher) Launch(ctx context.Context, args []string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.Command == "" {
		return nil, &SpawnError{Command: l.Command, Err: errors.New("no bridge command configured")}
	}

	full := make([]string, 0, len(l.Prefix)+len(args))
	full = append(full, l.Prefix...)
	full = append(full, args...)
	cmd := exec.Command(l.Command, full...)
	setProcessGroup(cmd)
	// Children that inherit the pipes must not keep Wait blocked forever.
	cmd.WaitDelay = 2 * time.Second

	p := &execProcess{
		cmd:    cmd,
		output: &Output{},
		done:   make(chan struct{}),
		exit:   -1,
	}
	cmd.Stdout = p.output.StdoutWriter()
	cmd.Stderr = p.output.StderrWriter()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: l.Command, Err: err}
	}
	p.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: l.Command, Err: err}
	}
	l.Log.Debug("bridge process started", "pid", cmd.Process.Pid, "args", args)

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		if cmd.ProcessState != nil {
			p.exit = cmd.ProcessState.ExitCode()
		}
		p.mu.Unlock()

		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			l.Log.Debug("bridge process wait failed", "pid", cmd.Process.Pid, "error", err)
		}
		l.Log.Debug("bridge process exited", "pid", cmd.Process.Pid, "exit_code", p.ExitCode())
		close(p.done)
	}()

	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *Output
	done   chan struct{}

	mu   sync.Mutex
	exit int
}

func (p *execProcess) PID() int        { return p.cmd.Process.Pid }
func (p *execProcess) Output() *Output { return p.output }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

func (p *execProcess) WriteInput(s string) error {
	select {
	case <-p.done:
		return errors.New("process has exited")
	default:
	}
	_, err := io.WriteString(p.stdin, s)
	return err
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return killProcessGroup(p.cmd)
}
