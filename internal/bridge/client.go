// Package bridge drives the external WhatsApp bridge CLI: it spawns the
// process, collects its output, enforces timeouts, and interprets what the
// bridge prints.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrCommandTimeout is returned when a bridge invocation is killed for
	// running too long.
	ErrCommandTimeout = errors.New("bridge command timed out")
	// ErrAuthLost is returned when command output shows the session is gone.
	ErrAuthLost = errors.New("bridge reported authentication loss")
)

// CommandError is a bridge invocation that exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("bridge command failed: %s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("bridge command failed: %s exited with code %d: %s", e.Command, e.ExitCode, msg)
}

// Result is the captured outcome of a finished invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// AuthCheck is the outcome of a whoami invocation.
type AuthCheck struct {
	Status   AuthStatus
	Identity string
	Result   *Result
}

// Client builds bridge command lines against a credential directory.
type Client struct {
	launcher Launcher
	cacheDir string
	log      *slog.Logger
}

// NewClient creates a client using launcher and the credential dir.
func NewClient(launcher Launcher, cacheDir string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		launcher: launcher,
		cacheDir: cacheDir,
		log:      log.With("component", "bridge"),
	}
}

// CacheDir returns the credential directory passed to the bridge.
func (c *Client) CacheDir() string {
	return c.cacheDir
}

func (c *Client) args(sub ...string) []string {
	return append([]string{"--cache", c.cacheDir}, sub...)
}

// Start launches a subcommand and returns the live process.
func (c *Client) Start(ctx context.Context, sub ...string) (Process, error) {
	return c.launcher.Launch(ctx, c.args(sub...))
}

// Run launches a subcommand and waits for it to exit, killing it after
// timeout or when ctx ends. A non-zero exit is reported in the Result, not
// as an error.
func (c *Client) Run(ctx context.Context, timeout time.Duration, sub ...string) (*Result, error) {
	name := ""
	if len(sub) > 0 {
		name = sub[0]
	}

	p, err := c.Start(ctx, sub...)
	if err != nil {
		return nil, err
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-p.Done():
	case <-timer:
		c.kill(p, name)
		return c.result(p), fmt.Errorf("%s after %s: %w", name, timeout, ErrCommandTimeout)
	case <-ctx.Done():
		c.kill(p, name)
		return c.result(p), ctx.Err()
	}

	res := c.result(p)
	c.log.Debug("bridge command finished", "command", name, "exit_code", res.ExitCode,
		"stdout_bytes", len(res.Stdout), "stderr_bytes", len(res.Stderr))
	return res, nil
}

func (c *Client) kill(p Process, name string) {
	if err := p.Kill(); err != nil {
		c.log.Warn("failed to kill bridge process", "command", name, "pid", p.PID(), "error", err)
	}
	// Give the exit a moment to land so partial output is complete.
	select {
	case <-p.Done():
	case <-time.After(time.Second):
	}
}

func (c *Client) result(p Process) *Result {
	out := p.Output()
	return &Result{
		Stdout:   out.Stdout(),
		Stderr:   out.Stderr(),
		ExitCode: p.ExitCode(),
	}
}

// WhoAmI runs an auth check and classifies it.
func (c *Client) WhoAmI(ctx context.Context, timeout time.Duration) (*AuthCheck, error) {
	res, err := c.Run(ctx, timeout, "whoami")
	if err != nil {
		return nil, err
	}
	check := &AuthCheck{
		Status: ClassifyAuth(res.Stdout, res.Stderr, res.ExitCode),
		Result: res,
	}
	if check.Status == AuthOK {
		check.Identity = Identity(res.Stdout)
	}
	return check, nil
}

// StartLogin launches an interactive login.
func (c *Client) StartLogin(ctx context.Context) (Process, error) {
	return c.Start(ctx, "login")
}

// Send delivers a text message.
func (c *Client) Send(ctx context.Context, timeout time.Duration, recipient, text string) (*Result, error) {
	res, err := c.Run(ctx, timeout, "send", recipient, text)
	if err != nil {
		return res, err
	}
	return res, checkCommand("send", res)
}

// ListGroups returns the chats the bridge knows about.
func (c *Client) ListGroups(ctx context.Context, timeout time.Duration) ([]Chat, error) {
	res, err := c.Run(ctx, timeout, "list-groups")
	if err != nil {
		return nil, err
	}
	if err := checkCommand("list-groups", res); err != nil {
		return nil, err
	}
	return ParseChats(res.Stdout), nil
}

// Logout asks the bridge to unregister the device.
func (c *Client) Logout(ctx context.Context, timeout time.Duration) (*Result, error) {
	res, err := c.Run(ctx, timeout, "logout")
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &CommandError{Command: "logout", ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

// checkCommand maps output to ErrAuthLost or a CommandError. Auth loss
// wins over the exit code because the bridge sometimes exits 0 after
// printing it to stderr. Stdout of a successful command may echo user
// text, so it only counts once the command has failed.
func checkCommand(name string, res *Result) error {
	stdout := res.Stdout
	if res.ExitCode == 0 {
		stdout = ""
	}
	if DetectAuthLoss(stdout, res.Stderr) {
		return fmt.Errorf("%s: %w", name, ErrAuthLost)
	}
	if res.ExitCode != 0 {
		return &CommandError{Command: name, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}
