package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/health"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/session"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/pkg/api"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/pkg/mcp"
)

// historyKeep is how many operation records survive startup pruning.
const historyKeep = 1000

func newServeCmd(open opener) *cobra.Command {
	var daemon bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return serve(cmd.Context(), rt, daemon)
		},
	}
	cmd.Flags().BoolVar(&daemon, "daemon", false, "stay alive after the MCP client disconnects")
	return cmd
}

func serve(ctx context.Context, rt *runtime, daemon bool) error {
	logger := rt.log

	if rt.history != nil {
		if err := rt.history.Operations.Prune(ctx, historyKeep); err != nil {
			logger.Warn("failed to prune operation history", "error", err)
		}
	}

	hm := health.NewMonitor(rt.cfg, rt.session)
	hm.Start()
	defer hm.Stop()

	handler := api.NewHandler(rt.session, hm, rt.history)
	server := mcp.NewServer(os.Stdin, os.Stdout, handler, logger)

	rt.session.OnEvent(func(e session.Event) {
		if err := server.Notify(eventLevel(e.Type), "session", eventData(e)); err != nil {
			logger.Debug("failed to forward session event", "type", e.Type, "error", err)
		}
	})

	logger.Info("WhatsApp session manager starting",
		"bridge_command", rt.cfg.BridgeCommand,
		"cache_dir", rt.cfg.CacheDir,
		"state", rt.session.State(),
	)

	err := server.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("MCP server error", "error", err)
		return err
	}
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
		return nil
	}

	// The MCP client disconnected.
	if daemon {
		logger.Info("daemon mode: MCP client disconnected, staying alive")
		<-ctx.Done()
		return nil
	}
	if rt.session.LoginInProgress() {
		logger.Info("MCP client disconnected during pairing, waiting for the login to finish",
			"timeout", rt.cfg.LoginSessionTimeout)
		waitForLogin(ctx, rt.session, rt.cfg.LoginSessionTimeout)
	}

	logger.Info("WhatsApp session manager stopped")
	return nil
}

// waitForLogin blocks until the tracked login ends or timeout passes.
func waitForLogin(ctx context.Context, s *session.Manager, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if !s.LoginInProgress() && !s.State().IsLoginInProgress() {
				return
			}
		}
	}
}

func eventLevel(t session.EventType) string {
	switch t {
	case session.EventSessionDropped, session.EventSessionStale, session.EventValidationFailed:
		return "warning"
	default:
		return "info"
	}
}

func eventData(e session.Event) map[string]any {
	data := map[string]any{
		"event":     e.Type.String(),
		"timestamp": e.Timestamp,
	}
	switch p := e.Payload.(type) {
	case session.AuthenticatedPayload:
		data["identity"] = p.Identity
	case session.ReasonPayload:
		data["reason"] = p.Reason
	case session.PairingCodePayload:
		// The code itself is returned by get_pairing_code.
		data["state"] = state.StateAwaitingPairing
	}
	return data
}
