package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/session"
)

const pngSize = 256

func newStatusCmd(open opener) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check authentication and print the session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.session.IsAuthenticated(cmd.Context())
			return writeStatus(cmd.OutOrStdout(), rt.session.Status(), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	return cmd
}

func newPairCmd(open opener) *cobra.Command {
	var pngPath string
	var wait bool

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Start linking a device and print the code to scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return pair(cmd.Context(), rt, cmd.OutOrStdout(), pngPath, wait)
		},
	}
	cmd.Flags().StringVar(&pngPath, "png", "", "also write the code as a PNG image to this path")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the phone to scan the code")
	return cmd
}

func pair(ctx context.Context, rt *runtime, out io.Writer, pngPath string, wait bool) error {
	done := make(chan session.Event, 1)
	rt.session.OnEvent(func(e session.Event) {
		if e.Type == session.EventAuthenticated || e.Type == session.EventValidationFailed {
			select {
			case done <- e:
			default:
			}
		}
	})

	code, err := rt.session.GetPairingCode(ctx)
	if errors.Is(err, session.ErrAlreadyAuthenticated) {
		fmt.Fprintf(out, "Already authenticated as %s\n", rt.session.Identity())
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Scan this code with WhatsApp > Settings > Linked devices:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, code)
	fmt.Fprintln(out)

	if pngPath != "" {
		raw := rt.session.PairingCodeRaw()
		if raw == "" {
			rt.log.Warn("bridge only drew the code, no PNG written")
		} else if err := qrcode.WriteFile(raw, qrcode.Medium, pngSize, pngPath); err != nil {
			return fmt.Errorf("failed to write PNG: %w", err)
		} else {
			fmt.Fprintf(out, "Code saved to %s\n", pngPath)
		}
	}

	if !wait {
		return nil
	}

	timeout := time.NewTimer(rt.cfg.LoginSessionTimeout)
	defer timeout.Stop()
	select {
	case e := <-done:
		if e.Type == session.EventAuthenticated {
			fmt.Fprintf(out, "Linked as %s\n", rt.session.Identity())
			return nil
		}
		return session.ErrNotAuthenticated
	case <-timeout.C:
		return fmt.Errorf("code was not scanned within %s", rt.cfg.LoginSessionTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newLogoutCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink the device and delete local credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newChatsCmd(open opener) *cobra.Command {
	var output string
	var filter string

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List group chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			chats, err := rt.session.ListChats(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return writeChats(cmd.OutOrStdout(), chats, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "case-insensitive name or JID filter")
	return cmd
}

func newSendCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "send <recipient> <message...>",
		Short: "Send a text message to a phone number or JID",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			text := strings.Join(args[1:], " ")
			if err := rt.session.SendMessage(cmd.Context(), args[0], text); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Message sent")
			return nil
		},
	}
}

func writeChats(w io.Writer, chats []bridge.Chat, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(chats)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(chats)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTYPE")
		for _, c := range chats {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Name, c.Type)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeStatus(w io.Writer, st session.Status, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(st)
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "State:\t%s\n", st.State)
		fmt.Fprintf(tw, "Authenticated:\t%t\n", st.Authenticated)
		if st.Identity != "" {
			fmt.Fprintf(tw, "Identity:\t%s\n", st.Identity)
		}
		fmt.Fprintf(tw, "Unstable:\t%t\n", st.Unstable)
		fmt.Fprintf(tw, "Stale cleanups:\t%d\n", st.StaleCleanups)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
