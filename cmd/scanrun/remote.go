package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/loykin/scanrun/pkg/client"
)

// createRemoteCommand creates the subcommands that talk to the viewer of a
// session started elsewhere with --listen.
func createRemoteCommand(c *cli, flags *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Inspect or cancel a scan in another session through its viewer",
		Long: `Talk to the viewer of a session started with --listen.

Examples:
  scanrun remote status --api-url http://127.0.0.1:8089/api
  scanrun remote watch
  scanrun remote cancel`,
	}
	def := client.DefaultConfig()
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.APIURL, "api-url", def.BaseURL, "viewer base URL")
	pf.DurationVar(&flags.Timeout, "timeout", def.Timeout, "request timeout (not applied to watch)")
	pf.StringVar(&flags.CACert, "ca-cert", "", "PEM bundle trusted for an HTTPS viewer")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip HTTPS certificate verification")

	run := func(fn func(ctx context.Context, cl *client.Client, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cl, err := c.remoteClient(*flags)
			if err != nil {
				return err
			}
			return fn(cmd.Context(), cl, cmd, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the session's scan state",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, _ []string) error {
				return remoteStatus(ctx, cl, cmd.OutOrStdout())
			}),
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Print the current scan's output and follow it until it ends",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, _ []string) error {
				return remoteWatch(ctx, cl, cmd.OutOrStdout(), cmd.ErrOrStderr())
			}),
		},
		&cobra.Command{
			Use:   "history",
			Short: "List the session's saved scans",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, _ []string) error {
				return remoteHistory(ctx, cl, cmd.OutOrStdout())
			}),
		},
		&cobra.Command{
			Use:   "show N",
			Short: "Print the output of saved scan N",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, args []string) error {
				return remoteShow(ctx, cl, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
			}),
		},
		&cobra.Command{
			Use:   "cancel",
			Short: "Cancel the session's running scan",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, _ []string) error {
				return remoteCancel(ctx, cl, cmd.ErrOrStderr())
			}),
		},
	)
	return cmd
}

func (c *cli) remoteClient(f RemoteFlags) (*client.Client, error) {
	return client.New(client.Config{
		BaseURL:  f.APIURL,
		Timeout:  f.Timeout,
		CACert:   f.CACert,
		Insecure: f.Insecure,
		Logger:   c.appOptions.Logger,
	})
}

func remoteStatus(ctx context.Context, cl *client.Client, out io.Writer) error {
	s, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	if s.Target == "" {
		_, _ = fmt.Fprintf(out, "%s: no scan yet\n", s.State)
		return nil
	}
	_, _ = fmt.Fprintf(out, "%s: %s (%d%%, %d lines)\n", s.State, s.Target, s.Progress, s.Lines)
	if s.Command != "" {
		_, _ = fmt.Fprintf(out, "  $ %s\n", s.Command)
	}
	if s.Status.Message != "" && !s.Active() {
		_, _ = fmt.Fprintf(out, "  %s\n", s.Status.Message)
	}
	return nil
}

// remoteWatch follows the stream until a terminal status. Lines produced
// before the stream was opened are fetched first.
func remoteWatch(ctx context.Context, cl *client.Client, out, info io.Writer) error {
	skip := 0
	err := cl.Stream(ctx, func(ev client.Event) error {
		switch ev.Type {
		case "snapshot":
			o, err := cl.Output(ctx, 0)
			if err != nil {
				return err
			}
			for _, l := range o.Lines {
				_, _ = fmt.Fprintln(out, l)
			}
			skip = o.Total - ev.Snapshot.Lines
			if !ev.Snapshot.Active() {
				_, _ = fmt.Fprintf(info, "[%s] %s\n", ev.Snapshot.State, ev.Snapshot.Status.Message)
				return io.EOF
			}
		case "line":
			// already printed by the output fetch
			if skip > 0 {
				skip--
				return nil
			}
			_, _ = fmt.Fprintln(out, ev.Line)
		case "progress":
			if ev.Label != "" {
				_, _ = fmt.Fprintf(info, "%3d%% %s\n", ev.Percent, ev.Label)
			}
		case "status":
			if ev.Status == nil {
				return nil
			}
			_, _ = fmt.Fprintf(info, "[%s] %s\n", ev.Status.State, ev.Status.Message)
			if ev.Status.Terminal() {
				return io.EOF
			}
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func remoteHistory(ctx context.Context, cl *client.Client, out io.Writer) error {
	entries, err := cl.History(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "No saved scans.")
		return nil
	}
	for _, e := range entries {
		_, _ = fmt.Fprintln(out, e.Label)
	}
	return nil
}

func remoteShow(ctx context.Context, cl *client.Client, out, info io.Writer, arg string) error {
	n, err := parseNumber(arg)
	if err != nil {
		return err
	}
	e, err := cl.HistoryEntry(ctx, n-1)
	if client.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("saved scan %d does not exist", n)
	}
	if err != nil {
		return err
	}
	for _, l := range e.Output {
		_, _ = fmt.Fprintln(out, l)
	}
	_, _ = fmt.Fprintf(info, "Showing saved scan: %s\n", e.Target)
	return nil
}

func remoteCancel(ctx context.Context, cl *client.Client, info io.Writer) error {
	s, err := cl.Cancel(ctx)
	if client.IsStatus(err, http.StatusConflict) {
		_, _ = fmt.Fprintln(info, "No scan is running.")
		return nil
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(info, "[%s] %s\n", s.State, s.Status.Message)
	return nil
}
