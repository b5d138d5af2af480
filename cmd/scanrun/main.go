package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/loykin/scanrun"
)

func main() {
	gin.SetMode(gin.ReleaseMode)
	root := buildRoot()
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	sessionFlags := &SessionFlags{}
	remoteFlags := &RemoteFlags{}

	c := &cli{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(c, runFlags),
		createSessionCommand(c, sessionFlags),
		createHistoryCommand(c),
		createRemoteCommand(c, remoteFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "scanrun",
		Short: "Run and supervise WordPress security scans",
		Long: `scanrun launches the wpscan CLI, streams its output live, lets you cancel
a running scan, and keeps a short history of finished scans for the session.

Examples:
  scanrun run --url https://example.com
  scanrun run --url https://example.com --enumerate-plugins --listen 127.0.0.1:8089
  scanrun session                  # interactive: run, cancel, status, history, show N
  scanrun history list
  scanrun remote watch --api-url http://127.0.0.1:8089/api`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (YAML, TOML or JSON; optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	return root
}

// addScanFlags binds the scan selection flags. Defaults here are only used
// for help output; unset flags keep the configured values.
func addScanFlags(cmd *cobra.Command, f *ScanFlags) {
	def := scanrun.DefaultScanOptions()
	fs := cmd.Flags()
	fs.StringVar(&f.Executable, "executable", "", "scanner executable (default from scanner.executable)")
	fs.StringVar(&f.Target, "url", "", "target URL")
	fs.StringVar(&f.APIToken, "api-token", "", "WPScan API token")
	fs.BoolVar(&f.EnumerateUsers, "enumerate-users", def.EnumerateUsers, "enumerate users")
	fs.BoolVar(&f.EnumeratePlugins, "enumerate-plugins", def.EnumeratePlugins, "enumerate plugins")
	fs.BoolVar(&f.EnumerateThemes, "enumerate-themes", def.EnumerateThemes, "enumerate themes")
	fs.BoolVar(&f.RandomUserAgent, "random-user-agent", def.RandomUserAgent, "use a random user agent")
	fs.BoolVar(&f.Verbose, "verbose", def.Verbose, "verbose scanner output")
	fs.BoolVar(&f.IgnoreMainRedirect, "ignore-main-redirect", def.IgnoreMainRedirect, "ignore the main redirect")
	fs.BoolVar(&f.NoUpdate, "no-update", def.NoUpdate, "skip the scanner database update")
	fs.BoolVar(&f.DisableTLSChecks, "disable-tls-checks", def.DisableTLSChecks, "disable TLS certificate checks")
	fs.BoolVar(&f.Force, "force", def.Force, "skip the WordPress detection check")
	fs.BoolVar(&f.NoColour, "no-colour", def.NoColour, "plain scanner output")
	fs.StringVar(&f.ExtraArgs, "extra-args", "", "extra scanner arguments (shell quoting)")
}

// createRunCommand creates the one-shot run subcommand
func createRunCommand(c *cli, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scan and exit with its exit code",
		Long: `Run one scan in the foreground. Output goes to stdout, status and progress
to stderr. Ctrl-C cancels the scan (SIGTERM, then SIGKILL after the grace period).

Examples:
  scanrun run --url https://example.com
  scanrun run --url https://example.com --extra-args "--throttle 200"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), *flags, cmd.Flags().Changed)
		},
	}
	addScanFlags(cmd, &flags.Scan)
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "serve the read-only viewer on this address (overrides server.listen)")
	cmd.Flags().BoolVar(&flags.Quiet, "quiet", false, "do not print progress")
	return cmd
}

// createSessionCommand creates the interactive session subcommand
func createSessionCommand(c *cli, flags *SessionFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Interactive session: run, cancel and replay scans",
		Long: `Start an interactive session. Scan flags given here become the defaults
for every "run" in the session. History is kept for the session only and
removed on exit.

Commands:
` + sessionHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Session(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), *flags, cmd.Flags().Changed)
		},
	}
	addScanFlags(cmd, &flags.Scan)
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "serve the read-only viewer on this address (overrides server.listen)")
	cmd.Flags().BoolVar(&flags.Quiet, "quiet", false, "do not print progress")
	return cmd
}

// createHistoryCommand creates the history subcommands
func createHistoryCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the history file of a running or interrupted session",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved scans, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.HistoryList(cmd.OutOrStdout(), cmd.ErrOrStderr())
			},
		},
		&cobra.Command{
			Use:   "show N",
			Short: "Print the output of saved scan N (as numbered by list)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.HistoryShow(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove all saved scans",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.HistoryClear(cmd.ErrOrStderr())
			},
		},
	)
	return cmd
}
