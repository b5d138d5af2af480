package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loykin/scanrun/internal/app"
	"github.com/loykin/scanrun/internal/command"
	"github.com/loykin/scanrun/internal/console"
	"github.com/loykin/scanrun/internal/run"
)

const prompt = "scanrun> "

const sessionHelp = `  run <url> [scanner args...]   start a scan with the session's scan options
  cancel                        stop the running scan
  status                        show the current scan state
  history                       list saved scans, newest first
  show N                        print the output of saved scan N
  clear                         remove all saved scans
  help                          show this help
  quit | exit                   cancel any scan, discard history and leave`

type session struct {
	app      *app.App
	defaults command.Options
	out      io.Writer
	info     io.Writer
}

// errQuit ends the loop normally.
var errQuit = errors.New("quit")

// loop reads commands from in until quit, EOF or ctx is done.
func (s *session) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		_, _ = fmt.Fprint(s.info, prompt)
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(s.info)
			s.app.Log.Info("session interrupted")
			return nil
		case err := <-readErr:
			_, _ = fmt.Fprintln(s.info)
			return err
		case line := <-lines:
			if err := s.exec(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				_, _ = fmt.Fprintf(s.info, "error: %v\n", err)
			}
		}
	}
}

// exec runs one command line.
func (s *session) exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	words, err := shellwords.Parse(line)
	if err != nil {
		return fmt.Errorf("%w: %v", command.ErrMalformedArgs, err)
	}
	if len(words) == 0 {
		return nil
	}

	switch words[0] {
	case "run":
		return s.run(words[1:])
	case "cancel":
		if !s.app.Controller.Running() {
			_, _ = fmt.Fprintln(s.info, "No scan is running.")
			return nil
		}
		s.app.Controller.Cancel()
		return nil
	case "status":
		s.status()
		return nil
	case "history":
		s.app.ShowHistory()
		return nil
	case "show":
		if len(words) != 2 {
			return errors.New("usage: show N")
		}
		if s.app.Controller.Running() {
			return errors.New("a scan is running; cancel it or wait before showing a saved scan")
		}
		n, err := parseNumber(words[1])
		if err != nil {
			return err
		}
		return s.app.Replay(n)
	case "clear":
		s.app.History.Clear()
		_, _ = fmt.Fprintln(s.info, "History cleared.")
		return nil
	case "help", "?":
		_, _ = fmt.Fprintln(s.info, sessionHelp)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", words[0])
	}
}

// run starts a scan of "<url> [scanner args...]". Extra arguments replace
// the session's configured extra arguments for this scan only.
func (s *session) run(args []string) error {
	if len(args) == 0 || args[0] == "" {
		return errors.New("usage: run <url> [scanner args...]")
	}
	o := s.defaults
	o.Target = args[0]
	if len(args) > 1 {
		o.ExtraArgs = command.JoinArgs(args[1:])
	}
	err := s.app.StartScan(o)
	if errors.Is(err, run.ErrRunActive) {
		return errors.New("a scan is already running; cancel it first")
	}
	return err
}

func (s *session) status() {
	snap := s.app.Controller.Snapshot()
	state := console.StateLabel(snap.State)
	if snap.Target == "" {
		_, _ = fmt.Fprintf(s.info, "%s: no scan yet\n", state)
		return
	}
	elapsed := ""
	if !snap.StartedAt.IsZero() {
		d := snap.Status.Elapsed
		if snap.State.Active() {
			d = time.Since(snap.StartedAt)
		}
		elapsed = " • " + run.ElapsedText(d)
	}
	_, _ = fmt.Fprintf(s.info, "%s: %s (%d%%%s, %d lines)\n", state, snap.Target, snap.Progress, elapsed, snap.Lines)
	if snap.Status.Message != "" && !snap.State.Active() {
		_, _ = fmt.Fprintf(s.info, "  %s\n", snap.Status.Message)
	}
}
