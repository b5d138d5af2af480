package command

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

var (
	ErrEmptyTarget   = errors.New("target is required")
	ErrMalformedArgs = errors.New("extra arguments malformed")
	ErrNotFound      = errors.New("executable not found in PATH")
)

// DefaultExecutable is the scanner looked up on PATH when none is configured.
const DefaultExecutable = "wpscan"

// Options are the operator's scan selections. Build turns them into a
// Descriptor for the scanner CLI.
type Options struct {
	Target   string `json:"target" mapstructure:"target"`
	APIToken string `json:"-" mapstructure:"api_token"`

	EnumerateUsers   bool `json:"enumerate_users" mapstructure:"enumerate_users"`
	EnumeratePlugins bool `json:"enumerate_plugins" mapstructure:"enumerate_plugins"`
	EnumerateThemes  bool `json:"enumerate_themes" mapstructure:"enumerate_themes"`

	RandomUserAgent    bool `json:"random_user_agent" mapstructure:"random_user_agent"`
	Verbose            bool `json:"verbose" mapstructure:"verbose"`
	IgnoreMainRedirect bool `json:"ignore_main_redirect" mapstructure:"ignore_main_redirect"`
	NoUpdate           bool `json:"no_update" mapstructure:"no_update"`
	DisableTLSChecks   bool `json:"disable_tls_checks" mapstructure:"disable_tls_checks"`
	Force              bool `json:"force" mapstructure:"force"`
	NoColour           bool `json:"no_colour" mapstructure:"no_colour"`

	// ExtraArgs is split with shell quoting rules and appended verbatim.
	ExtraArgs string `json:"extra_args" mapstructure:"extra_args"`
}

// DefaultOptions mirrors the scanner form's initial selections.
func DefaultOptions() Options {
	return Options{
		EnumerateUsers:  true,
		RandomUserAgent: true,
		NoUpdate:        true,
	}
}

// Args renders the options as a scanner argument list, without the executable.
func (o Options) Args() ([]string, error) {
	target := strings.TrimSpace(o.Target)
	if target == "" {
		return nil, ErrEmptyTarget
	}
	args := []string{"--url", target}

	var enum []string
	if o.EnumerateUsers {
		enum = append(enum, "u")
	}
	if o.EnumeratePlugins {
		enum = append(enum, "p")
	}
	if o.EnumerateThemes {
		enum = append(enum, "t")
	}
	if len(enum) > 0 {
		args = append(args, "--enumerate", strings.Join(enum, ","))
	}

	flags := []struct {
		on   bool
		flag string
	}{
		{o.RandomUserAgent, "--random-user-agent"},
		{o.Verbose, "--verbose"},
		{o.IgnoreMainRedirect, "--ignore-main-redirect"},
		{o.NoUpdate, "--no-update"},
		{o.DisableTLSChecks, "--disable-tls-checks"},
		{o.Force, "--force"},
	}
	for _, f := range flags {
		if f.on {
			args = append(args, f.flag)
		}
	}
	if o.NoColour {
		args = append(args, "--format", "cli-no-colour")
	}

	extra, err := SplitArgs(o.ExtraArgs)
	if err != nil {
		return nil, err
	}
	args = append(args, extra...)

	if tok := strings.TrimSpace(o.APIToken); tok != "" {
		args = append(args, "--api-token", tok)
	}
	return args, nil
}

// Build resolves executable on PATH and returns the descriptor for o.
func Build(executable string, o Options) (Descriptor, error) {
	args, err := o.Args()
	if err != nil {
		return Descriptor{}, err
	}
	path, err := Resolve(executable)
	if err != nil {
		return Descriptor{}, err
	}
	return New(path, args...), nil
}

// Resolve looks executable up on PATH. Paths containing a separator are
// checked as given.
func Resolve(executable string) (string, error) {
	executable = strings.TrimSpace(executable)
	if executable == "" {
		executable = DefaultExecutable
	}
	path, err := exec.LookPath(executable)
	if err != nil {
		return "", fmt.Errorf("%s: %w", executable, ErrNotFound)
	}
	return path, nil
}

// JoinArgs quotes args into one string that SplitArgs splits back into
// the same list.
func JoinArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = quote(a)
	}
	return strings.Join(parts, " ")
}

// SplitArgs splits s using POSIX shell quoting. Unbalanced quotes yield
// ErrMalformedArgs.
func SplitArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	p := shellwords.NewParser()
	p.ParseEnv = false
	p.ParseBacktick = false
	out, err := p.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArgs, err)
	}
	return out, nil
}
