package command

import (
	"errors"
	"strings"
)

// ErrEmptyCommand is returned when a descriptor has no executable.
var ErrEmptyCommand = errors.New("command: empty executable")

// secretFlags are flags whose following value is masked by Render.
var secretFlags = map[string]bool{
	"--api-token": true,
	"--password":  true,
	"-P":          true,
}

// Descriptor is an immutable executable path plus ordered argument list.
// The zero value is empty and cannot be started.
type Descriptor struct {
	executable string
	args       []string
}

// New builds a Descriptor. args is copied.
func New(executable string, args ...string) Descriptor {
	return Descriptor{
		executable: strings.TrimSpace(executable),
		args:       append([]string(nil), args...),
	}
}

func (d Descriptor) Executable() string { return d.executable }

// Args returns a copy of the argument list.
func (d Descriptor) Args() []string { return append([]string(nil), d.args...) }

func (d Descriptor) IsEmpty() bool { return d.executable == "" }

// Validate reports ErrEmptyCommand for a descriptor with no executable.
func (d Descriptor) Validate() error {
	if d.IsEmpty() {
		return ErrEmptyCommand
	}
	return nil
}

// WithExecutable returns a copy pointing at a different executable path,
// typically the result of a PATH lookup.
func (d Descriptor) WithExecutable(path string) Descriptor {
	return New(path, d.args...)
}

// Render returns a single display line for the command. Arguments that need
// quoting are single-quoted and values of secret flags are masked.
func (d Descriptor) Render() string {
	parts := make([]string, 0, len(d.args)+1)
	parts = append(parts, quote(d.executable))
	maskNext := false
	for _, a := range d.args {
		switch {
		case maskNext:
			parts = append(parts, "***")
			maskNext = false
		case secretFlags[a]:
			parts = append(parts, a)
			maskNext = true
		default:
			if k, _, ok := strings.Cut(a, "="); ok && secretFlags[k] {
				parts = append(parts, k+"=***")
				continue
			}
			parts = append(parts, quote(a))
		}
	}
	return strings.Join(parts, " ")
}

func (d Descriptor) String() string { return d.Render() }

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>()*?[]{}~#!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
