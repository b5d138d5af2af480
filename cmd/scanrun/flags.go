package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

// GlobalFlags are persistent on the root command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// ScanFlags select what a scan does. Values left unset on the command line
// fall back to the scan section of the configuration.
type ScanFlags struct {
	Executable         string
	Target             string
	APIToken           string
	EnumerateUsers     bool
	EnumeratePlugins   bool
	EnumerateThemes    bool
	RandomUserAgent    bool
	Verbose            bool
	IgnoreMainRedirect bool
	NoUpdate           bool
	DisableTLSChecks   bool
	Force              bool
	NoColour           bool
	ExtraArgs          string
}

type RunFlags struct {
	Scan   ScanFlags
	Listen string
	Quiet  bool
}

type SessionFlags struct {
	Scan   ScanFlags
	Listen string
	Quiet  bool
}

// RemoteFlags address the viewer of another running session.
type RemoteFlags struct {
	APIURL   string
	Timeout  time.Duration
	CACert   string
	Insecure bool
}
