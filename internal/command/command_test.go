package command

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorIsImmutable(t *testing.T) {
	args := []string{"--url", "https://example.com"}
	d := New("scantool", args...)
	args[1] = "mutated"
	assert.Equal(t, []string{"--url", "https://example.com"}, d.Args())

	got := d.Args()
	got[0] = "--other"
	assert.Equal(t, "--url", d.Args()[0])
}

func TestDescriptorValidate(t *testing.T) {
	if err := New("  ").Validate(); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
	if err := New("scantool").Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRenderQuotesAndMasks(t *testing.T) {
	d := New("/usr/bin/wpscan", "--url", "https://example.com", "--user-agent", "my agent", "--api-token", "s3cret")
	assert.Equal(t, "/usr/bin/wpscan --url https://example.com --user-agent 'my agent' --api-token ***", d.Render())

	d = New("wpscan", "--api-token=s3cret", "it's")
	assert.Equal(t, `wpscan --api-token=*** 'it'\''s'`, d.Render())
}

func TestOptionsArgs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
		err  error
	}{
		{
			name: "defaults",
			opts: func() Options { o := DefaultOptions(); o.Target = " https://example.com "; return o }(),
			want: []string{"--url", "https://example.com", "--enumerate", "u", "--random-user-agent", "--no-update"},
		},
		{
			name: "everything",
			opts: Options{
				Target: "https://example.com", APIToken: "tok",
				EnumerateUsers: true, EnumeratePlugins: true, EnumerateThemes: true,
				RandomUserAgent: true, Verbose: true, IgnoreMainRedirect: true, NoUpdate: true,
				DisableTLSChecks: true, Force: true, NoColour: true,
				ExtraArgs: `--detection-mode aggressive --cookie-string "a=b; c=d"`,
			},
			want: []string{
				"--url", "https://example.com", "--enumerate", "u,p,t",
				"--random-user-agent", "--verbose", "--ignore-main-redirect", "--no-update",
				"--disable-tls-checks", "--force", "--format", "cli-no-colour",
				"--detection-mode", "aggressive", "--cookie-string", "a=b; c=d",
				"--api-token", "tok",
			},
		},
		{name: "empty target", opts: Options{Target: "   "}, err: ErrEmptyTarget},
		{name: "bad quotes", opts: Options{Target: "x", ExtraArgs: `--foo "bar`}, err: ErrMalformedArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.Args()
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJoinArgsSplitsBack(t *testing.T) {
	args := []string{"--user-agent", "Mozilla 5", `a"b`, "$HOME", "--throttle", "200"}
	joined := JoinArgs(args)
	assert.Equal(t, `--user-agent 'Mozilla 5' 'a"b' '$HOME' --throttle 200`, joined)

	got, err := SplitArgs(joined)
	require.NoError(t, err)
	assert.Equal(t, args, got)
}

func TestResolve(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh being on PATH")
	}
	p, err := Resolve("sh")
	require.NoError(t, err)
	assert.NotEmpty(t, p)

	_, err = Resolve("definitely-not-a-real-scanner-binary")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBuildPropagatesErrors(t *testing.T) {
	_, err := Build("sh", Options{})
	require.ErrorIs(t, err, ErrEmptyTarget)

	_, err = Build("definitely-not-a-real-scanner-binary", Options{Target: "https://example.com"})
	require.ErrorIs(t, err, ErrNotFound)
}
