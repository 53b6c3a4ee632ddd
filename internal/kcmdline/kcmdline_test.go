package kcmdline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCmdline(t *testing.T, contents string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cmdline")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	return p
}

func TestLoad_InvokesMatchingHandlers(t *testing.T) {
	p := writeCmdline(t, "BOOT_IMAGE=/vmlinuz crinit.debug=1 quiet crinit.syslog=0\n")

	var debug, syslog string
	m := Map{
		"debug":  func(v string) error { debug = v; return nil },
		"syslog": func(v string) error { syslog = v; return nil },
	}
	require.NoError(t, Load(p, m, nil))
	require.Equal(t, "1", debug)
	require.Equal(t, "0", syslog)
}

func TestLoad_IgnoresUnrecognizedKeys(t *testing.T) {
	p := writeCmdline(t, "crinit.mystery=5\n")
	require.NoError(t, Load(p, Map{}, nil))
}

func TestLoad_IgnoresMalformedTokens(t *testing.T) {
	p := writeCmdline(t, "crinit.novalue\n")
	require.NoError(t, Load(p, Map{"novalue": func(string) error { return nil }}, nil))
}

func TestLoad_PropagatesHandlerError(t *testing.T) {
	p := writeCmdline(t, "crinit.fail=x\n")
	m := Map{"fail": func(string) error { return os.ErrInvalid }}
	require.Error(t, Load(p, m, nil))
}

func TestLoad_MissingFile(t *testing.T) {
	require.Error(t, Load(filepath.Join(t.TempDir(), "nope"), Map{}, nil))
}

func TestLoad_DefaultsToProcCmdline(t *testing.T) {
	// Exercised only for the default-path branch; /proc/cmdline may not
	// exist in all sandboxes, so only assert it doesn't panic and that a
	// read failure surfaces as an error rather than nil success silently
	// swallowed.
	err := Load("", Map{}, nil)
	if err != nil {
		require.Contains(t, err.Error(), "/proc/cmdline")
	}
}
