// Package kcmdline implements the kernel command line parser described
// by spec §4.5/§6.3: read /proc/cmdline (or an overridden path),
// tokenize it, and invoke a handler for every recognized
// "crinit.<key>=<value>" pair.
package kcmdline

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/crinit-go/crinit/internal/confparse"
)

// Handler is invoked once per recognized crinit.<key>=<value> pair.
type Handler func(value string) error

// Map associates recognized keys (without the "crinit." prefix) with
// their handlers (spec §6.3: "sigkeydir", "signatures" are examples).
type Map map[string]Handler

const prefix = "crinit."

// Load reads path (default "/proc/cmdline"), tokenizes it, and invokes
// the matching handler in m for every "crinit.<key>=<value>" token.
// Unknown crinit.* keys log a warning rather than failing (spec §4.5).
func Load(path string, m Map, log hclog.Logger) error {
	if path == "" {
		path = "/proc/cmdline"
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("kcmdline: read %s: %w", path, err)
	}

	toks, err := confparse.Tokenize(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("kcmdline: tokenize: %w", err)
	}

	for _, tok := range toks {
		if !strings.HasPrefix(tok, prefix) {
			continue
		}
		rest := strings.TrimPrefix(tok, prefix)
		key, value, ok := strings.Cut(rest, "=")
		if !ok {
			log.Warn("kcmdline: malformed crinit.* token, ignoring", "token", tok)
			continue
		}
		h, known := m[key]
		if !known {
			log.Warn("kcmdline: unrecognized key, ignoring", "key", key)
			continue
		}
		if err := h(value); err != nil {
			return fmt.Errorf("kcmdline: handler for %q: %w", key, err)
		}
	}
	return nil
}
