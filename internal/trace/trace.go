// Package trace is the optimizer's diagnostic sink. Output is gated by a
// per-module verbosity level parsed once from the REDEX_TRACE environment
// variable, e.g. "DEDUP_BLOCKS:4,ARGS:3" or a bare number applying to all
// modules. The enabled check is a map lookup, so callers can guard
// expensive formatting or locking behind it for free.
package trace

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Module names one tracing topic.
type Module string

const (
	DedupBlocks Module = "DEDUP_BLOCKS"
	Args        Module = "ARGS"
	LocalDCE    Module = "LDCE"
	CFG         Module = "CFG"
)

var (
	mu           sync.RWMutex
	levels       map[Module]int
	defaultLevel int
	logger       zerolog.Logger
)

func init() {
	levels, defaultLevel = parseSpec(os.Getenv("REDEX_TRACE"))
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func parseSpec(spec string) (map[Module]int, int) {
	out := map[Module]int{}
	def := 0
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, lv, ok := strings.Cut(part, ":"); ok {
			if n, err := strconv.Atoi(lv); err == nil {
				out[Module(name)] = n
			}
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			def = n
		}
	}
	return out, def
}

// SetSpec replaces the level configuration; tests use this instead of the
// environment.
func SetSpec(spec string) {
	mu.Lock()
	defer mu.Unlock()
	levels, defaultLevel = parseSpec(spec)
}

// SetOutput redirects the sink.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// Enabled reports whether a message at the given verbosity would be
// emitted for the module.
func Enabled(m Module, level int) bool {
	mu.RLock()
	defer mu.RUnlock()
	lv, ok := levels[m]
	if !ok {
		lv = defaultLevel
	}
	return level <= lv
}

// Logf emits one formatted diagnostic line if the module's verbosity
// admits it.
func Logf(m Module, level int, format string, args ...any) {
	if !Enabled(m, level) {
		return
	}
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Log().
		Str("module", string(m)).
		Int("verbosity", level).
		Msg(fmt.Sprintf(format, args...))
}
