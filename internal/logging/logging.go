// Package logging builds the process-wide structured logger. Every
// component derives a child logger from New's result carrying a
// component= field, and mission/provider loggers add further fields
// on top, so a single event line can be filtered by any of them.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// New builds the root logger for level (trace/debug/info/warn/error).
// Output is human-readable console formatting when w is a TTY, JSON
// lines otherwise.
func New(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = w
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the given component
// name, the convention every package under internal/ follows when
// logging.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Mission returns a child logger additionally tagged with a mission id.
func Mission(base zerolog.Logger, missionID string) zerolog.Logger {
	return base.With().Str("mission_id", missionID).Logger()
}

// Provider returns a child logger additionally tagged with an OAuth
// provider name.
func Provider(base zerolog.Logger, provider string) zerolog.Logger {
	return base.With().Str("provider", provider).Logger()
}
