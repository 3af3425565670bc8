// Package stagelog provides the structured logging interface threaded
// through every stagepipe component. It mirrors the small "Modular"
// contract used across the wider pipeline ecosystem so call sites never
// depend on a concrete logging backend.
package stagelog

import (
	"fmt"
	"log/slog"
	"os"
)

// Modular is the logging interface every stagepipe component depends on.
// Implementations must be safe for concurrent use.
type Modular interface {
	Errorf(format string, v ...any)
	Warnf(format string, v ...any)
	Infof(format string, v ...any)
	Debugf(format string, v ...any)

	// With returns a derived logger that annotates every subsequent line
	// with the given structured key/value pairs.
	With(keyValues ...any) Modular
}

// Noop discards every log line. Useful as a zero-value default so
// constructors never need a nil check.
type Noop struct{}

func (Noop) Errorf(string, ...any) {}
func (Noop) Warnf(string, ...any)  {}
func (Noop) Infof(string, ...any)  {}
func (Noop) Debugf(string, ...any) {}
func (n Noop) With(...any) Modular { return n }

type slogHandler struct {
	slog *slog.Logger
}

// NewSlog wraps a *slog.Logger as a Modular logger.
func NewSlog(l *slog.Logger) Modular {
	if l == nil {
		l = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &slogHandler{slog: l}
}

func (l *slogHandler) With(keyValues ...any) Modular {
	c := *l
	c.slog = l.slog.With(keyValues...)
	return &c
}

func (l *slogHandler) Errorf(format string, v ...any) {
	l.slog.Error(fmt.Sprintf(format, v...))
}

func (l *slogHandler) Warnf(format string, v ...any) {
	l.slog.Warn(fmt.Sprintf(format, v...))
}

func (l *slogHandler) Infof(format string, v ...any) {
	l.slog.Info(fmt.Sprintf(format, v...))
}

func (l *slogHandler) Debugf(format string, v ...any) {
	l.slog.Debug(fmt.Sprintf(format, v...))
}
