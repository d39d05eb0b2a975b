// utils/logging.go
package utils

import (
	"io"

	"github.com/decred/slog"
)

// Subsystem tags.
const (
	SubGame      = "GAME"
	SubRegistry  = "REG"
	SubBracket   = "BRKT"
	SubStats     = "STAT"
	SubScheduler = "SCHD"
	SubSync      = "SYNC"
	SubHTTP      = "HTTP"
	SubWS        = "WS"
)

// Loggers hands out one slog.Logger per subsystem, all sharing a backend
// and level.
type Loggers struct {
	backend *slog.Backend
	level   slog.Level
	subs    map[string]slog.Logger
}

func NewLoggers(w io.Writer, level string) *Loggers {
	lvl, ok := slog.LevelFromString(level)
	if !ok {
		lvl = slog.LevelInfo
	}
	return &Loggers{
		backend: slog.NewBackend(w),
		level:   lvl,
		subs:    make(map[string]slog.Logger),
	}
}

func (l *Loggers) Logger(tag string) slog.Logger {
	if lg, ok := l.subs[tag]; ok {
		return lg
	}
	lg := l.backend.Logger(tag)
	lg.SetLevel(l.level)
	l.subs[tag] = lg
	return lg
}
