// Package social is the thin delegate for block/report bookkeeping that
// spec.md §1 places outside the core ("social safety bookkeeping ...
// described only by the operations the core invokes on it"). No teacher
// equivalent exists — tinode/chat resolves blocking through topic
// access-mode bits, a mechanism this relay's plain identity model has no
// use for — so this is written fresh, in the teacher's general
// error-handling idiom (typed errors, no payload logging).
package social

import (
	"context"

	"github.com/rs/zerolog"
)

// Logger records block/report actions. A real deployment would persist
// these; the core only needs the operation recorded and acknowledged.
type Logger struct {
	log zerolog.Logger
}

// New constructs a Logger.
func New(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Str("component", "social").Logger()}
}

// BlockUser records that actor has blocked target.
func (l *Logger) BlockUser(_ context.Context, actor, target string) error {
	l.log.Info().Str("actor", actor).Str("target", target).Msg("user blocked")
	return nil
}

// ReportUser records that actor has reported target with the given
// reason.
func (l *Logger) ReportUser(_ context.Context, actor, target, reason string) error {
	l.log.Info().Str("actor", actor).Str("target", target).Str("reason", reason).Msg("user reported")
	return nil
}
