package pointbucket

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/pointbucket/rendergraph"
)

// nopHandler is a slog.Handler that discards all log records. Enabled
// returns false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for pointbucket and its render graphs.
// By default nothing is logged. Pass nil to restore the silent default.
//
// Log levels used:
//   - [slog.LevelDebug]: grid layout, buffer sizes, per-phase completion
//   - [slog.LevelInfo]: device graph creation
//   - [slog.LevelWarn]: resource release failures
//
// Example:
//
//	pointbucket.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	rendergraph.SetLogger(l)
}

// Logger returns the current package logger. Bucketeers created with
// WithLogger use their own logger instead.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
