package asyncrt

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// globalLogger is the process-wide default, backed by logiface+stumpy —
// logging is an infrastructure cross-cutting concern shared by every Loop
// in the process unless a Loop overrides it via WithLogger.
var globalLogger struct {
	sync.RWMutex
	l *logiface.Logger[*stumpy.Event]
}

func init() {
	globalLogger.l = stumpy.L.New()
}

// SetLogger installs the package-level structured logger used by Loops that
// don't supply their own via WithLogger.
func SetLogger(l *logiface.Logger[*stumpy.Event]) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.l = l
}

// logger returns the current package-level default logger.
func logger() *logiface.Logger[*stumpy.Event] {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.l
}

// logger returns this Loop's configured logger: whatever was passed to
// WithLogger, or the package-level default if none was.
func (l *Loop) logger() *logiface.Logger[*stumpy.Event] {
	if l.opts != nil && l.opts.logger != nil {
		return l.opts.logger
	}
	return logger()
}

// logRate asks the Loop's rate limiter whether category is still allowed to
// log, so that recurring, load-expected events don't flood output. The
// underlying operation this guards is never itself throttled — only the
// diagnostic log call is.
func (l *Loop) logRate(category string) bool {
	if l.opts.rateLimiter == nil {
		return true
	}
	_, ok := l.opts.rateLimiter.Allow(category)
	return ok
}
