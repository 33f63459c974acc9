// Package log provides the structured logging façade used throughout fluxcap.
package log

import "sync"

// Logger is the logging interface every package in fluxcap depends on,
// instead of reaching for logrus directly. Backed by logrus, see logger.go.
type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	mu     sync.RWMutex
	logger Logger = newLogger(Config{Level: "info", Pattern: defaultPattern, Time: defaultTimeFormat})
)

// GetLogger returns the process-wide logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init installs the process-wide logger from configuration. Re-entrant
// (unlike a sync.Once guarded Init) so that a SIGHUP config reload can pick
// up a new LogLevel without restarting the process (spec.md §6).
func Init(cfg Config) {
	l := newLogger(cfg)
	mu.Lock()
	logger = l
	mu.Unlock()
}
