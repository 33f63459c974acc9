package log

// Config configures the process-wide logger. It is populated from the
// LogLevel config keyword (spec.md §6) plus a small set of fluxcap-specific
// knobs (pattern, file rotation) that have no counterpart in the original
// spec's config grammar but follow the teacher's logging conventions.
type Config struct {
	Level   string
	Pattern string
	Time    string
	File    FileOutput
}

// FileOutput configures rotated file logging via lumberjack, mirroring the
// teacher's FileAppenderOptions.
type FileOutput struct {
	Enabled    bool
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

const (
	defaultPattern    = "%time [%level] %field%msg\n"
	defaultTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)
