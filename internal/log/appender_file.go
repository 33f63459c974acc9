package log

import "gopkg.in/natefinch/lumberjack.v2"

// AddFileAppender attaches a rotated file writer (via lumberjack) to m.
func (m *MultiWriter) AddFileAppender(opt FileOutput) *MultiWriter {
	writer := &lumberjack.Logger{
		Filename:   opt.Filename,
		MaxSize:    opt.MaxSizeMB,
		MaxBackups: opt.MaxBackups,
		MaxAge:     opt.MaxAgeDays,
		Compress:   opt.Compress,
	}
	m.writers = append(m.writers, writer)
	return m
}
