package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
)

// Logger is a prefixed, level-filtered logger. A nil *Logger is valid and
// discards everything, so components can be constructed without one. It is
// safe for concurrent usage.
type Logger struct {
	// prefix is the dotted sublogger path.
	prefix string
	// level is the maximum level that will be emitted.
	level Level
	// output is the underlying standard logger.
	output *log.Logger
}

// NewLogger creates a root logger writing to w at the specified level.
func NewLogger(w io.Writer, level Level) *Logger {
	return &Logger{
		level:  level,
		output: log.New(w, "", log.LstdFlags),
	}
}

// RootLogger is the process-wide default logger writing to standard error.
var RootLogger = NewLogger(os.Stderr, LevelInfo)

// Sublogger creates a new logger whose prefix is extended by name.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}

	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}

	return &Logger{
		prefix: prefix,
		level:  l.level,
		output: l.output,
	}
}

// Level returns the logger's level.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelDisabled
	}
	return l.level
}

func (l *Logger) emit(level Level, line string) {
	if l == nil || l.level < level {
		return
	}
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	l.output.Output(3, line)
}

// Error logs an error in red.
func (l *Logger) Error(err error) {
	l.emit(LevelError, color.RedString("Error: %v", err))
}

// Errorf logs a formatted error in red.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.emit(LevelError, color.RedString("Error: "+format, v...))
}

// Warn logs a non-fatal error in yellow.
func (l *Logger) Warn(err error) {
	l.emit(LevelWarn, color.YellowString("Warning: %v", err))
}

// Warnf logs a formatted warning in yellow.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.emit(LevelWarn, color.YellowString("Warning: "+format, v...))
}

// Info logs with fmt.Sprint semantics.
func (l *Logger) Info(v ...interface{}) {
	l.emit(LevelInfo, fmt.Sprint(v...))
}

// Infof logs with fmt.Sprintf semantics.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.emit(LevelInfo, fmt.Sprintf(format, v...))
}

// Debugf logs with fmt.Sprintf semantics at debug level.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.emit(LevelDebug, fmt.Sprintf(format, v...))
}

// Tracef logs with fmt.Sprintf semantics at trace level.
func (l *Logger) Tracef(format string, v ...interface{}) {
	l.emit(LevelTrace, fmt.Sprintf(format, v...))
}
