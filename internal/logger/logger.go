package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	json bool
	base *logrus.Logger
}

func New(jsonOutput bool) *Logger {
	return NewWithWriter(os.Stdout, jsonOutput)
}

// NewWithWriter builds a logger that writes to w instead of stdout.
func NewWithWriter(w io.Writer, jsonOutput bool) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(logrus.InfoLevel)
	if jsonOutput {
		base.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
			},
		})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	}
	return &Logger{json: jsonOutput, base: base}
}

// Discard returns a logger that drops everything. Handy for tests and library callers.
func Discard() *Logger {
	return NewWithWriter(io.Discard, false)
}

func (l *Logger) log(level logrus.Level, msg string, fields map[string]any) {
	if l == nil || l.base == nil {
		return
	}
	if len(fields) == 0 {
		l.base.Log(level, msg)
		return
	}
	l.base.WithFields(logrus.Fields(fields)).Log(level, msg)
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(logrus.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(logrus.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(logrus.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(logrus.ErrorLevel, msg, fields) }

// SetVerbose enables debug level output.
func (l *Logger) SetVerbose(on bool) {
	if on {
		l.base.SetLevel(logrus.DebugLevel)
		return
	}
	l.base.SetLevel(logrus.InfoLevel)
}

// JSONEnabled reports whether this logger is configured to emit JSON output.
func (l *Logger) JSONEnabled() bool { return l.json }
