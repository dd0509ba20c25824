// Package logger writes leveled, structured JSON lines with automatic
// redaction of email addresses and credentials.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return l
		}
	}
	if strings.EqualFold(s, "warning") {
		return WARN
	}
	return INFO
}

type sink struct {
	mu        sync.Mutex
	level     Level
	redactPII bool
	out       io.Writer
}

// Logger emits one JSON object per line. Child loggers share their parent's
// sink and settings.
type Logger struct {
	sink   *sink
	fields []interface{}
}

var defaultLogger = &Logger{sink: &sink{level: INFO, redactPII: true, out: os.Stderr}}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	defaultLogger.sink.mu.Lock()
	defaultLogger.sink.level = l
	defaultLogger.sink.mu.Unlock()
}

// SetRedactPII enables or disables email redaction. Credentials are always redacted.
func SetRedactPII(r bool) {
	defaultLogger.sink.mu.Lock()
	defaultLogger.sink.redactPII = r
	defaultLogger.sink.mu.Unlock()
}

// SetOutput redirects the default logger. Used by tests.
func SetOutput(w io.Writer) {
	defaultLogger.sink.mu.Lock()
	defaultLogger.sink.out = w
	defaultLogger.sink.mu.Unlock()
}

// With returns a child logger that adds the given key/value pairs to every entry.
func With(fields ...interface{}) *Logger {
	return defaultLogger.With(fields...)
}

// With returns a child of l carrying extra fields.
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{
		sink:   l.sink,
		fields: append(append([]interface{}{}, l.fields...), fields...),
	}
}

func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields) }
func Info(msg string, fields ...interface{})  { defaultLogger.log(INFO, msg, fields) }
func Warn(msg string, fields ...interface{})  { defaultLogger.log(WARN, msg, fields) }
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields) }

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	all := append(append([]interface{}{}, l.fields...), fields...)
	for i := 0; i < len(all)-1; i += 2 {
		key := fmt.Sprintf("%v", all[i])
		var val string
		if err, ok := all[i+1].(error); ok && err != nil {
			val = err.Error()
		} else {
			val = fmt.Sprintf("%v", all[i+1])
		}
		entry[key] = redactValue(key, val, s.redactPII)
	}

	data, _ := json.Marshal(entry)
	fmt.Fprintln(s.out, string(data))
}
