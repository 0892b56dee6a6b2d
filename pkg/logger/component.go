package logger

import (
	"fmt"
	"strings"
)

// ComponentLogger tags every line with a component name and renders
// trailing key/value pairs as key=value.
type ComponentLogger struct {
	component string
	base      *Logger
}

// WithComponent returns a logger for the named component. When base is
// omitted the default logger is used at call time, so component loggers
// created before Init still write once the default logger exists.
func WithComponent(component string, base ...*Logger) *ComponentLogger {
	cl := &ComponentLogger{component: component}
	if len(base) > 0 {
		cl.base = base[0]
	}
	return cl
}

func (c *ComponentLogger) target() *Logger {
	if c.base != nil {
		return c.base
	}
	return current()
}

func (c *ComponentLogger) emit(level LogLevel, msg string, kv []interface{}) {
	l := c.target()
	if l == nil || !l.shouldLog(level) {
		return
	}
	l.write(level, formatLine(c.component, msg, kv))
}

// Debug logs at debug level
func (c *ComponentLogger) Debug(msg string, kv ...interface{}) {
	c.emit(LevelDebug, msg, kv)
}

// Info logs at info level
func (c *ComponentLogger) Info(msg string, kv ...interface{}) {
	c.emit(LevelInfo, msg, kv)
}

// Warn logs at warn level
func (c *ComponentLogger) Warn(msg string, kv ...interface{}) {
	c.emit(LevelWarn, msg, kv)
}

// Error logs at error level
func (c *ComponentLogger) Error(msg string, kv ...interface{}) {
	c.emit(LevelError, msg, kv)
}

func formatLine(component, msg string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)

	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			fmt.Fprintf(&b, " %s=<missing>", key)
			break
		}
		val := fmt.Sprint(kv[i+1])
		if strings.ContainsAny(val, " \t\n\"") {
			val = fmt.Sprintf("%q", val)
		}
		fmt.Fprintf(&b, " %s=%s", key, val)
	}
	return b.String()
}
