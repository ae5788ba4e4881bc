package agentcore

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger is the structured logging surface the turn pipeline writes
// to. Fields are alternating key/value pairs; the pipeline keys its
// entries by thread_id and user_id so one conversation can be traced
// end to end.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NoOpLogger discards everything. Constructors fall back to it when
// the caller passes a nil logger.
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, fields ...interface{}) {}
func (l *NoOpLogger) Info(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Error(msg string, fields ...interface{}) {}

// StdLogger writes timestamped key=value lines to stderr via the
// standard log package. Meant for tests and local runs; the daemon
// uses the zap adapter.
type StdLogger struct {
	prefix string
	out    *log.Logger
}

func NewStdLogger(prefix string) *StdLogger {
	return &StdLogger{
		prefix: prefix,
		out:    log.New(os.Stderr, "", log.LstdFlags|log.LUTC),
	}
}

func (l *StdLogger) Debug(msg string, fields ...interface{}) {
	l.write("DEBUG", msg, fields)
}

func (l *StdLogger) Info(msg string, fields ...interface{}) {
	l.write("INFO", msg, fields)
}

func (l *StdLogger) Warn(msg string, fields ...interface{}) {
	l.write("WARN", msg, fields)
}

func (l *StdLogger) Error(msg string, fields ...interface{}) {
	l.write("ERROR", msg, fields)
}

func (l *StdLogger) write(level, msg string, fields []interface{}) {
	var b strings.Builder
	if l.prefix != "" {
		b.WriteString(l.prefix)
		b.WriteByte(' ')
	}
	b.WriteByte('[')
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 == 1 {
		// Dangling key without a value; keep it visible rather than drop it.
		fmt.Fprintf(&b, " %v=?", fields[len(fields)-1])
	}
	out := l.out
	if out == nil {
		out = log.New(os.Stderr, "", log.LstdFlags|log.LUTC)
	}
	out.Println(b.String())
}
