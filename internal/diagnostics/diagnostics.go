// Package diagnostics is the message sink of a weaving pass. Errors are
// collected so one run surfaces every independent problem; fatal messages
// unwind the pass immediately.
package diagnostics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Severity of a message.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// DefaultErrorCeiling is the number of errors after which a pass gives up.
const DefaultErrorCeiling = 10

// Message is one reported diagnostic.
type Message struct {
	Severity Severity
	Code     Code
	Target   string
	Text     string
}

func (m Message) String() string {
	if m.Target == "" {
		return fmt.Sprintf("%s %s: %s", m.Severity, m.Code, m.Text)
	}
	return fmt.Sprintf("%s %s: %s: %s", m.Severity, m.Code, m.Target, m.Text)
}

// FatalError unwinds a weaving pass. It is raised by Sink.Write and must
// only be recovered at the pass boundary.
type FatalError struct {
	Message Message
}

func (e *FatalError) Error() string { return e.Message.String() }

// Sink collects the messages of one pass.
type Sink struct {
	mu       sync.Mutex
	messages []Message
	errors   int
	ceiling  int
	logger   *zap.Logger
}

// NewSink creates a sink that stops the pass after ceiling errors. A
// non-positive ceiling selects DefaultErrorCeiling.
func NewSink(logger *zap.Logger, ceiling int) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ceiling <= 0 {
		ceiling = DefaultErrorCeiling
	}
	return &Sink{ceiling: ceiling, logger: logger}
}

// Write records a message built from the catalog entry of code. A Fatal
// message panics with *FatalError after being recorded.
func (s *Sink) Write(severity Severity, code Code, target string, args ...any) {
	msg := Message{Severity: severity, Code: code, Target: target, Text: code.Format(args...)}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	if severity >= Error {
		s.errors++
	}
	s.mu.Unlock()

	fields := []zap.Field{zap.String("code", string(code))}
	if target != "" {
		fields = append(fields, zap.String("target", target))
	}
	switch severity {
	case Info:
		s.logger.Info(msg.Text, fields...)
	case Warning:
		s.logger.Warn(msg.Text, fields...)
	default:
		s.logger.Error(msg.Text, fields...)
	}

	if severity == Fatal {
		panic(&FatalError{Message: msg})
	}
}

// Checkpoint aborts the pass once the error count exceeds the ceiling. It is
// called between pipeline stages, never in the middle of an operation.
func (s *Sink) Checkpoint() {
	s.mu.Lock()
	errors, ceiling := s.errors, s.ceiling
	s.mu.Unlock()
	if errors > ceiling {
		s.Write(Fatal, AW0002, "", errors)
	}
}

// Messages returns a copy of everything reported so far.
func (s *Sink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// ErrorCount returns the number of Error and Fatal messages.
func (s *Sink) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// HasErrors reports whether any Error or Fatal message was written.
func (s *Sink) HasErrors() bool { return s.ErrorCount() > 0 }

// Has reports whether a message with the given code was written.
func (s *Sink) Has(code Code) bool {
	for _, m := range s.Messages() {
		if m.Code == code {
			return true
		}
	}
	return false
}

// Summary renders the messages grouped by severity, most severe first.
func (s *Sink) Summary() string {
	msgs := s.Messages()
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Severity > msgs[j].Severity })
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Recover converts a fatal unwind into a returned error. Use it deferred at
// the pass boundary; any other panic is re-raised.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if fatal, ok := r.(*FatalError); ok {
		*err = fatal
		return
	}
	panic(r)
}
