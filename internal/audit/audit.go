package audit

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeEncrypt represents a packet encode operation.
	EventTypeEncrypt EventType = "encrypt"
	// EventTypeDecrypt represents a packet decode operation.
	EventTypeDecrypt EventType = "decrypt"
)

// Event represents a single audit log event.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	EventType EventType     `json:"event_type"`
	Source    string        `json:"source,omitempty"`
	Algorithm string        `json:"algorithm,omitempty"`
	Bytes     int64         `json:"bytes"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *Event) error

	// LogEncrypt logs an encode operation.
	LogEncrypt(source, algorithm string, bytes int64, err error, duration time.Duration)

	// LogDecrypt logs a decode operation.
	LogDecrypt(source, algorithm string, bytes int64, err error, duration time.Duration)

	// Events returns a copy of the retained events.
	Events() []*Event
}

// auditLogger implements the Logger interface. Events are written as JSON
// lines to the sink and retained in a bounded in-memory buffer for
// querying.
type auditLogger struct {
	mu        sync.Mutex
	events    []*Event
	maxEvents int
	sink      io.Writer
}

// NewLogger creates a new audit logger. A nil sink keeps events in memory
// only.
func NewLogger(maxEvents int, sink io.Writer) Logger {
	return &auditLogger{
		events:    make([]*Event, 0, maxEvents),
		maxEvents: maxEvents,
		sink:      sink,
	}
}

// Log logs an audit event.
func (l *auditLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sink != nil {
		line, err := json.Marshal(event)
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := l.sink.Write(line); err != nil {
			return err
		}
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
	return nil
}

// LogEncrypt logs an encode operation.
func (l *auditLogger) LogEncrypt(source, algorithm string, bytes int64, err error, duration time.Duration) {
	l.logOp(EventTypeEncrypt, source, algorithm, bytes, err, duration)
}

// LogDecrypt logs a decode operation.
func (l *auditLogger) LogDecrypt(source, algorithm string, bytes int64, err error, duration time.Duration) {
	l.logOp(EventTypeDecrypt, source, algorithm, bytes, err, duration)
}

func (l *auditLogger) logOp(et EventType, source, algorithm string, bytes int64, err error, duration time.Duration) {
	event := &Event{
		Timestamp: time.Now(),
		EventType: et,
		Source:    source,
		Algorithm: algorithm,
		Bytes:     bytes,
		Success:   err == nil,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// Events returns a copy of the retained events.
func (l *auditLogger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*Event, len(l.events))
	copy(events, l.events)
	return events
}
