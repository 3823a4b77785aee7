package tracing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshell/internal/shared/id"
)

// Span is one timed operation within a launch
type Span struct {
	ID        id.SpanID         `json:"id"`
	Name      string            `json:"name"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Duration  time.Duration     `json:"duration"`
	Tags      map[string]string `json:"tags,omitempty"`
	Error     string            `json:"error,omitempty"`

	trace *Trace
}

// Trace records the spans of a single launch
type Trace struct {
	launch id.LaunchID
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	spans []*Span
}

// New creates a trace for one launch
func New(launch id.LaunchID, logger *zap.Logger) *Trace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trace{
		launch: launch,
		logger: logger,
		now:    time.Now,
	}
}

// LaunchID returns the launch this trace belongs to
func (t *Trace) LaunchID() id.LaunchID {
	return t.launch
}

// StartSpan opens a span; call Finish on it when the operation ends
func (t *Trace) StartSpan(name string) *Span {
	return &Span{
		ID:        id.NewSpanID(),
		Name:      name,
		StartTime: t.now(),
		Tags:      make(map[string]string),
		trace:     t,
	}
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records an error in the span
func (s *Span) SetError(err error) {
	if err != nil {
		s.Error = err.Error()
	}
}

// Finish closes the span and records it on its trace
func (s *Span) Finish() {
	t := s.trace
	s.EndTime = t.now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	t.mu.Lock()
	t.spans = append(t.spans, s)
	t.mu.Unlock()

	fields := []zap.Field{
		zap.String("launch_id", t.launch.String()),
		zap.String("span", s.Name),
		zap.Duration("duration", s.Duration),
	}
	for k, v := range s.Tags {
		fields = append(fields, zap.String(k, v))
	}
	if s.Error != "" {
		t.logger.Warn("Span finished with error", append(fields, zap.String("error", s.Error))...)
		return
	}
	t.logger.Debug("Span finished", fields...)
}

// Spans returns a copy of the finished spans in completion order
func (t *Trace) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Span, len(t.spans))
	for i, s := range t.spans {
		out[i] = *s
		out[i].trace = nil
	}
	return out
}
