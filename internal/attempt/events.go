// internal/attempt/events.go
package attempt

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Event is one per-iteration progress record.
type Event struct {
	AttemptID string
	Job       string
	Iteration int
	State     State
	Question  string
	Answer    string
	Rule      string
	Strategy  string
	Reason    Reason
}

// Reporter receives progress events. Implementations must not block; nothing in
// the attempt depends on delivery.
type Reporter interface {
	Report(Event)
}

// LogReporter writes events as structured log entries.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter returns a Reporter backed by logger.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger.Named("reporter")}
}

func (r *LogReporter) Report(e Event) {
	fields := []zap.Field{
		zap.String("attempt_id", e.AttemptID),
		zap.Int("iteration", e.Iteration),
		zap.Stringer("state", e.State),
	}
	if e.Job != "" {
		fields = append(fields, zap.String("job", e.Job))
	}
	if e.Question != "" {
		fields = append(fields, zap.String("question", e.Question))
	}
	if e.Answer != "" {
		fields = append(fields, zap.String("answer", e.Answer))
	}
	if e.Rule != "" {
		fields = append(fields, zap.String("rule", e.Rule))
	}
	if e.Strategy != "" {
		fields = append(fields, zap.String("strategy", e.Strategy))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", string(e.Reason)))
	}
	r.logger.Info("Attempt step.", fields...)
}

type nopReporter struct{}

func (nopReporter) Report(Event) {}

// Outcome is what a finished attempt reports to its caller.
type Outcome struct {
	JobReference string        `json:"job_reference"`
	Applied      bool          `json:"applied"`
	Reason       string        `json:"reason,omitempty"`
	AttemptID    string        `json:"attempt_id,omitempty"`
	State        string        `json:"state,omitempty"`
	Iterations   int           `json:"iterations"`
	Duration     time.Duration `json:"duration"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// OutcomeSink persists or forwards outcomes.
type OutcomeSink interface {
	Emit(ctx context.Context, o Outcome) error
}

// SinkFunc adapts a function to OutcomeSink.
type SinkFunc func(ctx context.Context, o Outcome) error

func (f SinkFunc) Emit(ctx context.Context, o Outcome) error { return f(ctx, o) }

// MultiSink fans an outcome out to every sink. A failing sink does not stop the
// others; their errors are joined.
type MultiSink []OutcomeSink

func (m MultiSink) Emit(ctx context.Context, o Outcome) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink logs every outcome.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns an OutcomeSink that writes to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("outcome")}
}

func (s *LogSink) Emit(_ context.Context, o Outcome) error {
	fields := []zap.Field{
		zap.String("job", o.JobReference),
		zap.Bool("applied", o.Applied),
		zap.String("reason", o.Reason),
		zap.String("attempt_id", o.AttemptID),
		zap.Int("iterations", o.Iterations),
		zap.Duration("duration", o.Duration),
	}
	if o.Applied {
		s.logger.Info("Application submitted.", fields...)
	} else {
		s.logger.Warn("Application not submitted.", fields...)
	}
	return nil
}

// Recorder receives counters from attempts. The metrics package implements it.
type Recorder interface {
	CommitStrategy(strategy string)
	Unanswered()
	Finished(o Outcome)
}

type nopRecorder struct{}

func (nopRecorder) CommitStrategy(string) {}
func (nopRecorder) Unanswered()           {}
func (nopRecorder) Finished(Outcome)      {}
