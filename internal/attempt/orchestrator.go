// File: internal/attempt/orchestrator.go
// Description: Drives one application attempt through the classify, resolve,
// commit, advance and verify loop until it reaches a terminal state.

// Package attempt runs a single job application flow as an explicit state machine.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/form"
	"github.com/xkilldash9x/applypilot/internal/observability"
	"github.com/xkilldash9x/applypilot/internal/page"
	"github.com/xkilldash9x/applypilot/internal/profile"
)

// Resolver infers an answer and names the rule that produced it.
type Resolver interface {
	Explain(q form.QuestionState, p *profile.Profile) (*form.Candidate, string)
}

// Orchestrator owns the form components and runs attempts with them. It keeps no
// per-attempt state, so one Orchestrator may run attempts for different pages in
// parallel.
type Orchestrator struct {
	cfg        config.EngineConfig
	classifier *form.Classifier
	resolver   Resolver
	committer  *form.Committer
	advancer   *form.Advancer
	verifier   *form.Verifier
	reporter   Reporter
	sink       OutcomeSink
	recorder   Recorder
	logger     *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReporter sets the per-iteration event receiver.
func WithReporter(r Reporter) Option { return func(o *Orchestrator) { o.reporter = r } }

// WithSink sets where terminal outcomes are emitted.
func WithSink(s OutcomeSink) Option { return func(o *Orchestrator) { o.sink = s } }

// WithRecorder sets the metrics receiver.
func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// New builds an Orchestrator and its form components from cfg.
func New(cfg *config.Config, resolver Resolver, typist form.Typist, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || resolver == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	verifier, err := form.NewVerifier(cfg.Selectors, cfg.Verification, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build completion verifier: %w", err)
	}
	o := &Orchestrator{
		cfg:        cfg.Engine,
		classifier: form.NewClassifier(cfg.Selectors, logger),
		resolver:   resolver,
		committer:  form.NewCommitter(typist, cfg.Engine.CommitTimeout, logger),
		advancer:   form.NewAdvancer(cfg.Selectors, cfg.Engine.SettleInterval, cfg.Engine.PollInterval, logger),
		verifier:   verifier,
		reporter:   nopReporter{},
		sink:       SinkFunc(func(context.Context, Outcome) error { return nil }),
		recorder:   nopRecorder{},
		logger:     logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// run is the mutable state of one attempt.
type run struct {
	o      *Orchestrator
	p      page.Page
	prof   *profile.Profile
	stop   *StopFlag
	a      *Attempt
	logger *zap.Logger

	skip       map[string]bool
	unanswered map[string]bool
	transient  int

	screen  form.Screen
	verdict form.Decision
	fatal   error
}

var errStopped = errors.New("attempt: stop requested")

// Run drives one attempt on p until Succeeded, Failed or Abandoned. The returned
// error is non-nil only when the session was lost; every other outcome is
// described by the Outcome's Reason.
func (o *Orchestrator) Run(ctx context.Context, p page.Page, job string, prof *profile.Profile, stop *StopFlag) (Outcome, *Attempt, error) {
	a := newAttempt(job)
	r := &run{
		o:          o,
		p:          p,
		prof:       prof,
		stop:       stop,
		a:          a,
		logger:     observability.ForAttempt(o.logger, job, a.ID),
		skip:       make(map[string]bool),
		unanswered: make(map[string]bool),
	}
	r.logger.Info("Starting application attempt.")

	for !a.State.Terminal() {
		if s, reason, ok := r.interrupted(ctx); ok {
			r.finish(s, reason)
			break
		}
		var err error
		switch a.State {
		case Scanning:
			err = r.scan(ctx)
		case Answering:
			err = r.answer(ctx)
		case Advancing:
			err = r.advance(ctx)
		case Verifying:
			err = r.verify(ctx)
		}
		if err != nil {
			r.handle(ctx, err)
		}
	}

	out := r.outcome()
	// A stopped attempt still records its outcome.
	if err := o.sink.Emit(context.WithoutCancel(ctx), out); err != nil {
		r.logger.Warn("Failed to emit outcome.", zap.Error(err))
	}
	o.recorder.Finished(out)
	r.logger.Info("Application attempt finished.",
		zap.Stringer("state", a.State),
		zap.String("reason", string(a.LastFailureReason)),
		zap.Int("iterations", a.Iterations))
	return out, a, r.fatal
}

func (r *run) stopped(ctx context.Context) bool {
	return r.stop.Stopped() || ctx.Err() != nil
}

// interrupted reports how the attempt ends when it can no longer continue. A
// stop request or a cancelled context abandons it; running out of the time
// allowed for one attempt fails it.
func (r *run) interrupted(ctx context.Context) (State, Reason, bool) {
	switch {
	case r.stop.Stopped():
		return Abandoned, ReasonStopped, true
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Failed, ReasonTimedOut, true
	case ctx.Err() != nil:
		return Abandoned, ReasonStopped, true
	}
	return 0, "", false
}

// handle maps a step error to the terminal state it implies.
func (r *run) handle(ctx context.Context, err error) {
	switch {
	case page.IsFatal(err):
		r.fatal = &Error{Reason: ReasonSessionLost, Err: err}
		r.logger.Error("Page session lost.", zap.Error(err))
		r.finish(Failed, ReasonSessionLost)
	case r.stopped(ctx):
		s, reason, _ := r.interrupted(ctx)
		r.finish(s, reason)
	case errors.Is(err, errStopped), errors.Is(err, form.ErrStopped):
		r.finish(Abandoned, ReasonStopped)
	case errors.Is(err, ErrIllegalTransition):
		r.logger.DPanic("State machine violated.", zap.Error(err))
		r.finish(Failed, ReasonTransientUI)
	default:
		r.logger.Error("Unexpected step failure.", zap.Error(err))
		r.finish(Failed, ReasonTransientUI)
	}
}

func (r *run) to(s State) error {
	if err := r.a.to(s); err != nil {
		return err
	}
	r.report(Event{State: s})
	return nil
}

func (r *run) finish(s State, reason Reason) {
	r.a.LastFailureReason = reason
	if err := r.a.to(s); err != nil {
		// Terminal already; keep the first verdict.
		return
	}
	r.report(Event{State: s, Reason: reason})
}

func (r *run) report(e Event) {
	e.AttemptID = r.a.ID
	e.Job = r.a.JobReference
	e.Iteration = r.a.Iterations
	if e.Question == "" && r.screen.Status == form.StatusQuestion {
		e.Question = r.screen.Question.RawText
	}
	r.o.reporter.Report(e)
}

func (r *run) outcome() Outcome {
	return Outcome{
		JobReference: r.a.JobReference,
		Applied:      r.a.State == Succeeded,
		Reason:       string(r.a.LastFailureReason),
		AttemptID:    r.a.ID,
		State:        r.a.State.String(),
		Iterations:   r.a.Iterations,
		Duration:     time.Since(r.a.StartedAt),
		FinishedAt:   time.Now(),
	}
}

// releaseNodes drops the handles of earlier passes before the page is queried
// afresh. Only a lost session is an error.
func (r *run) releaseNodes(ctx context.Context) error {
	rel, ok := r.p.(page.NodeReleaser)
	if !ok {
		return nil
	}
	if err := rel.ReleaseNodes(ctx); page.IsFatal(err) {
		return err
	}
	return nil
}

func (r *run) scan(ctx context.Context) error {
	cfg := r.o.cfg
	if r.a.Iterations >= cfg.IterationCap {
		r.finish(Abandoned, ReasonIterationExhausted)
		return nil
	}
	if len(r.unanswered) > cfg.MaxUnanswered {
		r.finish(Abandoned, ReasonAmbiguousQuestion)
		return nil
	}
	r.a.Iterations++

	if err := r.releaseNodes(ctx); err != nil {
		return err
	}

	// A screen that already shows a verdict goes straight to verification.
	d, _, err := r.o.verifier.Check(ctx, r.p)
	if err != nil && !errors.Is(err, page.ErrStaleNode) {
		return err
	}
	if err == nil && d != form.InProgress {
		r.verdict = d
		return r.to(Verifying)
	}

	var screen form.Screen
	err = page.Poll(ctx, cfg.ScanTimeout, cfg.PollInterval, func(ctx context.Context) (bool, error) {
		if r.stop.Stopped() {
			return false, errStopped
		}
		if err := r.releaseNodes(ctx); err != nil {
			return false, err
		}
		s, err := r.o.classifier.Classify(ctx, r.p, r.skip)
		if errors.Is(err, page.ErrStaleNode) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		screen = s
		return s.Status != form.StatusTransient, nil
	})
	if errors.Is(err, page.ErrTimeout) {
		r.transient++
		r.a.LastFailureReason = ReasonTransientUI
		r.logger.Debug("Screen still rendering.", zap.Int("consecutive", r.transient))
		if r.transient > cfg.TransientRetries {
			r.finish(Failed, ReasonTransientUI)
		}
		return nil
	}
	if err != nil {
		return err
	}
	r.transient = 0
	r.screen = screen

	switch screen.Status {
	case form.StatusTerminal:
		r.verdict = form.InProgress
		return r.to(Verifying)
	case form.StatusQuestion:
		r.logger.Debug("Question found.",
			zap.String("question", screen.Question.RawText),
			zap.Stringer("kind", screen.Question.Kind),
			zap.Strings("options", screen.Question.Labels()))
	}
	// StatusReady also goes through Answering, with nothing left to commit.
	return r.to(Answering)
}

func (r *run) answer(ctx context.Context) error {
	s := r.screen
	if s.Status != form.StatusQuestion {
		// Every field is filled; the commit is vacuous and the screen only needs advancing.
		if _, err := r.o.committer.Commit(ctx, r.p, nil, form.QuestionState{}, form.Candidate{}); err != nil {
			return err
		}
		return r.to(Advancing)
	}

	q := s.Question
	cand, rule := r.o.resolver.Explain(q, r.prof)
	if cand == nil {
		r.unanswerable(q, ReasonAmbiguousQuestion, nil)
		return r.to(Scanning)
	}

	strategy, err := r.o.committer.Commit(ctx, r.p, s.Widget, q, *cand)
	switch {
	case err == nil:
		r.o.recorder.CommitStrategy(strategy)
		r.report(Event{State: Answering, Question: q.RawText, Answer: cand.String(), Rule: rule, Strategy: strategy})
		return r.to(Advancing)
	case page.IsFatal(err):
		return err
	case errors.Is(err, form.ErrWidgetMismatch):
		// Conversion was already tried by the committer; the question is treated as
		// unanswerable from here on.
		r.unanswerable(q, ReasonAmbiguousQuestion, err)
		return r.to(Scanning)
	case r.stopped(ctx):
		return errStopped
	}
	r.a.LastFailureReason = ReasonTransientUI
	r.logger.Debug("Commit interrupted; rescanning.", zap.Error(err))
	return r.to(Scanning)
}

func (r *run) unanswerable(q form.QuestionState, reason Reason, cause error) {
	r.skip[q.RawText] = true
	r.unanswered[q.RawText] = true
	r.a.LastFailureReason = reason
	r.o.recorder.Unanswered()
	r.logger.Warn("Question left unanswered.",
		zap.String("question", q.RawText),
		zap.Stringer("kind", q.Kind),
		zap.Int("unanswered", len(r.unanswered)),
		zap.Error(cause))
}

func (r *run) advance(ctx context.Context) error {
	label, err := r.o.advancer.Advance(ctx, r.p, r.stop.Stopped)
	switch {
	case err == nil:
		r.report(Event{State: Advancing, Answer: label})
	case page.IsFatal(err):
		return err
	case errors.Is(err, form.ErrNoProgressionControl):
		r.a.LastFailureReason = ReasonNoProgressionControl
		r.logger.Debug("No progression control on screen.")
	case r.stopped(ctx):
		return errStopped
	default:
		r.a.LastFailureReason = ReasonTransientUI
		r.logger.Debug("Advance failed; rescanning.", zap.Error(err))
	}
	r.screen = form.Screen{}
	return r.to(Scanning)
}

func (r *run) verify(ctx context.Context) error {
	d := r.verdict
	if d == form.InProgress {
		var err error
		d, _, err = r.o.verifier.Await(ctx, r.p, r.o.cfg.VerifyTimeout, r.o.cfg.PollInterval, r.stop.Stopped)
		if err != nil {
			return err
		}
	}
	switch d {
	case form.Succeeded:
		r.finish(Succeeded, ReasonConfirmed)
	case form.Failed:
		r.finish(Failed, ReasonVerificationFailed)
	default:
		r.finish(Failed, ReasonUnverified)
	}
	return nil
}
