// internal/runner/runner.go

// Package runner works through a list of jobs, running one application attempt per
// job on its own page. Attempts for different jobs run in parallel up to the
// configured concurrency and are paced by a token bucket.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/applypilot/internal/attempt"
	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/jobs"
	"github.com/xkilldash9x/applypilot/internal/ledger"
	"github.com/xkilldash9x/applypilot/internal/metrics"
	"github.com/xkilldash9x/applypilot/internal/page"
	"github.com/xkilldash9x/applypilot/internal/profile"
)

// Tab is a page owned by exactly one attempt. Close releases it.
type Tab interface {
	page.Page
	Close() error
}

// Opener opens a job posting and starts its application flow.
type Opener interface {
	Open(ctx context.Context, job jobs.Job) (Tab, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, job jobs.Job) (Tab, error)

func (f OpenerFunc) Open(ctx context.Context, job jobs.Job) (Tab, error) { return f(ctx, job) }

// Attempter runs one attempt on a page.
type Attempter interface {
	Run(ctx context.Context, p page.Page, job string, prof *profile.Profile, stop *attempt.StopFlag) (attempt.Outcome, *attempt.Attempt, error)
}

// Totals are the per-run counters. Every job increments exactly one of them.
type Totals struct {
	Applied   atomic.Int64
	Failed    atomic.Int64
	Abandoned atomic.Int64
	Skipped   atomic.Int64
}

// Summary is the result of a run.
type Summary struct {
	Applied   int64             `json:"applied"`
	Failed    int64             `json:"failed"`
	Abandoned int64             `json:"abandoned"`
	Skipped   int64             `json:"skipped"`
	Outcomes  []attempt.Outcome `json:"outcomes"`
}

// Runner applies to jobs.
type Runner struct {
	cfg     config.RunnerConfig
	attempt Attempter
	opener  Opener
	ledger  ledger.Ledger
	sink    attempt.OutcomeSink
	metrics *metrics.Metrics
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New validates the dependencies and builds a Runner. sink receives the outcomes
// the runner produces itself (skipped and unopened jobs); attempt outcomes are
// emitted by the Attempter.
func New(cfg config.RunnerConfig, a Attempter, opener Opener, l ledger.Ledger, sink attempt.OutcomeSink, m *metrics.Metrics, logger *zap.Logger) (*Runner, error) {
	if a == nil {
		return nil, errors.New("attempter cannot be nil")
	}
	if opener == nil {
		return nil, errors.New("opener cannot be nil")
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	if l == nil {
		l = ledger.NewMemory()
	}
	if sink == nil {
		sink = attempt.SinkFunc(func(context.Context, attempt.Outcome) error { return nil })
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.AttemptsPerMin > 0 {
		limit = rate.Limit(cfg.AttemptsPerMin / 60)
	}

	return &Runner{
		cfg:     cfg,
		attempt: a,
		opener:  opener,
		ledger:  l,
		sink:    sink,
		metrics: m,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("runner"),
	}, nil
}

// Run applies to every job with prof. It returns when all started attempts have
// finished. Once stop is set or ctx ends no further jobs are started.
func (r *Runner) Run(ctx context.Context, list []jobs.Job, prof *profile.Profile, stop *attempt.StopFlag) (*Summary, error) {
	if prof == nil {
		return nil, errors.New("profile cannot be nil")
	}
	r.logger.Info("Starting apply run.",
		zap.Int("jobs", len(list)),
		zap.Int("concurrency", r.cfg.Concurrency),
		zap.Int("retry_budget", r.cfg.RetryBudget))

	totals := &Totals{}
	outcomes := make([]attempt.Outcome, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i, job := range list {
		if stop.Stopped() || gctx.Err() != nil {
			r.logger.Info("Stop requested, not starting remaining jobs.", zap.Int("remaining", len(list)-i))
			for j := i; j < len(list); j++ {
				outcomes[j] = r.skip(ctx, list[j], attempt.ReasonStopped)
				r.tally(totals, outcomes[j])
			}
			break
		}
		g.Go(func() error {
			out := r.apply(gctx, job, prof, stop)
			outcomes[i] = out
			r.tally(totals, out)
			return nil
		})
	}
	err := g.Wait()

	sum := &Summary{
		Applied:   totals.Applied.Load(),
		Failed:    totals.Failed.Load(),
		Abandoned: totals.Abandoned.Load(),
		Skipped:   totals.Skipped.Load(),
	}
	for _, o := range outcomes {
		if o.JobReference != "" {
			sum.Outcomes = append(sum.Outcomes, o)
		}
	}
	r.logger.Info("Apply run finished.",
		zap.Int64("applied", sum.Applied),
		zap.Int64("failed", sum.Failed),
		zap.Int64("abandoned", sum.Abandoned),
		zap.Int64("skipped", sum.Skipped))
	return sum, err
}

func (r *Runner) tally(t *Totals, o attempt.Outcome) {
	switch {
	case o.Applied:
		t.Applied.Add(1)
	case o.State == attempt.Abandoned.String():
		t.Abandoned.Add(1)
	case o.State == "":
		t.Skipped.Add(1)
	default:
		t.Failed.Add(1)
	}
}

// apply runs attempts for one job until one is conclusive or the retry budget is
// spent. Only Failed attempts are retried, and never after a lost session.
func (r *Runner) apply(ctx context.Context, job jobs.Job, prof *profile.Profile, stop *attempt.StopFlag) attempt.Outcome {
	logger := r.logger.With(zap.String("job", job.Reference))

	applied, err := r.ledger.Applied(ctx, job.Reference)
	if err != nil {
		logger.Warn("Ledger lookup failed, continuing without it.", zap.Error(err))
	}
	if applied {
		return r.skip(ctx, job, attempt.ReasonAlreadyApplied)
	}

	var out attempt.Outcome
	for try := 0; ; try++ {
		if stop.Stopped() {
			return r.skip(ctx, job, attempt.ReasonStopped)
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return r.skip(ctx, job, attempt.ReasonStopped)
		}

		var retry bool
		out, retry = r.once(ctx, job, prof, stop, logger)
		if !retry || try >= r.cfg.RetryBudget {
			return out
		}
		logger.Info("Retrying failed attempt.",
			zap.String("reason", out.Reason),
			zap.Int("retry", try+1),
			zap.Int("budget", r.cfg.RetryBudget))
	}
}

// once opens the job and runs a single attempt. It reports whether the result may
// be retried.
func (r *Runner) once(ctx context.Context, job jobs.Job, prof *profile.Profile, stop *attempt.StopFlag, logger *zap.Logger) (attempt.Outcome, bool) {
	actx := ctx
	if r.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}

	tab, err := r.opener.Open(actx, job)
	if errors.Is(err, jobs.ErrAlreadyApplied) {
		if _, merr := r.ledger.Mark(ctx, job.Reference); merr != nil {
			logger.Warn("Failed to record job in ledger.", zap.Error(merr))
		}
		return r.skip(ctx, job, attempt.ReasonAlreadyApplied), false
	}
	if err != nil {
		if page.IsFatal(err) || ctx.Err() != nil {
			logger.Error("Could not open job.", zap.Error(err))
			return r.failed(ctx, job, attempt.ReasonOpenFailed), false
		}
		logger.Warn("Could not open job.", zap.Error(err))
		return r.failed(ctx, job, attempt.ReasonOpenFailed), true
	}
	defer func() {
		if cerr := tab.Close(); cerr != nil {
			logger.Debug("Failed to close tab.", zap.Error(cerr))
		}
	}()

	r.metrics.AttemptsActive.Inc()
	out, a, err := r.attempt.Run(actx, tab, job.Reference, prof, stop)
	r.metrics.AttemptsActive.Dec()
	if err != nil {
		logger.Error("Attempt lost its session.", zap.Error(err))
	}

	if out.Applied {
		if _, merr := r.ledger.Mark(ctx, job.Reference); merr != nil {
			logger.Warn("Failed to record job in ledger.", zap.Error(merr))
		}
		return out, false
	}
	retry := a != nil && a.State == attempt.Failed &&
		a.LastFailureReason != attempt.ReasonSessionLost &&
		!stop.Stopped() && ctx.Err() == nil
	return out, retry
}

// skip reports a job that never started an attempt.
func (r *Runner) skip(ctx context.Context, job jobs.Job, reason attempt.Reason) attempt.Outcome {
	r.metrics.Skipped.WithLabelValues(string(reason)).Inc()
	out := attempt.Outcome{
		JobReference: job.Reference,
		Reason:       string(reason),
		AttemptID:    uuid.NewString(),
		FinishedAt:   time.Now().UTC(),
	}
	r.emit(ctx, out)
	return out
}

func (r *Runner) failed(ctx context.Context, job jobs.Job, reason attempt.Reason) attempt.Outcome {
	out := attempt.Outcome{
		JobReference: job.Reference,
		Reason:       string(reason),
		AttemptID:    uuid.NewString(),
		State:        attempt.Failed.String(),
		FinishedAt:   time.Now().UTC(),
	}
	r.emit(ctx, out)
	return out
}

func (r *Runner) emit(ctx context.Context, out attempt.Outcome) {
	// Outcomes are still recorded after a stop cancels the run context.
	if err := r.sink.Emit(context.WithoutCancel(ctx), out); err != nil {
		r.logger.Warn("Failed to emit outcome.", zap.String("job", out.JobReference), zap.Error(err))
	}
}
