// File: cmd/apply.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/answer"
	"github.com/xkilldash9x/applypilot/internal/attempt"
	"github.com/xkilldash9x/applypilot/internal/browser"
	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/humanoid"
	"github.com/xkilldash9x/applypilot/internal/jobs"
	"github.com/xkilldash9x/applypilot/internal/ledger"
	"github.com/xkilldash9x/applypilot/internal/metrics"
	"github.com/xkilldash9x/applypilot/internal/observability"
	"github.com/xkilldash9x/applypilot/internal/profile"
	"github.com/xkilldash9x/applypilot/internal/runner"
	"github.com/xkilldash9x/applypilot/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// openerFactory starts whatever hosts the job pages and returns its shutdown hook.
type openerFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (runner.Opener, func(context.Context) error, error)

// newOpener is replaced in tests to run the apply flow without a browser.
var newOpener openerFactory = browserOpener

func newApplyCmd(s *settings) *cobra.Command {
	var jobsFile string
	var asJSON bool

	applyCmd := &cobra.Command{
		Use:   "apply [job-urls...]",
		Short: "Apply to jobs from a jobs file or from URLs given as arguments",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := jobList(jobsFile, args)
			if err != nil {
				return err
			}
			return runApply(cmd.Context(), s.cfg, list, cmd.OutOrStdout(), asJSON)
		},
	}

	flags := applyCmd.Flags()
	flags.StringVarP(&jobsFile, "jobs", "j", "", "JSON file listing the jobs to apply to")
	flags.BoolVar(&asJSON, "json", false, "print the run summary as JSON")
	flags.StringP("profile", "p", "", "applicant profile file (YAML, JSON or TOML)")
	flags.Int("concurrency", 0, "attempts run in parallel, one browser tab each")
	flags.Float64("rate", 0, "attempts started per minute")
	flags.Int("retries", 0, "retries per job after a failed attempt")
	flags.Bool("headless", false, "run the browser without a window")
	flags.String("user-data-dir", "", "browser profile directory, already signed in to the job board")
	flags.String("redis-addr", "", "Redis address of the applied-jobs ledger")
	flags.String("metrics-textfile", "", "write Prometheus metrics to this file after the run")
	s.bindFlags(applyCmd, map[string]string{
		"profile.path":               "profile",
		"runner.concurrency":         "concurrency",
		"runner.attempts_per_minute": "rate",
		"runner.retry_budget":        "retries",
		"browser.headless":           "headless",
		"browser.user_data_dir":      "user-data-dir",
		"ledger.redis_addr":          "redis-addr",
		"metrics.textfile":           "metrics-textfile",
	})
	return applyCmd
}

// jobList reads the jobs file when one is given, then appends URL arguments.
func jobList(path string, urls []string) ([]jobs.Job, error) {
	var list []jobs.Job
	if path != "" {
		loaded, err := jobs.Load(path)
		if err != nil {
			return nil, err
		}
		list = loaded
	}
	if len(urls) > 0 {
		extra, err := jobs.FromURLs(urls)
		if err != nil {
			return nil, err
		}
		list = append(list, extra...)
	}
	if len(list) == 0 {
		return nil, errors.New("no jobs given: pass --jobs or one or more job URLs")
	}
	// Dedupe across both sources.
	return jobs.Normalize(list)
}

// applyComponents holds everything an apply run needs and releases it afterwards.
type applyComponents struct {
	Runner  *runner.Runner
	Metrics *metrics.Metrics
	Ledger  ledger.Ledger
	Pool    *pgxpool.Pool

	closeOpener func(context.Context) error
	logger      *zap.Logger
}

func initializeApplyComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*applyComponents, error) {
	c := &applyComponents{Metrics: metrics.New(), logger: logger}

	l, err := ledger.Open(ctx, cfg.Ledger, logger)
	if err != nil {
		return c, fmt.Errorf("failed to open applied-jobs ledger: %w", err)
	}
	c.Ledger = l

	sinks := attempt.MultiSink{attempt.NewLogSink(logger)}
	if cfg.Store.DatabaseURL != "" {
		st, pool, err := store.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.Table, logger)
		if err != nil {
			return c, err
		}
		c.Pool = pool
		if err := st.EnsureSchema(ctx); err != nil {
			return c, err
		}
		refs, err := st.AppliedJobs(ctx)
		if err != nil {
			return c, err
		}
		added, err := ledger.Seed(ctx, l, refs)
		if err != nil {
			return c, fmt.Errorf("failed to seed ledger: %w", err)
		}
		logger.Info("Ledger seeded from stored outcomes.", zap.Int("known", len(refs)), zap.Int("added", added))
		sinks = append(sinks, st)
	}

	typist := humanoid.New(cfg.Typing, time.Now().UnixNano())
	orch, err := attempt.New(cfg, answer.New(), typist, logger,
		attempt.WithSink(sinks),
		attempt.WithRecorder(c.Metrics),
		attempt.WithReporter(attempt.NewLogReporter(logger)),
	)
	if err != nil {
		return c, fmt.Errorf("failed to build attempt orchestrator: %w", err)
	}

	opener, closeOpener, err := newOpener(ctx, cfg, logger)
	if err != nil {
		return c, err
	}
	c.closeOpener = closeOpener

	r, err := runner.New(cfg.Runner, orch, opener, l, sinks, c.Metrics, logger)
	if err != nil {
		return c, err
	}
	c.Runner = r
	return c, nil
}

// Shutdown closes the opener, the ledger and the pool. It never blocks longer than
// the shutdown deadline on open pages.
func (c *applyComponents) Shutdown(deadline time.Duration) {
	if deadline <= 0 {
		deadline = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	if c.closeOpener != nil {
		if err := c.closeOpener(ctx); err != nil {
			c.logger.Warn("Error shutting down browser.", zap.Error(err))
		}
	}
	if c.Ledger != nil {
		if err := c.Ledger.Close(); err != nil {
			c.logger.Warn("Error closing ledger.", zap.Error(err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

func runApply(ctx context.Context, cfg *config.Config, list []jobs.Job, out io.Writer, asJSON bool) error {
	logger := observability.GetLogger()

	prof, err := profile.NewCache(cfg.Profile.Path).Get()
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	c, err := initializeApplyComponents(ctx, cfg, logger)
	if err != nil {
		if c != nil {
			c.Shutdown(cfg.Runner.ShutdownDeadline)
		}
		return fmt.Errorf("failed to initialize apply components: %w", err)
	}
	defer c.Shutdown(cfg.Runner.ShutdownDeadline)

	stop := &attempt.StopFlag{}
	release := context.AfterFunc(ctx, stop.Stop)
	defer release()

	sum, err := c.Runner.Run(ctx, list, prof, stop)
	if err != nil {
		return err
	}

	if err := c.Metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Warn("Failed to write metrics textfile.", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
	}
	if err := printSummary(out, sum, asJSON); err != nil {
		return err
	}
	if stop.Stopped() {
		return context.Canceled
	}
	return nil
}

func printSummary(w io.Writer, sum *runner.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tAPPLIED\tSTATE\tREASON")
	for _, o := range sum.Outcomes {
		state := o.State
		if state == "" {
			state = "-"
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", o.JobReference, o.Applied, state, o.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\napplied %d, failed %d, abandoned %d, skipped %d\n",
		sum.Applied, sum.Failed, sum.Abandoned, sum.Skipped)
	return err
}

// browserOpener launches Chrome and opens each job in its own tab.
func browserOpener(ctx context.Context, cfg *config.Config, logger *zap.Logger) (runner.Opener, func(context.Context) error, error) {
	mgr, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	open := runner.OpenerFunc(func(ctx context.Context, job jobs.Job) (runner.Tab, error) {
		p, err := mgr.Open(ctx, job)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	return open, mgr.Shutdown, nil
}
