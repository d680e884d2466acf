// internal/attempt/orchestrator_test.go
package attempt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/applypilot/internal/answer"
	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/form"
	"github.com/xkilldash9x/applypilot/internal/humanoid"
	"github.com/xkilldash9x/applypilot/internal/page"
	"github.com/xkilldash9x/applypilot/internal/page/htmlpage"
	"github.com/xkilldash9x/applypilot/internal/profile"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Engine.ScanTimeout = 40 * time.Millisecond
	cfg.Engine.PollInterval = 2 * time.Millisecond
	cfg.Engine.SettleInterval = 0
	cfg.Engine.CommitTimeout = time.Second
	cfg.Engine.VerifyTimeout = 40 * time.Millisecond
	cfg.Engine.TransientRetries = 2
	return cfg
}

func testProfile() *profile.Profile {
	return &profile.Profile{
		NoticePeriod:    "15 Days or less",
		CurrentLocation: "Delhi",
		PreferredCities: []string{"Noida"},
		ExperienceYears: 5,
		CurrentCTC:      "12 LPA",
		ExpectedCTC:     "18-20 LPA",
	}
}

// nilResolver never finds an answer.
type nilResolver struct{}

func (nilResolver) Explain(form.QuestionState, *profile.Profile) (*form.Candidate, string) {
	return nil, ""
}

type recordingReporter struct{ events []Event }

func (r *recordingReporter) Report(e Event) { r.events = append(r.events, e) }

type countingRecorder struct {
	strategies []string
	unanswered int
	finished   []Outcome
}

func (c *countingRecorder) CommitStrategy(s string) { c.strategies = append(c.strategies, s) }
func (c *countingRecorder) Unanswered()             { c.unanswered++ }
func (c *countingRecorder) Finished(o Outcome)      { c.finished = append(c.finished, o) }

type harness struct {
	orch     *Orchestrator
	reporter *recordingReporter
	recorder *countingRecorder
	outcomes []Outcome
}

func newHarness(t *testing.T, cfg *config.Config, resolver Resolver) *harness {
	t.Helper()
	h := &harness{reporter: &recordingReporter{}, recorder: &countingRecorder{}}
	sink := SinkFunc(func(_ context.Context, o Outcome) error {
		h.outcomes = append(h.outcomes, o)
		return nil
	})
	orch, err := New(cfg, resolver, humanoid.New(config.TypingConfig{}, 1), nil,
		WithReporter(h.reporter), WithSink(sink), WithRecorder(h.recorder))
	require.NoError(t, err)
	h.orch = orch
	return h
}

// flow loads the next screen each time a button is clicked.
func flow(t *testing.T, screens ...string) *htmlpage.Page {
	t.Helper()
	p, err := htmlpage.New(screens[0])
	require.NoError(t, err)
	i := 0
	p.OnClick = func(ctx context.Context, p *htmlpage.Page, n page.Node) error {
		if n.Tag() != "button" {
			return nil
		}
		i++
		if i < len(screens) {
			return p.Load(screens[i])
		}
		return nil
	}
	return p
}

func assertLegalHistory(t *testing.T, a *Attempt) {
	t.Helper()
	require.NotEmpty(t, a.History)
	assert.Equal(t, Scanning, a.History[0])
	for i := 1; i < len(a.History); i++ {
		assert.True(t, CanTransition(a.History[i-1], a.History[i]),
			"illegal edge %s -> %s", a.History[i-1], a.History[i])
	}
	assert.True(t, a.State.Terminal())
}

const (
	ctcScreen = `<div role="dialog"><div class="form-group"><label for="ctc">What is your expected CTC?</label>
		<input id="ctc" type="text"></div><footer><button id="next">Next</button></footer></div>`
	noticeScreen = `<div role="dialog"><fieldset><legend>Notice Period</legend>
		<input type="radio" id="a" name="np" value="15"><label for="a">15 Days or less</label>
		<input type="radio" id="b" name="np" value="30"><label for="b">1 Month</label></fieldset>
		<footer><button id="submit">Submit application</button></footer></div>`
	sentScreen = `<div role="dialog"><h3>Your application was sent to Acme!</h3><button>Done</button></div>`
)

func TestRunSucceeds(t *testing.T) {
	h := newHarness(t, testConfig(), answer.New())
	p := flow(t, ctcScreen, noticeScreen, sentScreen)

	out, a, err := h.orch.Run(context.Background(), p, "job-1", testProfile(), nil)
	require.NoError(t, err)

	assert.True(t, out.Applied)
	assert.Equal(t, "job-1", out.JobReference)
	assert.Equal(t, string(ReasonConfirmed), out.Reason)
	assert.Equal(t, Succeeded, a.State)
	assert.Equal(t, 3, a.Iterations)
	assert.Equal(t, []State{
		Scanning, Answering, Advancing,
		Scanning, Answering, Advancing,
		Scanning, Verifying, Succeeded,
	}, a.History)
	assertLegalHistory(t, a)

	assert.Equal(t, []string{"button#next", "input#a", "button#submit"}, p.Clicks())
	assert.Equal(t, []string{form.StrategyNativeValue, form.StrategyClick}, h.recorder.strategies)
	require.Len(t, h.outcomes, 1)
	assert.Equal(t, out, h.outcomes[0])
	require.Len(t, h.recorder.finished, 1)

	var answers []string
	for _, e := range h.reporter.events {
		assert.Equal(t, a.ID, e.AttemptID)
		if e.Answer != "" && e.State == Answering {
			answers = append(answers, e.Rule+"="+e.Answer)
		}
	}
	assert.Equal(t, []string{"compensation=18-20 LPA", "notice-period=15 Days or less"}, answers)
}

// releasingPage counts node releases the way a remote browser page would see them.
type releasingPage struct {
	*htmlpage.Page
	releases int
	err      error
}

func (p *releasingPage) ReleaseNodes(context.Context) error {
	p.releases++
	return p.err
}

func TestRunReleasesNodesEachScan(t *testing.T) {
	t.Run("released before every pass", func(t *testing.T) {
		h := newHarness(t, testConfig(), answer.New())
		p := &releasingPage{Page: flow(t, ctcScreen, noticeScreen, sentScreen)}

		out, a, err := h.orch.Run(context.Background(), p, "job", testProfile(), nil)
		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.GreaterOrEqual(t, p.releases, a.Iterations)
	})

	t.Run("lost session", func(t *testing.T) {
		h := newHarness(t, testConfig(), answer.New())
		p := &releasingPage{Page: flow(t, ctcScreen), err: page.ErrSessionLost}

		out, a, err := h.orch.Run(context.Background(), p, "job", testProfile(), nil)
		require.ErrorIs(t, err, page.ErrSessionLost)
		assert.Equal(t, Failed, a.State)
		assert.Equal(t, string(ReasonSessionLost), out.Reason)
	})

	t.Run("other release errors are ignored", func(t *testing.T) {
		h := newHarness(t, testConfig(), answer.New())
		p := &releasingPage{Page: flow(t, ctcScreen, noticeScreen, sentScreen), err: errors.New("object group unknown")}

		out, _, err := h.orch.Run(context.Background(), p, "job", testProfile(), nil)
		require.NoError(t, err)
		assert.True(t, out.Applied)
	})
}

func TestRunAbandonsOnIterationCap(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.IterationCap = 30
	h := newHarness(t, cfg, nilResolver{})

	screen := `<div role="dialog"><div class="form-group"><label for="q">Favourite colour?</label>
		<input id="q" type="text"></div><footer><button>Next</button></footer></div>`
	screens := make([]string, 40)
	for i := range screens {
		screens[i] = screen
	}
	p := flow(t, screens...)

	out, a, err := h.orch.Run(context.Background(), p, "job-cap", testProfile(), nil)
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, Abandoned, a.State)
	assert.Equal(t, ReasonIterationExhausted, a.LastFailureReason)
	assert.Equal(t, 30, a.Iterations)
	assert.Equal(t, 30, out.Iterations)
	assert.Equal(t, 1, h.recorder.unanswered, "the same question counts once")
	assertLegalHistory(t, a)
}

func TestRunAbandonsOnUnansweredTally(t *testing.T) {
	h := newHarness(t, testConfig(), nilResolver{})
	p := flow(t, `<div role="dialog">
		<div class="form-group"><label for="a">First?</label><input id="a"></div>
		<div class="form-group"><label for="b">Second?</label><input id="b"></div>
		<div class="form-group"><label for="c">Third?</label><input id="c"></div>
		<div class="form-group"><label for="d">Fourth?</label><input id="d"></div>
		<footer><button>Next</button></footer></div>`)

	_, a, err := h.orch.Run(context.Background(), p, "job-ambiguous", testProfile(), nil)
	require.NoError(t, err)
	assert.Equal(t, Abandoned, a.State)
	assert.Equal(t, ReasonAmbiguousQuestion, a.LastFailureReason)
	assert.Equal(t, 4, a.Iterations)
	assert.Empty(t, p.Clicks())
	assertLegalHistory(t, a)
}

func TestRunVerification(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		state  State
		reason Reason
	}{
		{
			name: "error text overrides confirmation",
			markup: `<div role="dialog"><h3>Application submitted</h3>
				<div class="error-message">Something went wrong. Please try again later.</div></div>`,
			state:  Failed,
			reason: ReasonVerificationFailed,
		},
		{
			name:   "modal gone without any other signal is not success",
			markup: `<html><body><p>Loading your dashboard</p></body></html>`,
			state:  Failed,
			reason: ReasonUnverified,
		},
		{
			name:   "two weak signals",
			markup: `<html><body><button class="jobs-apply-button">Applied</button></body></html>`,
			state:  Succeeded,
			reason: ReasonConfirmed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), answer.New())
			out, a, err := h.orch.Run(context.Background(), flow(t, tt.markup), "job", testProfile(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.state, a.State)
			assert.Equal(t, tt.reason, a.LastFailureReason)
			assert.Equal(t, tt.state == Succeeded, out.Applied)
			assert.Equal(t, 1, a.Iterations)
			assertLegalHistory(t, a)
		})
	}
}

func TestRunSessionLost(t *testing.T) {
	h := newHarness(t, testConfig(), answer.New())
	p := flow(t, ctcScreen)
	p.OnClick = func(ctx context.Context, p *htmlpage.Page, n page.Node) error {
		p.Close()
		return nil
	}

	out, a, err := h.orch.Run(context.Background(), p, "job-lost", testProfile(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, page.ErrSessionLost)
	assert.Equal(t, ReasonSessionLost, ReasonOf(err))
	assert.Equal(t, Failed, a.State)
	assert.False(t, out.Applied)
	assert.Equal(t, string(ReasonSessionLost), out.Reason)
	assertLegalHistory(t, a)
}

func TestRunTransientExhaustion(t *testing.T) {
	h := newHarness(t, testConfig(), answer.New())
	p := flow(t, `<div role="dialog"><div class="spinner"></div></div>`)

	_, a, err := h.orch.Run(context.Background(), p, "job-spinner", testProfile(), nil)
	require.NoError(t, err)
	assert.Equal(t, Failed, a.State)
	assert.Equal(t, ReasonTransientUI, a.LastFailureReason)
	assert.Equal(t, 3, a.Iterations)
	assertLegalHistory(t, a)
}

func TestRunWidgetMismatchIsSkipped(t *testing.T) {
	h := newHarness(t, testConfig(), answer.New())
	p := flow(t,
		`<div role="dialog"><div class="form-group"><label for="ctc">What is your expected CTC?</label>
			<input id="ctc" type="text" data-reject="setvalue keys"></div><footer><button>Next</button></footer></div>`,
		sentScreen)

	out, a, err := h.orch.Run(context.Background(), p, "job-mismatch", testProfile(), nil)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, 1, h.recorder.unanswered)
	assert.Equal(t, []State{
		Scanning, Answering, Scanning,
		Answering, Advancing,
		Scanning, Verifying, Succeeded,
	}, a.History)
}

func TestRunStops(t *testing.T) {
	t.Run("flag raised before start", func(t *testing.T) {
		h := newHarness(t, testConfig(), answer.New())
		stop := &StopFlag{}
		stop.Stop()
		out, a, err := h.orch.Run(context.Background(), flow(t, ctcScreen), "job", testProfile(), stop)
		require.NoError(t, err)
		assert.Equal(t, Abandoned, a.State)
		assert.Equal(t, string(ReasonStopped), out.Reason)
		assert.Equal(t, 0, a.Iterations)
	})

	t.Run("flag raised mid attempt", func(t *testing.T) {
		h := newHarness(t, testConfig(), answer.New())
		stop := &StopFlag{}
		p := flow(t, ctcScreen, noticeScreen, sentScreen)
		next := p.OnClick
		p.OnClick = func(ctx context.Context, p *htmlpage.Page, n page.Node) error {
			stop.Stop()
			return next(ctx, p, n)
		}
		out, a, err := h.orch.Run(context.Background(), p, "job", testProfile(), stop)
		require.NoError(t, err)
		assert.Equal(t, Abandoned, a.State)
		assert.False(t, out.Applied, "a stopped attempt never reports success")
		assertLegalHistory(t, a)
	})

	t.Run("cancelled context", func(t *testing.T) {
		h := newHarness(t, testConfig(), answer.New())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, a, err := h.orch.Run(ctx, flow(t, ctcScreen), "job", testProfile(), nil)
		require.NoError(t, err)
		assert.Equal(t, Abandoned, a.State)
		assert.Equal(t, ReasonStopped, a.LastFailureReason)
	})

	t.Run("attempt deadline fails rather than stops", func(t *testing.T) {
		h := newHarness(t, testConfig(), answer.New())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		p := flow(t, ctcScreen, noticeScreen, sentScreen)
		p.OnClick = func(ctx context.Context, _ *htmlpage.Page, _ page.Node) error {
			<-ctx.Done()
			return ctx.Err()
		}
		out, a, err := h.orch.Run(ctx, p, "job", testProfile(), &StopFlag{})
		require.NoError(t, err)
		assert.Equal(t, Failed, a.State)
		assert.Equal(t, string(ReasonTimedOut), out.Reason)
		assertLegalHistory(t, a)
		require.Len(t, h.outcomes, 1, "the outcome is emitted after the deadline")
	})
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, answer.New(), nil, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Engine.IterationCap = 0
	_, err = New(cfg, answer.New(), nil, nil)
	assert.Error(t, err)
}
