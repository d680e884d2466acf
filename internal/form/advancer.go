// internal/form/advancer.go
package form

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/page"
)

var dismissiveRe = regexp.MustCompile(`(?i)\b(back|previous|prev|cancel|dismiss|close|skip|discard|exit|not now|no thanks)\b`)

// progressionRank orders preferred labels; lower wins.
var progressionRank = []struct {
	re   *regexp.Regexp
	rank int
}{
	{regexp.MustCompile(`(?i)\bsubmit\b`), 0},
	{regexp.MustCompile(`(?i)\breview\b`), 1},
	{regexp.MustCompile(`(?i)\bnext\b`), 2},
	{regexp.MustCompile(`(?i)\bcontinue\b`), 3},
	{regexp.MustCompile(`(?i)\bsave\b`), 4},
	{regexp.MustCompile(`(?i)\b(apply|send)\b`), 5},
	{regexp.MustCompile(`(?i)\bdone\b`), 6},
}

// Advancer finds and activates the control that moves the flow forward.
type Advancer struct {
	sel    config.SelectorConfig
	settle time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewAdvancer returns an Advancer that waits settle after each activation.
func NewAdvancer(sel config.SelectorConfig, settle, poll time.Duration, logger *zap.Logger) *Advancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advancer{sel: sel, settle: settle, poll: poll, logger: logger.Named("advancer")}
}

// Find returns the progression control and its label, or nil when none qualifies.
func (a *Advancer) Find(ctx context.Context, p page.Page) (page.Node, string, error) {
	scope, err := page.FirstVisible(ctx, p, a.sel.Modal)
	if err != nil {
		return nil, "", err
	}
	var buttons []page.Node
	if scope != nil {
		buttons, err = p.QueryWithin(ctx, scope, a.sel.Buttons)
	} else {
		buttons, err = p.QueryAll(ctx, a.sel.Buttons)
	}
	if err != nil {
		return nil, "", err
	}

	var (
		best      page.Node
		bestLabel string
		bestRank  = len(progressionRank)
	)
	for _, b := range buttons {
		ok, label, err := inspectControl(ctx, p, b)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}
		for _, r := range progressionRank {
			if r.rank < bestRank && r.re.MatchString(label) {
				best, bestLabel, bestRank = b, label, r.rank
				break
			}
		}
	}
	if best != nil {
		return best, bestLabel, nil
	}
	return a.lastInActionBar(ctx, p, scope)
}

func (a *Advancer) lastInActionBar(ctx context.Context, p page.Page, scope page.Node) (page.Node, string, error) {
	if a.sel.ActionBar == "" {
		return nil, "", nil
	}
	var (
		bars []page.Node
		err  error
	)
	if scope != nil {
		bars, err = p.QueryWithin(ctx, scope, a.sel.ActionBar)
	} else {
		bars, err = p.QueryAll(ctx, a.sel.ActionBar)
	}
	if err != nil {
		return nil, "", err
	}

	var last page.Node
	var lastLabel string
	for _, bar := range bars {
		buttons, err := p.QueryWithin(ctx, bar, a.sel.Buttons)
		if err != nil {
			return nil, "", err
		}
		for _, b := range buttons {
			ok, label, err := inspectControl(ctx, p, b)
			if err != nil {
				return nil, "", err
			}
			if ok {
				last, lastLabel = b, label
			}
		}
	}
	return last, lastLabel, nil
}

// inspectControl reports whether b is a visible, enabled, non-dismissive control
// and returns its label.
func inspectControl(ctx context.Context, p page.Page, b page.Node) (bool, string, error) {
	vis, err := p.Visible(ctx, b)
	if err != nil || !vis {
		return false, "", err
	}
	off, err := p.Property(ctx, b, "disabled")
	if err != nil || off == "true" {
		return false, "", err
	}

	label, err := p.Text(ctx, b)
	if err != nil {
		return false, "", err
	}
	label = normalize(label)
	aria, _, err := p.Attribute(ctx, b, "aria-label")
	if err != nil {
		return false, "", err
	}
	if label == "" {
		label = normalize(aria)
	}
	if label == "" {
		v, _, err := p.Attribute(ctx, b, "value")
		if err != nil {
			return false, "", err
		}
		label = normalize(v)
	}
	if dismissiveRe.MatchString(label) || dismissiveRe.MatchString(aria) {
		return false, label, nil
	}
	return true, label, nil
}

// Advance activates the progression control then waits the settle interval. The
// wait ends early when stopped reports true or ctx ends.
func (a *Advancer) Advance(ctx context.Context, p page.Page, stopped func() bool) (string, error) {
	ctrl, label, err := a.Find(ctx, p)
	if err != nil {
		return "", err
	}
	if ctrl == nil {
		return "", ErrNoProgressionControl
	}
	if err := p.Click(ctx, ctrl); err != nil {
		return label, fmt.Errorf("activate %q: %w", label, err)
	}
	a.logger.Debug("Activated progression control.", zap.String("label", label))

	step := a.poll
	if step <= 0 || step > a.settle {
		step = a.settle
	}
	for waited := time.Duration(0); waited < a.settle; waited += step {
		if stopped != nil && stopped() {
			return label, nil
		}
		if err := page.Sleep(ctx, step); err != nil {
			return label, err
		}
	}
	return label, nil
}

// controlLabel returns the lower-case visible or aria label of a control.
func controlLabel(ctx context.Context, p page.Page, n page.Node) (string, error) {
	t, err := p.Text(ctx, n)
	if err != nil {
		return "", err
	}
	t = normalize(t)
	if t == "" {
		v, _, err := p.Attribute(ctx, n, "aria-label")
		if err != nil {
			return "", err
		}
		t = normalize(v)
	}
	return strings.ToLower(t), nil
}
