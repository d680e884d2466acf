// internal/form/verifier.go
package form

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/page"
)

// Decision is the verifier's judgement of the flow.
type Decision int

const (
	InProgress Decision = iota
	Succeeded
	Failed
)

func (d Decision) String() string {
	switch d {
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	}
	return "InProgress"
}

// Signals are the independent observations a decision is made from. Confirmation
// and SuccessRedirect are strong; AppliedLabel and ModalClosed are weak.
type Signals struct {
	Confirmation    bool `json:"confirmation"`
	SuccessRedirect bool `json:"success_redirect"`
	AppliedLabel    bool `json:"applied_label"`
	ModalClosed     bool `json:"modal_closed"`
	ErrorText       bool `json:"error_text"`
	// Evidence is the text or URL behind the first signal seen, for logs.
	Evidence string `json:"evidence,omitempty"`
}

// Decide applies the completion rule: explicit error text means Failed; one strong
// signal or two weak ones mean Succeeded; anything else is still in progress.
func Decide(s Signals) Decision {
	if s.ErrorText {
		return Failed
	}
	if s.Confirmation || s.SuccessRedirect {
		return Succeeded
	}
	weak := 0
	if s.AppliedLabel {
		weak++
	}
	if s.ModalClosed {
		weak++
	}
	if weak >= 2 {
		return Succeeded
	}
	return InProgress
}

// Verifier gathers completion signals from the page.
type Verifier struct {
	sel          config.SelectorConfig
	confirmation []string
	errorPhrases []string
	applied      []*regexp.Regexp
	urls         []*regexp.Regexp
	logger       *zap.Logger
}

// NewVerifier compiles the configured phrases and URL patterns.
func NewVerifier(sel config.SelectorConfig, vc config.VerificationConfig, logger *zap.Logger) (*Verifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Verifier{
		sel:          sel,
		confirmation: lowerAll(vc.ConfirmationPhrases),
		errorPhrases: lowerAll(vc.ErrorPhrases),
		logger:       logger.Named("verifier"),
	}
	for _, pat := range vc.SuccessURLPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("success url pattern %q: %w", pat, err)
		}
		v.urls = append(v.urls, re)
	}
	for _, l := range vc.AppliedLabels {
		v.applied = append(v.applied, regexp.MustCompile(`\b`+regexp.QuoteMeta(strings.ToLower(l))+`\b`))
	}
	return v, nil
}

// Observe reads every signal once. Page errors other than stale nodes are returned.
func (v *Verifier) Observe(ctx context.Context, p page.Page) (Signals, error) {
	var s Signals

	u, err := p.CurrentURL(ctx)
	if err != nil {
		return s, err
	}
	for _, re := range v.urls {
		if re.MatchString(u) {
			s.SuccessRedirect = true
			s.Evidence = u
			break
		}
	}

	errText, anyError, err := v.errorSignals(ctx, p)
	if err != nil {
		return s, err
	}
	if errText != "" {
		s.ErrorText = true
		s.Evidence = errText
	}

	if t, err := v.matchVisible(ctx, p, v.sel.Confirmation, v.confirmation); err != nil {
		return s, err
	} else if t != "" {
		s.Confirmation = true
		if s.Evidence == "" {
			s.Evidence = t
		}
	}

	if v.sel.ApplyButton != "" {
		nodes, err := p.QueryAll(ctx, v.sel.ApplyButton)
		if err != nil {
			return s, err
		}
		for _, n := range nodes {
			l, err := controlLabel(ctx, p, n)
			if err != nil {
				if errors.Is(err, page.ErrStaleNode) {
					continue
				}
				return s, err
			}
			if v.isApplied(l) {
				s.AppliedLabel = true
				break
			}
		}
	}

	modal, err := page.FirstVisible(ctx, p, v.sel.Modal)
	if err != nil {
		return s, err
	}
	s.ModalClosed = modal == nil && !anyError
	return s, nil
}

func (v *Verifier) isApplied(label string) bool {
	for _, re := range v.applied {
		if re.MatchString(label) {
			return true
		}
	}
	return false
}

// errorSignals returns visible error text matching an error phrase, and whether any
// error element is visible at all.
func (v *Verifier) errorSignals(ctx context.Context, p page.Page) (string, bool, error) {
	if v.sel.ErrorText == "" {
		return "", false, nil
	}
	nodes, err := p.QueryAll(ctx, v.sel.ErrorText)
	if err != nil {
		return "", false, err
	}
	visible := false
	for _, n := range nodes {
		t, ok, err := visibleText(ctx, p, n)
		if err != nil {
			return "", false, err
		}
		if !ok || t == "" {
			continue
		}
		visible = true
		if containsAny(strings.ToLower(t), v.errorPhrases) {
			return t, true, nil
		}
	}
	return "", visible, nil
}

func (v *Verifier) matchVisible(ctx context.Context, p page.Page, selector string, phrases []string) (string, error) {
	if selector == "" || len(phrases) == 0 {
		return "", nil
	}
	nodes, err := p.QueryAll(ctx, selector)
	if err != nil {
		return "", err
	}
	for _, n := range nodes {
		t, ok, err := visibleText(ctx, p, n)
		if err != nil {
			return "", err
		}
		if ok && containsAny(strings.ToLower(t), phrases) {
			return t, nil
		}
	}
	return "", nil
}

// visibleText skips nodes that went stale between query and read.
func visibleText(ctx context.Context, p page.Page, n page.Node) (string, bool, error) {
	vis, err := p.Visible(ctx, n)
	if err != nil {
		if errors.Is(err, page.ErrStaleNode) {
			return "", false, nil
		}
		return "", false, err
	}
	if !vis {
		return "", false, nil
	}
	t, err := p.Text(ctx, n)
	if err != nil {
		if errors.Is(err, page.ErrStaleNode) {
			return "", false, nil
		}
		return "", false, err
	}
	return normalize(t), true, nil
}

// Check observes once and decides.
func (v *Verifier) Check(ctx context.Context, p page.Page) (Decision, Signals, error) {
	s, err := v.Observe(ctx, p)
	if err != nil {
		return InProgress, s, err
	}
	return Decide(s), s, nil
}

// ErrStopped is returned by Await when stopped reported true.
var ErrStopped = errors.New("form: stopped")

// Await polls until the decision is no longer InProgress or timeout elapses. On
// timeout it returns InProgress with the last signals and a nil error. A non-nil
// stopped is checked before every observation.
func (v *Verifier) Await(ctx context.Context, p page.Page, timeout, interval time.Duration, stopped func() bool) (Decision, Signals, error) {
	var (
		d    Decision
		last Signals
	)
	err := page.Poll(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		if stopped != nil && stopped() {
			return false, ErrStopped
		}
		var err error
		d, last, err = v.Check(ctx, p)
		if err != nil {
			return false, err
		}
		return d != InProgress, nil
	})
	if errors.Is(err, page.ErrTimeout) {
		v.logger.Debug("No decisive completion signal before timeout.", zap.Any("signals", last))
		return InProgress, last, nil
	}
	return d, last, err
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
