// internal/form/committer.go
package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/page"
)

// Strategy names reported by Commit.
const (
	StrategyNativeValue = "native-value"
	StrategyKeystrokes  = "keystrokes"
	StrategyScript      = "script"
	StrategyClick       = "click"
	StrategyLabelClick  = "label-click"
	StrategySelectValue = "select-value"
	StrategyNone        = "none"
)

// Sets a value through the element prototype's setter so frameworks that track the
// last value they wrote see the change, then fires input and change.
const setValueJS = `function(v) {
	if (this.isContentEditable) {
		this.textContent = v;
	} else {
		const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype
			: this instanceof HTMLSelectElement ? HTMLSelectElement.prototype
			: HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) { desc.set.call(this, v); } else { this.value = v; }
	}
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

const checkJS = `function() {
	if (this.tagName === 'OPTION') { this.selected = true; }
	else if ('checked' in this) { this.checked = true; }
	this.setAttribute('aria-checked', 'true');
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

// Typist enters text keystroke by keystroke.
type Typist interface {
	Type(ctx context.Context, p page.Page, n page.Node, text string) error
}

// Committer writes a Candidate into a Widget and verifies it stuck.
type Committer struct {
	typist  Typist
	timeout time.Duration
	logger  *zap.Logger
}

// NewCommitter returns a Committer. A nil typist skips the keystroke strategy.
func NewCommitter(typist Typist, timeout time.Duration, logger *zap.Logger) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{typist: typist, timeout: timeout, logger: logger.Named("committer")}
}

// Commit writes cand into w, trying each strategy until a read-back confirms it. It
// returns the strategy that worked. ErrWidgetMismatch means every strategy failed;
// page errors such as ErrSessionLost or ErrStaleNode are returned as is.
func (c *Committer) Commit(ctx context.Context, p page.Page, w *Widget, q QuestionState, cand Candidate) (string, error) {
	if w == nil {
		// Nothing pending on the screen; the answer is vacuously committed.
		return StrategyNone, nil
	}
	if cand.Kind != w.Kind {
		converted, ok := Convert(cand, q)
		if !ok {
			return "", fmt.Errorf("%w: %s answer for %s widget", ErrWidgetMismatch, cand.Kind, w.Kind)
		}
		c.logger.Debug("Converted answer kind.", zap.Stringer("from", cand.Kind), zap.Stringer("to", converted.Kind))
		cand = converted
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	switch {
	case w.Kind == FreeText:
		return c.commitText(ctx, p, w.Control, cand.Value)
	case w.Native && w.Kind == SingleSelect:
		return c.commitNativeSelect(ctx, p, w, q, cand.Value)
	case w.Kind.IsSelect():
		return c.commitOptions(ctx, p, w, q, cand.Strings())
	}
	return "", fmt.Errorf("%w: unknown widget", ErrWidgetMismatch)
}

type attempt struct {
	name string
	run  func() error
}

// ladder runs attempts in order until verify holds.
func (c *Committer) ladder(ctx context.Context, attempts []attempt, verify func() (bool, error)) (string, error) {
	for _, a := range attempts {
		if err := a.run(); err != nil {
			if stop(ctx, err) {
				return "", err
			}
			c.logger.Debug("Commit strategy errored.", zap.String("strategy", a.name), zap.Error(err))
			continue
		}
		ok, err := verify()
		if err != nil {
			if stop(ctx, err) {
				return "", err
			}
			continue
		}
		if ok {
			return a.name, nil
		}
		c.logger.Debug("Commit strategy did not stick.", zap.String("strategy", a.name))
	}
	return "", ErrWidgetMismatch
}

// stop reports errors that end the commit instead of moving to the next strategy.
func stop(ctx context.Context, err error) bool {
	return page.IsFatal(err) || errors.Is(err, page.ErrStaleNode) || ctx.Err() != nil
}

func (c *Committer) commitText(ctx context.Context, p page.Page, n page.Node, value string) (string, error) {
	attempts := []attempt{
		{StrategyNativeValue, func() error {
			if err := p.SetValue(ctx, n, value); err != nil {
				return err
			}
			if err := p.DispatchEvent(ctx, n, "input"); err != nil {
				return err
			}
			return p.DispatchEvent(ctx, n, "change")
		}},
	}
	if c.typist != nil {
		attempts = append(attempts, attempt{StrategyKeystrokes, func() error {
			if err := c.typist.Type(ctx, p, n, value); err != nil {
				return err
			}
			return p.DispatchEvent(ctx, n, "change")
		}})
	}
	attempts = append(attempts, attempt{StrategyScript, func() error {
		return p.Evaluate(ctx, setValueJS, n, nil, value)
	}})

	return c.ladder(ctx, attempts, func() (bool, error) {
		got, err := p.Property(ctx, n, "value")
		if err != nil {
			return false, err
		}
		return valueHolds(got, value), nil
	})
}

func (c *Committer) commitNativeSelect(ctx context.Context, p page.Page, w *Widget, q QuestionState, want string) (string, error) {
	idx := matchOption(q.Options, want)
	if idx < 0 || idx >= len(w.Options) {
		return "", fmt.Errorf("%w: no option %q", ErrWidgetMismatch, want)
	}
	id := q.Options[idx].ID
	opt := w.Options[idx]
	change := func() error { return p.DispatchEvent(ctx, w.Control, "change") }

	return c.ladder(ctx, []attempt{
		{StrategySelectValue, func() error {
			if err := p.SetValue(ctx, w.Control, id); err != nil {
				return err
			}
			if err := p.DispatchEvent(ctx, w.Control, "input"); err != nil {
				return err
			}
			return change()
		}},
		{StrategyClick, func() error {
			if err := p.Click(ctx, opt); err != nil {
				return err
			}
			return change()
		}},
		{StrategyScript, func() error {
			return p.Evaluate(ctx, setValueJS, w.Control, nil, id)
		}},
	}, func() (bool, error) {
		got, err := p.Property(ctx, w.Control, "value")
		if err != nil {
			return false, err
		}
		return got == id, nil
	})
}

// commitOptions checks every wanted option of a radio, checkbox or native
// multi-select group. Options already checked are left alone.
func (c *Committer) commitOptions(ctx context.Context, p page.Page, w *Widget, q QuestionState, want []string) (string, error) {
	if len(want) == 0 {
		return "", fmt.Errorf("%w: empty selection", ErrWidgetMismatch)
	}
	prop := "checked"
	if w.Native {
		prop = "selected"
	}

	used := StrategyClick
	for _, label := range want {
		idx := matchOption(q.Options, label)
		if idx < 0 || idx >= len(w.Options) {
			return "", fmt.Errorf("%w: no option %q", ErrWidgetMismatch, label)
		}
		opt := w.Options[idx]
		isSet := func() (bool, error) {
			v, err := p.Property(ctx, opt, prop)
			return v == "true", err
		}
		if ok, err := isSet(); err != nil {
			return "", err
		} else if ok {
			continue
		}

		change := func() error { return p.DispatchEvent(ctx, opt, "change") }
		name, err := c.ladder(ctx, []attempt{
			{StrategyClick, func() error {
				if err := p.Click(ctx, opt); err != nil {
					return err
				}
				return change()
			}},
			{StrategyLabelClick, func() error {
				l, err := labelFor(ctx, p, opt)
				if err != nil {
					return err
				}
				if l == nil {
					return page.ErrNotFound
				}
				if err := p.Click(ctx, l); err != nil {
					return err
				}
				return change()
			}},
			{StrategyScript, func() error {
				return p.Evaluate(ctx, checkJS, opt, nil)
			}},
		}, isSet)
		if err != nil {
			return "", err
		}
		used = name
	}
	return used, nil
}

// Convert adapts an answer to a widget of a different kind. It is tried once; a
// false result means the answer cannot be expressed through the widget.
func Convert(cand Candidate, q QuestionState) (Candidate, bool) {
	if cand.Kind == q.Kind {
		return cand, true
	}
	switch q.Kind {
	case FreeText:
		s := strings.Join(cand.Strings(), ", ")
		return Candidate{Kind: FreeText, Value: s}, s != ""
	case SingleSelect:
		for _, v := range cand.Strings() {
			if i := matchOption(q.Options, v); i >= 0 {
				return Candidate{Kind: SingleSelect, Value: q.Options[i].Label}, true
			}
		}
	case MultiSelect:
		var out []string
		for _, v := range cand.Strings() {
			if i := matchOption(q.Options, v); i >= 0 {
				out = append(out, q.Options[i].Label)
			}
		}
		return Candidate{Kind: MultiSelect, Values: out}, len(out) > 0
	}
	return Candidate{}, false
}

// matchOption finds an option by label, then by id, then by containment.
func matchOption(opts []Option, want string) int {
	w := strings.ToLower(strings.TrimSpace(want))
	if w == "" {
		return -1
	}
	for i, o := range opts {
		if strings.ToLower(o.Label) == w {
			return i
		}
	}
	for i, o := range opts {
		if strings.ToLower(o.ID) == w {
			return i
		}
	}
	for i, o := range opts {
		l := strings.ToLower(o.Label)
		if l != "" && (strings.Contains(l, w) || strings.Contains(w, l)) {
			return i
		}
	}
	return -1
}

func valueHolds(got, want string) bool {
	g := strings.ToLower(normalize(got))
	w := strings.ToLower(normalize(want))
	if w == "" {
		return g == ""
	}
	return g == w || strings.Contains(g, w)
}
