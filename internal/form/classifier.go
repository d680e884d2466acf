// internal/form/classifier.go
package form

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/page"
)

// Status is what the Classifier found on the current screen.
type Status int

const (
	// StatusQuestion: an unanswered widget with a question is present.
	StatusQuestion Status = iota
	// StatusTerminal: no modal, or a modal with text but nothing to act on.
	StatusTerminal
	// StatusTransient: the modal is present but not yet renderable.
	StatusTransient
	// StatusReady: every field is answered and a control to move on is present.
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusQuestion:
		return "Question"
	case StatusTerminal:
		return "Terminal"
	case StatusTransient:
		return "Transient"
	case StatusReady:
		return "Ready"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Screen is the result of one classification pass.
type Screen struct {
	Status   Status
	Question QuestionState
	Widget   *Widget
}

// Classifier turns the live modal into a Screen. It only reads the page.
type Classifier struct {
	sel    config.SelectorConfig
	logger *zap.Logger
}

// NewClassifier builds a Classifier over the configured selectors.
func NewClassifier(sel config.SelectorConfig, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{sel: sel, logger: logger.Named("classifier")}
}

// Classify inspects the screen. Questions whose text is in skip are passed over so
// the caller can move past a field it already failed to answer.
func (c *Classifier) Classify(ctx context.Context, p page.Page, skip map[string]bool) (Screen, error) {
	modal, err := page.FirstVisible(ctx, p, c.sel.Modal)
	if err != nil {
		return Screen{}, err
	}
	if modal == nil {
		return Screen{Status: StatusTerminal}, nil
	}

	groups, err := p.QueryWithin(ctx, modal, c.sel.FieldGroup)
	if err != nil {
		return Screen{}, err
	}

	sawWidget := false
	// The modal itself is the last group, used only for layouts whose widgets sit
	// outside any field group.
	groups = append(groups, modal)
	for i, g := range groups {
		if i == len(groups)-1 && sawWidget {
			break
		}
		w, err := c.widgetIn(ctx, p, g)
		if err != nil {
			return Screen{}, err
		}
		if w == nil {
			continue
		}
		sawWidget = true

		answered, err := c.answered(ctx, p, w)
		if err != nil {
			return Screen{}, err
		}
		if answered {
			continue
		}

		q, err := c.describe(ctx, p, w)
		if err != nil {
			return Screen{}, err
		}
		if q.RawText == "" {
			c.logger.Debug("Widget without readable question text; treating screen as still rendering.")
			return Screen{Status: StatusTransient}, nil
		}
		if skip[q.RawText] {
			continue
		}
		return Screen{Status: StatusQuestion, Question: q, Widget: w}, nil
	}

	hasControl, err := c.hasProgressionCandidate(ctx, p, modal)
	if err != nil {
		return Screen{}, err
	}
	if hasControl {
		return Screen{Status: StatusReady}, nil
	}
	if sawWidget {
		return Screen{Status: StatusTransient}, nil
	}
	text, err := p.Text(ctx, modal)
	if err != nil {
		return Screen{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Screen{Status: StatusTransient}, nil
	}
	return Screen{Status: StatusTerminal}, nil
}

// widgetIn finds the first visible, enabled widget within a group.
func (c *Classifier) widgetIn(ctx context.Context, p page.Page, g page.Node) (*Widget, error) {
	selects, err := usable(ctx, p, g, c.sel.Select)
	if err != nil {
		return nil, err
	}
	if len(selects) > 0 {
		s := selects[0]
		opts, err := p.QueryWithin(ctx, s, "option")
		if err != nil {
			return nil, err
		}
		kind := SingleSelect
		if _, multi, err := p.Attribute(ctx, s, "multiple"); err != nil {
			return nil, err
		} else if multi {
			kind = MultiSelect
		}
		return &Widget{Kind: kind, Group: g, Control: s, Options: opts, Native: true}, nil
	}

	radios, err := usable(ctx, p, g, c.sel.Radio)
	if err != nil {
		return nil, err
	}
	if len(radios) > 0 {
		return &Widget{Kind: SingleSelect, Group: g, Control: radios[0], Options: radios}, nil
	}

	boxes, err := usable(ctx, p, g, c.sel.Checkbox)
	if err != nil {
		return nil, err
	}
	if len(boxes) > 0 {
		return &Widget{Kind: MultiSelect, Group: g, Control: boxes[0], Options: boxes}, nil
	}

	texts, err := usable(ctx, p, g, c.sel.TextInput)
	if err != nil {
		return nil, err
	}
	if len(texts) > 0 {
		return &Widget{Kind: FreeText, Group: g, Control: texts[0]}, nil
	}
	return nil, nil
}

// usable returns the matches under parent that are visible and enabled. Radio and
// checkbox inputs are often styled hidden behind their labels, so hidden ones count
// when a visible label points at them.
func usable(ctx context.Context, p page.Page, parent page.Node, selector string) ([]page.Node, error) {
	if selector == "" {
		return nil, nil
	}
	nodes, err := p.QueryWithin(ctx, parent, selector)
	if err != nil {
		return nil, err
	}
	var out []page.Node
	for _, n := range nodes {
		if off, err := p.Property(ctx, n, "disabled"); err != nil {
			return nil, err
		} else if off == "true" {
			continue
		}
		vis, err := p.Visible(ctx, n)
		if err != nil {
			return nil, err
		}
		if !vis {
			lbl, err := labelFor(ctx, p, n)
			if err != nil {
				return nil, err
			}
			if lbl == nil {
				continue
			}
			if vis, err = p.Visible(ctx, lbl); err != nil {
				return nil, err
			} else if !vis {
				continue
			}
		}
		out = append(out, n)
	}
	return out, nil
}

// labelFor returns the label bound to n by id, or the label wrapping it.
func labelFor(ctx context.Context, p page.Page, n page.Node) (page.Node, error) {
	id, ok, err := p.Attribute(ctx, n, "id")
	if err != nil {
		return nil, err
	}
	if ok && id != "" {
		l, err := p.QueryOne(ctx, fmt.Sprintf(`label[for=%q]`, id))
		if err != nil || l != nil {
			return l, err
		}
	}
	return p.Closest(ctx, n, "label")
}

func (c *Classifier) answered(ctx context.Context, p page.Page, w *Widget) (bool, error) {
	switch {
	case w.Native:
		for _, o := range w.Options {
			sel, err := p.Property(ctx, o, "selected")
			if err != nil {
				return false, err
			}
			if sel != "true" {
				continue
			}
			v, has, err := p.Attribute(ctx, o, "value")
			if err != nil {
				return false, err
			}
			txt, err := p.Text(ctx, o)
			if err != nil {
				return false, err
			}
			if !has {
				v = txt
			}
			return !isPlaceholder(v, txt), nil
		}
		return false, nil
	case w.Kind.IsSelect():
		for _, o := range w.Options {
			checked, err := p.Property(ctx, o, "checked")
			if err != nil {
				return false, err
			}
			if checked == "true" {
				return true, nil
			}
		}
		return false, nil
	}
	v, err := p.Property(ctx, w.Control, "value")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(v) != "", nil
}

// describe reads the question text and option labels of a widget.
func (c *Classifier) describe(ctx context.Context, p page.Page, w *Widget) (QuestionState, error) {
	q := QuestionState{Kind: w.Kind}

	for i, o := range w.Options {
		label, err := optionLabel(ctx, p, o, w.Native)
		if err != nil {
			return q, err
		}
		raw, hasValue, err := p.Attribute(ctx, o, "value")
		if err != nil {
			return q, err
		}
		if w.Native && i == 0 && (hasValue && raw == "" || isPlaceholder(label, label)) {
			continue
		}
		id := label
		if hasValue && raw != "" {
			id = raw
		} else if v, ok, _ := p.Attribute(ctx, o, "id"); ok && v != "" {
			id = v
		}
		off, err := p.Property(ctx, o, "disabled")
		if err != nil {
			return q, err
		}
		q.Options = append(q.Options, Option{ID: id, Label: label, Disabled: off == "true"})
	}
	if w.Native {
		// Keep Options parallel to the nodes by dropping the placeholder node too.
		if len(w.Options) > len(q.Options) {
			w.Options = w.Options[len(w.Options)-len(q.Options):]
		}
	}

	if w.Kind == FreeText {
		t, _, err := p.Attribute(ctx, w.Control, "type")
		if err != nil {
			return q, err
		}
		q.InputType = strings.ToLower(t)
	}

	text, err := c.questionText(ctx, p, w, q.Labels())
	if err != nil {
		return q, err
	}
	q.RawText = text
	return q, nil
}

func (c *Classifier) questionText(ctx context.Context, p page.Page, w *Widget, optionLabels []string) (string, error) {
	isOption := make(map[string]bool, len(optionLabels))
	for _, l := range optionLabels {
		isOption[strings.ToLower(l)] = true
	}

	// Chat-style flows keep earlier questions in the transcript; the pending one is last.
	if c.sel.QuestionText != "" {
		nodes, err := p.QueryWithin(ctx, w.Group, c.sel.QuestionText)
		if err != nil {
			return "", err
		}
		last := ""
		for _, n := range nodes {
			t, err := p.Text(ctx, n)
			if err != nil {
				return "", err
			}
			t = normalize(t)
			if t == "" || isOption[strings.ToLower(t)] {
				continue
			}
			if vis, err := p.Visible(ctx, n); err != nil {
				return "", err
			} else if !vis {
				continue
			}
			last = t
		}
		if last != "" {
			return last, nil
		}
	}

	if v, ok, err := p.Attribute(ctx, w.Control, "aria-label"); err != nil {
		return "", err
	} else if ok && !w.Kind.IsSelect() || ok && w.Native {
		if v = normalize(v); v != "" {
			return v, nil
		}
	}
	if w.Kind == FreeText || w.Native {
		if l, err := labelFor(ctx, p, w.Control); err != nil {
			return "", err
		} else if l != nil {
			t, err := p.Text(ctx, l)
			if err != nil {
				return "", err
			}
			if t = normalize(t); t != "" {
				return t, nil
			}
		}
	}
	if w.Kind == FreeText {
		if v, _, err := p.Attribute(ctx, w.Control, "placeholder"); err != nil {
			return "", err
		} else if v = normalize(v); v != "" {
			return v, nil
		}
	}

	// Short questions, such as a bare skill name, may sit in an unmarked sibling of
	// the widget. Take the nearest container's text minus the option labels.
	for _, scope := range []string{"fieldset, li, section, form, div", ""} {
		var n page.Node = w.Group
		if scope != "" {
			near, err := p.Closest(ctx, w.Control, scope)
			if err != nil {
				return "", err
			}
			if near == nil {
				continue
			}
			n = near
		}
		t, err := p.Text(ctx, n)
		if err != nil {
			return "", err
		}
		if t = stripLabels(t, optionLabels); t != "" {
			return t, nil
		}
	}
	return "", nil
}

func optionLabel(ctx context.Context, p page.Page, o page.Node, native bool) (string, error) {
	if !native {
		if l, err := labelFor(ctx, p, o); err != nil {
			return "", err
		} else if l != nil {
			t, err := p.Text(ctx, l)
			if err != nil {
				return "", err
			}
			if t = normalize(t); t != "" {
				return t, nil
			}
		}
		if v, ok, err := p.Attribute(ctx, o, "aria-label"); err != nil {
			return "", err
		} else if ok && v != "" {
			return normalize(v), nil
		}
	}
	t, err := p.Text(ctx, o)
	if err != nil {
		return "", err
	}
	if t = normalize(t); t != "" {
		return t, nil
	}
	v, _, err := p.Attribute(ctx, o, "value")
	return normalize(v), err
}

func (c *Classifier) hasProgressionCandidate(ctx context.Context, p page.Page, modal page.Node) (bool, error) {
	buttons, err := p.QueryWithin(ctx, modal, c.sel.Buttons)
	if err != nil {
		return false, err
	}
	for _, b := range buttons {
		ok, _, err := inspectControl(ctx, p, b)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func isPlaceholder(value, label string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	return strings.TrimSpace(value) == "" ||
		strings.HasPrefix(l, "select") || strings.HasPrefix(l, "choose") || l == "--" || l == ""
}

// stripLabels removes whole-word occurrences of each label, so "No" leaves
// "Node.js" intact.
func stripLabels(text string, labels []string) string {
	s := []rune(text)
	for _, l := range labels {
		w := []rune(l)
		if len(w) == 0 {
			continue
		}
		for i := 0; i+len(w) <= len(s); i++ {
			if wordAt(s, w, i) {
				s = append(s[:i], append([]rune{' '}, s[i+len(w):]...)...)
			}
		}
	}
	return normalize(string(s))
}
