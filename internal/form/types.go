// internal/form/types.go

// Package form reads and drives one screen of a multi-step application modal:
// classifying the pending question, committing answers, advancing, and judging
// whether the flow has completed.
package form

import (
	"errors"
	"strings"
	"unicode"

	"github.com/xkilldash9x/applypilot/internal/page"
)

// WidgetKind is the shape of the input a question is answered through.
type WidgetKind int

const (
	Unknown WidgetKind = iota
	FreeText
	SingleSelect
	MultiSelect
)

func (k WidgetKind) String() string {
	switch k {
	case FreeText:
		return "FreeText"
	case SingleSelect:
		return "SingleSelect"
	case MultiSelect:
		return "MultiSelect"
	}
	return "Unknown"
}

// IsSelect reports whether answers pick among options.
func (k WidgetKind) IsSelect() bool { return k == SingleSelect || k == MultiSelect }

// Option is one choice of a select-shaped widget.
type Option struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled,omitempty"`
}

// QuestionState is the classified pending question of the current screen.
type QuestionState struct {
	RawText string     `json:"question"`
	Kind    WidgetKind `json:"kind"`
	Options []Option   `json:"options,omitempty"`
	// InputType is the type attribute of a text input, e.g. "number" or "date".
	InputType string `json:"input_type,omitempty"`
}

// Labels returns the option labels in order.
func (q QuestionState) Labels() []string {
	out := make([]string, len(q.Options))
	for i, o := range q.Options {
		out[i] = o.Label
	}
	return out
}

// Candidate is an inferred answer. Value is used by FreeText and SingleSelect,
// Values by MultiSelect.
type Candidate struct {
	Kind   WidgetKind `json:"kind"`
	Value  string     `json:"value,omitempty"`
	Values []string   `json:"values,omitempty"`
}

// Strings returns the answer as a list regardless of kind.
func (c Candidate) Strings() []string {
	if c.Kind == MultiSelect || len(c.Values) > 0 {
		return c.Values
	}
	if c.Value == "" {
		return nil
	}
	return []string{c.Value}
}

func (c Candidate) String() string {
	if c.Kind == MultiSelect {
		return strings.Join(c.Values, "; ")
	}
	return c.Value
}

// Widget is the live handle behind a QuestionState.
type Widget struct {
	Kind  WidgetKind
	Group page.Node
	// Control is the text field, or the <select> element for native selects.
	Control page.Node
	// Options parallels QuestionState.Options.
	Options []page.Node
	Native  bool
}

var (
	// ErrWidgetMismatch means no commit strategy made the widget hold the answer.
	ErrWidgetMismatch = errors.New("form: widget did not accept the answer")
	// ErrNoProgressionControl means the screen offers no Next/Submit-like control.
	ErrNoProgressionControl = errors.New("form: no progression control")
)

// normalize collapses whitespace and strips required-field markers.
func normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, " *")
	return dedupeRepeat(s)
}

// dedupeRepeat turns "Question?Question?" or "Q Q" (visible label plus screen-reader
// copy) into a single copy.
func dedupeRepeat(s string) string {
	n := len(s)
	if n >= 2 && n%2 == 0 && s[:n/2] == s[n/2:] {
		return s[:n/2]
	}
	if n >= 3 && n%2 == 1 && s[n/2] == ' ' && s[:n/2] == s[n/2+1:] {
		return s[:n/2]
	}
	return s
}

// HasWord reports whether word occurs in text as a whole word, ignoring case.
func HasWord(text, word string) bool {
	s, w := []rune(text), []rune(word)
	if len(w) == 0 {
		return false
	}
	for i := 0; i+len(w) <= len(s); i++ {
		if wordAt(s, w, i) {
			return true
		}
	}
	return false
}

// wordAt reports whether w starts at s[i] with no letter or digit on either side.
func wordAt(s, w []rune, i int) bool {
	if i > 0 && isWordRune(s[i-1]) {
		return false
	}
	if j := i + len(w); j < len(s) && isWordRune(s[j]) {
		return false
	}
	for k, r := range w {
		if unicode.ToLower(s[i+k]) != unicode.ToLower(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
