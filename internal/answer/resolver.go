// internal/answer/resolver.go

// Package answer infers answers for application form questions from the
// applicant profile. Inference is an ordered table of rules; the first rule that
// matches and produces a candidate wins.
package answer

import (
	"strings"
	"time"

	"github.com/xkilldash9x/applypilot/internal/form"
	"github.com/xkilldash9x/applypilot/internal/profile"
)

// Resolver maps a classified question and a profile to an answer candidate.
// It holds no mutable state; the only input besides its arguments is the clock.
type Resolver struct {
	rules   []rule
	catalog *SkillCatalog
	now     func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces time.Now for date computations.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithCatalog replaces the default skill catalog.
func WithCatalog(c *SkillCatalog) Option {
	return func(r *Resolver) { r.catalog = c }
}

// New creates a Resolver with the default rule table.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		rules: defaultRules(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.catalog == nil {
		r.catalog = NewSkillCatalog(DefaultSkills)
	}
	return r
}

// Resolve returns the answer for q, or nil when the question is unanswerable.
func (r *Resolver) Resolve(q form.QuestionState, p *profile.Profile) *form.Candidate {
	c, _ := r.Explain(q, p)
	return c
}

// Explain is Resolve plus the name of the rule that produced the answer.
func (r *Resolver) Explain(q form.QuestionState, p *profile.Profile) (*form.Candidate, string) {
	if p == nil || q.Kind == form.Unknown {
		return nil, ""
	}
	qq := &query{
		QuestionState: q,
		text:          strings.ToLower(strings.Join(strings.Fields(q.RawText), " ")),
		p:             p,
	}
	for _, rl := range r.rules {
		if !rl.match(r, qq) {
			continue
		}
		if c := rl.produce(r, qq); c != nil {
			return c, rl.name
		}
	}
	return nil, ""
}

// Rules lists the rule names in evaluation order.
func (r *Resolver) Rules() []string {
	out := make([]string, len(r.rules))
	for i, rl := range r.rules {
		out[i] = rl.name
	}
	return out
}

// skillYears looks a skill up in the profile, either directly or through any
// profile key that is an alias of it ("golang" for "go").
func (r *Resolver) skillYears(key string, p *profile.Profile) (float64, bool) {
	if y, ok := p.YearsFor(key); ok {
		return y, true
	}
	for _, k := range p.SkillKeys() {
		if ck, ok := r.catalog.Exact(k); ok && ck == key {
			return p.SkillYears[k], true
		}
	}
	return 0, false
}

// yearsFor is skillYears with overall experience for unmapped skills.
func (r *Resolver) yearsFor(key string, p *profile.Profile) float64 {
	if y, ok := r.skillYears(key, p); ok {
		return y
	}
	return p.ExperienceYears
}
