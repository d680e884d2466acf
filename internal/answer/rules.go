// internal/answer/rules.go
package answer

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/applypilot/internal/form"
	"github.com/xkilldash9x/applypilot/internal/profile"
)

// query is one question under evaluation.
type query struct {
	form.QuestionState
	text string
	p    *profile.Profile
}

func (q *query) number() bool { return q.InputType == "number" }
func (q *query) date() bool   { return q.InputType == "date" }

// rule is a row of the table. produce may return nil to decline, in which case
// evaluation continues with the next row.
type rule struct {
	name    string
	match   func(r *Resolver, q *query) bool
	produce func(r *Resolver, q *query) *form.Candidate
}

func defaultRules() []rule {
	return []rule{
		{"skill-experience", matchSkill, produceSkill},
		{"compensation", matchCompensation, produceCompensation},
		{"notice-period", matchNotice, produceNotice},
		{"location", matchLocation, produceLocation},
		{"dates", matchDates, produceDates},
		{"yes-no", matchYesNo, produceYesNo},
		{"fallback", func(*Resolver, *query) bool { return true }, produceFallback},
	}
}

var (
	experienceRe   = regexp.MustCompile(`\b(experience|experienced|years?|yrs?|exp)\b`)
	compensationRe = regexp.MustCompile(`\b(ctc|salary|compensation|package|remuneration|lpa)\b`)
	expectedRe     = regexp.MustCompile(`\b(expected|expectation|expectations|expecting|desired)\b`)
	rupeeRe        = regexp.MustCompile(`\b(rupees?|inr|rs\.?)\b|₹`)
	noticeRe       = regexp.MustCompile(`\b(notice|joining|join|how soon|serving)\b`)
	locationRe     = regexp.MustCompile(`\b(locations?|located|city|cities|relocat\w*|reside|residing|hometown|based (in|out of)|commute|work from office|onsite|on-site)\b`)
	relocationRe   = regexp.MustCompile(`\b(relocat\w*|commute|willing to (move|shift))\b`)
	dobRe          = regexp.MustCompile(`\b(date of birth|dob|birth ?date|born)\b`)
	lastDayRe      = regexp.MustCompile(`\b(last working (day|date)|lwd|last day (at|in|of) (your )?(current|present))\b`)
	yesRe          = regexp.MustCompile(`^yes\b`)
	noRe           = regexp.MustCompile(`^no\b`)
	dismissiveRe   = regexp.MustCompile(`^(no|none|not applicable|n/?a|decline|prefer not|skip|select|choose)\b|^$`)
)

func pick(q *query, idx int) *form.Candidate {
	if idx < 0 || idx >= len(q.Options) {
		return nil
	}
	return &form.Candidate{Kind: form.SingleSelect, Value: q.Options[idx].Label}
}

func freeText(v string) *form.Candidate {
	if v == "" {
		return nil
	}
	return &form.Candidate{Kind: form.FreeText, Value: v}
}

// yesNo returns the indexes of the Yes and No options when the select is shaped
// like a boolean question.
func yesNo(q *query) (yes, no int, ok bool) {
	if q.Kind != form.SingleSelect {
		return -1, -1, false
	}
	yes, no = -1, -1
	for i, o := range q.Options {
		l := strings.ToLower(strings.TrimSpace(o.Label))
		switch {
		case yes < 0 && yesRe.MatchString(l):
			yes = i
		case no < 0 && noRe.MatchString(l):
			no = i
		}
	}
	return yes, no, yes >= 0 && no >= 0
}

// Skill experience: "How many years of experience do you have in React?" or a
// bare "Node.js" prompt.

func matchSkill(r *Resolver, q *query) bool {
	if _, ok := r.catalog.Exact(q.text); ok {
		return true
	}
	if !experienceRe.MatchString(q.text) {
		return false
	}
	_, ok := r.catalog.with(q.p.SkillKeys()).Find(q.text)
	return ok
}

func produceSkill(r *Resolver, q *query) *form.Candidate {
	if _, _, ok := yesNo(q); ok || q.Kind == form.MultiSelect {
		return nil
	}
	key, ok := r.catalog.Exact(q.text)
	if !ok {
		key, _ = r.catalog.with(q.p.SkillKeys()).Find(q.text)
	}
	years := r.yearsFor(key, q.p)
	if q.Kind == form.FreeText {
		return freeText(formatNumber(years))
	}
	return pick(q, pickBracket(q.Options, years, nil))
}

// Compensation: current or expected CTC, as a bracket or the literal figure.

func matchCompensation(_ *Resolver, q *query) bool {
	return compensationRe.MatchString(q.text)
}

func produceCompensation(_ *Resolver, q *query) *form.Candidate {
	raw := q.p.CurrentCTC
	if expectedRe.MatchString(q.text) {
		raw = q.p.ExpectedCTC
	}
	if raw == "" {
		return nil
	}
	ctc, err := profile.ParseCTC(raw)

	switch q.Kind {
	case form.FreeText:
		if !q.number() {
			return freeText(raw)
		}
		if err != nil {
			return nil
		}
		if rupeeRe.MatchString(q.text) {
			return freeText(formatNumber(math.Round(ctc.Value() * 100000)))
		}
		return freeText(formatNumber(ctc.Value()))
	case form.SingleSelect:
		if _, _, ok := yesNo(q); ok || err != nil {
			return nil
		}
		return pick(q, pickBracket(q.Options, ctc.Value(), lakhScale))
	}
	return nil
}

// Notice period.

func matchNotice(_ *Resolver, q *query) bool {
	return noticeRe.MatchString(q.text) && !lastDayRe.MatchString(q.text)
}

func produceNotice(_ *Resolver, q *query) *form.Candidate {
	np := strings.TrimSpace(q.p.NoticePeriod)
	days, parsed := profile.NoticeDays(np)

	switch q.Kind {
	case form.FreeText:
		switch {
		case q.number() && parsed:
			return freeText(strconv.Itoa(days))
		case q.number():
			return nil
		case parsed:
			return freeText(profile.NoticePhrase(days))
		}
		return freeText(np)
	case form.SingleSelect:
		if _, _, ok := yesNo(q); ok {
			return nil
		}
		return pick(q, closestNotice(q.Options, np, days, parsed))
	}
	return nil
}

// closestNotice tries an exact label, then containment either way, then the
// nearest duration, then the largest word overlap.
func closestNotice(opts []form.Option, np string, days int, parsed bool) int {
	want := strings.ToLower(np)
	for i, o := range opts {
		if !o.Disabled && strings.EqualFold(strings.TrimSpace(o.Label), np) {
			return i
		}
	}
	for i, o := range opts {
		l := strings.ToLower(strings.TrimSpace(o.Label))
		if !o.Disabled && l != "" && (strings.Contains(l, want) || strings.Contains(want, l)) {
			return i
		}
	}
	if parsed {
		best, bestDiff := -1, math.MaxInt
		for i, o := range opts {
			d, ok := profile.NoticeDays(o.Label)
			if o.Disabled || !ok {
				continue
			}
			diff := d - days
			if diff < 0 {
				diff = -diff
			}
			if diff < bestDiff {
				best, bestDiff = i, diff
			}
		}
		if best >= 0 {
			return best
		}
	}
	best, bestScore := -1, 0
	words := strings.Fields(want)
	for i, o := range opts {
		if o.Disabled {
			continue
		}
		score := 0
		for _, w := range strings.Fields(strings.ToLower(o.Label)) {
			for _, x := range words {
				if w == x {
					score++
				}
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// Location and relocation.

var cityAliases = map[string][]string{
	"bengaluru": {"bangalore"},
	"bangalore": {"bengaluru"},
	"gurugram":  {"gurgaon"},
	"gurgaon":   {"gurugram"},
	"mumbai":    {"bombay"},
	"chennai":   {"madras"},
	"kolkata":   {"calcutta"},
}

func cityMatch(label, city string) bool {
	c := strings.TrimSpace(city)
	if c == "" {
		return false
	}
	if form.HasWord(label, c) {
		return true
	}
	for _, name := range cityAliases[strings.ToLower(c)] {
		if form.HasWord(label, name) {
			return true
		}
	}
	return false
}

func matchLocation(_ *Resolver, q *query) bool {
	return locationRe.MatchString(q.text)
}

func produceLocation(_ *Resolver, q *query) *form.Candidate {
	if relocationRe.MatchString(q.text) {
		willing := q.p.WillingToRelocate()
		if yes, no, ok := yesNo(q); ok {
			if willing {
				return pick(q, yes)
			}
			return pick(q, no)
		}
		if q.Kind == form.FreeText {
			if willing {
				return freeText("Yes")
			}
			return freeText("No")
		}
	}

	priority := append(append([]string(nil), q.p.PreferredCities...), q.p.CurrentLocation)
	switch q.Kind {
	case form.FreeText:
		return freeText(q.p.CurrentLocation)
	case form.SingleSelect:
		if _, _, ok := yesNo(q); ok {
			return nil
		}
		for _, city := range priority {
			for i, o := range q.Options {
				if !o.Disabled && cityMatch(o.Label, city) {
					return pick(q, i)
				}
			}
		}
	case form.MultiSelect:
		var vals []string
		for _, o := range q.Options {
			if o.Disabled {
				continue
			}
			for _, city := range q.p.PreferredCities {
				if cityMatch(o.Label, city) {
					vals = append(vals, o.Label)
					break
				}
			}
		}
		if len(vals) == 0 {
			for _, o := range q.Options {
				if !o.Disabled && cityMatch(o.Label, q.p.CurrentLocation) {
					vals = append(vals, o.Label)
				}
			}
		}
		if len(vals) > 0 {
			return &form.Candidate{Kind: form.MultiSelect, Values: vals}
		}
	}
	return nil
}

// Date of birth and last working day.

func matchDates(_ *Resolver, q *query) bool {
	return dobRe.MatchString(q.text) || lastDayRe.MatchString(q.text)
}

func produceDates(r *Resolver, q *query) *form.Candidate {
	if q.Kind != form.FreeText {
		return nil
	}
	if dobRe.MatchString(q.text) {
		dob := strings.TrimSpace(q.p.DateOfBirth)
		if q.date() {
			if t, ok := parseDate(dob); ok {
				return freeText(t.Format(isoLayout))
			}
		}
		return freeText(dob)
	}
	if q.p.LastWorkingDayOfMonth <= 0 {
		return nil
	}
	next := nextWorkingDay(r.now(), q.p.LastWorkingDayOfMonth)
	if q.date() {
		return freeText(next.Format(isoLayout))
	}
	return freeText(next.Format(dmyLayout))
}

// Boolean confirmations: "Are you familiar with Kafka?" with Yes/No options.

func matchYesNo(_ *Resolver, q *query) bool {
	_, _, ok := yesNo(q)
	return ok
}

func produceYesNo(_ *Resolver, q *query) *form.Candidate {
	yes, _, _ := yesNo(q)
	return pick(q, yes)
}

// Fallback: overall experience or a neutral affirmative for text, the first
// acceptable option for selects.

func produceFallback(r *Resolver, q *query) *form.Candidate {
	switch q.Kind {
	case form.FreeText:
		if q.number() || experienceRe.MatchString(q.text) {
			return freeText(formatNumber(q.p.ExperienceYears))
		}
		return freeText("Yes")
	case form.SingleSelect:
		if experienceRe.MatchString(q.text) {
			if c := pick(q, pickBracket(q.Options, q.p.ExperienceYears, nil)); c != nil {
				return c
			}
		}
		return pick(q, firstAcceptable(q.Options))
	case form.MultiSelect:
		// Prefer options naming skills the applicant has.
		var vals []string
		for _, o := range q.Options {
			if o.Disabled {
				continue
			}
			if key, ok := r.catalog.Exact(o.Label); ok {
				if _, has := r.skillYears(key, q.p); has {
					vals = append(vals, o.Label)
				}
			}
		}
		if len(vals) == 0 {
			if i := firstAcceptable(q.Options); i >= 0 {
				vals = []string{q.Options[i].Label}
			}
		}
		if len(vals) > 0 {
			return &form.Candidate{Kind: form.MultiSelect, Values: vals}
		}
	}
	return nil
}

func firstAcceptable(opts []form.Option) int {
	for i, o := range opts {
		if !o.Disabled && !dismissive(o.Label) {
			return i
		}
	}
	return -1
}

// dismissive reports placeholder and opt-out labels. Placeholders are often fenced
// in dashes ("-- Select --"), so those are trimmed first.
func dismissive(label string) bool {
	l := strings.Trim(strings.ToLower(label), placeholderFence)
	return dismissiveRe.MatchString(l)
}

const placeholderFence = " \t\n-\u2013\u2014_.*=<>[]()"
