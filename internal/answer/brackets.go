// internal/answer/brackets.go
package answer

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/applypilot/internal/form"
)

// bracket is a numeric interval read from an option label such as "10-15 Lakhs",
// "5+ years" or "Less than 1 year". hi is +Inf for open-ended brackets.
type bracket struct {
	lo, hi float64
	hiIncl bool
}

func (b bracket) contains(v float64) bool {
	return v >= b.lo && (v < b.hi || b.hiIncl && v == b.hi)
}

func (b bracket) distance(v float64) float64 {
	switch {
	case v < b.lo:
		return b.lo - v
	case v > b.hi:
		return v - b.hi
	}
	return 0
}

var (
	numRe      = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	lessThanRe = regexp.MustCompile(`(?i)\b(less than|below|under|fewer than)\b|<`)
	atMostRe   = regexp.MustCompile(`(?i)\b(or less|and below|or below|up ?to|at most|max(imum)?)\b|≤`)
	atLeastRe  = regexp.MustCompile(`(?i)\b(more than|above|over|greater than|at least|or more|and above|plus|min(imum)?)\b|\d\s*\+|>|≥`)
	rangeRe    = regexp.MustCompile(`(?i)\d\s*(-|–|—|to|and)\s*\d`)
)

// numbersIn returns the numbers in s, reading "12,00,000" as 1200000.
func numbersIn(s string) []float64 {
	var out []float64
	for _, m := range numRe.FindAllString(s, -1) {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// parseBracket reads an option label. scale converts raw numbers into the unit the
// caller compares in; nil leaves them as is.
func parseBracket(label string, scale func(float64) float64) (bracket, bool) {
	nums := numbersIn(label)
	if len(nums) == 0 {
		return bracket{}, false
	}
	if scale == nil {
		scale = func(v float64) float64 { return v }
	}
	a := scale(nums[0])

	switch {
	case len(nums) >= 2 && rangeRe.MatchString(label):
		b := scale(nums[1])
		if b < a {
			a, b = b, a
		}
		return bracket{lo: a, hi: b}, true
	case lessThanRe.MatchString(label):
		return bracket{lo: 0, hi: a}, true
	case atMostRe.MatchString(label):
		return bracket{lo: 0, hi: a, hiIncl: true}, true
	case atLeastRe.MatchString(label):
		return bracket{lo: a, hi: math.Inf(1)}, true
	}
	return bracket{lo: a, hi: a, hiIncl: true}, true
}

// pickBracket returns the index of the enabled option whose bracket holds v. When
// none holds it, the nearest bracket wins. -1 means no option had a number.
func pickBracket(opts []form.Option, v float64, scale func(label string) func(float64) float64) int {
	type parsed struct {
		idx int
		b   bracket
	}
	var all []parsed
	for i, o := range opts {
		if o.Disabled {
			continue
		}
		var s func(float64) float64
		if scale != nil {
			s = scale(o.Label)
		}
		if b, ok := parseBracket(o.Label, s); ok {
			all = append(all, parsed{i, b})
		}
	}
	for _, p := range all {
		if p.b.contains(v) {
			return p.idx
		}
	}
	best, bestDist := -1, math.Inf(1)
	for _, p := range all {
		if d := p.b.distance(v); d < bestDist {
			best, bestDist = p.idx, d
		}
	}
	return best
}

var (
	croreRe = regexp.MustCompile(`(?i)\b(cr|crore|crores)\b`)
	kiloRe  = regexp.MustCompile(`(?i)\d\s*k\b|thousand`)
)

// lakhScale converts the numbers of a compensation label into lakhs.
func lakhScale(label string) func(float64) float64 {
	return func(v float64) float64 {
		switch {
		case croreRe.MatchString(label):
			return v * 100
		case kiloRe.MatchString(label):
			return v / 100
		case v > 1000:
			return v / 100000
		}
		return v
	}
}

// formatNumber prints whole numbers without decimals and others with one.
func formatNumber(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
