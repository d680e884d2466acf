// internal/profile/quantity.go
package profile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CTC is a compensation figure normalized to lakhs per annum.
type CTC struct {
	Low, High float64
	Raw       string
}

// IsRange reports whether the figure was written as a range.
func (c CTC) IsRange() bool { return c.High > c.Low }

// Value is the representative figure: the lower bound of a range.
func (c CTC) Value() float64 { return c.Low }

var (
	numberRe = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	croreRe  = regexp.MustCompile(`(?i)\b(cr|crore|crores)\b`)
	thouRe   = regexp.MustCompile(`(?i)\d\s*k\b|thousand`)
)

// ParseCTC reads figures such as "12 LPA", "18-20 LPA", "12.5 Lakhs", "1.2 Cr" or
// "1200000". Bare numbers above 1000 are taken as rupees.
func ParseCTC(s string) (CTC, error) {
	nums := numbers(s)
	if len(nums) == 0 {
		return CTC{}, fmt.Errorf("no figure in %q", s)
	}
	scale := func(v float64) float64 {
		switch {
		case croreRe.MatchString(s):
			return v * 100
		case thouRe.MatchString(s):
			return v / 100
		case v > 1000:
			return v / 100000
		}
		return v
	}
	c := CTC{Low: scale(nums[0]), Raw: strings.TrimSpace(s)}
	c.High = c.Low
	if len(nums) > 1 && strings.ContainsAny(s, "-–") || len(nums) > 1 && strings.Contains(strings.ToLower(s), " to ") {
		c.High = scale(nums[1])
		if c.High < c.Low {
			c.Low, c.High = c.High, c.Low
		}
	}
	return c, nil
}

func numbers(s string) []float64 {
	var out []float64
	for _, m := range numberRe.FindAllString(s, -1) {
		m = strings.ReplaceAll(m, ",", "")
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

var (
	immediateRe = regexp.MustCompile(`(?i)immediate|\bnone\b|\bno notice\b|already serving|^\s*0\s*(days?)?\s*$`)
	durationRe  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(days?|weeks?|wks?|months?|mths?|mos?)\b`)
)

// NoticeDays converts a notice period phrase to days. "Immediate" is 0; a month is 30 days.
func NoticeDays(s string) (int, bool) {
	if immediateRe.MatchString(s) {
		return 0, true
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "w"):
		n *= 7
	case strings.HasPrefix(unit, "m"):
		n *= 30
	}
	return int(n + 0.5), true
}

// NoticePhrase renders days canonically: "Immediate", "15 days", "1 month", "2 months".
func NoticePhrase(days int) string {
	switch {
	case days <= 0:
		return "Immediate"
	case days%30 == 0:
		if days == 30 {
			return "1 month"
		}
		return fmt.Sprintf("%d months", days/30)
	}
	return fmt.Sprintf("%d days", days)
}
