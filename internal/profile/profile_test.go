// internal/profile/profile_test.go
package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
notice_period: "15 Days or less"
current_location: "Bengaluru"
preferred_cities: ["Noida", "Gurugram", "Mumbai"]
date_of_birth: "15/08/1995"
experience_years: 6
current_ctc: "12 LPA"
expected_ctc: "18-20 LPA"
skill_years:
  Go: 4
  "Node.js": 3
  kubernetes: 2
relocation: false
last_working_day_of_month: 30
`

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	p, err := Load(writeProfile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "15 Days or less", p.NoticePeriod)
	assert.Equal(t, []string{"Noida", "Gurugram", "Mumbai"}, p.PreferredCities)
	assert.Equal(t, 30, p.LastWorkingDayOfMonth)
	assert.False(t, p.WillingToRelocate())

	y, ok := p.YearsFor("NODE.JS")
	assert.True(t, ok)
	assert.Equal(t, 3.0, y)
	assert.Equal(t, []string{"kubernetes", "node.js", "go"}, p.SkillKeys())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing notice period", "current_location: Pune\n"},
		{"day out of range", "notice_period: 1 month\ncurrent_location: Pune\nlast_working_day_of_month: 32\n"},
		{"unparseable ctc", "notice_period: 1 month\ncurrent_location: Pune\nexpected_ctc: negotiable\n"},
		{"negative experience", "notice_period: 1 month\ncurrent_location: Pune\nexperience_years: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeProfile(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "profile invalid")
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestCacheLoadsOnce(t *testing.T) {
	path := writeProfile(t, sample)
	c := NewCache(path)
	first, err := c.Get()
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	second, err := c.Get()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestParseCTC(t *testing.T) {
	tests := []struct {
		in        string
		low, high float64
	}{
		{"12 LPA", 12, 12},
		{"18-20 LPA", 18, 20},
		{"12.5 Lakhs", 12.5, 12.5},
		{"1200000", 12, 12},
		{"1.2 Cr", 120, 120},
		{"10 to 15 lakhs", 10, 15},
		{"12,00,000", 12, 12},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseCTC(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.low, c.Low, 0.001)
			assert.InDelta(t, tt.high, c.High, 0.001)
		})
	}
	_, err := ParseCTC("negotiable")
	assert.Error(t, err)
}

func TestNoticeDays(t *testing.T) {
	tests := map[string]int{
		"Immediate":       0,
		"15 Days or less": 15,
		"1 Month":         30,
		"2 months":        60,
		"3 weeks":         21,
		"0 days":          0,
	}
	for in, want := range tests {
		got, ok := NoticeDays(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := NoticeDays("negotiable")
	assert.False(t, ok)

	assert.Equal(t, "Immediate", NoticePhrase(0))
	assert.Equal(t, "15 days", NoticePhrase(15))
	assert.Equal(t, "1 month", NoticePhrase(30))
	assert.Equal(t, "3 months", NoticePhrase(90))
}
