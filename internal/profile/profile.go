// internal/profile/profile.go

// Package profile holds the applicant data that answers are inferred from.
package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Profile is the structured applicant record. It is read-only once loaded.
type Profile struct {
	Name            string   `mapstructure:"name" json:"name,omitempty"`
	NoticePeriod    string   `mapstructure:"notice_period" json:"notice_period" validate:"required"`
	CurrentLocation string   `mapstructure:"current_location" json:"current_location" validate:"required"`
	PreferredCities []string `mapstructure:"preferred_cities" json:"preferred_cities" validate:"dive,required"`
	// DateOfBirth is written to forms as given, e.g. "15/08/1995".
	DateOfBirth     string  `mapstructure:"date_of_birth" json:"date_of_birth,omitempty"`
	ExperienceYears float64 `mapstructure:"experience_years" json:"experience_years" validate:"gte=0,lte=60"`
	// CurrentCTC and ExpectedCTC are free-form, e.g. "12 LPA" or "18-20 LPA".
	CurrentCTC  string             `mapstructure:"current_ctc" json:"current_ctc,omitempty" validate:"omitempty,ctc"`
	ExpectedCTC string             `mapstructure:"expected_ctc" json:"expected_ctc,omitempty" validate:"omitempty,ctc"`
	SkillYears  map[string]float64 `mapstructure:"skill_years" json:"skill_years,omitempty" validate:"dive,keys,required,endkeys,gte=0,lte=60"`
	// Relocation is nil when the applicant has not stated a preference.
	Relocation            *bool `mapstructure:"relocation" json:"relocation,omitempty"`
	LastWorkingDayOfMonth int   `mapstructure:"last_working_day_of_month" json:"last_working_day_of_month,omitempty" validate:"omitempty,min=1,max=31"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ctc", func(fl validator.FieldLevel) bool {
		_, err := ParseCTC(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and normalizes skill keys to lower case.
func (p *Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("profile invalid: %w", err)
	}
	if len(p.SkillYears) > 0 {
		norm := make(map[string]float64, len(p.SkillYears))
		for k, v := range p.SkillYears {
			norm[strings.ToLower(strings.TrimSpace(k))] = v
		}
		p.SkillYears = norm
	}
	return nil
}

// YearsFor returns the configured years for a skill key, or false when unmapped.
func (p *Profile) YearsFor(skill string) (float64, bool) {
	y, ok := p.SkillYears[strings.ToLower(skill)]
	return y, ok
}

// SkillKeys returns the configured skill keys sorted longest first, then
// alphabetically, so multi-word skills win over their prefixes.
func (p *Profile) SkillKeys() []string {
	keys := make([]string, 0, len(p.SkillYears))
	for k := range p.SkillYears {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// WillingToRelocate defaults to true when unstated.
func (p *Profile) WillingToRelocate() bool {
	return p.Relocation == nil || *p.Relocation
}
