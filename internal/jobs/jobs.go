// internal/jobs/jobs.go

// Package jobs reads the list of job postings an apply run works through.
package jobs

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/xeipuuv/gojsonschema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrAlreadyApplied is returned by openers when the posting shows it was applied to
// before the flow could start.
var ErrAlreadyApplied = errors.New("jobs: already applied")

//go:embed schema.json
var schemaJSON string

// Job is one posting to apply to.
type Job struct {
	// Reference identifies the job in outcomes and the ledger. Defaults to URL.
	Reference string `json:"reference,omitempty"`
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Company   string `json:"company,omitempty"`
}

// ValidationError lists every schema violation in a jobs document.
type ValidationError struct {
	Path   string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("jobs file %s is invalid: %s", e.Path, strings.Join(e.Fields, "; "))
}

// Load reads and validates a jobs file. A leading ~ in path is expanded.
func Load(path string) ([]Job, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("could not expand jobs path %q: %w", path, err)
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}
	return Parse(expanded, raw)
}

// Parse validates raw against the jobs schema and decodes it. name is only used in
// error messages.
func Parse(name string, raw []byte) ([]Job, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate jobs file %s: %w", name, err)
	}
	if !result.Valid() {
		verr := &ValidationError{Path: name}
		for _, re := range result.Errors() {
			verr.Fields = append(verr.Fields, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
		}
		return nil, verr
	}

	var doc struct {
		Jobs []Job `json:"jobs"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode jobs file %s: %w", name, err)
	}
	return Normalize(doc.Jobs)
}

// FromURLs builds jobs from bare URLs, as given on the command line.
func FromURLs(urls []string) ([]Job, error) {
	list := make([]Job, 0, len(urls))
	for _, u := range urls {
		list = append(list, Job{URL: u})
	}
	return Normalize(list)
}

// Normalize fills default references, checks URLs and drops duplicate references,
// keeping the first.
func Normalize(list []Job) ([]Job, error) {
	seen := make(map[string]bool, len(list))
	out := make([]Job, 0, len(list))
	for i, j := range list {
		j.URL = strings.TrimSpace(j.URL)
		u, err := url.Parse(j.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("job %d: %q is not an absolute http(s) url", i, j.URL)
		}
		j.Reference = strings.TrimSpace(j.Reference)
		if j.Reference == "" {
			j.Reference = j.URL
		}
		if seen[j.Reference] {
			continue
		}
		seen[j.Reference] = true
		out = append(out, j)
	}
	return out, nil
}
