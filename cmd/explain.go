// File: cmd/explain.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/applypilot/internal/answer"
	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/form"
	"github.com/xkilldash9x/applypilot/internal/observability"
	"github.com/xkilldash9x/applypilot/internal/page/htmlpage"
	"github.com/xkilldash9x/applypilot/internal/profile"
)

// Explanation is the inferred answer for one question of a saved screen.
type Explanation struct {
	Question string          `json:"question"`
	Kind     string          `json:"kind"`
	Input    string          `json:"input_type,omitempty"`
	Options  []string        `json:"options,omitempty"`
	Rule     string          `json:"rule,omitempty"`
	Answer   *form.Candidate `json:"answer,omitempty"`
}

// ScreenReport is everything explain found on a snapshot.
type ScreenReport struct {
	Questions []Explanation `json:"questions"`
	// Status is how the screen classifies once every question is passed over.
	Status string `json:"status"`
}

func newExplainCmd(s *settings) *cobra.Command {
	var today string
	var asJSON bool

	explainCmd := &cobra.Command{
		Use:   "explain <snapshot.html>",
		Short: "Show how each question in a saved application screen would be answered",
		Long: `Explain classifies a saved HTML snapshot of an application modal without a
browser and prints, for every pending question, the widget kind, the options, the
rule that matched and the answer the profile produces.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := resolverOptions(today)
			if err != nil {
				return err
			}
			report, err := explainSnapshot(cmd.Context(), s.cfg, args[0], opts...)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, asJSON)
		},
	}

	flags := explainCmd.Flags()
	flags.StringP("profile", "p", "", "applicant profile file (YAML, JSON or TOML)")
	flags.StringVar(&today, "today", "", "date to resolve date questions against, as YYYY-MM-DD")
	flags.BoolVar(&asJSON, "json", false, "print the report as JSON")
	s.bindFlags(explainCmd, map[string]string{"profile.path": "profile"})
	return explainCmd
}

func resolverOptions(today string) ([]answer.Option, error) {
	if today == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, today, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid --today %q: %w", today, err)
	}
	return []answer.Option{answer.WithClock(func() time.Time { return t })}, nil
}

// explainSnapshot walks the questions of a snapshot in screen order.
func explainSnapshot(ctx context.Context, cfg *config.Config, path string, opts ...answer.Option) (*ScreenReport, error) {
	logger := observability.GetLogger()

	prof, err := profile.Load(cfg.Profile.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand snapshot path: %w", err)
	}
	markup, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	p, err := htmlpage.New(string(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	defer p.Close()

	classifier := form.NewClassifier(cfg.Selectors, logger)
	resolver := answer.New(opts...)

	report := &ScreenReport{}
	skip := make(map[string]bool)
	for {
		screen, err := classifier.Classify(ctx, p, skip)
		if err != nil {
			return nil, fmt.Errorf("failed to classify snapshot: %w", err)
		}
		if screen.Status != form.StatusQuestion {
			report.Status = screen.Status.String()
			return report, nil
		}
		q := screen.Question
		skip[q.RawText] = true

		c, rule := resolver.Explain(q, prof)
		report.Questions = append(report.Questions, Explanation{
			Question: q.RawText,
			Kind:     q.Kind.String(),
			Input:    q.InputType,
			Options:  q.Labels(),
			Rule:     rule,
			Answer:   c,
		})
	}
}

func printReport(w io.Writer, r *ScreenReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	for i, e := range r.Questions {
		fmt.Fprintf(w, "%d. %s\n", i+1, e.Question)
		kind := e.Kind
		if e.Input != "" {
			kind += " (" + e.Input + ")"
		}
		fmt.Fprintf(w, "   kind:    %s\n", kind)
		if len(e.Options) > 0 {
			fmt.Fprintf(w, "   options: %s\n", strings.Join(e.Options, " | "))
		}
		if e.Answer == nil {
			fmt.Fprintf(w, "   answer:  (unanswerable)\n")
			continue
		}
		fmt.Fprintf(w, "   rule:    %s\n", e.Rule)
		fmt.Fprintf(w, "   answer:  %s\n", strings.Join(e.Answer.Strings(), ", "))
	}
	_, err := fmt.Fprintf(w, "screen: %s\n", r.Status)
	return err
}
