// File: cmd/explain_test.go
package cmd

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/applypilot/internal/form"
)

const snapshot = `<html><body>
<div role="dialog">
  <div class="form-group">
    <label for="ctc">What is your expected CTC (in LPA)?</label>
    <input id="ctc" type="number">
  </div>
  <fieldset><legend>Notice Period</legend>
    <input type="radio" id="a" name="np" value="15"><label for="a">15 Days or less</label>
    <input type="radio" id="b" name="np" value="30"><label for="b">1 Month</label>
  </fieldset>
  <footer><button id="submit">Submit application</button></footer>
</div>
</body></html>`

func TestExplainSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := settingsFor(writeFile(t, dir, "config.yaml", testConfig), "")
	require.NoError(t, s.load())
	s.cfg.Profile.Path = writeFile(t, dir, "profile.yaml", testProfile)

	report, err := explainSnapshot(t.Context(), s.cfg, writeFile(t, dir, "screen.html", snapshot))
	require.NoError(t, err)

	require.Len(t, report.Questions, 2)
	ctc := report.Questions[0]
	assert.Contains(t, ctc.Question, "expected CTC")
	assert.Equal(t, "FreeText", ctc.Kind)
	assert.Equal(t, "number", ctc.Input)
	assert.Equal(t, "compensation", ctc.Rule)
	if diff := cmp.Diff(&form.Candidate{Kind: form.FreeText, Value: "18"}, ctc.Answer); diff != "" {
		t.Errorf("ctc answer mismatch (-want +got):\n%s", diff)
	}

	notice := report.Questions[1]
	assert.Equal(t, "notice-period", notice.Rule)
	assert.Equal(t, []string{"15 Days or less", "1 Month"}, notice.Options)
	require.NotNil(t, notice.Answer)
	assert.Equal(t, "15 Days or less", notice.Answer.Value)

	assert.Equal(t, form.StatusReady.String(), report.Status)
}

func TestExplainCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", testConfig)
	profPath := writeFile(t, dir, "profile.yaml", testProfile)
	snapPath := writeFile(t, dir, "screen.html", snapshot)

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, "-c", cfgPath, "explain", "-p", profPath, snapPath)
		require.NoError(t, err)
		assert.Contains(t, out, "expected CTC")
		assert.Contains(t, out, "kind:    FreeText (number)")
		assert.Contains(t, out, "rule:    notice-period")
		assert.Contains(t, out, "options: 15 Days or less | 1 Month")
		assert.Contains(t, out, "screen: Ready")
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "-c", cfgPath, "explain", "-p", profPath, "--json", "--today", "2026-03-02", snapPath)
		require.NoError(t, err)
		var report ScreenReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, "Ready", report.Status)
		assert.NotEmpty(t, report.Questions)
	})

	t.Run("bad date", func(t *testing.T) {
		_, err := execute(t, "-c", cfgPath, "explain", "-p", profPath, "--today", "02/03/2026", snapPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--today")
	})

	t.Run("missing snapshot", func(t *testing.T) {
		_, err := execute(t, "-c", cfgPath, "explain", "-p", profPath, dir+"/absent.html")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read snapshot")
	})
}
