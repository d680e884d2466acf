// internal/browser/browser_integration_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/jobs"
	"github.com/xkilldash9x/applypilot/internal/page"
)

const postingHTML = `<!doctype html><html><body>
<h1>Backend Engineer</h1>
<button id="apply-button" onclick="document.getElementById('modal').hidden = false">Easy Apply</button>
<div id="modal" role="dialog" hidden>
  <div class="form-group"><label for="ctc">Current CTC</label><input id="ctc" type="text"></div>
  <footer><button id="next">Next</button></footer>
</div>
</body></html>`

const appliedHTML = `<!doctype html><html><body><button class="apply-button">Applied</button></body></html>`

// setupManager launches a headless browser, skipping when none is installed.
func setupManager(t *testing.T) *Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	found := false
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("no Chrome or Chromium binary on PATH")
	}

	cfg := config.NewDefaultConfig()
	cfg.Browser.Headless = true
	cfg.Browser.NavigationTimeout = 15 * time.Second
	cfg.Engine.PollInterval = 20 * time.Millisecond

	m, err := NewManager(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func servePostings(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/1", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, postingHTML) })
	mux.HandleFunc("/jobs/2", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, appliedHTML) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAndDrivePage(t *testing.T) {
	m := setupManager(t)
	srv := servePostings(t)
	ctx := context.Background()

	p, err := m.Open(ctx, jobs.Job{Reference: "1", URL: srv.URL + "/jobs/1"})
	require.NoError(t, err)
	defer p.Close()

	modal, err := page.FirstVisible(ctx, p, `[role="dialog"]`)
	require.NoError(t, err)
	require.NotNil(t, modal)

	inputs, err := p.QueryWithin(ctx, modal, "input")
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "input", inputs[0].Tag())

	label, err := p.QueryOne(ctx, `label[for="ctc"]`)
	require.NoError(t, err)
	text, err := p.Text(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, "Current CTC", text)

	require.NoError(t, p.SetValue(ctx, inputs[0], "12"))
	require.NoError(t, p.SendKeys(ctx, inputs[0], " LPA"))
	got, err := p.Property(ctx, inputs[0], "value")
	require.NoError(t, err)
	assert.Equal(t, "12 LPA", got)

	v, ok, err := p.Attribute(ctx, inputs[0], "type")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "text", v)

	group, err := p.Closest(ctx, inputs[0], ".form-group")
	require.NoError(t, err)
	require.NotNil(t, group)

	var sum int
	require.NoError(t, p.Evaluate(ctx, `function(a, b) { return a + b; }`, nil, &sum, 2, 3))
	assert.Equal(t, 5, sum)

	u, err := p.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/jobs/1", u)

	// Replacing the document detaches every node held so far.
	require.NoError(t, p.Evaluate(ctx, `function() { document.body.innerHTML = '<p>gone</p>'; }`, nil, nil))
	_, err = p.Text(ctx, label)
	assert.ErrorIs(t, err, page.ErrStaleNode)
}

func TestOpenAlreadyApplied(t *testing.T) {
	m := setupManager(t)
	srv := servePostings(t)

	_, err := m.Open(context.Background(), jobs.Job{Reference: "2", URL: srv.URL + "/jobs/2"})
	assert.ErrorIs(t, err, jobs.ErrAlreadyApplied)
}
