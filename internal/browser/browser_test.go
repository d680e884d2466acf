// internal/browser/browser_test.go
package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/humanoid"
	"github.com/xkilldash9x/applypilot/internal/page"
)

func TestDefaultAllocatorOptions(t *testing.T) {
	base := len(DefaultAllocatorOptions(config.BrowserConfig{}))

	t.Run("ExecPathAndProfile", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{
			ExecPath:    "/opt/chrome/chrome",
			UserDataDir: "/tmp/profile",
		})
		assert.Len(t, opts, base+2)
	})

	t.Run("CustomArgs", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{
			Args: []string{"--lang=en-US", "mute-audio"},
		})
		assert.Len(t, opts, base+2)
	})

	t.Run("UserAgent", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{UserAgent: "applypilot-test"})
		assert.Len(t, opts, base+1)
	})

	assert.Equal(t, base, len(DefaultAllocatorOptions(config.BrowserConfig{Headless: true})))
}

func TestTagOf(t *testing.T) {
	tests := map[string]string{
		"input#ctc.form-control": "input",
		"DIV.chatbot_ListItem":   "div",
		"button":                 "button",
		"label[for=a]":           "label",
	}
	for desc, want := range tests {
		assert.Equal(t, want, tagOf(desc), desc)
	}
}

func TestAppliedLabel(t *testing.T) {
	labels := []string{"applied", "Application sent"}
	assert.True(t, appliedLabel("Applied", labels))
	assert.True(t, appliedLabel("  applied  3 days ago", labels))
	assert.True(t, appliedLabel("Application sent", labels))
	assert.False(t, appliedLabel("Apply", labels))
	assert.False(t, appliedLabel("Easy Apply", labels))
	assert.False(t, appliedLabel("Applied", nil))
}

func TestClassify(t *testing.T) {
	live := &Page{ctx: context.Background(), opTimeout: time.Second}
	bg := context.Background()

	t.Run("stale object", func(t *testing.T) {
		err := live.classify(bg, bg, errors.New("Could not find object with given id (-32000)"))
		assert.ErrorIs(t, err, page.ErrStaleNode)
	})

	t.Run("closed channel", func(t *testing.T) {
		err := live.classify(bg, bg, chromedp.ErrChannelClosed)
		assert.ErrorIs(t, err, page.ErrSessionLost)
		assert.True(t, page.IsFatal(err))
	})

	t.Run("dead tab", func(t *testing.T) {
		tabCtx, cancel := context.WithCancel(context.Background())
		cancel()
		dead := &Page{ctx: tabCtx, opTimeout: time.Second}
		assert.ErrorIs(t, dead.classify(bg, bg, context.Canceled), page.ErrSessionLost)
	})

	t.Run("caller cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, live.classify(ctx, ctx, context.Canceled), context.Canceled)
	})

	t.Run("operation timeout", func(t *testing.T) {
		opCtx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-opCtx.Done()
		assert.ErrorIs(t, live.classify(bg, opCtx, context.DeadlineExceeded), page.ErrTimeout)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		other := errors.New("exception \"TypeError\" (0:0)")
		assert.Equal(t, other, live.classify(bg, bg, other))
	})
}

func TestClosedPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	closed := 0
	p := newPage(ctx, cancel, 0, nil)
	p.onClose = func() { closed++ }

	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.Equal(t, 1, closed)

	_, err := p.QueryAll(context.Background(), "button")
	assert.ErrorIs(t, err, page.ErrSessionLost)
	_, err = p.Text(context.Background(), &node{id: "1", tag: "div"})
	assert.ErrorIs(t, err, page.ErrSessionLost)
}

type foreignNode struct{}

func (foreignNode) Tag() string { return "div" }

func TestForeignNode(t *testing.T) {
	p := newPage(context.Background(), func() {}, 0, nil)
	_, err := p.Text(context.Background(), foreignNode{})
	assert.ErrorIs(t, err, page.ErrStaleNode)
}

func TestMoveMouse(t *testing.T) {
	ctx := context.Background()
	target := humanoid.Vector2D{X: 120, Y: 80}

	t.Run("no pointer", func(t *testing.T) {
		p := newPage(ctx, func() {}, 0, nil)
		assert.NoError(t, p.moveMouse(ctx, target))
	})

	t.Run("closed page", func(t *testing.T) {
		p := newPage(ctx, func() {}, 0, nil)
		p.pointer = humanoid.NewPointer(config.PointerConfig{Enabled: true, FittsB: 10}, 1)
		assert.NoError(t, p.Close())
		assert.ErrorIs(t, p.moveMouse(ctx, target), page.ErrSessionLost)
		assert.Equal(t, humanoid.Vector2D{}, p.mouse, "position is kept when a move fails")
	})
}

func TestReleaseNodes(t *testing.T) {
	ctx := context.Background()
	p := newPage(ctx, func() {}, 0, nil)
	first := p.objectGroup()

	assert.NoError(t, p.Close())
	assert.ErrorIs(t, p.ReleaseNodes(ctx), page.ErrSessionLost)
	assert.NotEqual(t, first, p.objectGroup(), "later queries use a fresh group")

	var _ page.NodeReleaser = p
}
