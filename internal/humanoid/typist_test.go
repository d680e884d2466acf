// -- internal/humanoid/typist_test.go --
package humanoid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/page/htmlpage"
)

func TestTypeEntersEveryRune(t *testing.T) {
	ctx := context.Background()
	p, err := htmlpage.New(`<input id="f" value="stale" data-reject="setvalue">`)
	require.NoError(t, err)
	n, err := p.QueryOne(ctx, "#f")
	require.NoError(t, err)

	ty := New(config.TypingConfig{}, 1)
	require.NoError(t, ty.Type(ctx, p, n, "18-20 LPA"))

	v, err := p.Property(ctx, n, "value")
	require.NoError(t, err)
	// The clear was rejected, so keystrokes append to the stale value.
	assert.Equal(t, "stale18-20 LPA", v)
}

func TestTypeClearsFirst(t *testing.T) {
	ctx := context.Background()
	p, err := htmlpage.New(`<textarea id="f">old</textarea>`)
	require.NoError(t, err)
	n, _ := p.QueryOne(ctx, "#f")

	require.NoError(t, New(config.TypingConfig{}, 1).Type(ctx, p, n, "Noida"))
	v, _ := p.Property(ctx, n, "value")
	assert.Equal(t, "Noida", v)
}

func TestKeyPause(t *testing.T) {
	ty := New(config.TypingConfig{
		KeyDelayMean:   60 * time.Millisecond,
		KeyDelayJitter: 10 * time.Millisecond,
		WordPause:      100 * time.Millisecond,
	}, 7)
	runes := []rune("the cat")
	for i := range runes {
		d := ty.keyPause(runes, i)
		assert.GreaterOrEqual(t, d, 15*time.Millisecond, "index %d", i)
	}
	// The rune after a space carries the word pause.
	assert.Greater(t, ty.keyPause(runes, 4), 100*time.Millisecond)

	assert.Zero(t, New(config.TypingConfig{}, 1).keyPause(runes, 1))
}

func TestTypeHonorsCancellation(t *testing.T) {
	p, err := htmlpage.New(`<input id="f">`)
	require.NoError(t, err)
	n, _ := p.QueryOne(context.Background(), "#f")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ty := New(config.TypingConfig{KeyDelayMean: time.Second}, 1)
	assert.ErrorIs(t, ty.Type(ctx, p, n, "abc"), context.Canceled)
}
