// -- internal/humanoid/typist.go --
package humanoid

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/page"
)

// -- commonNgrams --
// Familiar letter pairs and triples are typed faster.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true,
	"the": true, "and": true, "ing": true, "ion": true, "tio": true,
	"00": true, "lp": true, "pa": true,
}

// Typist enters text one keystroke at a time with a human cadence. It never makes
// typos: the committed value is read back and must match.
type Typist struct {
	cfg config.TypingConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Typist. A zero seed picks one from the clock.
func New(cfg config.TypingConfig, seed int64) *Typist {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Typist{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Type clears the field then sends text rune by rune.
func (t *Typist) Type(ctx context.Context, p page.Page, n page.Node, text string) error {
	// Best effort; a controlled input may ignore it, and it starts empty anyway.
	if err := p.SetValue(ctx, n, ""); err != nil {
		return fmt.Errorf("humanoid: clear field: %w", err)
	}

	runes := []rune(text)
	for i, r := range runes {
		if err := page.Sleep(ctx, t.keyPause(runes, i)); err != nil {
			return err
		}
		if err := p.SendKeys(ctx, n, string(r)); err != nil {
			return fmt.Errorf("humanoid: send key %q: %w", r, err)
		}
	}
	return nil
}

// keyPause is the flight time before runes[i].
func (t *Typist) keyPause(runes []rune, i int) time.Duration {
	mean := float64(t.cfg.KeyDelayMean)
	jitter := float64(t.cfg.KeyDelayJitter)
	if mean <= 0 {
		return 0
	}

	factor := 1.0
	if i >= 2 && commonNgrams[strings.ToLower(string(runes[i-2:i+1]))] {
		factor = 0.55
	} else if i >= 1 && commonNgrams[strings.ToLower(string(runes[i-1:i+1]))] {
		factor = 0.7
	}

	t.mu.Lock()
	norm := t.rng.NormFloat64()
	t.mu.Unlock()

	d := math.Max(mean*factor*0.5, mean*factor+norm*jitter)
	if i > 0 && runes[i-1] == ' ' {
		d += float64(t.cfg.WordPause)
	}
	return time.Duration(d)
}
