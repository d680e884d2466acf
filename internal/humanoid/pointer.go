// internal/humanoid/pointer.go
package humanoid

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/xkilldash9x/applypilot/internal/config"
)

const (
	// fittsWidth is the target width assumed by the Fitts's law model, in pixels.
	fittsWidth = 30.0
	stepEvery  = 10 * time.Millisecond
	minSteps   = 2
	maxSteps   = 60
)

// Step is one mouse position of a planned move and the wait before moving there.
type Step struct {
	At   Vector2D
	Wait time.Duration
}

// Pointer plans mouse travel: a cubic Bezier bowed to one side, sampled with
// ease-in-out timing over a Fitts's law duration. It is safe for concurrent use.
type Pointer struct {
	cfg config.PointerConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPointer returns a Pointer. A zero seed picks one from the clock.
func NewPointer(cfg config.PointerConfig, seed int64) *Pointer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Pointer{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Duration is the movement time for a distance, with +/-15% variation.
func (p *Pointer) Duration(distance float64) time.Duration {
	id := math.Log2(1.0 + distance/fittsWidth)
	mt := p.cfg.FittsA + p.cfg.FittsB*id

	p.mu.Lock()
	mt += mt * (p.rng.Float64()*0.3 - 0.15)
	p.mu.Unlock()

	if mt < 0 {
		return 0
	}
	return time.Duration(mt * float64(time.Millisecond))
}

// Plan returns the moves from start to end. The last step lands exactly on end.
func (p *Pointer) Plan(start, end Vector2D) []Step {
	dist := start.Dist(end)
	if dist < 1.0 {
		return []Step{{At: end}}
	}

	duration := p.Duration(dist)
	n := int(duration / stepEvery)
	n = max(minSteps, min(maxSteps, n))
	wait := duration / time.Duration(n)

	dir := end.Sub(start).Normalize()
	normal := Vector2D{X: -dir.Y, Y: dir.X}

	p.mu.Lock()
	defer p.mu.Unlock()

	bow := (p.rng.Float64()*2 - 1) * p.cfg.Curvature * dist
	c1 := start.Add(dir.Mul(dist / 3.0)).Add(normal.Mul(bow))
	c2 := start.Add(dir.Mul(dist * 2.0 / 3.0)).Add(normal.Mul(bow * 0.5))

	steps := make([]Step, n)
	for i := range steps {
		t := easeInOutCubic(float64(i+1) / float64(n))
		at := bezier(start, c1, c2, end, t)
		if i < n-1 && p.cfg.Jitter > 0 {
			at = at.Add(Vector2D{X: p.rng.NormFloat64() * p.cfg.Jitter, Y: p.rng.NormFloat64() * p.cfg.Jitter})
		} else if i == n-1 {
			at = end
		}
		steps[i] = Step{At: at, Wait: wait}
	}
	return steps
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func bezier(p0, p1, p2, p3 Vector2D, t float64) Vector2D {
	omt := 1.0 - t
	return p0.Mul(omt * omt * omt).
		Add(p1.Mul(3 * omt * omt * t)).
		Add(p2.Mul(3 * omt * t * t)).
		Add(p3.Mul(t * t * t))
}
