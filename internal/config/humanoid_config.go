// File: internal/config/humanoid_config.go
// Typing cadence and pointer travel. The typing defaults model a moderately fast
// typist: fast enough not to stall an attempt, slow enough that keyup/keydown
// handlers on the page see distinct events.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// PointerConfig shapes the mouse travel that precedes a click. Movement time
// follows Fitts's law, MT = FittsA + FittsB * log2(1 + distance/30), in ms.
type PointerConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	FittsA  float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB  float64 `mapstructure:"fitts_b" yaml:"fitts_b"`
	// Curvature is the largest sideways bow of the path as a fraction of its length.
	Curvature float64 `mapstructure:"curvature" yaml:"curvature"`
	// Jitter is the standard deviation, in pixels, of noise added to each point.
	Jitter float64 `mapstructure:"jitter" yaml:"jitter"`
}

func setTypingDefaults(v *viper.Viper) {
	v.SetDefault("typing.key_delay_mean", 60*time.Millisecond)
	v.SetDefault("typing.key_delay_jitter", 25*time.Millisecond)
	v.SetDefault("typing.word_pause", 120*time.Millisecond)
}

func setPointerDefaults(v *viper.Viper) {
	v.SetDefault("pointer.enabled", true)
	v.SetDefault("pointer.fitts_a", 80.0)
	v.SetDefault("pointer.fitts_b", 110.0)
	v.SetDefault("pointer.curvature", 0.2)
	v.SetDefault("pointer.jitter", 0.6)
}
