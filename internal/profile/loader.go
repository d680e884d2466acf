// internal/profile/loader.go
package profile

import (
	"fmt"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Load reads a profile file (YAML, JSON or TOML by extension) and validates it.
func Load(path string) (*Profile, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand profile path %q: %w", path, err)
	}

	// Skill names such as "node.js" contain the default "." delimiter.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile %s: %w", expanded, err)
	}

	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", expanded, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Cache loads a profile once per run and hands the same value to every attempt.
type Cache struct {
	path string
	once sync.Once
	p    *Profile
	err  error
}

// NewCache returns a cache for the profile at path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Get loads the profile on first use. Later calls return the first result.
func (c *Cache) Get() (*Profile, error) {
	c.once.Do(func() {
		c.p, c.err = Load(c.path)
	})
	return c.p, c.err
}
