// Package config loads and validates storage engine configuration.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"reldb/pkg/logging"
)

// Defaults applied by Default and by Load for zero-valued fields.
const (
	DefaultBufferPoolSize = 64
	DefaultTreeOrder      = 32
	DefaultRowCacheSize   = 4096
)

// Config is the top-level storage engine configuration.
type Config struct {
	// DataDir is the directory holding the page file, store metadata, and
	// the index catalog.
	DataDir string `yaml:"data_dir"`

	BufferPool BufferPool     `yaml:"buffer_pool"`
	Index      Index          `yaml:"index"`
	Engine     Engine         `yaml:"engine"`
	Logging    logging.Config `yaml:"logging"`
}

// BufferPool configures the page cache.
type BufferPool struct {
	// Capacity is the number of frames. Each frame holds one page.
	Capacity int `yaml:"capacity"`

	// Policy selects the eviction strategy: "lru", "fifo", or "clock".
	Policy string `yaml:"policy"`
}

// Index configures B+tree defaults.
type Index struct {
	// Order is the default tree fanout used when an index is created
	// without an explicit order.
	Order int `yaml:"order"`
}

// Engine configures the storage facade.
type Engine struct {
	// RowCacheSize is the maximum number of resolved rows cached by the
	// facade. Zero disables the row cache.
	RowCacheSize int64 `yaml:"row_cache_size"`
}

// Default returns a configuration with every default filled in.
func Default(dataDir string) Config {
	return Config{
		DataDir: dataDir,
		BufferPool: BufferPool{
			Capacity: DefaultBufferPoolSize,
			Policy:   "lru",
		},
		Index: Index{
			Order: DefaultTreeOrder,
		},
		Engine: Engine{
			RowCacheSize: DefaultRowCacheSize,
		},
	}
}

// Load reads a YAML configuration file, fills defaults for omitted fields,
// and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BufferPool.Capacity == 0 {
		c.BufferPool.Capacity = DefaultBufferPoolSize
	}
	if c.BufferPool.Policy == "" {
		c.BufferPool.Policy = "lru"
	}
	if c.Index.Order == 0 {
		c.Index.Order = DefaultTreeOrder
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.BufferPool.Capacity < 1 {
		return fmt.Errorf("buffer_pool.capacity must be at least 1, got %d", c.BufferPool.Capacity)
	}
	switch c.BufferPool.Policy {
	case "lru", "fifo", "clock":
	default:
		return fmt.Errorf("buffer_pool.policy must be lru, fifo, or clock, got %q", c.BufferPool.Policy)
	}
	if c.Index.Order < 3 {
		return fmt.Errorf("index.order must be at least 3, got %d", c.Index.Order)
	}
	if c.Engine.RowCacheSize < 0 {
		return fmt.Errorf("engine.row_cache_size cannot be negative, got %d", c.Engine.RowCacheSize)
	}
	return nil
}
