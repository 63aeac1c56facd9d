package proxima

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nearlab/proxima/distance"
	"github.com/nearlab/proxima/quantization"
	"github.com/nearlab/proxima/snapshot"
)

// fileConfig is the YAML representation of engine options.
type fileConfig struct {
	Dimension      int    `yaml:"dimension"`
	Metric         string `yaml:"metric"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
	Quantization   string `yaml:"quantization"`
	Cache          struct {
		Enabled  *bool `yaml:"enabled"`
		MaxItems int   `yaml:"max_items"`
		MaxBytes int64 `yaml:"max_bytes"`
	} `yaml:"cache"`
	Compression string `yaml:"compression"`
	RandomSeed  int64  `yaml:"random_seed"`
}

// LoadConfig reads YAML engine configuration from r and returns the
// dimension plus the options it implies, both usable directly with New.
// Omitted fields keep their defaults.
func LoadConfig(r io.Reader) (int, []Option, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, nil, err
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return 0, nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Dimension <= 0 {
		return 0, nil, &ErrInvalidDimension{Dimension: cfg.Dimension}
	}

	var opts []Option

	if cfg.Metric != "" {
		m, err := distance.ParseMetric(cfg.Metric)
		if err != nil {
			return 0, nil, err
		}
		opts = append(opts, WithMetric(m))
	}
	if cfg.M > 0 {
		opts = append(opts, WithM(cfg.M))
	}
	if cfg.EfConstruction > 0 {
		opts = append(opts, WithEfConstruction(cfg.EfConstruction))
	}
	if cfg.EfSearch > 0 {
		opts = append(opts, WithEfSearch(cfg.EfSearch))
	}
	if cfg.Quantization != "" {
		q, err := quantization.ParseMethod(cfg.Quantization)
		if err != nil {
			return 0, nil, err
		}
		opts = append(opts, WithQuantization(q))
	}
	if cfg.Cache.Enabled != nil && !*cfg.Cache.Enabled {
		opts = append(opts, WithoutCache())
	} else if cfg.Cache.MaxItems > 0 || cfg.Cache.MaxBytes > 0 {
		opts = append(opts, WithCache(cfg.Cache.MaxItems, cfg.Cache.MaxBytes))
	}
	if cfg.Compression != "" {
		c, err := snapshot.ParseCodec(cfg.Compression)
		if err != nil {
			return 0, nil, err
		}
		opts = append(opts, WithCompression(c))
	}
	if cfg.RandomSeed != 0 {
		opts = append(opts, WithRandomSeed(cfg.RandomSeed))
	}

	return cfg.Dimension, opts, nil
}

// LoadConfigFile is LoadConfig over a file path.
func LoadConfigFile(path string) (int, []Option, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	return LoadConfig(f)
}
