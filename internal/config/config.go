// Package config loads the kcrun configuration file.
//
// The file is TOML; every key is optional and unknown keys are rejected:
//
//	backend = "software"
//	color = "auto"
//	map_timeout = "10s"
//	workloads = ["ElemwiseSqrt", "Matmul64"]
//
//	[sqrt]
//	n = 1000000
//
//	[matmul]
//	sizes = [64, 1024, 4096]
//	verify = "sampled"
//
//	[identity]
//	n = 65536
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/kernelcall/kernels"
	"github.com/gogpu/kernelcall/report"
	"github.com/gogpu/kernelcall/workload"
)

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the kcrun configuration.
type Config struct {
	// Backend names a gpucore backend; empty selects automatically.
	Backend string `toml:"backend"`

	// Color is "auto", "always" or "never".
	Color string `toml:"color"`

	// MapTimeout bounds each readback; zero waits for the context only.
	MapTimeout Duration `toml:"map_timeout"`

	// Workloads run in order when no workload is named on the command
	// line. Empty runs every registered workload.
	Workloads []string `toml:"workloads"`

	Sqrt     SqrtConfig     `toml:"sqrt"`
	Matmul   MatmulConfig   `toml:"matmul"`
	Identity IdentityConfig `toml:"identity"`
}

// SqrtConfig configures the ElemwiseSqrt workload.
type SqrtConfig struct {
	N int `toml:"n"`
}

// MatmulConfig configures the Matmul workloads.
type MatmulConfig struct {
	Sizes  []uint32 `toml:"sizes"`
	Verify string   `toml:"verify"`
}

// IdentityConfig configures the Identity workload.
type IdentityConfig struct {
	N int `toml:"n"`
}

// Default returns the configuration used without a file.
func Default() Config {
	return Config{
		Color:    "auto",
		Sqrt:     SqrtConfig{N: workload.DefaultSqrtN},
		Matmul:   MatmulConfig{Sizes: []uint32{64, 1024, 4096}, Verify: workload.VerifyFull.String()},
		Identity: IdentityConfig{N: workload.DefaultIdentityN},
	}
}

// Load reads path over Default. A missing path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads TOML from r and validates the result. Keys that are absent
// or set to a zero value keep their Default.
func Decode(r io.Reader) (Config, error) {
	var file Config
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return Config{}, err
	}
	cfg := Default()
	cfg.merge(&file)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) merge(o *Config) {
	if o.Backend != "" {
		c.Backend = o.Backend
	}
	if o.Color != "" {
		c.Color = o.Color
	}
	if o.MapTimeout != 0 {
		c.MapTimeout = o.MapTimeout
	}
	if o.Workloads != nil {
		c.Workloads = o.Workloads
	}
	if o.Sqrt.N != 0 {
		c.Sqrt.N = o.Sqrt.N
	}
	if o.Matmul.Sizes != nil {
		c.Matmul.Sizes = o.Matmul.Sizes
	}
	if o.Matmul.Verify != "" {
		c.Matmul.Verify = o.Matmul.Verify
	}
	if o.Identity.N != 0 {
		c.Identity.N = o.Identity.N
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := report.ParseColorMode(c.Color); !ok {
		errs = append(errs, fmt.Errorf("color: unknown mode %q", c.Color))
	}
	if c.MapTimeout < 0 {
		errs = append(errs, fmt.Errorf("map_timeout: negative duration %v", time.Duration(c.MapTimeout)))
	}
	if c.Sqrt.N < 0 {
		errs = append(errs, fmt.Errorf("sqrt.n: negative length %d", c.Sqrt.N))
	}
	if c.Identity.N < 0 {
		errs = append(errs, fmt.Errorf("identity.n: negative length %d", c.Identity.N))
	}
	for _, n := range c.Matmul.Sizes {
		if n == 0 || n%kernels.MatmulTile != 0 {
			errs = append(errs, fmt.Errorf("matmul.sizes: %d is not a positive multiple of %d", n, kernels.MatmulTile))
		} else if n > kernels.MaxMatmulSize {
			errs = append(errs, fmt.Errorf("matmul.sizes: %d exceeds %d", n, kernels.MaxMatmulSize))
		}
	}
	if _, err := workload.ParseVerifyPolicy(c.Matmul.Verify); err != nil {
		errs = append(errs, fmt.Errorf("matmul.verify: %w", err))
	}
	return errors.Join(errs...)
}

// Registry builds the workload registry the configuration describes.
func (c *Config) Registry() (*workload.Registry, error) {
	verify, err := workload.ParseVerifyPolicy(c.Matmul.Verify)
	if err != nil {
		return nil, err
	}
	reg := workload.NewRegistry()
	if err := reg.Register(&workload.ElemwiseSqrt{N: c.Sqrt.N}); err != nil {
		return nil, err
	}
	for _, n := range c.Matmul.Sizes {
		if err := reg.Register(&workload.Matmul{Size: n, Verify: verify}); err != nil {
			return nil, err
		}
	}
	if err := reg.Register(&workload.Identity{N: c.Identity.N}); err != nil {
		return nil, err
	}
	return reg, nil
}
