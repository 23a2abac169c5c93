// Package config handles the YAML suite configuration.
package config

import (
	"bytes"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"fsmharness/internal/cluster"
	"fsmharness/internal/core"
	"fsmharness/internal/fsm"
	"fsmharness/internal/workload"
)

type Mode string

const (
	// ModeParallel runs every workload in a single round.
	ModeParallel Mode = "parallel"
	// ModeSerial runs one round per workload.
	ModeSerial Mode = "serial"
	// ModeComposed runs a single round in which every unit interleaves all
	// workloads.
	ModeComposed Mode = "composed"
)

const (
	DefaultMaxThreads            = 100
	DefaultAllowedFailurePercent = 0.2
)

// Config is the root configuration structure.
type Config struct {
	Mode                  Mode             `yaml:"mode"`
	MaxThreads            *int             `yaml:"maxThreads"`
	AllowedFailurePercent *float64         `yaml:"allowedFailurePercent"`
	Seed                  int64            `yaml:"seed"`
	SameDB                bool             `yaml:"sameDB"`
	SameCollection        bool             `yaml:"sameCollection"`
	Cluster               cluster.Options  `yaml:"cluster"`
	Composer              ComposerConfig   `yaml:"composer"`
	Workloads             []WorkloadConfig `yaml:"workloads"`
}

type ComposerConfig struct {
	MixProb    *float64 `yaml:"mixProb"`
	Iterations int      `yaml:"iterations"`
}

// WorkloadConfig selects a registered workload and optionally overrides its
// scheduling hints and data.
type WorkloadConfig struct {
	Name        string         `yaml:"name"`
	ThreadCount int            `yaml:"threadCount"`
	Iterations  int            `yaml:"iterations"`
	RPS         int            `yaml:"rps"`
	Data        map[string]any `yaml:"data"`
}

// LoadConfig reads, defaults and validates a suite file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return cfg, nil
}

// Parse decodes a suite document. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeParallel
	}
	if c.MaxThreads == nil {
		n := DefaultMaxThreads
		c.MaxThreads = &n
	}
	if c.AllowedFailurePercent == nil {
		p := DefaultAllowedFailurePercent
		c.AllowedFailurePercent = &p
	}
	if c.Cluster.Kind == "" {
		c.Cluster.Kind = cluster.KindMemory
	}
	// composed units run every workload against the collection of the
	// workload they were spawned for
	if c.Mode == ModeComposed {
		c.SameCollection = true
	}
	// a shared collection lives in a shared database
	if c.SameCollection {
		c.SameDB = true
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	switch c.Mode {
	case ModeParallel, ModeSerial, ModeComposed:
	default:
		errs = multierror.Append(errs, errors.Errorf("unknown mode %q", c.Mode))
	}
	if n := c.ThreadBudget(); n <= 0 {
		errs = multierror.Append(errs, errors.Errorf("maxThreads must be a positive integer, got %d", n))
	}
	if p := c.FailurePercent(); p < 0 || p > 1 {
		errs = multierror.Append(errs, errors.Errorf("allowedFailurePercent must be within [0, 1], got %v", p))
	}
	switch c.Cluster.Kind {
	case cluster.KindMemory:
	case cluster.KindRedis:
		if c.Cluster.Host == "" {
			errs = multierror.Append(errs, errors.New("cluster.host is required for redis"))
		}
	default:
		errs = multierror.Append(errs, errors.Errorf("unknown cluster kind %q", c.Cluster.Kind))
	}
	if p := c.Composer.MixProb; p != nil && (*p < 0 || *p > 1) {
		errs = multierror.Append(errs, errors.Errorf("composer.mixProb must be within [0, 1], got %v", *p))
	}
	if c.Composer.Iterations < 0 {
		errs = multierror.Append(errs, errors.Errorf("composer.iterations must not be negative, got %d", c.Composer.Iterations))
	}

	if len(c.Workloads) == 0 {
		errs = multierror.Append(errs, errors.New("no workloads configured"))
	}
	seen := make(map[string]bool, len(c.Workloads))
	for i, w := range c.Workloads {
		if w.Name == "" {
			errs = multierror.Append(errs, errors.Errorf("workloads[%d]: name is empty", i))
			continue
		}
		if seen[w.Name] {
			errs = multierror.Append(errs, errors.Errorf("workloads[%d]: %s listed twice", i, w.Name))
		}
		seen[w.Name] = true
		if w.ThreadCount < 0 || w.Iterations < 0 || w.RPS < 0 {
			errs = multierror.Append(errs, errors.Errorf("workloads[%d]: %s has a negative setting", i, w.Name))
		}
	}
	return errs.ErrorOrNil()
}

// ThreadBudget is the most units one round may run.
func (c *Config) ThreadBudget() int {
	if c.MaxThreads == nil {
		return DefaultMaxThreads
	}
	return *c.MaxThreads
}

// AssertLevel tells workloads how much of their database they share with
// the others in the suite.
func (c *Config) AssertLevel() fsm.AssertLevel {
	switch {
	case c.SameCollection || c.Mode == ModeComposed:
		return fsm.AssertAlways
	case c.SameDB:
		return fsm.AssertOwnColl
	default:
		return fsm.AssertOwnDB
	}
}

func (c *Config) FailurePercent() float64 {
	if c.AllowedFailurePercent == nil {
		return DefaultAllowedFailurePercent
	}
	return *c.AllowedFailurePercent
}

// WorkloadNames lists the configured workloads in file order.
func (c *Config) WorkloadNames() []string {
	names := make([]string, len(c.Workloads))
	for i, w := range c.Workloads {
		names[i] = w.Name
	}
	return names
}

// Overrides turns the per-workload settings into loader overrides.
func (c *Config) Overrides() map[string]workload.Override {
	out := make(map[string]workload.Override, len(c.Workloads))
	for _, w := range c.Workloads {
		out[w.Name] = workload.Override{
			ThreadCount: w.ThreadCount,
			Iterations:  w.Iterations,
			Data:        core.Data(w.Data),
		}
	}
	return out
}

// RateLimits maps workloads to their configured states per second.
func (c *Config) RateLimits() map[string]int {
	out := make(map[string]int)
	for _, w := range c.Workloads {
		if w.RPS > 0 {
			out[w.Name] = w.RPS
		}
	}
	return out
}

func (c *Config) ComposerOptions() fsm.ComposerOptions {
	opts := fsm.ComposerOptions{
		MixProb:    fsm.DefaultMixProb,
		Iterations: c.Composer.Iterations,
	}
	if c.Composer.MixProb != nil {
		opts.MixProb = *c.Composer.MixProb
	}
	return opts
}

// Viper keys that may override file values.
const (
	KeyMode                  = "mode"
	KeyMaxThreads            = "max-threads"
	KeyAllowedFailurePercent = "allowed-failure-percent"
	KeySeed                  = "seed"
	KeyClusterKind           = "cluster-kind"
	KeyClusterHost           = "cluster-host"
)

// ApplyOverrides copies every key set in v (by flag or environment) over
// the file values, then defaults and validates the result again.
func (c *Config) ApplyOverrides(v *viper.Viper) error {
	if v.IsSet(KeyMode) {
		c.Mode = Mode(v.GetString(KeyMode))
	}
	if v.IsSet(KeyMaxThreads) {
		n := v.GetInt(KeyMaxThreads)
		c.MaxThreads = &n
	}
	if v.IsSet(KeyAllowedFailurePercent) {
		p := v.GetFloat64(KeyAllowedFailurePercent)
		c.AllowedFailurePercent = &p
	}
	if v.IsSet(KeySeed) {
		c.Seed = v.GetInt64(KeySeed)
	}
	if v.IsSet(KeyClusterKind) {
		c.Cluster.Kind = v.GetString(KeyClusterKind)
	}
	if v.IsSet(KeyClusterHost) {
		c.Cluster.Host = v.GetString(KeyClusterHost)
	}
	c.ApplyDefaults()
	return c.Validate()
}
