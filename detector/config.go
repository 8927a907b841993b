package detector

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything New needs to build an Engine. It is assembled
// with functional options rather than populated directly because several
// fields (Sink, StressHook, the callbacks) are behavior, not data, and have
// no sensible YAML or environment-variable representation — see FileConfig
// for the part of the configuration that does.
type Config struct {
	Callback              func(DeadlockInfo)
	LockOrderCallback     func(LockOrderReport)
	LogSink               Sink
	StressHook            StressHook
	EnableLockOrderGraph  bool
}

// Option configures a Config in New or Init.
type Option func(*Config)

// WithCallback sets the handler invoked, on the dispatcher goroutine, for
// every detected deadlock.
func WithCallback(cb func(DeadlockInfo)) Option {
	return func(c *Config) { c.Callback = cb }
}

// WithLockOrderCallback sets the handler invoked for every lock-order early
// warning. Not set by default: enabling the lock-order graph without a
// handler still records the early-warning state, it just has nowhere to go.
func WithLockOrderCallback(cb func(LockOrderReport)) Option {
	return func(c *Config) { c.LockOrderCallback = cb }
}

// WithLogSink attaches an observer notified of every hook call. Pass nil
// (the default) to disable event logging entirely.
func WithLogSink(sink Sink) Option {
	return func(c *Config) { c.LogSink = sink }
}

// WithStressHook attaches scheduling-perturbation logic consulted on every
// lock attempt made by a thread that already holds another lock, and after
// every release.
func WithStressHook(hook StressHook) Option {
	return func(c *Config) { c.StressHook = hook }
}

// WithLockOrderGraph enables or disables the lock-order early-warning
// graph. Disabled by default: it costs a map lookup and insert per held
// lock on every lock attempt made while holding another lock, even when
// nothing is listening for the reports.
func WithLockOrderGraph(enabled bool) Option {
	return func(c *Config) { c.EnableLockOrderGraph = enabled }
}

// FileConfig is the subset of detector configuration that can be expressed
// as data: loaded from a YAML file, overridden by environment variables,
// and validated before use. The caller is responsible for turning it into
// behavior — for example building a gridlog sink from LogSinkPath and
// passing it to WithLogSink — since this package does not import its own
// collaborator packages.
type FileConfig struct {
	LockOrderGraph bool   `yaml:"lock_order_graph" env:"GRIDLOCK_LOCK_ORDER_GRAPH"`
	LogSinkPath    string `yaml:"log_sink_path" env:"GRIDLOCK_LOG_SINK_PATH"`
	StressMode     string `yaml:"stress_mode" env:"GRIDLOCK_STRESS_MODE"`

	StressProbability        float64 `yaml:"stress_probability" env:"GRIDLOCK_STRESS_PROBABILITY"`
	StressMinDelayMicros     uint64  `yaml:"stress_min_delay_us" env:"GRIDLOCK_STRESS_MIN_DELAY_US"`
	StressMaxDelayMicros     uint64  `yaml:"stress_max_delay_us" env:"GRIDLOCK_STRESS_MAX_DELAY_US"`
	StressPreemptAfterRelease bool   `yaml:"stress_preempt_after_release" env:"GRIDLOCK_STRESS_PREEMPT_AFTER_RELEASE"`
}

// DefaultFileConfig returns the configuration a program gets if it never
// loads one of its own: detection on, no log sink, no stress injection.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		LockOrderGraph:            false,
		LogSinkPath:               "",
		StressMode:                "none",
		StressProbability:         0.5,
		StressMinDelayMicros:      250,
		StressMaxDelayMicros:      2000,
		StressPreemptAfterRelease: true,
	}
}

// LoadConfigFile reads and parses a YAML file into a FileConfig seeded with
// DefaultFileConfig's values, then applies environment variable overrides.
func LoadConfigFile(path string) (*FileConfig, error) {
	cfg := DefaultFileConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("detector: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("detector: parse config %s: %w", path, err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("detector: apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detector: invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv overrides fields of c from environment variables, leaving
// unset variables untouched. Unparsable numeric variables are ignored too;
// a set boolean variable makes its field true only when its value is
// "true" (in any case), and false otherwise.
func (c *FileConfig) LoadFromEnv() error {
	if v := os.Getenv("GRIDLOCK_LOCK_ORDER_GRAPH"); v != "" {
		c.LockOrderGraph = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("GRIDLOCK_LOG_SINK_PATH"); v != "" {
		c.LogSinkPath = v
	}
	if v := os.Getenv("GRIDLOCK_STRESS_MODE"); v != "" {
		c.StressMode = v
	}
	if v := os.Getenv("GRIDLOCK_STRESS_PROBABILITY"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			c.StressProbability = p
		}
	}
	if v := os.Getenv("GRIDLOCK_STRESS_MIN_DELAY_US"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.StressMinDelayMicros = n
		}
	}
	if v := os.Getenv("GRIDLOCK_STRESS_MAX_DELAY_US"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.StressMaxDelayMicros = n
		}
	}
	if v := os.Getenv("GRIDLOCK_STRESS_PREEMPT_AFTER_RELEASE"); v != "" {
		c.StressPreemptAfterRelease = strings.EqualFold(v, "true")
	}
	return nil
}

// Validate rejects configurations that would make the detector misbehave
// in ways that are cheap to catch up front.
func (c *FileConfig) Validate() error {
	switch c.StressMode {
	case "none", "random-preemption", "component-based":
	default:
		return fmt.Errorf("stress_mode must be one of none, random-preemption, component-based, got %q", c.StressMode)
	}
	if c.StressProbability < 0 || c.StressProbability > 1 {
		return fmt.Errorf("stress_probability must be in [0, 1], got %f", c.StressProbability)
	}
	if c.StressMinDelayMicros > c.StressMaxDelayMicros {
		return fmt.Errorf("stress_min_delay_us (%d) must not exceed stress_max_delay_us (%d)", c.StressMinDelayMicros, c.StressMaxDelayMicros)
	}
	return nil
}

// Options converts the pure-data fields of c into functional Options.
// Sink and StressHook wiring is left to the caller since they require
// constructing behavior this package doesn't own.
func (c *FileConfig) Options() []Option {
	return []Option{WithLockOrderGraph(c.LockOrderGraph)}
}
