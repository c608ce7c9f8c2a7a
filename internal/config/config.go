// Package config loads the PipeWatch configuration: feature windows, rule
// thresholds, isolation-forest hyperparameters, hysteresis, alert policy,
// timeouts, and fan-out capacity (spec §6). Values are layered — command
// line flags override environment variables, which override a YAML file,
// which overrides the documented defaults — the same precedence
// CrlsMrls-dummybox's config package established with viper + pflag.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable named in spec.md §6. All fields are optional;
// zero values are replaced by defaults() before validation.
type Config struct {
	MAWindowSec  int     `mapstructure:"ma-window-sec"`
	StdWindowSec int     `mapstructure:"std-window-sec"`
	SpikeZ       float64 `mapstructure:"spike-z"`

	RuleCriticalDropPct   float64 `mapstructure:"rule-critical-drop-pct"`
	RuleCriticalWindowSec int     `mapstructure:"rule-critical-window-sec"`

	RuleMinorLowPct    float64 `mapstructure:"rule-minor-low-pct"`
	RuleMinorHighPct   float64 `mapstructure:"rule-minor-high-pct"`
	RuleMinorWindowSec int     `mapstructure:"rule-minor-window-sec"`

	RuleFlowIncPct   float64 `mapstructure:"rule-flow-inc-pct"`
	RulePressDecPct  float64 `mapstructure:"rule-press-dec-pct"`
	RuleRatioDevPct  float64 `mapstructure:"rule-ratio-dev-pct"`

	IFNumTrees   int   `mapstructure:"if-num-trees"`
	IFSubsample  int   `mapstructure:"if-subsample"`
	IFSeed       int64 `mapstructure:"if-seed"`
	IFSeedIsSet  bool  `mapstructure:"-"`

	HysteresisConsecutive int `mapstructure:"hysteresis-consecutive"`

	AlertThreshold float64 `mapstructure:"alert-threshold"`

	NotifyTimeoutMs   int `mapstructure:"notify-timeout-ms"`
	ShutdownGraceMs   int `mapstructure:"shutdown-grace-ms"`

	FanoutQueueCap int `mapstructure:"fanout-queue-cap"`

	ConfigFile string `mapstructure:"config-file"`
}

// Default values, mirroring spec.md §6 exactly.
const (
	DefaultMAWindowSec  = 30
	DefaultStdWindowSec = 60
	DefaultSpikeZ       = 2.0

	DefaultRuleCriticalDropPct   = 0.15
	DefaultRuleCriticalWindowSec = 60

	DefaultRuleMinorLowPct    = 0.05
	DefaultRuleMinorHighPct   = 0.15
	DefaultRuleMinorWindowSec = 300

	DefaultRuleFlowIncPct  = 0.25
	DefaultRulePressDecPct = 0.02
	DefaultRuleRatioDevPct = 0.30

	DefaultIFNumTrees  = 100
	DefaultIFSubsample = 256

	DefaultHysteresisConsecutive = 3

	DefaultAlertThreshold = 50.0

	DefaultNotifyTimeoutMs = 2000
	DefaultShutdownGraceMs = 5000

	DefaultFanoutQueueCap = 256
)

// NotifyTimeout returns NotifyTimeoutMs as a time.Duration.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutMs) * time.Millisecond
}

// ShutdownGrace returns ShutdownGraceMs as a time.Duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMs) * time.Millisecond
}

// defaults returns a Config pre-populated with the spec's documented
// defaults, the same role as the teacher's defaults().
func defaults() *Config {
	return &Config{
		MAWindowSec:           DefaultMAWindowSec,
		StdWindowSec:          DefaultStdWindowSec,
		SpikeZ:                DefaultSpikeZ,
		RuleCriticalDropPct:   DefaultRuleCriticalDropPct,
		RuleCriticalWindowSec: DefaultRuleCriticalWindowSec,
		RuleMinorLowPct:       DefaultRuleMinorLowPct,
		RuleMinorHighPct:      DefaultRuleMinorHighPct,
		RuleMinorWindowSec:    DefaultRuleMinorWindowSec,
		RuleFlowIncPct:        DefaultRuleFlowIncPct,
		RulePressDecPct:       DefaultRulePressDecPct,
		RuleRatioDevPct:       DefaultRuleRatioDevPct,
		IFNumTrees:            DefaultIFNumTrees,
		IFSubsample:           DefaultIFSubsample,
		HysteresisConsecutive: DefaultHysteresisConsecutive,
		AlertThreshold:        DefaultAlertThreshold,
		NotifyTimeoutMs:       DefaultNotifyTimeoutMs,
		ShutdownGraceMs:       DefaultShutdownGraceMs,
		FanoutQueueCap:        DefaultFanoutQueueCap,
	}
}

// Load builds a Config from flags, the PIPEWATCH_* environment, and an
// optional YAML file, in that precedence order, falling back to defaults()
// for anything left unset. args is normally os.Args[1:]; pass nil to use
// only environment and defaults (e.g. from tests).
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("pipewatch", pflag.ContinueOnError)
	d := defaults()

	fs.Int("ma-window-sec", d.MAWindowSec, "moving-average window, seconds")
	fs.Int("std-window-sec", d.StdWindowSec, "std-dev window, seconds")
	fs.Float64("spike-z", d.SpikeZ, "|z| threshold for a spike flag")
	fs.Float64("rule-critical-drop-pct", d.RuleCriticalDropPct, "CRITICAL_LEAK pressure-drop threshold")
	fs.Int("rule-critical-window-sec", d.RuleCriticalWindowSec, "CRITICAL_LEAK window, seconds")
	fs.Float64("rule-minor-low-pct", d.RuleMinorLowPct, "MINOR_LEAK lower bound")
	fs.Float64("rule-minor-high-pct", d.RuleMinorHighPct, "MINOR_LEAK upper bound")
	fs.Int("rule-minor-window-sec", d.RuleMinorWindowSec, "MINOR_LEAK window, seconds")
	fs.Float64("rule-flow-inc-pct", d.RuleFlowIncPct, "FLOW_PRESSURE_MISMATCH flow-increase threshold")
	fs.Float64("rule-press-dec-pct", d.RulePressDecPct, "FLOW_PRESSURE_MISMATCH pressure-decrease threshold")
	fs.Float64("rule-ratio-dev-pct", d.RuleRatioDevPct, "RATIO_ANOMALY deviation threshold")
	fs.Int("if-num-trees", d.IFNumTrees, "isolation forest tree count")
	fs.Int("if-subsample", d.IFSubsample, "isolation forest subsample size")
	fs.Int64("if-seed", 0, "isolation forest RNG seed (0 = random)")
	fs.Int("hysteresis-consecutive", d.HysteresisConsecutive, "consecutive ML-only anomalies required to alert")
	fs.Float64("alert-threshold", d.AlertThreshold, "fused probability required to alert")
	fs.Int("notify-timeout-ms", d.NotifyTimeoutMs, "per-call notification/actuator timeout, ms")
	fs.Int("shutdown-grace-ms", d.ShutdownGraceMs, "ingest drain grace period on shutdown, ms")
	fs.Int("fanout-queue-cap", d.FanoutQueueCap, "per-subscriber fan-out queue capacity")
	fs.String("config-file", "", "path to YAML config file; also PIPEWATCH_CONFIG_FILE")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}
	v.SetEnvPrefix("PIPEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config-file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read file %q: %w", file, err)
			}
		}
	}

	cfg := defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.IFSeedIsSet = v.IsSet("if-seed") && v.GetInt64("if-seed") != 0

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadFile parses a YAML config file directly with the documented defaults
// filled in — used by the hot-reload watcher, which re-parses only the file
// on each change rather than re-layering flags and environment.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read file %q: %w", path, err)
	}
	cfg := defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.IFSeedIsSet = v.IsSet("if-seed") && v.GetInt64("if-seed") != 0
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.MAWindowSec <= 0 {
		return fmt.Errorf("ma-window-sec must be positive")
	}
	if cfg.StdWindowSec <= 0 {
		return fmt.Errorf("std-window-sec must be positive")
	}
	if cfg.SpikeZ <= 0 {
		return fmt.Errorf("spike-z must be positive")
	}
	if cfg.RuleMinorLowPct >= cfg.RuleMinorHighPct {
		return fmt.Errorf("rule-minor-low-pct must be less than rule-minor-high-pct")
	}
	if cfg.IFNumTrees <= 0 {
		return fmt.Errorf("if-num-trees must be positive")
	}
	if cfg.IFSubsample <= 1 {
		return fmt.Errorf("if-subsample must be greater than 1")
	}
	if cfg.HysteresisConsecutive <= 0 {
		return fmt.Errorf("hysteresis-consecutive must be positive")
	}
	if cfg.AlertThreshold < 0 || cfg.AlertThreshold > 100 {
		return fmt.Errorf("alert-threshold must be in [0,100]")
	}
	if cfg.NotifyTimeoutMs <= 0 {
		return fmt.Errorf("notify-timeout-ms must be positive")
	}
	if cfg.ShutdownGraceMs <= 0 {
		return fmt.Errorf("shutdown-grace-ms must be positive")
	}
	if cfg.FanoutQueueCap <= 0 {
		return fmt.Errorf("fanout-queue-cap must be positive")
	}
	return nil
}
