package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/garde/shield"
	"github.com/hazyhaar/garde/simscore"
	"github.com/hazyhaar/garde/validate"
)

// presetConfig is a rate-limit preset in the config file. Durations are
// plain seconds so the YAML stays readable.
type presetConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxRequests   int `yaml:"max_requests"`
	BlockSeconds  int `yaml:"block_seconds"`
}

// fileConfig is the optional YAML configuration. Every field has a working
// default; an absent file means defaults everywhere.
type fileConfig struct {
	Scorer struct {
		Weights    simscore.Weights    `yaml:"weights"`
		Thresholds simscore.Thresholds `yaml:"thresholds"`
	} `yaml:"scorer"`

	Dedup struct {
		CheckThreshold     float64 `yaml:"check_threshold"`
		ScanTimeoutSeconds int     `yaml:"scan_timeout_seconds"`
		Parallelism        int     `yaml:"parallelism"`
		Blocking           string  `yaml:"blocking"` // "" (compare all) or "domain"
	} `yaml:"dedup"`

	FilePolicy validate.FilePolicy `yaml:"file_policy"`

	// Presets overrides or extends the built-in rate-limit presets by name.
	Presets map[string]presetConfig `yaml:"presets"`

	// Routes binds route groups to preset names. Groups: scan, resolve,
	// validation, admin.
	Routes map[string]string `yaml:"routes"`

	RetentionDays int `yaml:"retention_days"`
}

func (c *fileConfig) defaults() {
	if c.FilePolicy.MaxBytes == 0 && len(c.FilePolicy.AllowedExtensions) == 0 {
		c.FilePolicy = validate.DefaultFilePolicy()
	}
	if c.Routes == nil {
		c.Routes = map[string]string{}
	}
	for group, def := range map[string]string{
		"scan":       "sensitive",
		"resolve":    "standard",
		"validation": "standard",
		"admin":      "sensitive",
	} {
		if c.Routes[group] == "" {
			c.Routes[group] = def
		}
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
}

// loadConfig reads the YAML file at path, or returns pure defaults when
// path is empty.
func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.defaults()
	return cfg, nil
}

// preset resolves the rate-limit preset bound to a route group: config
// override first, then the built-ins.
func (c *fileConfig) preset(group string) shield.Preset {
	name := c.Routes[group]
	if pc, ok := c.Presets[name]; ok {
		return shield.Preset{
			Name:          name,
			Window:        time.Duration(pc.WindowSeconds) * time.Second,
			MaxRequests:   pc.MaxRequests,
			BlockDuration: time.Duration(pc.BlockSeconds) * time.Second,
		}
	}
	return shield.PresetByName(name)
}
