// Package config loads router topology descriptions from YAML or JSON,
// validates them against an embedded JSON schema, and builds runnable
// graphs through the processor registry.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/routekit/errors"
)

// Config is a complete router description.
type Config struct {
	Graph      GraphConfig       `json:"graph" yaml:"graph"`
	Processors []ProcessorConfig `json:"processors" yaml:"processors"`
	Links      []LinkConfig      `json:"links" yaml:"links"`
}

// GraphConfig holds graph-wide settings.
type GraphConfig struct {
	Name string `json:"name" yaml:"name"`
	// Workers sets the scheduler pool size; 0 means one per CPU.
	Workers int `json:"workers" yaml:"workers"`
	// DefaultCapacity applies to links without an explicit capacity.
	DefaultCapacity int `json:"default_capacity" yaml:"default_capacity"`
}

// ProcessorConfig declares one processor instance.
type ProcessorConfig struct {
	Name   string         `json:"name" yaml:"name"`
	Kind   string         `json:"kind" yaml:"kind"`
	Config map[string]any `json:"config" yaml:"config"`
}

// LinkConfig declares one connection, endpoints written "processor.port".
type LinkConfig struct {
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	Capacity int    `json:"capacity" yaml:"capacity"`
}

// rawConfig returns the processor's config block as JSON for the factory.
func (p ProcessorConfig) rawConfig() (json.RawMessage, error) {
	if p.Config == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p.Config)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "rawConfig",
			"marshal config for "+p.Name)
	}
	return raw, nil
}

// endpoint splits "processor.port" at the last dot, so processor names may
// themselves contain dots.
func endpoint(s string) (proc, port string, err error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return "", "", errors.WrapInvalid(
			fmt.Errorf("endpoint %q is not processor.port", s),
			"Config", "endpoint", "endpoint parsing")
	}
	return s[:i], s[i+1:], nil
}

// Load reads and parses a config file. Files ending in .json parse as
// JSON, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Load", "read "+path)
	}
	if strings.HasSuffix(path, ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// ParseYAML parses and validates a YAML config document.
func ParseYAML(data []byte) (*Config, error) {
	// Round-trip through generic YAML then JSON so schema validation sees
	// exactly what will be decoded.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "ParseYAML", "yaml parsing")
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "ParseYAML", "yaml to json conversion")
	}
	return ParseJSON(jsonData)
}

// ParseJSON parses and validates a JSON config document.
func ParseJSON(data []byte) (*Config, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "ParseJSON", "json decoding")
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// check enforces the referential rules the JSON schema cannot express.
func (c *Config) check() error {
	names := make(map[string]bool, len(c.Processors))
	for _, p := range c.Processors {
		if names[p.Name] {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate processor name %q", p.Name),
				"Config", "check", "processor name uniqueness")
		}
		names[p.Name] = true
	}

	for _, l := range c.Links {
		for _, end := range []string{l.From, l.To} {
			proc, _, err := endpoint(end)
			if err != nil {
				return err
			}
			if !names[proc] {
				return errors.WrapInvalid(
					fmt.Errorf("%w: %q in link %s -> %s",
						errors.ErrUnknownProcessor, proc, l.From, l.To),
					"Config", "check", "link endpoint resolution")
			}
		}
		if l.Capacity < 0 {
			return errors.WrapInvalid(
				fmt.Errorf("negative capacity on link %s -> %s", l.From, l.To),
				"Config", "check", "link capacity")
		}
	}
	return nil
}
