// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the YAML monitoring configuration: the
// service population under "pings" and the global defaults under "settings".
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

// Built-in defaults, used when "settings" omits a key.
const (
	DefaultCheckInterval    = 60 * time.Second
	DefaultWarningThreshold = 2 * time.Second
	DefaultTimeout          = 5 * time.Second
	DefaultPageRefresh      = 30 * time.Second
	DefaultMaxRetries       = 1
	DefaultHistoryFile      = "data/history.csv"
	DefaultOutputDir        = "public"
)

// Duration is a YAML duration that accepts either a bare number (seconds,
// fractions allowed) or a Prometheus-style duration string such as "90s" or
// "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a number of seconds or a duration string", value.Line)
	}
	if i, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	if f, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	parsed, err := model.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// StatusCodes is the expected HTTP status. A bare integer and a list are both
// accepted; the first element is canonical.
type StatusCodes []int

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StatusCodes) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var code int
		if err := value.Decode(&code); err != nil {
			return fmt.Errorf("line %d: status must be an integer", value.Line)
		}
		*s = StatusCodes{code}
		return nil
	case yaml.SequenceNode:
		var codes []int
		if err := value.Decode(&codes); err != nil {
			return fmt.Errorf("line %d: status list must contain integers", value.Line)
		}
		*s = StatusCodes(codes)
		return nil
	default:
		return fmt.Errorf("line %d: status must be an integer or a list of integers", value.Line)
	}
}

// Canonical returns the status code probes are validated against.
func (s StatusCodes) Canonical() int {
	if len(s) == 0 {
		return 0
	}
	return s[0]
}

// Expectation is the validation block of a service: which status, body text
// and headers a healthy response must carry.
type Expectation struct {
	Status StatusCodes `yaml:"status" validate:"required,min=1,dive,gte=100,lte=599"`
	// Text, when set, must occur as a case-sensitive substring within the
	// bounded body prefix.
	Text *string `yaml:"text"`
	// Headers maps response header names (case-insensitive) to exact
	// expected values (case-sensitive).
	Headers map[string]string `yaml:"headers"`
}

// Header is one request header sent with every probe. Order in the
// configuration is preserved.
type Header struct {
	Name  string `yaml:"name" validate:"required"`
	Value string `yaml:"value"`
}

// Service is the static contract for one monitored endpoint.
type Service struct {
	Name     string      `yaml:"name" validate:"required,max=100,printascii"`
	Protocol string      `yaml:"protocol" validate:"required,oneof=HTTP HTTPS"`
	Method   string      `yaml:"method" validate:"required,oneof=GET HEAD POST"`
	Resource string      `yaml:"resource" validate:"required,url"`
	Tags     []string    `yaml:"tags" validate:"dive,max=100,printascii"`
	Expected Expectation `yaml:"expected"`
	Headers  []Header    `yaml:"headers" validate:"dive"`
	// Payload is serialized as a JSON request body; only valid with POST.
	Payload any `yaml:"payload"`

	// Optional overrides of the global settings.
	Interval         *Duration `yaml:"interval"`
	WarningThreshold *Duration `yaml:"warning_threshold"`
	Timeout          *Duration `yaml:"timeout"`
}

// Settings are the global defaults. Absent keys fall back to the built-in
// defaults; a key set to zero keeps its explicit zero where the range allows
// it.
type Settings struct {
	CheckInterval    *Duration `yaml:"check_interval"`
	WarningThreshold *Duration `yaml:"warning_threshold"`
	Timeout          *Duration `yaml:"timeout"`
	PageRefresh      *Duration `yaml:"page_refresh"`
	MaxRetries       *int      `yaml:"max_retries"`
	WorkerPoolSize   *int      `yaml:"worker_pool_size"`
	HistoryFile      string    `yaml:"history_file"`
	OutputDir        string    `yaml:"output_dir"`
}

// GetCheckInterval returns the configured global interval or the default.
func (s *Settings) GetCheckInterval() time.Duration {
	if s.CheckInterval != nil {
		return s.CheckInterval.Std()
	}
	return DefaultCheckInterval
}

// GetWarningThreshold returns the configured global threshold or the default.
func (s *Settings) GetWarningThreshold() time.Duration {
	if s.WarningThreshold != nil {
		return s.WarningThreshold.Std()
	}
	return DefaultWarningThreshold
}

// GetTimeout returns the configured global timeout or the default.
func (s *Settings) GetTimeout() time.Duration {
	if s.Timeout != nil {
		return s.Timeout.Std()
	}
	return DefaultTimeout
}

// GetPageRefresh returns the page refresh hint or the default.
func (s *Settings) GetPageRefresh() time.Duration {
	if s.PageRefresh != nil {
		return s.PageRefresh.Std()
	}
	return DefaultPageRefresh
}

// GetMaxRetries returns the configured retry count or the default.
func (s *Settings) GetMaxRetries() int {
	if s.MaxRetries != nil {
		return *s.MaxRetries
	}
	return DefaultMaxRetries
}

// GetWorkerPoolSize returns the configured pool size. Zero means a
// platform-derived default, resolved by the worker pool itself.
func (s *Settings) GetWorkerPoolSize() int {
	if s.WorkerPoolSize != nil {
		return *s.WorkerPoolSize
	}
	return 0
}

// GetHistoryFile returns the history CSV path or the default.
func (s *Settings) GetHistoryFile() string {
	if s.HistoryFile != "" {
		return s.HistoryFile
	}
	return DefaultHistoryFile
}

// GetOutputDir returns the snapshot output directory or the default.
func (s *Settings) GetOutputDir() string {
	if s.OutputDir != "" {
		return s.OutputDir
	}
	return DefaultOutputDir
}

// Config is the root of the configuration document.
type Config struct {
	Settings Settings  `yaml:"settings"`
	Pings    []Service `yaml:"pings"`
}

// Params are the effective probe parameters of one service after applying
// per-service overrides, global settings, and built-in defaults.
type Params struct {
	Interval         time.Duration
	WarningThreshold time.Duration
	Timeout          time.Duration
}

// ServiceParams resolves the effective parameters for svc.
func (c *Config) ServiceParams(svc *Service) Params {
	p := Params{
		Interval:         c.Settings.GetCheckInterval(),
		WarningThreshold: c.Settings.GetWarningThreshold(),
		Timeout:          c.Settings.GetTimeout(),
	}
	if svc.Interval != nil {
		p.Interval = svc.Interval.Std()
	}
	if svc.WarningThreshold != nil {
		p.WarningThreshold = svc.WarningThreshold.Std()
	}
	if svc.Timeout != nil {
		p.Timeout = svc.Timeout.Std()
	}
	return p
}

// Load decodes a configuration document and validates it. Unknown keys at any
// level are rejected.
func Load(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("configuration is empty")
		}
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open configuration: %w", err)
	}
	defer f.Close()

	cfg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
