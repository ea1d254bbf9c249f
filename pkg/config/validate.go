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

package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ValidationError carries every violation found in a configuration document,
// in document order. Validation never stops at the first problem.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Violations, "; "))
}

// Lint loads the configuration at path and writes every problem found to w,
// one per line. Validation violations are listed individually; read and parse
// failures produce a single line. It reports whether the configuration is
// valid.
func Lint(path string, w io.Writer) bool {
	_, err := LoadFile(path)
	if err == nil {
		return true
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		for _, v := range verr.Violations {
			fmt.Fprintln(w, v)
		}
	} else {
		fmt.Fprintln(w, err)
	}
	return false
}

// structValidator runs the declarative per-service rules. Field names in
// messages come from the yaml tags so they match what users wrote.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks the document in two phases: structural rules first, then
// cross-field invariants, collecting all violations.
func (c *Config) Validate() error {
	var violations []string

	// Phase A: structural.
	violations = append(violations, c.Settings.validate()...)
	if len(c.Pings) == 0 {
		violations = append(violations, "pings must contain at least one service")
	}
	for i := range c.Pings {
		violations = append(violations, c.Pings[i].validateStructural(i)...)
	}

	// Phase B: cross-field.
	seen := make(map[string]bool, len(c.Pings))
	for i := range c.Pings {
		svc := &c.Pings[i]
		if svc.Name != "" {
			if seen[svc.Name] {
				violations = append(violations, fmt.Sprintf("%s: duplicate service name", svc.label(i)))
			}
			seen[svc.Name] = true
		}
		violations = append(violations, svc.validateCrossField(c, i)...)
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func (s *Settings) validate() []string {
	var violations []string
	if s.CheckInterval != nil && s.CheckInterval.Std() < 10*time.Second {
		violations = append(violations, "settings: check_interval must be at least 10s")
	}
	if s.WarningThreshold != nil && s.WarningThreshold.Std() < 0 {
		violations = append(violations, "settings: warning_threshold must not be negative")
	}
	if s.Timeout != nil && s.Timeout.Std() < time.Second {
		violations = append(violations, "settings: timeout must be at least 1s")
	}
	if s.PageRefresh != nil && s.PageRefresh.Std() < 5*time.Second {
		violations = append(violations, "settings: page_refresh must be at least 5s")
	}
	if s.MaxRetries != nil && (*s.MaxRetries < 0 || *s.MaxRetries > 10) {
		violations = append(violations, "settings: max_retries must be between 0 and 10")
	}
	if s.WorkerPoolSize != nil && (*s.WorkerPoolSize < 0 || *s.WorkerPoolSize > 100) {
		violations = append(violations, "settings: worker_pool_size must be between 0 and 100")
	}
	return violations
}

// label identifies a service in violation messages, falling back to its list
// position when the name itself is missing.
func (s *Service) label(idx int) string {
	if s.Name != "" {
		return fmt.Sprintf("service %q", s.Name)
	}
	return fmt.Sprintf("pings[%d]", idx)
}

func (s *Service) validateStructural(idx int) []string {
	var violations []string
	label := s.label(idx)

	if err := structValidator.Struct(s); err != nil {
		var ferrs validator.ValidationErrors
		if errors.As(err, &ferrs) {
			for _, fe := range ferrs {
				violations = append(violations, fmt.Sprintf("%s: %s", label, fieldViolation(fe)))
			}
		} else {
			violations = append(violations, fmt.Sprintf("%s: %v", label, err))
		}
	}

	// Override ranges mirror the global settings ranges.
	if s.Interval != nil && s.Interval.Std() < 10*time.Second {
		violations = append(violations, fmt.Sprintf("%s: interval must be at least 10s", label))
	}
	if s.WarningThreshold != nil && s.WarningThreshold.Std() < 0 {
		violations = append(violations, fmt.Sprintf("%s: warning_threshold must not be negative", label))
	}
	if s.Timeout != nil && s.Timeout.Std() < time.Second {
		violations = append(violations, fmt.Sprintf("%s: timeout must be at least 1s", label))
	}
	return violations
}

func (s *Service) validateCrossField(c *Config, idx int) []string {
	var violations []string
	label := s.label(idx)

	params := c.ServiceParams(s)
	if params.WarningThreshold >= params.Timeout {
		violations = append(violations, fmt.Sprintf("%s: warning_threshold (%s) must be less than timeout (%s)",
			label, params.WarningThreshold, params.Timeout))
	}
	if s.Payload != nil && s.Method != "POST" {
		violations = append(violations, fmt.Sprintf("%s: payload requires method POST", label))
	}
	if u, err := url.Parse(s.Resource); err == nil && u.Scheme != "" && s.Protocol != "" {
		if !strings.EqualFold(u.Scheme, s.Protocol) {
			violations = append(violations, fmt.Sprintf("%s: resource scheme %q does not match protocol %s",
				label, u.Scheme, s.Protocol))
		}
	}
	return violations
}

// fieldViolation renders one declarative rule failure as a human-readable
// message keyed by the yaml field path.
func fieldViolation(fe validator.FieldError) string {
	path := strings.TrimPrefix(fe.Namespace(), "Service.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "min":
		return fmt.Sprintf("%s must not be empty", path)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", path, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", path, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return fmt.Sprintf("%s must be a valid absolute URL", path)
	case "printascii":
		return fmt.Sprintf("%s must contain only printable ASCII", path)
	case "gte":
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", path, fe.Tag())
	}
}
