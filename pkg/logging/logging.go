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

// Package logging builds the process logger: JSON lines, leveled, stamped
// with the service and environment, and redaction-safe for credential-shaped
// keys.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/kelseyhightower/envconfig"
)

// Env is the environment-driven logging block. DEBUG selects the level;
// ENV names the deployment environment stamped on every record.
type Env struct {
	Debug string `envconfig:"DEBUG" default:"info"`
	Env   string `envconfig:"ENV" default:"production"`
}

// Options configure a logger instance.
type Options struct {
	// Level is one of trace, debug, info, warn, error, fatal
	// (case-insensitive). Unknown values fall back to info.
	Level   string
	Service string
	Env     string
}

var (
	debugWarnOnce sync.Once
	// Swapped in tests.
	debugWarnWriter io.Writer = os.Stderr
)

// New builds a leveled JSON logger writing to w. When the level enables debug
// output a one-time warning goes to stderr, because debug records may carry
// request details that the redactor cannot fully vet.
func New(opts Options, w io.Writer) log.Logger {
	allow, debugEnabled := parseLevel(opts.Level)
	if debugEnabled {
		debugWarnOnce.Do(func() {
			fmt.Fprintln(debugWarnWriter, "WARNING: debug logging enabled, sensitive data may appear in logs")
		})
	}

	logger := log.NewJSONLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, allow)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	if opts.Service != "" {
		logger = log.With(logger, "service", opts.Service)
	}
	if opts.Env != "" {
		logger = log.With(logger, "env", opts.Env)
	}
	return WithRedaction(logger)
}

// FromEnv builds the standard process logger for service, reading DEBUG and
// ENV from the environment.
func FromEnv(service string, w io.Writer) log.Logger {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		e = Env{Debug: "info", Env: "production"}
	}
	return New(Options{Level: e.Debug, Service: service, Env: e.Env}, w)
}

// parseLevel maps the six-level external scale onto go-kit's filter options.
// trace shares debug; fatal shares error (fatal exits are handled by the
// caller).
func parseLevel(s string) (allow level.Option, debugEnabled bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return level.AllowDebug(), true
	case "warn", "warning":
		return level.AllowWarn(), false
	case "error", "fatal":
		return level.AllowError(), false
	default:
		return level.AllowInfo(), false
	}
}
