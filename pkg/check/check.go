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

// Package check defines the status lattice, the transport error taxonomy and
// the probe outcome record shared by the rest of the module.
package check

import "time"

// Status is the four-valued health state of a service.
type Status string

const (
	// StatusPending marks a service that has not completed a probe yet. It is
	// a runtime-only state: persisted records coerce it to StatusFail.
	StatusPending Status = "PENDING"
	// StatusPass marks a probe that satisfied every configured expectation
	// within the warning threshold.
	StatusPass Status = "PASS"
	// StatusDegraded marks a probe that passed validation but exceeded the
	// warning threshold.
	StatusDegraded Status = "DEGRADED"
	// StatusFail marks a probe that failed transport, timed out or violated a
	// configured expectation.
	StatusFail Status = "FAIL"
)

// Rank returns the display position of the status: failing services sort
// first, pending services last. Lower is more urgent.
func (s Status) Rank() int {
	switch s {
	case StatusFail:
		return 0
	case StatusDegraded:
		return 1
	case StatusPass:
		return 2
	default:
		return 3
	}
}

// ErrorType classifies a transport-level probe failure.
type ErrorType string

const (
	ErrorTimeout           ErrorType = "TIMEOUT"
	ErrorDNSFailure        ErrorType = "DNS_FAILURE"
	ErrorConnectionRefused ErrorType = "CONNECTION_REFUSED"
	ErrorTLS               ErrorType = "SSL_TLS"
	ErrorNetwork           ErrorType = "NETWORK"
	ErrorUnknown           ErrorType = "UNKNOWN"
)

// Retryable reports whether another attempt may plausibly succeed. TLS
// failures are configuration or certificate problems and unknown errors give
// no signal either way, so neither is retried.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTimeout, ErrorDNSFailure, ErrorConnectionRefused, ErrorNetwork:
		return true
	default:
		return false
	}
}

// Reason returns the user-facing failure reason for the error type.
func (t ErrorType) Reason() string {
	switch t {
	case ErrorTimeout:
		return "Connection timeout"
	case ErrorDNSFailure:
		return "DNS failure"
	case ErrorConnectionRefused:
		return "Connection refused"
	case ErrorTLS:
		return "SSL/TLS certificate error"
	case ErrorNetwork:
		return "Network error"
	default:
		return "Unknown error"
	}
}

// TimestampFormat renders instants as ISO-8601 UTC with fixed millisecond
// precision, the format used by the history file and the snapshot.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// FormatTimestamp formats t in TimestampFormat, converting to UTC first.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// Result is the immutable outcome of one probe cycle.
type Result struct {
	ServiceName    string
	Timestamp      time.Time
	Method         string
	Status         Status
	LatencyMillis  int64
	HTTPStatus     int // 0 when no HTTP response was obtained.
	ExpectedStatus int
	// TextValid is nil when no body substring was configured.
	TextValid *bool
	// HeaderValid maps each expected header name to its match outcome. Nil
	// when no header expectations were configured.
	HeaderValid   map[string]bool
	FailureReason string
	CorrelationID string
	// ErrorType tags transport failures for retry gating and metrics. Empty
	// for successful probes, validation failures and guard rejections; never
	// persisted.
	ErrorType ErrorType
}

// Passing reports whether the result carries no failure.
func (r Result) Passing() bool {
	return r.Status == StatusPass
}

// PersistedStatus returns the status as written to durable storage: the
// runtime-only PENDING state is coerced to FAIL.
func (r Result) PersistedStatus() Status {
	if r.Status == StatusPending {
		return StatusFail
	}
	return r.Status
}
