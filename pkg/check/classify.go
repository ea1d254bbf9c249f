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

package check

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// Classify maps a transport error onto the closed taxonomy. It walks the
// wrapped error chain first (context deadlines, net.Error timeouts, DNS and
// TLS error types, socket errnos) and falls back to case-insensitive message
// patterns for errors that arrive stringified.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrorTimeout
	}
	// A DNS lookup that timed out is a timeout, so this check precedes the
	// DNS one.
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrorTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorDNSFailure
	}

	if isTLSError(err) {
		return ErrorTLS
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorConnectionRefused
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.ENETDOWN,
		syscall.ENETRESET,
		syscall.EPIPE,
	} {
		if errors.Is(err, errno) {
			return ErrorNetwork
		}
	}

	return classifyMessage(err.Error())
}

func isTLSError(err error) bool {
	var (
		certErr      *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	return errors.As(err, &certErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}

func classifyMessage(msg string) ErrorType {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return ErrorTimeout
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "dns"):
		return ErrorDNSFailure
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "actively refused"):
		return ErrorConnectionRefused
	case strings.Contains(msg, "tls") || strings.Contains(msg, "x509") || strings.Contains(msg, "certificate"):
		return ErrorTLS
	// A bare EOF is the client-side face of a reset or mid-request close.
	case strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unreachable") ||
		strings.Contains(msg, "aborted") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof"):
		return ErrorNetwork
	default:
		return ErrorUnknown
	}
}
