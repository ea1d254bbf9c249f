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

// Package guard rejects outbound probe URLs that would reach internal
// infrastructure: loopback and private ranges, link-local addresses, cloud
// metadata endpoints and internal hostnames. Every candidate URL passes
// through the policy before any network I/O happens.
package guard

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"testing"
)

// Rejection messages double as user-facing failure reasons, hence the
// capitalization.
var (
	ErrSchemeNotAllowed    = errors.New("Only HTTP/HTTPS protocols allowed")
	ErrMissingHost         = errors.New("URL has no host")
	ErrLocalhostBlocked    = errors.New("Localhost access blocked")
	ErrPrivateBlocked      = errors.New("Private network access blocked")
	ErrLinkLocalBlocked    = errors.New("Link-local address blocked")
	ErrUniqueLocalBlocked  = errors.New("IPv6 unique-local address blocked")
	ErrMetadataBlocked     = errors.New("Metadata endpoint access blocked")
	ErrInternalHostBlocked = errors.New("Internal hostname blocked")
)

// metadataHosts are well-known metadata service names and addresses, blocked
// by exact match.
var metadataHosts = map[string]bool{
	"metadata.google.internal": true,
	"metadata":                 true,
	"100.100.100.200":          true,
	"kubernetes.default.svc":   true,
	"consul":                   true,
}

// Policy validates outbound URLs. The zero value is the full production
// policy.
type Policy struct {
	// SkipValidation disables the policy entirely. It is honored only while
	// the process runs under "go test"; in production binaries the flag is
	// inert and every URL is validated.
	SkipValidation bool
}

// Validate checks a parsed URL against the policy. It returns nil when the
// URL may be probed and a rejection error otherwise. Validation is pure:
// no name resolution is performed, so the same URL always yields the same
// outcome.
func (p Policy) Validate(u *url.URL) error {
	if p.SkipValidation && testing.Testing() {
		return nil
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrSchemeNotAllowed
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ErrMissingHost
	}
	if host == "localhost" {
		return ErrLocalhostBlocked
	}
	if metadataHosts[host] {
		return ErrMetadataBlocked
	}
	if strings.HasSuffix(host, ".internal") || strings.HasSuffix(host, ".local") {
		return ErrInternalHostBlocked
	}
	if ip := net.ParseIP(host); ip != nil {
		return validateIP(ip)
	}
	return nil
}

func validateIP(ip net.IP) error {
	if v4 := ip.To4(); v4 != nil {
		switch {
		// First octet 127 (loopback) or 0 ("this network", incl. 0.0.0.0).
		case v4[0] == 127 || v4[0] == 0:
			return ErrLocalhostBlocked
		case ip.IsPrivate():
			return ErrPrivateBlocked
		case ip.IsLinkLocalUnicast():
			return ErrLinkLocalBlocked
		}
		return nil
	}
	switch {
	case ip.IsLoopback():
		return ErrLocalhostBlocked
	case ip.IsLinkLocalUnicast():
		return ErrLinkLocalBlocked
	// For IPv6, IsPrivate means unique-local (fc00::/7).
	case ip.IsPrivate():
		return ErrUniqueLocalBlocked
	}
	return nil
}
