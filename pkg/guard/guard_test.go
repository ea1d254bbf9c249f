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

package guard

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestPolicyValidate(t *testing.T) {
	for _, tc := range []struct {
		url  string
		want error
	}{
		// Allowed.
		{"https://example.com/health", nil},
		{"http://status.example.org:8080/ping", nil},
		{"https://8.8.8.8/dns", nil},
		{"http://172.15.0.1/", nil},
		{"http://172.32.0.1/", nil},
		{"https://internal-api.example.com/", nil},

		// Scheme.
		{"ftp://example.com/file", ErrSchemeNotAllowed},
		{"file:///etc/passwd", ErrSchemeNotAllowed},
		{"gopher://example.com", ErrSchemeNotAllowed},

		// Localhost family.
		{"http://localhost:3000/", ErrLocalhostBlocked},
		{"http://LOCALHOST/", ErrLocalhostBlocked},
		{"http://127.0.0.1/", ErrLocalhostBlocked},
		{"http://127.8.9.10/", ErrLocalhostBlocked},
		{"http://0.0.0.0/", ErrLocalhostBlocked},
		{"http://0.1.2.3/", ErrLocalhostBlocked},
		{"http://[::1]/", ErrLocalhostBlocked},

		// RFC 1918.
		{"http://10.0.0.5/", ErrPrivateBlocked},
		{"http://192.168.1.1/admin", ErrPrivateBlocked},
		{"http://172.16.0.1/", ErrPrivateBlocked},
		{"http://172.31.255.254/", ErrPrivateBlocked},

		// Link-local, both families.
		{"http://169.254.169.254/latest", ErrLinkLocalBlocked},
		{"http://169.254.0.1/", ErrLinkLocalBlocked},
		{"http://[fe80::1]/", ErrLinkLocalBlocked},

		// IPv6 unique-local.
		{"http://[fd00::1]/", ErrUniqueLocalBlocked},
		{"http://[fc00::2]/", ErrUniqueLocalBlocked},

		// Metadata endpoints.
		{"http://metadata.google.internal/computeMetadata/v1/", ErrMetadataBlocked},
		{"http://metadata/", ErrMetadataBlocked},
		{"http://METADATA/", ErrMetadataBlocked},
		{"http://100.100.100.200/", ErrMetadataBlocked},
		{"https://kubernetes.default.svc/api", ErrMetadataBlocked},
		{"http://consul:8500/v1/agent", ErrMetadataBlocked},

		// Internal suffixes.
		{"http://db.prod.internal/", ErrInternalHostBlocked},
		{"http://printer.local/", ErrInternalHostBlocked},
		{"http://Printer.LOCAL/", ErrInternalHostBlocked},
	} {
		t.Run(tc.url, func(t *testing.T) {
			var p Policy
			err := p.Validate(mustParse(t, tc.url))
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestPolicyValidateIdempotent(t *testing.T) {
	var p Policy
	u := mustParse(t, "http://169.254.169.254/latest")
	first := p.Validate(u)
	second := p.Validate(u)
	assert.Equal(t, first, second)
}

func TestLinkLocalReasonMentionsLinkLocal(t *testing.T) {
	var p Policy
	err := p.Validate(mustParse(t, "http://169.254.169.254/latest"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Link-local")
}

// Under "go test" the bypass is active, which is exactly how probe tests hit
// httptest servers on loopback.
func TestSkipValidationUnderTest(t *testing.T) {
	p := Policy{SkipValidation: true}
	assert.NoError(t, p.Validate(mustParse(t, "http://127.0.0.1:8080/")))
	assert.NoError(t, p.Validate(mustParse(t, "http://metadata/")))
}
