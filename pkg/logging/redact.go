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

package logging

import (
	"strings"

	"github.com/go-kit/log"
)

// Redacted replaces the value of any credential-shaped key.
const Redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively, so apiKey and accessToken are
// covered by their lowercase forms.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"apikey":        true,
	"api_key":       true,
	"authorization": true,
	"secret":        true,
	"accesstoken":   true,
}

func sensitiveKey(k string) bool {
	return sensitiveKeys[strings.ToLower(k)]
}

type redactor struct {
	next log.Logger
}

// WithRedaction wraps a logger so credential-shaped keys are masked before
// serialization: both top-level keyvals (password=..., token=...) and keys
// inside logged header maps (headers.authorization).
func WithRedaction(next log.Logger) log.Logger {
	return &redactor{next: next}
}

func (r *redactor) Log(keyvals ...interface{}) error {
	out := make([]interface{}, len(keyvals))
	copy(out, keyvals)
	for i := 0; i+1 < len(out); i += 2 {
		k, ok := out[i].(string)
		if !ok {
			continue
		}
		if sensitiveKey(k) {
			out[i+1] = Redacted
			continue
		}
		out[i+1] = redactValue(out[i+1])
	}
	return r.next.Log(out...)
}

// redactValue masks sensitive keys inside map values. The input map is never
// mutated; a copy is made only when something actually needs masking.
func redactValue(v interface{}) interface{} {
	switch m := v.(type) {
	case map[string]string:
		var out map[string]string
		for k := range m {
			if !sensitiveKey(k) {
				continue
			}
			if out == nil {
				out = make(map[string]string, len(m))
				for k2, v2 := range m {
					out[k2] = v2
				}
			}
			out[k] = Redacted
		}
		if out != nil {
			return out
		}
	case map[string]interface{}:
		var out map[string]interface{}
		for k := range m {
			if !sensitiveKey(k) {
				continue
			}
			if out == nil {
				out = make(map[string]interface{}, len(m))
				for k2, v2 := range m {
					out[k2] = v2
				}
			}
			out[k] = Redacted
		}
		if out != nil {
			return out
		}
	}
	return v
}
