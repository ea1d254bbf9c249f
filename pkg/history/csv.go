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

package history

import (
	"errors"
	"fmt"
	"strings"
)

// EscapeValue encodes one CSV field per RFC 4180: values containing a comma,
// double quote, CR or LF are wrapped in double quotes and inner quotes are
// doubled. Everything else passes through byte for byte.
func EscapeValue(v string) string {
	if !strings.ContainsAny(v, "\",\r\n") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// ParseLine splits one CSV record into its fields, honoring RFC 4180
// quoting. The input is a single logical record without its terminating
// newline; quoted fields may contain embedded CR and LF.
func ParseLine(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuotes := false

	i := 0
	for i < len(line) {
		c := line[i]
		if inQuotes {
			if c != '"' {
				cur.WriteByte(c)
				i++
				continue
			}
			if i+1 < len(line) && line[i+1] == '"' {
				cur.WriteByte('"')
				i += 2
				continue
			}
			inQuotes = false
			i++
			if i < len(line) && line[i] != ',' {
				return nil, fmt.Errorf("unexpected %q after closing quote at byte %d", line[i], i)
			}
			continue
		}
		switch c {
		case '"':
			if cur.Len() != 0 {
				return nil, fmt.Errorf("quote inside unquoted field at byte %d", i)
			}
			inQuotes = true
			i++
		case ',':
			fields = append(fields, cur.String())
			cur.Reset()
			i++
		default:
			cur.WriteByte(c)
			i++
		}
	}
	if inQuotes {
		return nil, errors.New("unterminated quoted field")
	}
	return append(fields, cur.String()), nil
}

// splitRecords cuts raw file content into logical CSV records. Newlines
// inside quoted fields do not terminate a record; a CR directly before the
// terminating LF is part of the terminator, not the record.
func splitRecords(data string) []string {
	var records []string
	var cur strings.Builder
	inQuotes := false

	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == '\n' && !inQuotes:
			records = append(records, strings.TrimSuffix(cur.String(), "\r"))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		records = append(records, strings.TrimSuffix(cur.String(), "\r"))
	}
	return records
}
