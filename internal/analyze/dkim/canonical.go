/*
Emlprobe - email forensics and scoring engine.
Copyright © 2023-2024 emlprobe contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package dkim

import (
	"strings"
)

const crlf = "\r\n"

// CanonicalizeHeader canonicalizes one raw header field (folding preserved,
// trailing CRLF included) per RFC 6376 Section 3.4. The result always ends
// with CRLF.
func CanonicalizeHeader(field, canonical string) string {
	if canonical != "relaxed" {
		// simple: the field is hashed exactly as it appears.
		if !strings.HasSuffix(field, crlf) {
			return field + crlf
		}
		return field
	}

	name, value, ok := strings.Cut(field, ":")
	if !ok {
		return strings.ToLower(strings.TrimSpace(field)) + ":" + crlf
	}

	name = strings.ToLower(strings.TrimSpace(name))

	// Unfold, then collapse WSP runs into single spaces.
	value = strings.ReplaceAll(value, crlf, "")
	value = strings.ReplaceAll(value, "\n", "")
	value = strings.Join(strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == '\t'
	}), " ")

	return name + ":" + value + crlf
}

// fixCRLF converts bare LF line endings into CRLF, leaving existing CRLF
// pairs untouched.
func fixCRLF(b []byte) []byte {
	res := make([]byte, 0, len(b))
	cr := false
	for _, ch := range b {
		prevCR := cr
		cr = false
		switch ch {
		case '\r':
			cr = true
		case '\n':
			if !prevCR {
				res = append(res, '\r')
			}
		}
		res = append(res, ch)
	}
	return res
}

// CanonicalizeBody canonicalizes the message body per RFC 6376 Section 3.4.3
// (simple) or 3.4.4 (relaxed). The empty body canonicalizes to the empty
// string, any other body ends with exactly one CRLF.
func CanonicalizeBody(body []byte, canonical string) []byte {
	fixed := fixCRLF(body)

	if canonical != "relaxed" {
		// simple: strip trailing empty lines, ensure final CRLF.
		for len(fixed) >= 4 && string(fixed[len(fixed)-4:]) == "\r\n\r\n" {
			fixed = fixed[:len(fixed)-2]
		}
		if len(fixed) == 0 {
			return []byte(crlf)
		}
		if string(fixed[len(fixed)-2:]) != crlf {
			fixed = append(fixed, crlf...)
		}
		return fixed
	}

	lines := strings.Split(string(fixed), crlf)

	// Drop trailing empty lines. Lines of pure WSP become empty after the
	// per-line trim, so they count as empty here too.
	for len(lines) > 0 && strings.TrimRight(lines[len(lines)-1], " \t") == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil
	}

	canonicalLines := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")

		var sb strings.Builder
		sb.Grow(len(line))
		wsp := false
		for i := 0; i < len(line); i++ {
			ch := line[i]
			if ch == ' ' || ch == '\t' {
				if !wsp {
					sb.WriteByte(' ')
					wsp = true
				}
				continue
			}
			sb.WriteByte(ch)
			wsp = false
		}
		canonicalLines = append(canonicalLines, sb.String())
	}

	return []byte(strings.Join(canonicalLines, crlf) + crlf)
}
