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

package message

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// ParseRawHeaders parses a raw header block into the ordered header list.
// Name casing is preserved and folded values are joined into one logical
// line. The block may but does not have to end with an empty line.
func ParseRawHeaders(raw string) ([]EmailHeader, error) {
	if !strings.HasSuffix(raw, "\n\n") && !strings.HasSuffix(raw, "\r\n\r\n") {
		raw += "\r\n\r\n"
	}

	hdr, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("message: malformed header block: %w", err)
	}

	var res []EmailHeader
	for f := hdr.Fields(); f.Next(); {
		res = append(res, EmailHeader{
			Name:  f.Key(),
			Value: strings.TrimSpace(unfold(f.Value())),
		})
	}
	return res, nil
}

// ReadMessage splits a complete message into the parsed header list, the
// raw header block and the body.
func ReadMessage(r io.Reader) (hdrs []EmailHeader, rawHeader string, body []byte, err error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, "", nil, fmt.Errorf("message: %w", err)
	}

	rawHeader, body = SplitRaw(all)

	hdrs, err = ParseRawHeaders(rawHeader)
	if err != nil {
		return nil, "", nil, err
	}
	return hdrs, rawHeader, body, nil
}

// SplitRaw splits raw message bytes on the first empty line into the
// header block (including the terminating empty line) and body.
func SplitRaw(raw []byte) (rawHeader string, body []byte) {
	s := string(raw)
	for _, sep := range []string{"\r\n\r\n", "\n\n"} {
		if indx := strings.Index(s, sep); indx != -1 {
			return s[:indx+len(sep)], raw[indx+len(sep):]
		}
	}
	return s, nil
}

// RawHeaderFields splits a raw header block into individual fields,
// preserving the original bytes of each field including folding. Every
// returned string ends with CRLF. Signature verification needs the
// original octets since simple canonicalization hashes them as-is.
func RawHeaderFields(raw string) []string {
	// Normalize bare LF so the fields always end with CRLF.
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")

	var fields []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() != 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for _, line := range lines {
		if line == "" {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			cur.WriteString(line)
			cur.WriteString("\r\n")
			continue
		}
		flush()
		cur.WriteString(line)
		cur.WriteString("\r\n")
	}
	flush()
	return fields
}

// FieldName returns the lowercased name of a raw header field.
func FieldName(field string) string {
	name, _, ok := strings.Cut(field, ":")
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// FieldValue returns everything after the colon of a raw header field,
// folding preserved.
func FieldValue(field string) string {
	_, value, ok := strings.Cut(field, ":")
	if !ok {
		return ""
	}
	return value
}

// SynthesizeFields builds raw header fields from the parsed header list for
// requests that do not carry the raw header block.
func SynthesizeFields(hdrs []EmailHeader) []string {
	fields := make([]string, 0, len(hdrs))
	for _, hdr := range hdrs {
		fields = append(fields, hdr.Name+": "+hdr.Value+"\r\n")
	}
	return fields
}

// unfold replaces CRLF or LF followed by WSP with a single SP, turning a
// folded header value into one line.
func unfold(value string) string {
	var sb strings.Builder
	sb.Grow(len(value))
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch == '\r' || ch == '\n' {
			for i+1 < len(value) && (value[i+1] == '\r' || value[i+1] == '\n') {
				i++
			}
			if i+1 < len(value) && (value[i+1] == ' ' || value[i+1] == '\t') {
				continue
			}
			sb.WriteByte(' ')
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}
