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

// Package tlspath reconstructs the delivery path from Received headers
// and grades its transport encryption.
package tlspath

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ynggny/emlprobe/internal/message"
)

// Hop is one relay step, in origin-to-recipient order.
type Hop struct {
	From      string `json:"from,omitempty"`
	By        string `json:"by,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	Encrypted  bool   `json:"encrypted"`
	TLSVersion string `json:"tlsVersion,omitempty"`
}

// Result is the path reconstruction outcome.
type Result struct {
	// Risk is one of safe, warning, danger. A message without Received
	// headers is graded safe with an issue noting the empty path.
	Risk string `json:"risk"`

	Hops   []Hop    `json:"hops,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

var (
	fromRe     = regexp.MustCompile(`(?i)\bfrom\s+(\[?[A-Za-z0-9._:-]+\]?)`)
	byRe       = regexp.MustCompile(`(?i)\bby\s+(\[?[A-Za-z0-9._:-]+\]?)`)
	protoRe    = regexp.MustCompile(`(?i)\bwith\s+([A-Za-z0-9]+)`)
	tlsVerRe   = regexp.MustCompile(`(?i)\bTLS[ _]?v?(1(?:\.[0-3])?)\b`)
	tlsHintRe  = regexp.MustCompile(`(?i)\bwith\s+TLS\b|\bcipher=|\busing\s+TLS\b`)
	deprecated = map[string]bool{"1": true, "1.0": true, "1.1": true}
)

// Analyze parses the Received headers of the message. Headers are
// prepended by each relay, so the stored order is recipient-first;
// the returned hops are reversed into origin-first order.
func Analyze(req *message.AnalysisRequest) Result {
	received := req.HeadersByName("Received")
	if len(received) == 0 {
		return Result{Risk: "safe", Issues: []string{"no Received headers, path unknown"}}
	}

	hops := make([]Hop, 0, len(received))
	for i := len(received) - 1; i >= 0; i-- {
		hops = append(hops, parseHop(received[i]))
	}

	res := Result{Hops: hops}

	unencrypted := 0
	deprecatedSeen := false
	for i, hop := range hops {
		if !hop.Encrypted {
			unencrypted++
			res.Issues = append(res.Issues, fmt.Sprintf("hop %d (%s -> %s) is unencrypted", i+1, orUnknown(hop.From), orUnknown(hop.By)))
		}
		if hop.TLSVersion != "" && deprecated[hop.TLSVersion] {
			deprecatedSeen = true
		}
	}
	if deprecatedSeen {
		res.Issues = append(res.Issues, "deprecated TLS version (1.1 or older) on the path")
	}

	switch {
	case unencrypted*2 > len(hops) || !hops[0].Encrypted:
		res.Risk = "danger"
	case unencrypted > 0:
		res.Risk = "warning"
	default:
		res.Risk = "safe"
	}
	return res
}

func parseHop(value string) Hop {
	var hop Hop

	clause := value
	if indx := strings.LastIndexByte(value, ';'); indx != -1 {
		clause = value[:indx]
		if ts := strings.TrimSpace(value[indx+1:]); ts != "" {
			hop.Timestamp = normalizeDate(ts)
		}
	}

	if m := fromRe.FindStringSubmatch(clause); m != nil {
		hop.From = strings.Trim(m[1], "[]")
	}
	if m := byRe.FindStringSubmatch(clause); m != nil {
		hop.By = strings.Trim(m[1], "[]")
	}
	if m := protoRe.FindStringSubmatch(clause); m != nil {
		hop.Protocol = strings.ToUpper(m[1])
	}
	if m := tlsVerRe.FindStringSubmatch(clause); m != nil {
		hop.TLSVersion = m[1]
	}

	// ESMTPS, ESMTPSA and the like advertise STARTTLS; "with TLS" and
	// cipher= annotations cover the rest of the wild variants.
	hop.Encrypted = strings.HasSuffix(hop.Protocol, "S") ||
		strings.HasSuffix(hop.Protocol, "SA") ||
		tlsHintRe.MatchString(clause) ||
		hop.TLSVersion != ""
	return hop
}

func normalizeDate(ts string) string {
	// Drop the optional "(comment)" trailer MTAs append after the date.
	if indx := strings.IndexByte(ts, '('); indx != -1 {
		ts = strings.TrimSpace(ts[:indx])
	}
	if t, err := mailDate(ts); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return ts
}

func mailDate(ts string) (time.Time, error) {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 -0700", "2 Jan 2006 15:04:05 -0700"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %q", ts)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
