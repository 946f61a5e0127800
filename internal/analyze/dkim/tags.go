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
	"fmt"
	"strconv"
	"strings"
)

// ParseTags parses a tag=value list (RFC 6376 Section 3.2) tolerantly:
// whitespace around tags and inside values is stripped, which is required
// for b= and bh= where the base64 is routinely folded across lines.
// A duplicate tag name is an error.
func ParseTags(value string) (map[string]string, error) {
	tags := make(map[string]string)
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("dkim: malformed tag: %q", part)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("dkim: empty tag name")
		}
		if _, ok := tags[name]; ok {
			return nil, fmt.Errorf("dkim: duplicate tag: %s", name)
		}
		tags[name] = stripFWS(val)
	}
	return tags, nil
}

// stripFWS removes folding whitespace (CRLF followed by WSP) and all
// remaining spaces and tabs.
func stripFWS(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\t", "")
	return strings.ReplaceAll(s, " ", "")
}

// Signature is a parsed DKIM-Signature header.
type Signature struct {
	Version    int
	Algorithm  string
	Signature  string // b, base64
	BodyHash   string // bh, base64
	Canonical  string // c, defaults to simple/simple
	Domain     string // d
	Headers    []string
	Identity   string // i
	Limit      int64  // l, -1 if absent
	Query      string // q
	Selector   string // s
	Timestamp  int64  // t, 0 if absent
	Expiration int64  // x, 0 if absent
}

var requiredTags = []string{"v", "a", "b", "bh", "d", "h", "s"}

// ParseSignature parses the value of a DKIM-Signature header.
func ParseSignature(value string) (*Signature, error) {
	tags, err := ParseTags(value)
	if err != nil {
		return nil, err
	}

	for _, tag := range requiredTags {
		if tags[tag] == "" {
			return nil, fmt.Errorf("dkim: missing required tag: %s", tag)
		}
	}

	sig := &Signature{
		Algorithm: tags["a"],
		Signature: tags["b"],
		BodyHash:  tags["bh"],
		Canonical: tags["c"],
		Domain:    tags["d"],
		Identity:  tags["i"],
		Query:     tags["q"],
		Selector:  tags["s"],
		Limit:     -1,
	}

	sig.Version, err = strconv.Atoi(tags["v"])
	if err != nil || sig.Version != 1 {
		return nil, fmt.Errorf("dkim: unsupported version: %s", tags["v"])
	}

	for _, name := range strings.Split(tags["h"], ":") {
		name = strings.TrimSpace(name)
		if name != "" {
			sig.Headers = append(sig.Headers, name)
		}
	}
	if len(sig.Headers) == 0 {
		return nil, fmt.Errorf("dkim: empty h= tag")
	}

	if l, ok := tags["l"]; ok {
		sig.Limit, err = strconv.ParseInt(l, 10, 64)
		if err != nil || sig.Limit < 0 {
			return nil, fmt.Errorf("dkim: invalid l= tag: %s", l)
		}
	}
	if t, ok := tags["t"]; ok {
		sig.Timestamp, err = strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dkim: invalid t= tag: %s", t)
		}
	}
	if x, ok := tags["x"]; ok {
		sig.Expiration, err = strconv.ParseInt(x, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dkim: invalid x= tag: %s", x)
		}
	}
	if sig.Expiration != 0 && sig.Timestamp != 0 && sig.Expiration <= sig.Timestamp {
		return nil, fmt.Errorf("dkim: x= tag must be greater than t= tag")
	}

	// d= must be the identity domain or its parent (RFC 6376 Section 3.5).
	if indx := strings.LastIndexByte(sig.Identity, '@'); indx != -1 {
		idDomain := sig.Identity[indx+1:]
		if idDomain != sig.Domain && !strings.HasSuffix(idDomain, "."+sig.Domain) {
			return nil, fmt.Errorf("dkim: i= domain is not a subdomain of d=")
		}
	}

	return sig, nil
}

// HeaderCanonical and BodyCanonical split c= into its halves, defaulting
// to simple/simple.
func (sig *Signature) HeaderCanonical() string {
	c, _, _ := strings.Cut(sig.Canonical, "/")
	if c == "" {
		return "simple"
	}
	return c
}

func (sig *Signature) BodyCanonical() string {
	_, c, ok := strings.Cut(sig.Canonical, "/")
	if !ok || c == "" {
		return "simple"
	}
	return c
}
