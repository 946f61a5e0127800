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

// Package message defines the input model shared by all analyzers.
package message

import (
	"net/mail"
	"strings"

	"github.com/ynggny/emlprobe/framework/address"
)

// EmailHeader is a single header field with the original name casing
// preserved and folding resolved into one logical line.
type EmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attachment carries attachment metadata. Contents are never analyzed,
// only the name, declared MIME type and size.
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// AnalysisRequest is the analyzer input. It is immutable for the duration
// of the analysis, all factors share it by reference.
type AnalysisRequest struct {
	// Headers in message order, topmost first.
	Headers []EmailHeader `json:"headers"`

	// RawHeaders optionally carries the unparsed header block. DKIM and
	// ARC verification prefer it since signing covers the original octets.
	RawHeaders string `json:"rawHeaders,omitempty"`

	// Body is the raw message body, after the blank line separating it
	// from the header block.
	Body []byte `json:"body,omitempty"`

	Subject string `json:"subject,omitempty"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	// AuthResults optionally carries precomputed SPF/DKIM/DMARC results
	// keyed by mechanism name. When empty, they are recovered from the
	// Authentication-Results header.
	AuthResults map[string]string `json:"authResults,omitempty"`
}

// Header returns the value of the first header with the given name,
// compared case-insensitively. Empty string if there is no such header.
func (req *AnalysisRequest) Header(name string) string {
	for _, hdr := range req.Headers {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// LastHeader returns the value of the last header with the given name.
func (req *AnalysisRequest) LastHeader(name string) string {
	for i := len(req.Headers) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Headers[i].Name, name) {
			return req.Headers[i].Value
		}
	}
	return ""
}

// HeadersByName returns all values of headers with the given name, in
// message order.
func (req *AnalysisRequest) HeadersByName(name string) []string {
	var res []string
	for _, hdr := range req.Headers {
		if strings.EqualFold(hdr.Name, name) {
			res = append(res, hdr.Value)
		}
	}
	return res
}

// RawFields returns the raw header fields of the request, preferring the
// original header block when the caller provided one. Synthesized fields
// lose the original folding, which only matters for simple
// canonicalization.
func (req *AnalysisRequest) RawFields() []string {
	if req.RawHeaders != "" {
		return RawHeaderFields(req.RawHeaders)
	}
	return SynthesizeFields(req.Headers)
}

// FromDomain extracts the domain of the From header address. Empty string
// if the header is missing or unparsable.
func (req *AnalysisRequest) FromDomain() string {
	return AddrDomain(req.Header("From"))
}

// AddrDomain extracts the domain part from a header value that contains an
// address, possibly with a display name ("Name <user@domain>").
func AddrDomain(value string) string {
	if value == "" {
		return ""
	}
	addr, err := mail.ParseAddress(value)
	if err != nil {
		// Fall back to the naive split for header values net/mail
		// refuses to parse (unquoted display names and such).
		value = strings.Trim(value, " \t<>")
		if start := strings.LastIndexByte(value, '<'); start != -1 {
			value = strings.TrimSuffix(value[start+1:], ">")
		}
		return address.Domain(strings.TrimSpace(value))
	}
	return address.Domain(addr.Address)
}
