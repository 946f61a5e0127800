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

// Package headers checks internal consistency of the message headers:
// sender domains, date plausibility and Message-ID shape.
package headers

import (
	"net/mail"
	"regexp"
	"time"

	"github.com/ynggny/emlprobe/framework/dns"
	"github.com/ynggny/emlprobe/internal/message"
)

// Result is the header consistency outcome.
type Result struct {
	FromDomain       string `json:"fromDomain,omitempty"`
	ReturnPathDomain string `json:"returnPathDomain,omitempty"`
	ReplyToDomain    string `json:"replyToDomain,omitempty"`

	ReturnPathMismatch bool `json:"returnPathMismatch"`
	ReplyToMismatch    bool `json:"replyToMismatch"`
	DateInvalid        bool `json:"dateInvalid"`
	MessageIDInvalid   bool `json:"messageIDInvalid"`

	Issues []string `json:"issues,omitempty"`
}

var messageIDRe = regexp.MustCompile(`^<.+@.+>$`)

// Checker validates header consistency. Now is overridden in tests.
type Checker struct {
	Now func() time.Time
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Check runs all consistency checks against the request headers.
func (c *Checker) Check(req *message.AnalysisRequest) Result {
	res := Result{FromDomain: req.FromDomain()}

	res.ReturnPathDomain = message.AddrDomain(req.Header("Return-Path"))
	if res.FromDomain != "" && res.ReturnPathDomain != "" &&
		!dns.Equal(res.ReturnPathDomain, res.FromDomain) {
		res.ReturnPathMismatch = true
		res.Issues = append(res.Issues, "Return-Path domain ("+res.ReturnPathDomain+") differs from From domain ("+res.FromDomain+")")
	}

	res.ReplyToDomain = message.AddrDomain(req.Header("Reply-To"))
	if res.FromDomain != "" && res.ReplyToDomain != "" &&
		!dns.Equal(res.ReplyToDomain, res.FromDomain) {
		res.ReplyToMismatch = true
		res.Issues = append(res.Issues, "Reply-To domain ("+res.ReplyToDomain+") differs from From domain ("+res.FromDomain+")")
	}

	if date := req.Header("Date"); date != "" {
		t, err := mail.ParseDate(date)
		now := c.now()
		if err != nil {
			res.DateInvalid = true
			res.Issues = append(res.Issues, "unparsable Date header")
		} else if t.After(now.Add(5*time.Minute)) || t.Before(now.AddDate(-1, 0, 0)) {
			res.DateInvalid = true
			res.Issues = append(res.Issues, "Date header outside the plausible range")
		}
	}

	if id := req.Header("Message-ID"); id != "" && !messageIDRe.MatchString(id) {
		res.MessageIDInvalid = true
		res.Issues = append(res.Issues, "malformed Message-ID")
	}
	return res
}
