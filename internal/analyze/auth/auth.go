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

// Package auth summarizes the SPF, DKIM and DMARC outcomes recorded by
// the receiving MTA in Authentication-Results headers (RFC 8601).
package auth

import (
	"strings"

	"github.com/emersion/go-msgauth/authres"

	"github.com/ynggny/emlprobe/internal/message"
)

// Result is the per-mechanism authentication summary. Each value is one
// of the RFC 8601 result keywords, "none" when the mechanism was not
// evaluated by any hop.
type Result struct {
	SPF   string `json:"spf"`
	DKIM  string `json:"dkim"`
	DMARC string `json:"dmarc"`

	// SPFDomain and DKIMDomain carry the domains the receiving MTA
	// attributed the results to, when recorded.
	SPFDomain  string `json:"spfDomain,omitempty"`
	DKIMDomain string `json:"dkimDomain,omitempty"`

	Issues []string `json:"issues,omitempty"`
}

// Evaluate builds the authentication summary for the message.
//
// Precomputed results in req.AuthResults take precedence; otherwise all
// Authentication-Results headers are parsed top to bottom and the first
// conclusive (non-none) value per mechanism wins. ARC-Authentication-
// Results headers are not consulted, they describe prior hops.
func Evaluate(req *message.AnalysisRequest) Result {
	res := Result{SPF: "none", DKIM: "none", DMARC: "none"}

	for _, hdr := range req.HeadersByName("Authentication-Results") {
		_, results, err := authres.Parse(hdr)
		if err != nil {
			res.Issues = append(res.Issues, "malformed Authentication-Results: "+err.Error())
			continue
		}
		for _, r := range results {
			switch r := r.(type) {
			case *authres.SPFResult:
				if res.SPF == "none" {
					res.SPF = string(r.Value)
					res.SPFDomain = mailFromDomain(r.From)
				}
			case *authres.DKIMResult:
				if res.DKIM == "none" {
					res.DKIM = string(r.Value)
					res.DKIMDomain = r.Domain
				}
			case *authres.DMARCResult:
				if res.DMARC == "none" {
					res.DMARC = string(r.Value)
				}
			}
		}
	}

	// Callers that already evaluated SPF/DKIM/DMARC upstream pass the
	// outcome directly, overriding whatever the headers say.
	for mech, value := range req.AuthResults {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		switch strings.ToLower(mech) {
		case "spf":
			res.SPF = value
		case "dkim":
			res.DKIM = value
		case "dmarc":
			res.DMARC = value
		}
	}

	if res.SPF == "none" && res.DKIM == "none" && res.DMARC == "none" {
		res.Issues = append(res.Issues, "no authentication results recorded")
	}
	return res
}

// mailFromDomain handles the smtp.mailfrom property, which is recorded
// either as a full address or as a bare domain.
func mailFromDomain(from string) string {
	if from == "" {
		return ""
	}
	if d := message.AddrDomain(from); d != "" {
		return d
	}
	if strings.ContainsRune(from, '@') {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(from))
}
