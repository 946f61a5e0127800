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

// Package scoring merges the per-factor results into the aggregate
// security score, grade and verdict.
package scoring

import (
	"github.com/ynggny/emlprobe/internal/analyze/attachments"
	"github.com/ynggny/emlprobe/internal/analyze/auth"
	"github.com/ynggny/emlprobe/internal/analyze/bec"
	"github.com/ynggny/emlprobe/internal/analyze/dkim"
	"github.com/ynggny/emlprobe/internal/analyze/domain"
	"github.com/ynggny/emlprobe/internal/analyze/headers"
	"github.com/ynggny/emlprobe/internal/analyze/links"
	"github.com/ynggny/emlprobe/internal/analyze/tlspath"
)

// FactorScore is the contribution of one factor to the total.
type FactorScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Max   int    `json:"max"`
}

// Score is the aggregate outcome. Score is always within [0, 100].
type Score struct {
	Score   int    `json:"score"`
	Grade   string `json:"grade"`
	Verdict string `json:"verdict"`

	Factors []FactorScore `json:"factors"`
}

// Input bundles the factor results the scorer consumes. DKIM may be nil
// for quick analyses; the factor then scores as not-passing.
type Input struct {
	Auth        auth.Result
	DKIM        *dkim.Result
	Domain      domain.Result
	Links       links.Result
	Attachments attachments.Result
	BEC         bec.Result
	TLS         tlspath.Result
	Headers     headers.Result
}

// Compute derives the total score from the factor results. It is a pure
// function: same input, same output.
func Compute(in Input) Score {
	var s Score
	add := func(name string, score, max int) {
		if score < 0 {
			score = 0
		}
		if score > max {
			score = max
		}
		s.Factors = append(s.Factors, FactorScore{Name: name, Score: score, Max: max})
		s.Score += score
	}

	// Authentication: 25, -8 for each mechanism not passing.
	authScore := 25
	for _, status := range []string{in.Auth.SPF, in.Auth.DKIM, in.Auth.DMARC} {
		if status != "pass" {
			authScore -= 8
		}
	}
	add("authentication", authScore, 25)

	// DKIM: 15, nothing unless the signature verifies.
	dkimScore := 0
	if in.DKIM != nil && in.DKIM.Status == "pass" {
		dkimScore = 15
		if in.DKIM.Algorithm == "rsa-sha1" {
			dkimScore -= 5
		}
		if in.DKIM.KeySize > 0 && in.DKIM.KeySize < 2048 {
			dkimScore -= 3
		}
	}
	add("dkim", dkimScore, 15)

	// Domain: 15.
	domainScore := 15
	switch in.Domain.Risk {
	case "high":
		domainScore -= 20
	case "medium":
		domainScore -= 15
	case "low":
		domainScore -= 10
	}
	if in.Domain.IsIDN && hasMixedScript(in.Domain) {
		domainScore -= 5
	}
	add("domain", domainScore, 15)

	// Links: 15.
	dangerous, suspicious := 0, 0
	for _, link := range in.Links.Links {
		switch link.Risk {
		case "dangerous":
			dangerous++
		case "suspicious":
			suspicious++
		}
	}
	linkPenalty := capInt(dangerous*8, 15) + capInt(suspicious*3, 10)
	add("links", 15-linkPenalty, 15)

	// Attachments: 10.
	attachPenalty := 0
	for _, item := range in.Attachments.Items {
		switch item.Risk {
		case "dangerous":
			attachPenalty += 10
		case "warning":
			attachPenalty += 5
		}
	}
	add("attachments", 10-attachPenalty, 10)

	// BEC: 10.
	becPenalty := capInt(in.BEC.Count("high")*5, 10) + capInt(in.BEC.Count("medium")*2, 5)
	add("bec", 10-becPenalty, 10)

	// TLS: 5.
	tlsScore := 5
	switch in.TLS.Risk {
	case "danger":
		tlsScore = 0
	case "warning":
		tlsScore -= 3
	}
	add("tls", tlsScore, 5)

	// Header consistency: 5.
	headerScore := 5
	if in.Headers.ReturnPathMismatch {
		headerScore -= 2
	}
	if in.Headers.ReplyToMismatch {
		headerScore -= 2
	}
	if in.Headers.DateInvalid {
		headerScore -= 1
	}
	add("headers", headerScore, 5)

	if s.Score < 0 {
		s.Score = 0
	}
	if s.Score > 100 {
		s.Score = 100
	}

	s.Grade = grade(s.Score)
	s.Verdict = verdict(s.Score, in, dangerous)
	return s
}

func grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

func verdict(score int, in Input, dangerousLinks int) string {
	dangerousAttachment := false
	for _, item := range in.Attachments.Items {
		if item.Risk == "dangerous" {
			dangerousAttachment = true
		}
	}

	switch {
	case dangerousLinks > 0, dangerousAttachment:
		return "danger"
	case score < 60 && in.BEC.Count("high") > 0:
		return "danger"
	case score >= 90:
		return "safe"
	case score >= 75:
		return "caution"
	case score >= 50:
		return "warning"
	default:
		return "danger"
	}
}

func hasMixedScript(d domain.Result) bool {
	for _, tech := range d.Techniques {
		if len(tech) >= 12 && tech[:12] == "mixed-script" {
			return true
		}
	}
	return false
}

func capInt(v, max int) int {
	if v > max {
		return max
	}
	return v
}
