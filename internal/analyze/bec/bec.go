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

// Package bec mines message text for Business Email Compromise patterns.
// The catalog carries Japanese and English social-engineering phrases.
package bec

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ynggny/emlprobe/internal/message"
)

// Indicator is one matched pattern.
type Indicator struct {
	Name string `json:"name"`

	// Category is one of urgency, financial, authority, secrecy,
	// credential, action, composite.
	Category string `json:"category"`

	// Severity is one of low, medium, high.
	Severity string `json:"severity"`
}

// Result carries the matched indicators sorted by severity, high first.
type Result struct {
	Indicators []Indicator `json:"indicators,omitempty"`
}

type pattern struct {
	name     string
	category string
	severity string
	re       *regexp.Regexp
}

// Compiled at init; a broken pattern is a programming error and must
// fail startup, not a request.
var catalog = []pattern{
	// Japanese.
	{"送金要求", "financial", "high",
		regexp.MustCompile(`振込|送金|振り込み|入金先|支払.?先|口座.?変更`)},
	{"口止め", "secrecy", "high",
		regexp.MustCompile(`誰にも言わないで|口外し?ないで|内密に|秘密にして|他言無用`)},
	{"認証情報の要求", "credential", "high",
		regexp.MustCompile(`パスワード|認証コード|ログイン情報|暗証番号`)},
	{"緊急性の強調", "urgency", "medium",
		regexp.MustCompile(`至急|緊急|今すぐ|本日中|早急に|直ちに`)},
	{"経営者の指示", "authority", "medium",
		regexp.MustCompile(`社長|代表取締役|役員から|経営陣`)},
	{"行動の要求", "action", "low",
		regexp.MustCompile(`クリックして|こちらのリンク|添付.?を開|ご確認ください`)},

	// English.
	{"wire transfer request", "financial", "high",
		regexp.MustCompile(`(?i)wire transfer|bank transfer|remittance|change of bank|payment (details|instructions)`)},
	{"gift card request", "financial", "high",
		regexp.MustCompile(`(?i)gift ?cards?|itunes cards?`)},
	{"confidentiality demand", "secrecy", "high",
		regexp.MustCompile(`(?i)keep (this|it) (confidential|between us)|do not (tell|share|discuss)|strictly confidential`)},
	{"credential request", "credential", "high",
		regexp.MustCompile(`(?i)(confirm|verify|update) your (password|account|credentials)|login credentials|one-time code`)},
	{"urgency pressure", "urgency", "medium",
		regexp.MustCompile(`(?i)\burgent\b|immediately|as soon as possible|\basap\b|before end of (day|business)`)},
	{"executive impersonation", "authority", "medium",
		regexp.MustCompile(`(?i)\b(ceo|cfo|president|managing director)\b`)},
	{"call to action", "action", "low",
		regexp.MustCompile(`(?i)click (here|the link|below)|open the attach(ed|ment)`)},
}

var htmlTagRe = regexp.MustCompile(`(?s)<[^>]*>`)

// Analyze scans subject, plain text and HTML-stripped text against the
// catalog.
func Analyze(req *message.AnalysisRequest) Result {
	var b strings.Builder
	b.WriteString(req.Subject)
	b.WriteByte('\n')
	b.WriteString(req.Text)
	b.WriteByte('\n')
	b.WriteString(htmlTagRe.ReplaceAllString(req.HTML, " "))
	text := b.String()

	var res Result
	seen := make(map[string]bool)
	highs, categories := 0, make(map[string]bool)
	for _, p := range catalog {
		if seen[p.name] || !p.re.MatchString(text) {
			continue
		}
		seen[p.name] = true
		res.Indicators = append(res.Indicators, Indicator{
			Name:     p.name,
			Category: p.category,
			Severity: p.severity,
		})
		if p.severity == "high" {
			highs++
		}
		categories[p.category] = true
	}

	if highs >= 2 {
		res.Indicators = append(res.Indicators, Indicator{
			Name: "complex high-risk", Category: "composite", Severity: "high",
		})
	}
	if categories["financial"] && categories["secrecy"] {
		res.Indicators = append(res.Indicators, Indicator{
			Name: "financial+secrecy combo", Category: "composite", Severity: "high",
		})
	}

	sort.SliceStable(res.Indicators, func(i, j int) bool {
		return severityRank(res.Indicators[i].Severity) > severityRank(res.Indicators[j].Severity)
	})
	return res
}

// Count returns the number of indicators with the given severity.
func (res Result) Count(severity string) int {
	n := 0
	for _, ind := range res.Indicators {
		if ind.Severity == severity {
			n++
		}
	}
	return n
}

func severityRank(severity string) int {
	switch severity {
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}
