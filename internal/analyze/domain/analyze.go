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

// Package domain detects homograph and typosquatting attacks against
// well-known domains using a confusable-character map and edit-distance
// matching.
package domain

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ynggny/emlprobe/framework/dns"
)

// Replacement records one confusable codepoint that was folded to ASCII
// during normalization.
type Replacement struct {
	Original   string `json:"original"`
	Position   int    `json:"position"`
	Normalized string `json:"normalized"`
	Script     string `json:"script"`
}

// Result is the outcome of analyzing one domain.
type Result struct {
	Domain     string `json:"domain"`
	Normalized string `json:"normalized"`

	// Risk is one of none, low, medium, high.
	Risk string `json:"risk"`

	MatchedDomain string `json:"matchedDomain,omitempty"`
	Similarity    int    `json:"similarity,omitempty"`

	Techniques   []string      `json:"techniques,omitempty"`
	Replacements []Replacement `json:"replacements,omitempty"`

	IsIDN    bool   `json:"isIDN"`
	Punycode string `json:"punycode,omitempty"`
}

// Analyze normalizes the domain against the confusable map and classifies
// it against the brand list.
func Analyze(input string) Result {
	domain := strings.TrimSpace(norm.NFC.String(input))
	domain = asciiLower(domain)

	res := Result{Domain: domain}

	normalized, replacements := foldConfusables(domain)

	// Multi-char folding is aggressive (cl is part of many legitimate
	// words), so it only sticks when the folded form lands exactly on a
	// brand domain.
	var combos []Replacement
	if candidate, cr := applyMultiChar(normalized); candidate != normalized && brandSet[candidate] {
		normalized, combos = candidate, cr
	}

	res.Normalized = normalized
	res.Replacements = append(replacements, combos...)

	res.IsIDN = isIDN(domain)
	if res.IsIDN {
		if puny, err := dns.SelectIDNA(false, domain); err == nil {
			res.Punycode = puny
		}
	}

	res.classify(len(replacements) > 0, len(combos) > 0)
	return res
}

func (res *Result) classify(confusable, combined bool) {
	scripts := replacementScripts(res.Replacements)
	if len(scripts) > 0 {
		res.Techniques = append(res.Techniques, "confusable characters")
	}
	if combined {
		res.Techniques = append(res.Techniques, "character combination")
	}

	// The original domain mixing Latin with a lookalike script is the
	// classic homograph setup.
	if hasASCIILetter(res.Domain) && len(scripts) > 0 {
		scripts = append(scripts, "Latin")
	}
	sort.Strings(scripts)
	scripts = dedupe(scripts)
	if len(scripts) > 1 {
		res.Techniques = append(res.Techniques, "mixed-script: "+strings.Join(scripts, ", "))
	}

	altered := confusable || combined

	if brandSet[res.Normalized] {
		if !altered {
			// The brand itself.
			res.Risk = "none"
			res.MatchedDomain = res.Normalized
			res.Similarity = 100
			return
		}
		res.Risk = "high"
		res.MatchedDomain = res.Normalized
		res.Similarity = 100
		res.Techniques = append([]string{"homograph exact match"}, res.Techniques...)
		return
	}

	best, bestSim := "", 0
	for _, brand := range Brands {
		if sim := similarity(res.Normalized, brand); sim > bestSim {
			best, bestSim = brand, sim
		}
	}
	if bestSim < 70 {
		res.Risk = "none"
		return
	}
	res.MatchedDomain = best
	res.Similarity = bestSim

	switch {
	case altered && bestSim >= 90:
		res.Risk = "high"
	case altered && bestSim >= 80:
		res.Risk = "medium"
	case altered:
		res.Risk = "low"
	case bestSim >= 95:
		res.Risk = "high"
		res.Techniques = append(res.Techniques, "typosquatting")
	case bestSim >= 85:
		res.Risk = "medium"
		res.Techniques = append(res.Techniques, "typosquatting")
	default:
		res.Risk = "none"
		res.MatchedDomain = ""
		res.Similarity = 0
	}
}

// foldConfusables replaces every confusable codepoint with the ASCII text
// it imitates, recording each replacement.
func foldConfusables(domain string) (string, []Replacement) {
	var (
		b            strings.Builder
		replacements []Replacement
	)
	for pos, r := range []rune(domain) {
		v, ok := confusables[r]
		if !ok {
			v, ok = confusables[unicode.ToLower(r)]
		}
		if !ok {
			b.WriteRune(r)
			continue
		}
		ascii := strings.ToLower(v.ASCII)
		b.WriteString(ascii)
		replacements = append(replacements, Replacement{
			Original:   string(r),
			Position:   pos,
			Normalized: ascii,
			Script:     v.Script,
		})
	}
	return b.String(), replacements
}

// applyMultiChar folds ASCII sequences that imitate other sequences
// (rn looks like m) in a single left-to-right pass.
func applyMultiChar(domain string) (string, []Replacement) {
	var replacements []Replacement
	for _, sub := range multiChar {
		for {
			indx := strings.Index(domain, sub.seq)
			if indx == -1 {
				break
			}
			replacements = append(replacements, Replacement{
				Original:   sub.seq,
				Position:   indx,
				Normalized: sub.ascii,
				Script:     "Latin",
			})
			domain = domain[:indx] + sub.ascii + domain[indx+len(sub.seq):]
		}
	}
	return domain, replacements
}

func replacementScripts(replacements []Replacement) []string {
	var scripts []string
	for _, r := range replacements {
		if r.Script == "Latin" {
			continue
		}
		scripts = append(scripts, r.Script)
	}
	return scripts
}

func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

func hasASCIILetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

func isIDN(domain string) bool {
	for _, r := range domain {
		if r > 127 {
			return true
		}
	}
	for _, label := range strings.Split(domain, ".") {
		if strings.HasPrefix(label, "xn--") {
			return true
		}
	}
	return false
}

func dedupe(sorted []string) []string {
	var res []string
	for _, s := range sorted {
		if len(res) == 0 || res[len(res)-1] != s {
			res = append(res, s)
		}
	}
	return res
}
