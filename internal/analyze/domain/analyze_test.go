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

package domain

import (
	"strings"
	"testing"
)

func hasTechnique(res Result, tech string) bool {
	for _, t := range res.Techniques {
		if t == tech {
			return true
		}
	}
	return false
}

func TestAnalyze_CyrillicHomograph(t *testing.T) {
	res := Analyze("аpple.com") // Cyrillic а

	if res.Risk != "high" {
		t.Fatalf("expected high, got %s (%+v)", res.Risk, res)
	}
	if res.MatchedDomain != "apple.com" {
		t.Errorf("wrong matched domain: %s", res.MatchedDomain)
	}
	if !hasTechnique(res, "homograph exact match") {
		t.Errorf("missing homograph technique: %v", res.Techniques)
	}
	if !hasTechnique(res, "mixed-script: Cyrillic, Latin") {
		t.Errorf("missing mixed-script technique: %v", res.Techniques)
	}
	if !res.IsIDN {
		t.Error("expected isIDN")
	}
	if !strings.HasPrefix(res.Punycode, "xn--") {
		t.Errorf("wrong punycode: %s", res.Punycode)
	}
	if len(res.Replacements) != 1 || res.Replacements[0].Script != "Cyrillic" {
		t.Errorf("wrong replacements: %+v", res.Replacements)
	}
}

func TestAnalyze_LegitimateBrand(t *testing.T) {
	res := Analyze("apple.com")
	if res.Risk != "none" {
		t.Errorf("expected none for the brand itself, got %s", res.Risk)
	}
	if res.IsIDN {
		t.Error("apple.com is not an IDN")
	}
}

func TestAnalyze_Typosquatting(t *testing.T) {
	res := Analyze("gooogle.com")
	if res.Risk != "medium" {
		t.Fatalf("expected medium, got %s (sim %d)", res.Risk, res.Similarity)
	}
	if res.MatchedDomain != "google.com" {
		t.Errorf("wrong matched domain: %s", res.MatchedDomain)
	}
	if !hasTechnique(res, "typosquatting") {
		t.Errorf("missing typosquatting technique: %v", res.Techniques)
	}
}

func TestAnalyze_MultiCharCombination(t *testing.T) {
	res := Analyze("rnicrosoft.com")
	if res.Risk != "high" {
		t.Fatalf("expected high, got %s (%+v)", res.Risk, res)
	}
	if res.MatchedDomain != "microsoft.com" {
		t.Errorf("wrong matched domain: %s", res.MatchedDomain)
	}
	if !hasTechnique(res, "character combination") {
		t.Errorf("missing combination technique: %v", res.Techniques)
	}
}

func TestAnalyze_MultiCharLeavesLegitAlone(t *testing.T) {
	// icloud.com contains "cl" but must not be folded away from itself.
	res := Analyze("icloud.com")
	if res.Risk != "none" {
		t.Errorf("expected none for icloud.com, got %s (%+v)", res.Risk, res)
	}
}

func TestAnalyze_Unrelated(t *testing.T) {
	res := Analyze("fqzw.example")
	if res.Risk != "none" {
		t.Errorf("expected none, got %s (matched %s)", res.Risk, res.MatchedDomain)
	}
}

func TestAnalyze_Fullwidth(t *testing.T) {
	res := Analyze("ａpple.com") // fullwidth a
	if res.Risk != "high" || res.MatchedDomain != "apple.com" {
		t.Errorf("expected high apple.com match, got %+v", res)
	}
}

// Replacing any single ASCII letter of a brand with a mapped lookalike
// must come back as a high-risk match against that brand.
func TestAnalyze_ConfusableSymmetry(t *testing.T) {
	reverse := map[string][]rune{}
	for r, v := range confusables {
		if len(v.ASCII) == 1 {
			reverse[v.ASCII] = append(reverse[v.ASCII], r)
		}
	}

	for _, brand := range Brands {
		runes := []rune(brand)
		for i, r := range runes {
			variants := reverse[string(r)]
			if len(variants) == 0 {
				continue
			}
			mutated := string(runes[:i]) + string(variants[0]) + string(runes[i+1:])

			res := Analyze(mutated)
			if res.Risk != "high" {
				t.Errorf("Analyze(%q): expected high, got %s", mutated, res.Risk)
			}
			if res.MatchedDomain != brand {
				t.Errorf("Analyze(%q): expected match %q, got %q", mutated, brand, res.MatchedDomain)
			}
		}
	}
}

func TestEditDistance(t *testing.T) {
	for _, tc := range []struct {
		a, b string
		dist int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "acb", 1}, // transposition
		{"google", "gooogle", 1},
		{"paypal", "paypa1", 1},
	} {
		if d := editDistance(tc.a, tc.b); d != tc.dist {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tc.a, tc.b, d, tc.dist)
		}
	}
}
