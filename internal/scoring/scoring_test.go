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

package scoring

import (
	"testing"

	"github.com/ynggny/emlprobe/internal/analyze/attachments"
	"github.com/ynggny/emlprobe/internal/analyze/auth"
	"github.com/ynggny/emlprobe/internal/analyze/bec"
	"github.com/ynggny/emlprobe/internal/analyze/dkim"
	"github.com/ynggny/emlprobe/internal/analyze/domain"
	"github.com/ynggny/emlprobe/internal/analyze/headers"
	"github.com/ynggny/emlprobe/internal/analyze/links"
	"github.com/ynggny/emlprobe/internal/analyze/tlspath"
)

func cleanInput() Input {
	return Input{
		Auth: auth.Result{SPF: "pass", DKIM: "pass", DMARC: "pass"},
		DKIM: &dkim.Result{Status: "pass", Algorithm: "rsa-sha256", KeySize: 2048},
		TLS:  tlspath.Result{Risk: "safe"},
	}
}

func TestCompute_Clean(t *testing.T) {
	s := Compute(cleanInput())
	if s.Score != 100 {
		t.Errorf("expected 100, got %d (%+v)", s.Score, s.Factors)
	}
	if s.Grade != "A" || s.Verdict != "safe" {
		t.Errorf("wrong grade/verdict: %s/%s", s.Grade, s.Verdict)
	}
}

func TestCompute_AuthFailures(t *testing.T) {
	in := cleanInput()
	in.Auth = auth.Result{SPF: "fail", DKIM: "none", DMARC: "pass"}
	s := Compute(in)
	if s.Score != 84 {
		t.Errorf("expected 84 (two -8), got %d", s.Score)
	}
}

func TestCompute_WeakDKIM(t *testing.T) {
	in := cleanInput()
	in.DKIM = &dkim.Result{Status: "pass", Algorithm: "rsa-sha1", KeySize: 1024}
	s := Compute(in)
	// 15 - 5 (sha1) - 3 (short key) = 7 for the DKIM factor.
	if s.Score != 92 {
		t.Errorf("expected 92, got %d (%+v)", s.Score, s.Factors)
	}
}

func TestCompute_QuickModeDKIMNil(t *testing.T) {
	in := cleanInput()
	in.DKIM = nil
	s := Compute(in)
	if s.Score != 85 {
		t.Errorf("expected 85, got %d", s.Score)
	}
}

func TestCompute_DomainHighClampsToZero(t *testing.T) {
	in := cleanInput()
	in.Domain = domain.Result{Risk: "high"}
	s := Compute(in)
	// 15 - 20 clamps to 0, not negative.
	if s.Score != 85 {
		t.Errorf("expected 85, got %d (%+v)", s.Score, s.Factors)
	}
}

func TestCompute_DangerousLinkOverridesVerdict(t *testing.T) {
	in := cleanInput()
	in.Links = links.Result{Risk: "dangerous", Links: []links.Link{{Risk: "dangerous"}}}
	s := Compute(in)
	if s.Verdict != "danger" {
		t.Errorf("expected danger verdict, got %s (score %d)", s.Verdict, s.Score)
	}
}

func TestCompute_DangerousAttachmentOverridesVerdict(t *testing.T) {
	in := cleanInput()
	in.Attachments = attachments.Result{Risk: "dangerous", Items: []attachments.Item{{Risk: "dangerous"}}}
	s := Compute(in)
	if s.Verdict != "danger" {
		t.Errorf("expected danger verdict, got %s", s.Verdict)
	}
}

func TestCompute_BECDangerCombo(t *testing.T) {
	in := Input{
		Auth: auth.Result{SPF: "none", DKIM: "none", DMARC: "none"},
		TLS:  tlspath.Result{Risk: "safe"},
		BEC: bec.Result{Indicators: []bec.Indicator{
			{Name: "a", Severity: "high"}, {Name: "b", Severity: "high"},
			{Name: "c", Severity: "medium"},
		}},
	}
	s := Compute(in)
	// Score drops below 60 with failed auth, no DKIM and BEC hits.
	if s.Score >= 60 {
		t.Fatalf("expected score < 60, got %d (%+v)", s.Score, s.Factors)
	}
	if s.Verdict != "danger" {
		t.Errorf("expected danger, got %s", s.Verdict)
	}
}

// Score stays within [0, 100] for arbitrarily bad inputs.
func TestCompute_Bounds(t *testing.T) {
	worst := Input{
		Auth:   auth.Result{SPF: "fail", DKIM: "fail", DMARC: "fail"},
		Domain: domain.Result{Risk: "high", IsIDN: true, Techniques: []string{"mixed-script: Cyrillic, Latin"}},
		Links: links.Result{Links: []links.Link{
			{Risk: "dangerous"}, {Risk: "dangerous"}, {Risk: "dangerous"},
			{Risk: "suspicious"}, {Risk: "suspicious"}, {Risk: "suspicious"}, {Risk: "suspicious"},
		}},
		Attachments: attachments.Result{Items: []attachments.Item{
			{Risk: "dangerous"}, {Risk: "dangerous"}, {Risk: "warning"},
		}},
		BEC: bec.Result{Indicators: []bec.Indicator{
			{Severity: "high"}, {Severity: "high"}, {Severity: "high"},
			{Severity: "medium"}, {Severity: "medium"}, {Severity: "medium"},
		}},
		TLS:     tlspath.Result{Risk: "danger"},
		Headers: cleanHeadersAllBad(),
	}

	s := Compute(worst)
	if s.Score < 0 || s.Score > 100 {
		t.Errorf("score out of bounds: %d", s.Score)
	}
	// Only the 1 point left of the authentication factor survives.
	if s.Score != 1 {
		t.Errorf("expected 1 for the worst input, got %d (%+v)", s.Score, s.Factors)
	}
	if s.Grade != "F" || s.Verdict != "danger" {
		t.Errorf("wrong grade/verdict: %s/%s", s.Grade, s.Verdict)
	}

	best := cleanInput()
	if s := Compute(best); s.Score < 0 || s.Score > 100 {
		t.Errorf("score out of bounds: %d", s.Score)
	}
}

func cleanHeadersAllBad() headers.Result {
	return headers.Result{
		ReturnPathMismatch: true,
		ReplyToMismatch:    true,
		DateInvalid:        true,
	}
}
