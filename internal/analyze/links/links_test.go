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

package links

import (
	"strings"
	"testing"

	"github.com/ynggny/emlprobe/internal/message"
)

func hasIssue(link Link, substr string) bool {
	for _, issue := range link.Issues {
		if strings.Contains(issue, substr) {
			return true
		}
	}
	return false
}

func TestAnalyze_DisplayMismatch(t *testing.T) {
	req := &message.AnalysisRequest{
		HTML: `<p>Dear customer, <a href="http://evil.tk/x">amazon.co.jp</a></p>`,
	}

	res := Analyze(req)
	if len(res.Links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(res.Links))
	}
	link := res.Links[0]
	if link.Risk != "dangerous" {
		t.Errorf("expected dangerous, got %s (%v)", link.Risk, link.Issues)
	}
	if !hasIssue(link, "display URL (amazon.co.jp) and actual URL (evil.tk) differ") {
		t.Errorf("missing mismatch issue: %v", link.Issues)
	}
	if res.Risk != "dangerous" {
		t.Errorf("expected overall dangerous, got %s", res.Risk)
	}
}

func TestAnalyze_PlainTextLinks(t *testing.T) {
	req := &message.AnalysisRequest{
		Text: "See https://example.org/docs and http://bit.ly/abc for details.",
	}

	res := Analyze(req)
	if len(res.Links) != 2 {
		t.Fatalf("expected 2 links, got %d: %+v", len(res.Links), res.Links)
	}
	// Sorted worst-first: the shortener outranks the https link.
	if res.Links[0].Host != "bit.ly" || res.Links[0].Risk != "suspicious" {
		t.Errorf("wrong first link: %+v", res.Links[0])
	}
	if res.Links[1].Risk != "safe" {
		t.Errorf("expected safe https link: %+v", res.Links[1])
	}
}

func TestAnalyze_DangerousSchemes(t *testing.T) {
	req := &message.AnalysisRequest{
		HTML: `<a href="javascript:alert(1)">click</a>`,
	}
	res := Analyze(req)
	if len(res.Links) != 1 || res.Links[0].Risk != "dangerous" {
		t.Errorf("expected dangerous javascript link: %+v", res.Links)
	}
}

func TestAnalyze_PrivateIP(t *testing.T) {
	req := &message.AnalysisRequest{Text: "http://192.168.1.10/admin"}
	res := Analyze(req)
	if len(res.Links) != 1 {
		t.Fatal("expected 1 link")
	}
	if res.Links[0].Risk != "dangerous" || !hasIssue(res.Links[0], "private IP") {
		t.Errorf("expected private IP danger: %+v", res.Links[0])
	}
}

func TestAnalyze_PublicIPAndPort(t *testing.T) {
	req := &message.AnalysisRequest{Text: "https://203.0.113.9:8443/x https://example.org:4444/y"}
	res := Analyze(req)
	if len(res.Links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(res.Links))
	}
	for _, link := range res.Links {
		if link.Risk != "suspicious" {
			t.Errorf("expected suspicious: %+v", link)
		}
	}
}

func TestAnalyze_ConfusableHost(t *testing.T) {
	req := &message.AnalysisRequest{HTML: `<a href="https://аpple.com/login">Apple</a>`}
	res := Analyze(req)
	if len(res.Links) != 1 {
		t.Fatal("expected 1 link")
	}
	if res.Links[0].Risk != "dangerous" || !hasIssue(res.Links[0], "resembles apple.com") {
		t.Errorf("expected confusable danger: %+v", res.Links[0])
	}
}

func TestAnalyze_CredentialBait(t *testing.T) {
	req := &message.AnalysisRequest{Text: "https://random-host.example/verify?acct=1"}
	res := Analyze(req)
	if len(res.Links) != 1 || res.Links[0].Risk != "suspicious" {
		t.Fatalf("expected suspicious link: %+v", res.Links)
	}
	if !hasIssue(res.Links[0], "credential-related path") {
		t.Errorf("missing bait issue: %v", res.Links[0].Issues)
	}

	// The same path on the brand's own host is fine.
	res = Analyze(&message.AnalysisRequest{Text: "https://www.paypal.com/verify"})
	if res.Links[0].Risk != "safe" {
		t.Errorf("expected safe on brand host: %+v", res.Links[0])
	}
}

func TestAnalyze_Dedupe(t *testing.T) {
	req := &message.AnalysisRequest{
		HTML: `<a href="https://example.org/a">one</a>`,
		Text: "https://example.org/a and again https://example.org/a",
	}
	res := Analyze(req)
	if len(res.Links) != 1 {
		t.Errorf("expected deduplicated single link, got %d", len(res.Links))
	}
}

func TestPercentDecode(t *testing.T) {
	in := "https://example.org/%252E%252E"
	if out := percentDecode(in); out != "https://example.org/.." {
		t.Errorf("wrong decode: %q", out)
	}

	// Decoding stops at the cap even for deeper nesting.
	nested := "a%2525252525252e"
	_ = percentDecode(nested)
}
