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

package attachments

import (
	"strings"
	"testing"

	"github.com/ynggny/emlprobe/internal/message"
)

func analyze(atts ...message.Attachment) Result {
	return Analyze(&message.AnalysisRequest{Attachments: atts})
}

func hasIssue(item Item, substr string) bool {
	for _, issue := range item.Issues {
		if strings.Contains(issue, substr) {
			return true
		}
	}
	return false
}

func TestAnalyze_Executable(t *testing.T) {
	res := analyze(message.Attachment{Filename: "setup.exe", MIMEType: "application/x-msdownload", Size: 1024})
	if res.Risk != "dangerous" {
		t.Fatalf("expected dangerous, got %s", res.Risk)
	}
	if !hasIssue(res.Items[0], "executable file type") {
		t.Errorf("missing extension issue: %v", res.Items[0].Issues)
	}
}

func TestAnalyze_DoubleExtension(t *testing.T) {
	res := analyze(message.Attachment{Filename: "report.pdf.exe", MIMEType: "application/octet-stream", Size: 1024})
	if res.Risk != "dangerous" || !hasIssue(res.Items[0], "double extension") {
		t.Errorf("expected double extension danger: %+v", res.Items[0])
	}
}

func TestAnalyze_RLOFilename(t *testing.T) {
	res := analyze(message.Attachment{Filename: "annex‮fdp.exe", MIMEType: "application/pdf", Size: 10})
	if res.Risk != "dangerous" || !hasIssue(res.Items[0], "bidirectional control") {
		t.Errorf("expected RLO danger: %+v", res.Items[0])
	}
}

func TestAnalyze_MacroOffice(t *testing.T) {
	res := analyze(message.Attachment{Filename: "invoice.xlsm", Size: 2048})
	if res.Risk != "dangerous" {
		t.Fatalf("expected dangerous, got %s (%v)", res.Risk, res.Items[0].Issues)
	}
	if !hasIssue(res.Items[0], "macro-enabled") {
		t.Errorf("missing macro issue: %v", res.Items[0].Issues)
	}
	// invoice + risky extension also trips the lure check.
	if !hasIssue(res.Items[0], "lure filename") {
		t.Errorf("missing lure issue: %v", res.Items[0].Issues)
	}
}

func TestAnalyze_MIMEMismatch(t *testing.T) {
	res := analyze(message.Attachment{Filename: "photo.png", MIMEType: "application/pdf", Size: 100})
	if res.Risk != "warning" || !hasIssue(res.Items[0], "does not match extension") {
		t.Errorf("expected mismatch warning: %+v", res.Items[0])
	}

	// octet-stream is never reported as a mismatch.
	res = analyze(message.Attachment{Filename: "photo.png", MIMEType: "application/octet-stream", Size: 100})
	if res.Risk != "safe" {
		t.Errorf("expected safe for octet-stream: %+v", res.Items[0])
	}
}

func TestAnalyze_SizeBounds(t *testing.T) {
	res := analyze(
		message.Attachment{Filename: "empty.txt", MIMEType: "text/plain", Size: 0},
		message.Attachment{Filename: "huge.txt", MIMEType: "text/plain", Size: 26 << 20},
		message.Attachment{Filename: "fine.txt", MIMEType: "text/plain", Size: 100},
	)
	if res.Risk != "warning" {
		t.Fatalf("expected warning, got %s", res.Risk)
	}
	// Sorted warnings first.
	if res.Items[2].Filename != "fine.txt" || res.Items[2].Risk != "safe" {
		t.Errorf("wrong ordering: %+v", res.Items)
	}
}

func TestAnalyze_ForeignScript(t *testing.T) {
	res := analyze(message.Attachment{Filename: "отчет.pdf", MIMEType: "application/pdf", Size: 10})
	if res.Risk != "warning" || !hasIssue(res.Items[0], "Cyrillic") {
		t.Errorf("expected Cyrillic warning: %+v", res.Items[0])
	}

	// Japanese filenames are normal traffic here.
	res = analyze(message.Attachment{Filename: "会議資料.pdf", MIMEType: "application/pdf", Size: 10})
	if res.Risk != "safe" {
		t.Errorf("expected safe for CJK name: %+v", res.Items[0])
	}
}

func TestAnalyze_NoAttachments(t *testing.T) {
	res := analyze()
	if res.Risk != "safe" || len(res.Items) != 0 {
		t.Errorf("expected empty safe result: %+v", res)
	}
}
