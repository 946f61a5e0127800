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

package message

import (
	"strings"
	"testing"
)

func TestExtractParts(t *testing.T) {
	raw := strings.Join([]string{
		"From: sender@example.org",
		"Subject: quarterly report",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		`Content-Type: multipart/alternative; boundary="inner"`,
		"",
		"--inner",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"see the attached r=C3=A9sum=C3=A9, thanks",
		"--inner",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>see the <b>attached</b> report</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/pdf",
		"Content-Transfer-Encoding: base64",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"",
		"JVBERi0xLjQKJcTl8uXrp/Og0MTGCg==",
		"--outer--",
		"",
	}, "\r\n")

	hdrs, rawHdr, body, err := ReadMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	req := &AnalysisRequest{Headers: hdrs, RawHeaders: rawHdr, Body: body}

	if err := ExtractParts(req); err != nil {
		t.Fatal(err)
	}

	if req.Subject != "quarterly report" {
		t.Errorf("wrong subject: %q", req.Subject)
	}
	if want := "see the attached résumé, thanks"; !strings.Contains(req.Text, want) {
		t.Errorf("wrong text part: %q", req.Text)
	}
	if !strings.Contains(req.HTML, "<b>attached</b>") {
		t.Errorf("wrong html part: %q", req.HTML)
	}
	if len(req.Attachments) != 1 {
		t.Fatalf("wrong attachment count: %d", len(req.Attachments))
	}
	att := req.Attachments[0]
	if att.Filename != "report.pdf" || att.MIMEType != "application/pdf" {
		t.Errorf("wrong attachment metadata: %+v", att)
	}
	if att.Size != 22 {
		t.Errorf("wrong attachment size: %d", att.Size)
	}
}

func TestExtractParts_PlainMessage(t *testing.T) {
	raw := "From: a@b.example\r\nSubject: hi\r\n\r\njust text\r\n"

	hdrs, rawHdr, body, err := ReadMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	req := &AnalysisRequest{Headers: hdrs, RawHeaders: rawHdr, Body: body}

	if err := ExtractParts(req); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(req.Text, "just text") {
		t.Errorf("wrong text: %q", req.Text)
	}
	if len(req.Attachments) != 0 || req.HTML != "" {
		t.Errorf("unexpected parts: %+v", req)
	}
}
