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

package dkim_test

import (
	"context"
	"strings"
	"testing"

	"github.com/foxcpp/go-mockdns"

	"github.com/ynggny/emlprobe/internal/analyze/dkim"
	"github.com/ynggny/emlprobe/internal/message"
	"github.com/ynggny/emlprobe/internal/testutils"
)

func testRequest(sigField string, fields []string, body string) *message.AnalysisRequest {
	raw := sigField + strings.Join(fields, "") + "\r\n"
	return &message.AnalysisRequest{
		RawHeaders: raw,
		Body:       []byte(body),
	}
}

func TestVerify_Pass(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "example.com", "sel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	fields := []string{
		"From: alice@example.com\r\n",
		"Subject: test message\r\n",
	}
	body := "test\r\n"
	sigField := signer.Sign(t, fields, []byte(body), []string{"from", "subject"})

	v := dkim.Verifier{Resolver: resolver, Log: testutils.Logger(t, "dkim")}
	res := v.Verify(context.Background(), testRequest(sigField, fields, body))

	if res.Status != "pass" {
		t.Fatalf("expected pass, got %s (%v)", res.Status, res.Issues)
	}
	if !res.SignatureValid || !res.BodyHashValid {
		t.Errorf("expected valid signature and body hash, got %+v", res)
	}
	if res.Domain != "example.com" || res.Selector != "sel" {
		t.Errorf("wrong domain/selector: %s/%s", res.Domain, res.Selector)
	}
	if res.KeySize != 2048 {
		t.Errorf("wrong key size: %d", res.KeySize)
	}
	if res.Canonicalization != "relaxed/relaxed" {
		t.Errorf("wrong canonicalization: %s", res.Canonicalization)
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "example.com", "sel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	fields := []string{
		"From: alice@example.com\r\n",
		"Subject: test message\r\n",
	}
	sigField := signer.Sign(t, fields, []byte("test\r\n"), []string{"from", "subject"})

	v := dkim.Verifier{Resolver: resolver, Log: testutils.Logger(t, "dkim")}
	res := v.Verify(context.Background(), testRequest(sigField, fields, "tesT\r\n"))

	if res.Status != "fail" {
		t.Fatalf("expected fail, got %s", res.Status)
	}
	if res.BodyHashValid {
		t.Error("expected bodyHashValid=false")
	}
}

func TestVerify_TamperedHeader(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "example.com", "sel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	fields := []string{
		"From: alice@example.com\r\n",
		"Subject: test message\r\n",
	}
	body := "test\r\n"
	sigField := signer.Sign(t, fields, []byte(body), []string{"from", "subject"})

	// Change a signed header after signing.
	fields[1] = "Subject: changed\r\n"

	v := dkim.Verifier{Resolver: resolver, Log: testutils.Logger(t, "dkim")}
	res := v.Verify(context.Background(), testRequest(sigField, fields, body))

	if res.Status != "fail" {
		t.Fatalf("expected fail, got %s", res.Status)
	}
	if res.SignatureValid {
		t.Error("expected signatureValid=false")
	}
	if !res.BodyHashValid {
		t.Error("body hash should still be valid")
	}
}

func TestVerify_SimpleCanonicalization(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "example.com", "sel")
	signer.HeaderCanon = "simple"
	signer.BodyCanon = "simple"
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	fields := []string{
		"From: alice@example.com\r\n",
		"Subject: folded\r\n subject value\r\n",
	}
	body := "line one\r\nline two\r\n"
	sigField := signer.Sign(t, fields, []byte(body), []string{"from", "subject"})

	v := dkim.Verifier{Resolver: resolver, Log: testutils.Logger(t, "dkim")}
	res := v.Verify(context.Background(), testRequest(sigField, fields, body))

	if res.Status != "pass" {
		t.Fatalf("expected pass, got %s (%v)", res.Status, res.Issues)
	}
}

func TestVerify_LastInstanceSelected(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "example.com", "sel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	// Two Subject headers: signing covers the last one. Prepending a new
	// Subject above the signed pair must not break verification.
	fields := []string{
		"From: alice@example.com\r\n",
		"Subject: original\r\n",
	}
	body := "test\r\n"
	sigField := signer.Sign(t, fields, []byte(body), []string{"from", "subject"})

	fields = append([]string{"Subject: injected\r\n"}, fields...)

	v := dkim.Verifier{Resolver: resolver, Log: testutils.Logger(t, "dkim")}
	res := v.Verify(context.Background(), testRequest(sigField, fields, body))

	if res.Status != "pass" {
		t.Fatalf("expected pass, got %s (%v)", res.Status, res.Issues)
	}
}

func TestVerify_NoSignature(t *testing.T) {
	v := dkim.Verifier{Resolver: &mockdns.Resolver{}, Log: testutils.Logger(t, "dkim")}
	res := v.Verify(context.Background(), &message.AnalysisRequest{
		Headers: []message.EmailHeader{{Name: "From", Value: "a@example.org"}},
	})
	if res.Status != "none" {
		t.Errorf("expected none, got %s", res.Status)
	}
}

func TestVerify_MissingKey(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "example.com", "sel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{}}

	fields := []string{"From: alice@example.com\r\n"}
	body := "test\r\n"
	sigField := signer.Sign(t, fields, []byte(body), []string{"from"})

	v := dkim.Verifier{Resolver: resolver, Log: testutils.Logger(t, "dkim")}
	res := v.Verify(context.Background(), testRequest(sigField, fields, body))

	if res.Status != "temperror" {
		t.Errorf("expected temperror for missing key, got %s (%v)", res.Status, res.Issues)
	}
}

func TestVerify_RevokedKey(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "example.com", "sel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{"v=DKIM1; k=rsa; p="}},
	}}

	fields := []string{"From: alice@example.com\r\n"}
	body := "test\r\n"
	sigField := signer.Sign(t, fields, []byte(body), []string{"from"})

	v := dkim.Verifier{Resolver: resolver, Log: testutils.Logger(t, "dkim")}
	res := v.Verify(context.Background(), testRequest(sigField, fields, body))

	if res.Status != "permerror" {
		t.Errorf("expected permerror for revoked key, got %s", res.Status)
	}
}

func TestVerify_Ed25519Unsupported(t *testing.T) {
	req := testRequest(
		"DKIM-Signature: v=1; a=ed25519-sha256; d=example.com; s=sel; h=from; bh=Zm9v; b=YmFy\r\n",
		[]string{"From: alice@example.com\r\n"}, "test\r\n")

	v := dkim.Verifier{Resolver: &mockdns.Resolver{}, Log: testutils.Logger(t, "dkim")}
	res := v.Verify(context.Background(), req)

	if res.Status != "temperror" {
		t.Fatalf("expected temperror, got %s", res.Status)
	}
	found := false
	for _, issue := range res.Issues {
		if strings.Contains(issue, "not supported") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a not-supported issue, got %v", res.Issues)
	}
}

func TestVerify_WeakHashIssue(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "example.com", "sel")
	signer.Algorithm = "rsa-sha1"
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	fields := []string{"From: alice@example.com\r\n"}
	body := "test\r\n"
	sigField := signer.Sign(t, fields, []byte(body), []string{"from"})

	v := dkim.Verifier{Resolver: resolver, Log: testutils.Logger(t, "dkim")}
	res := v.Verify(context.Background(), testRequest(sigField, fields, body))

	if res.Status != "pass" {
		t.Fatalf("rsa-sha1 should still verify, got %s (%v)", res.Status, res.Issues)
	}
	found := false
	for _, issue := range res.Issues {
		if strings.Contains(issue, "weak hash") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a weak-hash issue, got %v", res.Issues)
	}
}
