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

package arc_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/foxcpp/go-mockdns"

	"github.com/ynggny/emlprobe/internal/analyze/arc"
	"github.com/ynggny/emlprobe/internal/analyze/dkim"
	"github.com/ynggny/emlprobe/internal/message"
	"github.com/ynggny/emlprobe/internal/testutils"
)

// buildAMS constructs and signs an ARC-Message-Signature field for the
// given instance.
func buildAMS(t *testing.T, signer *testutils.DKIMSigner, instance string, fields []string, body []byte, signedNames []string) string {
	t.Helper()

	sum := sha256.Sum256(dkim.CanonicalizeBody(body, "relaxed"))
	value := "i=" + instance +
		"; a=rsa-sha256; c=relaxed/relaxed" +
		"; d=" + signer.Domain + "; s=" + signer.Selector +
		"; h=" + strings.Join(signedNames, ":") +
		"; bh=" + base64.StdEncoding.EncodeToString(sum[:]) +
		"; b="

	var input strings.Builder
	for _, field := range dkim.SelectFields(fields, signedNames) {
		input.WriteString(dkim.CanonicalizeHeader(field, "relaxed"))
	}
	input.WriteString(dkim.CanonicalizeHeader("ARC-Message-Signature: "+value+"\r\n", "relaxed"))
	signed := strings.TrimSuffix(input.String(), "\r\n")

	h := sha256.Sum256([]byte(signed))
	sig, err := rsa.SignPKCS1v15(rand.Reader, signer.Key, crypto.SHA256, h[:])
	if err != nil {
		t.Fatal(err)
	}
	return "ARC-Message-Signature: " + value + base64.StdEncoding.EncodeToString(sig) + "\r\n"
}

func buildSeal(signer *testutils.DKIMSigner, instance, cv string) string {
	return "ARC-Seal: i=" + instance + "; cv=" + cv +
		"; a=rsa-sha256; d=" + signer.Domain + "; s=" + signer.Selector +
		"; t=1700000000; b=ZmFrZXNlYWw=\r\n"
}

func buildAAR(instance, payload string) string {
	return "ARC-Authentication-Results: i=" + instance + "; " + payload + "\r\n"
}

func chainRequest(arcFields []string, msgFields []string, body string) *message.AnalysisRequest {
	raw := strings.Join(arcFields, "") + strings.Join(msgFields, "") + "\r\n"
	return &message.AnalysisRequest{RawHeaders: raw, Body: []byte(body)}
}

func TestVerify_SingleInstancePass(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "forwarder.example", "arcsel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	msgFields := []string{
		"From: alice@example.org\r\n",
		"Subject: hello\r\n",
	}
	body := "test\r\n"

	ams := buildAMS(t, signer, "1", msgFields, []byte(body), []string{"from", "subject"})
	arcFields := []string{
		buildSeal(signer, "1", "none"),
		ams,
		buildAAR("1", "mx.forwarder.example; spf=pass smtp.mailfrom=example.org"),
	}

	v := arc.Verifier{Resolver: resolver, Log: testutils.Logger(t, "arc")}
	res := v.Verify(context.Background(), chainRequest(arcFields, msgFields, body))

	if res.Status != "pass" {
		t.Fatalf("expected pass, got %s (%v)", res.Status, res.Issues)
	}
	if res.ChainLength != 1 {
		t.Errorf("wrong chain length: %d", res.ChainLength)
	}
	if len(res.Sets) != 1 || res.Sets[0].CV != "none" {
		t.Errorf("wrong sets: %+v", res.Sets)
	}
	if res.Sets[0].SealDomain != "forwarder.example" {
		t.Errorf("wrong seal domain: %s", res.Sets[0].SealDomain)
	}

	// Seal signatures are not re-verified, the result must say so.
	found := false
	for _, issue := range res.Issues {
		if strings.Contains(issue, "seal signature verification not performed") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected seal verification issue, got %v", res.Issues)
	}
}

func TestVerify_NoChain(t *testing.T) {
	v := arc.Verifier{Resolver: &mockdns.Resolver{}, Log: testutils.Logger(t, "arc")}
	res := v.Verify(context.Background(), &message.AnalysisRequest{
		Headers: []message.EmailHeader{{Name: "From", Value: "a@example.org"}},
	})
	if res.Status != "none" {
		t.Errorf("expected none, got %s", res.Status)
	}
}

func TestVerify_IncompleteSet(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "forwarder.example", "arcsel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	arcFields := []string{buildSeal(signer, "1", "none")}
	msgFields := []string{"From: alice@example.org\r\n"}

	v := arc.Verifier{Resolver: resolver, Log: testutils.Logger(t, "arc")}
	res := v.Verify(context.Background(), chainRequest(arcFields, msgFields, "test\r\n"))

	if res.Status != "fail" {
		t.Fatalf("expected fail, got %s", res.Status)
	}
	found := false
	for _, issue := range append(res.Issues, res.Sets[0].Issues...) {
		if strings.Contains(issue, "incomplete") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an incomplete-set issue, got %v", res.Issues)
	}
}

func TestVerify_CVFail(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "forwarder.example", "arcsel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	msgFields := []string{"From: alice@example.org\r\n"}
	body := "test\r\n"

	arcFields := []string{
		buildSeal(signer, "1", "none"),
		buildAMS(t, signer, "1", msgFields, []byte(body), []string{"from"}),
		buildAAR("1", "mx1.example; spf=pass"),
		buildSeal(signer, "2", "fail"),
		buildAMS(t, signer, "2", msgFields, []byte(body), []string{"from"}),
		buildAAR("2", "mx2.example; spf=fail"),
	}

	v := arc.Verifier{Resolver: resolver, Log: testutils.Logger(t, "arc")}
	res := v.Verify(context.Background(), chainRequest(arcFields, msgFields, body))

	if res.Status != "fail" {
		t.Fatalf("expected fail for cv=fail, got %s", res.Status)
	}
}

func TestVerify_FirstSealWrongCV(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "forwarder.example", "arcsel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	msgFields := []string{"From: alice@example.org\r\n"}
	body := "test\r\n"

	arcFields := []string{
		buildSeal(signer, "1", "pass"),
		buildAMS(t, signer, "1", msgFields, []byte(body), []string{"from"}),
		buildAAR("1", "mx1.example; spf=pass"),
	}

	v := arc.Verifier{Resolver: resolver, Log: testutils.Logger(t, "arc")}
	res := v.Verify(context.Background(), chainRequest(arcFields, msgFields, body))

	if res.Status != "fail" {
		t.Fatalf("expected fail for first seal cv=pass, got %s", res.Status)
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "forwarder.example", "arcsel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	msgFields := []string{"From: alice@example.org\r\n"}

	arcFields := []string{
		buildSeal(signer, "1", "none"),
		buildAMS(t, signer, "1", msgFields, []byte("test\r\n"), []string{"from"}),
		buildAAR("1", "mx1.example; spf=pass"),
	}

	v := arc.Verifier{Resolver: resolver, Log: testutils.Logger(t, "arc")}
	res := v.Verify(context.Background(), chainRequest(arcFields, msgFields, "tampered\r\n"))

	if res.Status != "fail" {
		t.Fatalf("expected fail for tampered body, got %s", res.Status)
	}
	found := false
	for _, issue := range res.Issues {
		if strings.Contains(issue, "body hash mismatch") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a body hash issue, got %v", res.Issues)
	}
}

func TestVerify_ForbiddenSealTags(t *testing.T) {
	signer := testutils.NewDKIMSigner(t, "forwarder.example", "arcsel")
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		signer.KeyFQDN(): {TXT: []string{signer.TXTRecord()}},
	}}

	msgFields := []string{"From: alice@example.org\r\n"}
	body := "test\r\n"

	seal := "ARC-Seal: i=1; cv=none; a=rsa-sha256; d=forwarder.example; s=arcsel;" +
		" h=from; t=1700000000; b=ZmFrZQ==\r\n"
	arcFields := []string{
		seal,
		buildAMS(t, signer, "1", msgFields, []byte(body), []string{"from"}),
		buildAAR("1", "mx1.example; spf=pass"),
	}

	v := arc.Verifier{Resolver: resolver, Log: testutils.Logger(t, "arc")}
	res := v.Verify(context.Background(), chainRequest(arcFields, msgFields, body))

	if res.Status != "fail" {
		t.Fatalf("expected fail for seal with h= tag, got %s", res.Status)
	}
}
