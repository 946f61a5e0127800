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

// Package arc validates ARC chains (RFC 8617): set structure, cv
// coherence, seal key presence and verification of the latest message
// signature.
package arc

import (
	"context"
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ynggny/emlprobe/framework/dns"
	"github.com/ynggny/emlprobe/framework/log"
	"github.com/ynggny/emlprobe/internal/analyze/dkim"
	"github.com/ynggny/emlprobe/internal/message"
)

// Set describes one verified ARC instance.
type Set struct {
	Instance int `json:"instance"`

	// CV is the chain validation claim of the seal: none, pass or fail.
	CV string `json:"cv"`

	SealDomain string `json:"sealDomain,omitempty"`
	AMSDomain  string `json:"amsDomain,omitempty"`

	// AuthResults is the raw ARC-Authentication-Results payload of this
	// instance, authserv-id included.
	AuthResults string `json:"authResults,omitempty"`

	Issues []string `json:"issues,omitempty"`
}

// Result is the chain validation outcome.
type Result struct {
	// Status is one of none, pass, fail.
	Status string `json:"status"`

	ChainLength int   `json:"chainLength"`
	Sets        []Set `json:"sets,omitempty"`

	Issues []string `json:"issues,omitempty"`
}

// Verifier validates ARC chains. Resolver must be set.
type Verifier struct {
	Resolver dns.Resolver
	Log      log.Logger
}

type rawSet struct {
	seal string // ARC-Seal field
	ams  string // ARC-Message-Signature field
	aar  string // ARC-Authentication-Results field
}

// Verify validates the ARC chain of the message. Like DKIM verification,
// failures are folded into the result, never returned as errors.
func (v *Verifier) Verify(ctx context.Context, req *message.AnalysisRequest) Result {
	fields := req.RawFields()

	sets, maxInstance, issues := collectSets(fields)
	if maxInstance == 0 {
		return Result{Status: "none"}
	}

	res := Result{ChainLength: maxInstance, Issues: issues}

	structValid := len(issues) == 0
	for i := 1; i <= maxInstance; i++ {
		if _, ok := sets[i]; !ok {
			res.Issues = append(res.Issues, fmt.Sprintf("instance %d incomplete", i))
			structValid = false
		}
	}

	// cv coherence across the chain, in increasing instance order.
	cvFailed := false
	for i := 1; i <= maxInstance; i++ {
		raw, ok := sets[i]
		if !ok {
			continue
		}
		set := Set{Instance: i}

		if raw.seal == "" || raw.ams == "" || raw.aar == "" {
			res.Issues = append(res.Issues, fmt.Sprintf("instance %d incomplete", i))
			structValid = false
			res.Sets = append(res.Sets, set)
			continue
		}

		sealTags, err := dkim.ParseTags(message.FieldValue(raw.seal))
		if err != nil {
			set.Issues = append(set.Issues, "malformed seal: "+err.Error())
			structValid = false
			res.Sets = append(res.Sets, set)
			continue
		}

		set.CV = sealTags["cv"]
		set.SealDomain = sealTags["d"]
		set.AuthResults = strings.TrimSpace(message.FieldValue(raw.aar))
		if amsTags, err := dkim.ParseTags(message.FieldValue(raw.ams)); err == nil {
			set.AMSDomain = amsTags["d"]
		}

		// RFC 8617 Section 4.1.3: seals must not carry h= or bh=.
		if _, ok := sealTags["h"]; ok {
			set.Issues = append(set.Issues, "seal carries forbidden h= tag")
			cvFailed = true
		}
		if _, ok := sealTags["bh"]; ok {
			set.Issues = append(set.Issues, "seal carries forbidden bh= tag")
			cvFailed = true
		}

		switch {
		case i == 1 && set.CV != "none":
			set.Issues = append(set.Issues, "first seal must have cv=none")
			structValid = false
		case i > 1 && set.CV != "pass" && set.CV != "fail":
			set.Issues = append(set.Issues, fmt.Sprintf("invalid cv value: %q", set.CV))
			structValid = false
		}

		if set.CV == "fail" {
			cvFailed = true
		}
		if set.CV == "pass" && cvFailed {
			set.Issues = append(set.Issues, "broken chain: cv=pass after cv=fail")
			structValid = false
		}

		v.checkSealKey(ctx, sealTags, &set)

		res.Sets = append(res.Sets, set)
	}

	// Full RSA verification for the latest message signature. Earlier
	// instances signed a message state that no longer exists, so their
	// signatures cannot be re-verified here.
	amsPerformed, amsValid := false, false
	if latest, ok := sets[maxInstance]; ok && latest.ams != "" && structValid {
		amsPerformed, amsValid = v.verifyAMS(ctx, latest.ams, fields, req.Body, &res)
	}
	if !amsPerformed {
		res.Issues = append(res.Issues, "message signature verification not performed")
	}
	// Seal b= values are never re-verified, only their keys are checked.
	res.Issues = append(res.Issues, "seal signature verification not performed")

	lastCV := ""
	if last, ok := sets[maxInstance]; ok && last.seal != "" {
		if tags, err := dkim.ParseTags(message.FieldValue(last.seal)); err == nil {
			lastCV = tags["cv"]
		}
	}

	chainOK := structValid && !cvFailed &&
		(lastCV == "pass" || (maxInstance == 1 && lastCV == "none")) &&
		!(amsPerformed && !amsValid)
	if chainOK {
		res.Status = "pass"
	} else {
		res.Status = "fail"
	}
	return res
}

// collectSets groups the ARC header fields by instance number.
func collectSets(fields []string) (map[int]*rawSet, int, []string) {
	sets := make(map[int]*rawSet)
	maxInstance := 0
	var issues []string

	assign := func(field string, slot func(*rawSet) *string) {
		// ARC-Authentication-Results is not a pure tag list (the
		// authserv-id follows the i= tag), extract the instance alone.
		i, err := parseInstance(field)
		if err != nil {
			issues = append(issues, err.Error())
			return
		}
		if sets[i] == nil {
			sets[i] = &rawSet{}
		}
		target := slot(sets[i])
		if *target != "" {
			issues = append(issues, fmt.Sprintf("duplicate ARC header for instance %d", i))
			return
		}
		*target = field
		if i > maxInstance {
			maxInstance = i
		}
	}

	for _, field := range fields {
		switch message.FieldName(field) {
		case "arc-seal":
			assign(field, func(s *rawSet) *string { return &s.seal })
		case "arc-message-signature":
			assign(field, func(s *rawSet) *string { return &s.ams })
		case "arc-authentication-results":
			assign(field, func(s *rawSet) *string { return &s.aar })
		}
	}
	return sets, maxInstance, issues
}

// parseInstance extracts the i= tag value of an ARC header field.
func parseInstance(field string) (int, error) {
	for _, part := range strings.Split(message.FieldValue(field), ";") {
		part = strings.TrimSpace(part)
		val, ok := strings.CutPrefix(part, "i=")
		if !ok {
			continue
		}
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || i < 1 || i > 50 {
			return 0, fmt.Errorf("invalid ARC instance: %q", val)
		}
		return i, nil
	}
	return 0, fmt.Errorf("ARC header without i= tag")
}

// checkSealKey verifies the seal's public key is published in DNS. The
// seal signature itself is not re-verified, which the chain-level issue
// reports.
func (v *Verifier) checkSealKey(ctx context.Context, sealTags map[string]string, set *Set) {
	selector, domain := sealTags["s"], sealTags["d"]
	if selector == "" || domain == "" {
		set.Issues = append(set.Issues, "seal without s= or d= tag")
		return
	}

	_, err := dkim.LookupKey(ctx, v.Resolver, selector, domain)
	switch {
	case err == nil:
	case errors.Is(err, dkim.ErrNoKey):
		set.Issues = append(set.Issues, fmt.Sprintf("no seal key record at %s._domainkey.%s", selector, domain))
	case errors.Is(err, dkim.ErrKeyRevoked):
		set.Issues = append(set.Issues, "seal key revoked")
	default:
		set.Issues = append(set.Issues, "seal key lookup failed: "+err.Error())
	}
}

// verifyAMS runs full DKIM-style verification of an ARC-Message-Signature
// field. performed is false when verification could not be attempted
// (malformed signature, missing key); valid is meaningful only when
// performed.
func (v *Verifier) verifyAMS(ctx context.Context, amsField string, fields []string, body []byte, res *Result) (performed, valid bool) {
	value := message.FieldValue(amsField)
	// AMS has DKIM-Signature syntax minus the v= tag (RFC 8617
	// Section 4.1.2), supply one so the DKIM parser accepts it.
	if tags, err := dkim.ParseTags(value); err == nil && tags["v"] == "" {
		value = "v=1; " + value
	}
	sig, err := dkim.ParseSignature(value)
	if err != nil {
		res.Issues = append(res.Issues, "malformed message signature: "+err.Error())
		return false, false
	}

	var hash crypto.Hash
	switch sig.Algorithm {
	case "rsa-sha256":
		hash = crypto.SHA256
	case "rsa-sha1":
		hash = crypto.SHA1
	default:
		res.Issues = append(res.Issues, "unsupported message signature algorithm: "+sig.Algorithm)
		return false, false
	}

	pubKey, err := dkim.LookupKey(ctx, v.Resolver, sig.Selector, sig.Domain)
	if err != nil {
		res.Issues = append(res.Issues, "message signature key lookup failed: "+err.Error())
		return false, false
	}

	canonical := dkim.CanonicalizeBody(body, sig.BodyCanonical())
	if sig.Limit >= 0 && sig.Limit <= int64(len(canonical)) {
		canonical = canonical[:sig.Limit]
	}
	h := hash.New()
	h.Write(canonical)
	if base64.StdEncoding.EncodeToString(h.Sum(nil)) != sig.BodyHash {
		res.Issues = append(res.Issues, "message signature body hash mismatch")
		return true, false
	}

	signature, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		res.Issues = append(res.Issues, "malformed message signature b= tag")
		return false, false
	}

	var input strings.Builder
	for _, field := range dkim.SelectFields(fields, sig.Headers) {
		input.WriteString(dkim.CanonicalizeHeader(field, sig.HeaderCanonical()))
	}
	input.WriteString(dkim.CanonicalizeHeader(dkim.RemoveBValue(amsField), sig.HeaderCanonical()))
	signed := strings.TrimSuffix(input.String(), "\r\n")

	hh := hash.New()
	hh.Write([]byte(signed))
	if err := rsa.VerifyPKCS1v15(pubKey.Key, hash, hh.Sum(nil), signature); err != nil {
		res.Issues = append(res.Issues, "message signature verification failed")
		return true, false
	}
	return true, true
}
