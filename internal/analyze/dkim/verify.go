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

// Package dkim verifies DKIM-Signature headers (RFC 6376) using RSA
// public keys retrieved over DNS.
package dkim

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ynggny/emlprobe/framework/dns"
	"github.com/ynggny/emlprobe/framework/exterrors"
	"github.com/ynggny/emlprobe/framework/log"
	"github.com/ynggny/emlprobe/internal/message"
)

// Result is the outcome of verifying the first DKIM-Signature of a
// message.
type Result struct {
	// Status is one of none, pass, fail, temperror, permerror.
	Status string `json:"status"`

	Domain           string `json:"domain,omitempty"`
	Selector         string `json:"selector,omitempty"`
	Algorithm        string `json:"algorithm,omitempty"`
	Canonicalization string `json:"canonicalization,omitempty"`

	// KeySize is the RSA modulus size in bits, 0 when the key was not
	// retrieved.
	KeySize int `json:"keySize,omitempty"`

	SignatureValid bool `json:"signatureValid"`
	BodyHashValid  bool `json:"bodyHashValid"`

	// SignedAt and ExpiresAt mirror the t= and x= tags (unix seconds).
	SignedAt  int64 `json:"signedAt,omitempty"`
	ExpiresAt int64 `json:"expiresAt,omitempty"`

	Issues []string `json:"issues,omitempty"`
}

// Verifier verifies DKIM signatures. The zero value is not usable, a
// Resolver must be set.
type Verifier struct {
	Resolver dns.Resolver
	Log      log.Logger

	// Now is overridden in tests.
	Now func() time.Time
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Verify verifies the first DKIM-Signature header of the message against
// RFC 6376. Verification errors never escape as Go errors, they are folded
// into Result.Status and Result.Issues.
func (v *Verifier) Verify(ctx context.Context, req *message.AnalysisRequest) Result {
	fields := req.RawFields()

	sigField := firstField(fields, "dkim-signature")
	if sigField == "" {
		return Result{Status: "none"}
	}

	sig, err := ParseSignature(message.FieldValue(sigField))
	if err != nil {
		return Result{Status: "permerror", Issues: []string{err.Error()}}
	}

	res := Result{
		Domain:           sig.Domain,
		Selector:         sig.Selector,
		Algorithm:        sig.Algorithm,
		Canonicalization: sig.HeaderCanonical() + "/" + sig.BodyCanonical(),
		SignedAt:         sig.Timestamp,
		ExpiresAt:        sig.Expiration,
	}

	var hash crypto.Hash
	switch sig.Algorithm {
	case "rsa-sha256":
		hash = crypto.SHA256
	case "rsa-sha1":
		hash = crypto.SHA1
		res.Issues = append(res.Issues, "weak hash algorithm (sha1)")
	case "ed25519-sha256":
		res.Status = "temperror"
		res.Issues = append(res.Issues, "ed25519-sha256 is not supported")
		return res
	default:
		res.Status = "permerror"
		res.Issues = append(res.Issues, fmt.Sprintf("unknown algorithm: %s", sig.Algorithm))
		return res
	}

	if sig.Timestamp != 0 && time.Unix(sig.Timestamp, 0).After(v.now().Add(5*time.Minute)) {
		res.Issues = append(res.Issues, "signature timestamp is in the future")
	}

	// Body hash first, it needs no DNS.
	res.BodyHashValid = v.verifyBodyHash(sig, req.Body, &res)

	pubKey, err := LookupKey(ctx, v.Resolver, sig.Selector, sig.Domain)
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyRevoked):
			res.Status = "permerror"
			res.Issues = append(res.Issues, "key revoked (empty p= tag)")
		case errors.Is(err, ErrNoKey):
			res.Status = "temperror"
			res.Issues = append(res.Issues, fmt.Sprintf("no key record at %s._domainkey.%s", sig.Selector, sig.Domain))
		case exterrors.IsTemporary(err):
			res.Status = "temperror"
			res.Issues = append(res.Issues, "key lookup failed: "+err.Error())
		default:
			res.Status = "permerror"
			res.Issues = append(res.Issues, err.Error())
		}
		return res
	}
	res.KeySize = pubKey.KeySize
	if pubKey.Testing() {
		res.Issues = append(res.Issues, "key is in testing mode (t=y)")
	}

	res.SignatureValid = v.verifySignature(sig, sigField, fields, pubKey, hash, &res)

	expired := sig.Expiration != 0 && time.Unix(sig.Expiration, 0).Before(v.now())
	if expired {
		res.Issues = append(res.Issues, "signature expired")
	}

	if res.BodyHashValid && res.SignatureValid && !expired {
		res.Status = "pass"
	} else {
		res.Status = "fail"
	}
	return res
}

func (v *Verifier) verifyBodyHash(sig *Signature, body []byte, res *Result) bool {
	canonical := CanonicalizeBody(body, sig.BodyCanonical())
	if sig.Limit >= 0 {
		if sig.Limit > int64(len(canonical)) {
			res.Issues = append(res.Issues, "l= tag exceeds body length")
		} else {
			canonical = canonical[:sig.Limit]
			res.Issues = append(res.Issues, "body hash covers truncated body (l= tag)")
		}
	}

	var digest []byte
	switch sig.Algorithm {
	case "rsa-sha1":
		sum := sha1.Sum(canonical)
		digest = sum[:]
	default:
		sum := sha256.Sum256(canonical)
		digest = sum[:]
	}

	if base64.StdEncoding.EncodeToString(digest) != sig.BodyHash {
		res.Issues = append(res.Issues, "body hash mismatch")
		return false
	}
	return true
}

func (v *Verifier) verifySignature(sig *Signature, sigField string, fields []string, pubKey *PublicKey, hash crypto.Hash, res *Result) bool {
	signature, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		res.Issues = append(res.Issues, "malformed b= tag: "+err.Error())
		return false
	}

	headerCanon := sig.HeaderCanonical()

	var input strings.Builder
	for _, field := range SelectFields(fields, sig.Headers) {
		input.WriteString(CanonicalizeHeader(field, headerCanon))
	}
	input.WriteString(CanonicalizeHeader(RemoveBValue(sigField), headerCanon))

	// No CRLF after the DKIM-Signature header itself.
	signed := strings.TrimSuffix(input.String(), crlf)

	h := hash.New()
	h.Write([]byte(signed))

	if err := rsa.VerifyPKCS1v15(pubKey.Key, hash, h.Sum(nil), signature); err != nil {
		res.Issues = append(res.Issues, "signature verification failed")
		return false
	}
	return true
}

func firstField(fields []string, name string) string {
	for _, field := range fields {
		if message.FieldName(field) == name {
			return field
		}
	}
	return ""
}

// SelectFields picks the signed header fields per RFC 6376 Section 5.4.2:
// for every name in the h= list the last not-yet-consumed instance,
// scanning bottom-up. Names with no instance left select nothing. ARC
// message signatures use the same selection.
func SelectFields(fields []string, names []string) []string {
	next := make(map[string]int)
	var res []string
	for _, name := range names {
		lname := strings.ToLower(name)
		start, ok := next[lname]
		if !ok {
			start = len(fields)
		}

		found := -1
		for i := start - 1; i >= 0; i-- {
			if message.FieldName(fields[i]) == lname {
				found = i
				break
			}
		}
		if found == -1 {
			next[lname] = 0
			continue
		}
		next[lname] = found
		res = append(res, fields[found])
	}
	return res
}

// RemoveBValue empties the value of the b= tag while keeping the tag
// itself, as required before hashing the signature header. Splitting
// on semicolons keeps bh= and base64 padding bytes intact.
func RemoveBValue(sigField string) string {
	parts := strings.Split(sigField, ";")
	for i, part := range parts {
		trimmed := strings.TrimLeft(part, " \t\r\n")
		if !strings.HasPrefix(trimmed, "b") {
			continue
		}
		rest := strings.TrimLeft(trimmed[1:], " \t\r\n")
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		indx := strings.Index(part, "=")
		parts[i] = part[:indx+1]
		break
	}
	res := strings.Join(parts, ";")
	if !strings.HasSuffix(res, crlf) {
		res += crlf
	}
	return res
}
