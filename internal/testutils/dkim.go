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

package testutils

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/ynggny/emlprobe/internal/analyze/dkim"
)

// DKIMSigner produces real DKIM signatures for tests so that verification
// tests do not depend on brittle fixed vectors.
type DKIMSigner struct {
	Key      *rsa.PrivateKey
	Domain   string
	Selector string

	// Algorithm defaults to rsa-sha256, canonicalization to
	// relaxed/relaxed.
	Algorithm   string
	HeaderCanon string
	BodyCanon   string
}

// NewDKIMSigner generates a fresh RSA-2048 signer for the given domain and
// selector.
func NewDKIMSigner(t *testing.T, domain, selector string) *DKIMSigner {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal("generate RSA key:", err)
	}
	return &DKIMSigner{
		Key:         key,
		Domain:      domain,
		Selector:    selector,
		Algorithm:   "rsa-sha256",
		HeaderCanon: "relaxed",
		BodyCanon:   "relaxed",
	}
}

// TXTRecord returns the _domainkey record value publishing the signer's
// public key.
func (s *DKIMSigner) TXTRecord() string {
	der, err := x509.MarshalPKIXPublicKey(&s.Key.PublicKey)
	if err != nil {
		panic(err)
	}
	return "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(der)
}

// KeyFQDN returns the DNS name the TXT record should be served at, with
// the trailing dot mockdns zones want.
func (s *DKIMSigner) KeyFQDN() string {
	return s.Selector + "._domainkey." + s.Domain + "."
}

// Sign signs the message and returns a complete DKIM-Signature field
// (trailing CRLF included) to prepend to the header block. fields are raw
// header fields, signedNames the h= list.
func (s *DKIMSigner) Sign(t *testing.T, fields []string, body []byte, signedNames []string) string {
	t.Helper()

	bodyHash := s.hashSum(dkim.CanonicalizeBody(body, s.BodyCanon))

	sigValue := "v=1; a=" + s.Algorithm +
		"; c=" + s.HeaderCanon + "/" + s.BodyCanon +
		"; d=" + s.Domain +
		"; s=" + s.Selector +
		"; h=" + strings.Join(signedNames, ":") +
		"; bh=" + base64.StdEncoding.EncodeToString(bodyHash) +
		"; b="

	var input strings.Builder
	for _, name := range signedNames {
		field := lastField(fields, name)
		if field == "" {
			continue
		}
		input.WriteString(dkim.CanonicalizeHeader(field, s.HeaderCanon))
	}
	input.WriteString(dkim.CanonicalizeHeader("DKIM-Signature: "+sigValue+"\r\n", s.HeaderCanon))
	signed := strings.TrimSuffix(input.String(), "\r\n")

	var hash crypto.Hash
	if s.Algorithm == "rsa-sha1" {
		hash = crypto.SHA1
	} else {
		hash = crypto.SHA256
	}
	h := hash.New()
	h.Write([]byte(signed))

	sig, err := rsa.SignPKCS1v15(rand.Reader, s.Key, hash, h.Sum(nil))
	if err != nil {
		t.Fatal("sign:", err)
	}

	return "DKIM-Signature: " + sigValue + base64.StdEncoding.EncodeToString(sig) + "\r\n"
}

func (s *DKIMSigner) hashSum(b []byte) []byte {
	if s.Algorithm == "rsa-sha1" {
		sum := sha1.Sum(b)
		return sum[:]
	}
	sum := sha256.Sum256(b)
	return sum[:]
}

func lastField(fields []string, name string) string {
	name = strings.ToLower(name)
	for i := len(fields) - 1; i >= 0; i-- {
		fieldName, _, ok := strings.Cut(fields[i], ":")
		if !ok {
			continue
		}
		if strings.ToLower(strings.TrimSpace(fieldName)) == name {
			return fields[i]
		}
	}
	return ""
}
