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

package dkim

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/ynggny/emlprobe/framework/dns"
	"github.com/ynggny/emlprobe/framework/exterrors"
)

var (
	// ErrNoKey is returned when no DKIM key record exists at the queried
	// name. It maps to temperror, the record may be propagating.
	ErrNoKey = errors.New("dkim: no key record found")

	// ErrKeyRevoked is returned for records with an empty p= tag
	// (RFC 6376 Section 3.6.1). It maps to permerror.
	ErrKeyRevoked = errors.New("dkim: key revoked (empty p= tag)")
)

// PublicKey is a parsed _domainkey TXT record.
type PublicKey struct {
	Key     *rsa.PublicKey
	KeyType string
	Flags   []string

	// KeySize is the RSA modulus size in bits.
	KeySize int
}

// Testing reports whether the record carries the y (testing) flag.
func (pk *PublicKey) Testing() bool {
	for _, f := range pk.Flags {
		if f == "y" {
			return true
		}
	}
	return false
}

// LookupKey fetches and parses the key record at {selector}._domainkey.{domain}.
// TXT chunks of a fragmented record arrive already concatenated from the
// resolver.
func LookupKey(ctx context.Context, resolver dns.Resolver, selector, domain string) (*PublicKey, error) {
	name := selector + "._domainkey." + domain

	records, err := resolver.LookupTXT(ctx, name)
	if err != nil {
		if dns.IsNotExist(err) {
			return nil, ErrNoKey
		}
		temporary, _ := exterrors.UnwrapDNSErr(err)
		if !temporary {
			return nil, ErrNoKey
		}
		return nil, exterrors.WithTemporary(fmt.Errorf("dkim: key lookup for %s: %w", name, err), true)
	}
	if len(records) == 0 {
		return nil, ErrNoKey
	}

	// Multiple TXT records at the name are not allowed by the RFC, take
	// the first one that looks like a key record.
	record := records[0]
	for _, r := range records {
		if strings.Contains(r, "p=") {
			record = r
			break
		}
	}

	return ParseKeyRecord(record)
}

// ParseKeyRecord parses the tag list of a _domainkey TXT record
// (RFC 6376 Section 3.6.1).
func ParseKeyRecord(record string) (*PublicKey, error) {
	tags, err := ParseTags(record)
	if err != nil {
		return nil, fmt.Errorf("dkim: malformed key record: %w", err)
	}

	if v, ok := tags["v"]; ok && v != "DKIM1" {
		return nil, fmt.Errorf("dkim: unsupported key record version: %s", v)
	}

	p, ok := tags["p"]
	if !ok {
		return nil, fmt.Errorf("dkim: key record without p= tag")
	}
	if p == "" {
		return nil, ErrKeyRevoked
	}

	pk := &PublicKey{KeyType: tags["k"]}
	if pk.KeyType == "" {
		pk.KeyType = "rsa"
	}
	if pk.KeyType != "rsa" {
		return nil, fmt.Errorf("dkim: unsupported key type: %s", pk.KeyType)
	}
	if t, ok := tags["t"]; ok {
		pk.Flags = strings.Split(t, ":")
	}

	der, err := base64.StdEncoding.DecodeString(p)
	if err != nil {
		return nil, fmt.Errorf("dkim: malformed p= tag: %w", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		// Some very old signers publish PKCS#1 instead of SPKI.
		rsaKey, pkcs1Err := x509.ParsePKCS1PublicKey(der)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("dkim: cannot parse public key: %w", err)
		}
		parsed = rsaKey
	}

	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("dkim: unexpected public key type: %T", parsed)
	}
	pk.Key = rsaKey
	pk.KeySize = rsaKey.N.BitLen()
	return pk, nil
}
