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

// Package token implements the stateless HMAC-signed download tokens.
//
// A token is base64url(JSON{id, exp}) + "." + hex(HMAC-SHA256 over the
// JSON payload). The holder cannot alter the id or extend the expiry
// without the secret.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrMalformed = errors.New("token: malformed token")
	ErrBadSig    = errors.New("token: signature mismatch")
	ErrExpired   = errors.New("token: expired")
)

type payload struct {
	ID  string `json:"id"`
	Exp int64  `json:"exp"`
}

// Signer issues and checks tokens. The secret is read-only after
// startup.
type Signer struct {
	secret []byte

	// now is overridden in tests.
	now func() time.Time
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Generate issues a token for id that expires after ttl.
func (s *Signer) Generate(id string, ttl time.Duration) (string, error) {
	raw, err := json.Marshal(payload{ID: id, Exp: s.now().Add(ttl).Unix()})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw) + "." + hex.EncodeToString(s.sign(raw)), nil
}

// Verify checks the token signature and expiry and returns the embedded
// id. The signature compare is constant-time.
func (s *Signer) Verify(token string) (string, error) {
	encoded, sigHex, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", ErrMalformed
	}

	if !hmac.Equal(sig, s.sign(raw)) {
		return "", ErrBadSig
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", ErrMalformed
	}
	if p.ID == "" {
		return "", ErrMalformed
	}
	if p.Exp <= s.now().Unix() {
		return "", ErrExpired
	}
	return p.ID, nil
}

func (s *Signer) sign(raw []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)
	return mac.Sum(nil)
}
