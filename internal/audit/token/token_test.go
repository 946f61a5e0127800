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

package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRoundtrip(t *testing.T) {
	s := NewSigner([]byte("secret"))

	tok, err := s.Generate("record-123", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if id != "record-123" {
		t.Errorf("wrong id: %s", id)
	}
}

func TestExpiry(t *testing.T) {
	s := NewSigner([]byte("secret"))

	tok, err := s.Generate("record-123", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}

	// Expiry exactly now is also rejected.
	now := time.Now()
	s.now = func() time.Time { return now }
	tok, _ = s.Generate("record-123", 0)
	if _, err := s.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired for zero ttl, got %v", err)
	}
}

func TestWrongSecret(t *testing.T) {
	a := NewSigner([]byte("secret-a"))
	b := NewSigner([]byte("secret-b"))

	tok, err := a.Generate("record-123", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(tok); !errors.Is(err, ErrBadSig) {
		t.Errorf("expected ErrBadSig, got %v", err)
	}
}

func TestTampered(t *testing.T) {
	s := NewSigner([]byte("secret"))
	tok, err := s.Generate("record-123", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	// Flip a byte inside the payload part.
	indx := strings.IndexByte(tok, '.')
	mutated := "A" + tok[1:indx] + tok[indx:]
	if tok[0] == 'A' {
		mutated = "B" + tok[1:indx] + tok[indx:]
	}
	if _, err := s.Verify(mutated); err == nil {
		t.Error("expected an error for tampered payload")
	}
}

func TestMalformed(t *testing.T) {
	s := NewSigner([]byte("secret"))
	for _, tok := range []string{"", "nodot", "a.b", "!!!.00", "YWJj.zz"} {
		if _, err := s.Verify(tok); err == nil {
			t.Errorf("expected an error for %q", tok)
		}
	}
}
