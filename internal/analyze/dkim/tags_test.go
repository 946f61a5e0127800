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
	"reflect"
	"testing"
)

func TestParseTags(t *testing.T) {
	tags, err := ParseTags("v=1; a=rsa-sha256;\r\n\tb=AAAA\r\n BBBB ;bh = CC CC;")
	if err != nil {
		t.Fatal(err)
	}
	expected := map[string]string{
		"v":  "1",
		"a":  "rsa-sha256",
		"b":  "AAAABBBB",
		"bh": "CCCC",
	}
	if !reflect.DeepEqual(tags, expected) {
		t.Errorf("wrong tags:\n got: %v\nwant: %v", tags, expected)
	}
}

func TestParseTags_Duplicate(t *testing.T) {
	if _, err := ParseTags("v=1; v=2"); err == nil {
		t.Error("expected an error for duplicate tag")
	}
}

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature("v=1; a=rsa-sha256; c=relaxed/simple; d=example.org; s=sel;" +
		" h=from:subject:from; bh=Zm9v; b=YmFy; t=1700000000; x=1700003600; l=42")
	if err != nil {
		t.Fatal(err)
	}

	if sig.Domain != "example.org" || sig.Selector != "sel" {
		t.Errorf("wrong domain/selector: %s/%s", sig.Domain, sig.Selector)
	}
	if !reflect.DeepEqual(sig.Headers, []string{"from", "subject", "from"}) {
		t.Errorf("wrong h= list: %v", sig.Headers)
	}
	if sig.HeaderCanonical() != "relaxed" || sig.BodyCanonical() != "simple" {
		t.Errorf("wrong canonicalization: %s/%s", sig.HeaderCanonical(), sig.BodyCanonical())
	}
	if sig.Limit != 42 {
		t.Errorf("wrong l= value: %d", sig.Limit)
	}
	if sig.Timestamp != 1700000000 || sig.Expiration != 1700003600 {
		t.Errorf("wrong t=/x= values: %d/%d", sig.Timestamp, sig.Expiration)
	}
}

func TestParseSignature_Errors(t *testing.T) {
	test := func(value string) {
		t.Helper()
		if _, err := ParseSignature(value); err == nil {
			t.Errorf("expected an error for %q", value)
		}
	}

	// Missing required tags.
	test("v=1; a=rsa-sha256; d=example.org; s=sel; h=from; bh=Zm9v")
	// Unsupported version.
	test("v=2; a=rsa-sha256; d=example.org; s=sel; h=from; bh=Zm9v; b=YmFy")
	// x= before t=.
	test("v=1; a=rsa-sha256; d=example.org; s=sel; h=from; bh=Zm9v; b=YmFy; t=200; x=100")
	// i= domain unrelated to d=.
	test("v=1; a=rsa-sha256; d=example.org; s=sel; h=from; bh=Zm9v; b=YmFy; i=@other.example")
	// Negative l=.
	test("v=1; a=rsa-sha256; d=example.org; s=sel; h=from; bh=Zm9v; b=YmFy; l=-1")
}

func TestParseSignature_DefaultCanonicalization(t *testing.T) {
	sig, err := ParseSignature("v=1; a=rsa-sha256; d=example.org; s=sel; h=from; bh=Zm9v; b=YmFy")
	if err != nil {
		t.Fatal(err)
	}
	if sig.HeaderCanonical() != "simple" || sig.BodyCanonical() != "simple" {
		t.Errorf("default canonicalization must be simple/simple, got %s/%s",
			sig.HeaderCanonical(), sig.BodyCanonical())
	}
}

func TestRemoveBValue(t *testing.T) {
	in := "DKIM-Signature: v=1; a=rsa-sha256; bh=Qb==; b=QUJD\r\n RUZH==;\r\n"
	out := RemoveBValue(in)
	expected := "DKIM-Signature: v=1; a=rsa-sha256; bh=Qb==; b=;\r\n"
	if out != expected {
		t.Errorf("wrong result:\n got: %q\nwant: %q", out, expected)
	}
}
