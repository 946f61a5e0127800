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

package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/GehirnInc/crypt"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifyPassword(t *testing.T) {
	if !verifyPassword(sha256Hex("hunter2"), "hunter2") {
		t.Error("sha256-hex hash rejected")
	}
	if verifyPassword(sha256Hex("hunter2"), "wrong") {
		t.Error("sha256-hex hash accepted a wrong password")
	}

	bcryptHash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if !verifyPassword(string(bcryptHash), "hunter2") {
		t.Error("bcrypt hash rejected")
	}
	if verifyPassword(string(bcryptHash), "wrong") {
		t.Error("bcrypt hash accepted a wrong password")
	}

	cryptHash, err := crypt.SHA256.New().Generate([]byte("hunter2"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !verifyPassword(cryptHash, "hunter2") {
		t.Error("crypt(3) hash rejected")
	}
	if verifyPassword(cryptHash, "wrong") {
		t.Error("crypt(3) hash accepted a wrong password")
	}

	// Unknown $-prefixed schemes must fail closed, not panic.
	if verifyPassword("$9$bogus$hash", "hunter2") {
		t.Error("unknown scheme accepted")
	}
}

func TestAdminAuth(t *testing.T) {
	srv := newTestEndpoint(t, nil)

	// No credentials.
	resp, err := http.Get(srv.URL + "/api/admin/records")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong status: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != `Basic realm="Admin Area"` {
		t.Errorf("wrong challenge: %q", got)
	}

	// Wrong password.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/admin/records", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong status for bad password: %d", resp.StatusCode)
	}

	// Valid credentials.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/admin/records", nil)
	req.SetBasicAuth("admin", "hunter2")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("wrong status for valid auth: %d", resp.StatusCode)
	}

	var body struct {
		Records []apiRecord `json:"records"`
		Total   int         `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 0 || len(body.Records) != 0 {
		t.Errorf("expected an empty listing: %+v", body)
	}
}

func TestAdminListAndStats(t *testing.T) {
	srv := newTestEndpoint(t, nil)

	adminDo := func(method, path string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(method, srv.URL+path, nil)
		req.SetBasicAuth("admin", "hunter2")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	for _, meta := range []map[string]string{
		{"fromDomain": "alpha.example", "subject": "invoice"},
		{"fromDomain": "alpha.example", "subject": "reminder"},
		{"fromDomain": "beta.example", "subject": "hello"},
	} {
		resp := postJSON(t, srv.URL+"/api/store", map[string]interface{}{
			"emlBase64": base64.StdEncoding.EncodeToString([]byte("From: x@" + meta["fromDomain"] + "\r\n\r\n.")),
			"metadata":  meta,
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("store failed: %d", resp.StatusCode)
		}
	}

	resp := adminDo(http.MethodGet, "/api/admin/records?domain=alpha.example")
	var listing struct {
		Records []apiRecord `json:"records"`
		Total   int         `json:"total"`
	}
	decodeBody(t, resp, &listing)
	if listing.Total != 2 {
		t.Errorf("wrong filtered total: %+v", listing)
	}

	resp = adminDo(http.MethodGet, "/api/admin/summary")
	var summary struct {
		TotalRecords  int `json:"totalRecords"`
		UniqueDomains int `json:"uniqueDomains"`
	}
	decodeBody(t, resp, &summary)
	if summary.TotalRecords != 3 || summary.UniqueDomains != 2 {
		t.Errorf("wrong summary: %+v", summary)
	}

	resp = adminDo(http.MethodGet, "/api/admin/domains")
	var domains struct {
		Domains []struct {
			Domain string `json:"domain"`
			Count  int    `json:"count"`
		} `json:"domains"`
	}
	decodeBody(t, resp, &domains)
	if len(domains.Domains) != 2 || domains.Domains[0].Domain != "alpha.example" {
		t.Errorf("wrong domains: %+v", domains)
	}

	resp = adminDo(http.MethodGet, "/api/admin/nonsense")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown admin route: %d", resp.StatusCode)
	}
}
