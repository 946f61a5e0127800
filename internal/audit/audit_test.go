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

package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ynggny/emlprobe/framework/module"
	"github.com/ynggny/emlprobe/internal/audit/catalog"
	"github.com/ynggny/emlprobe/internal/audit/token"
	"github.com/ynggny/emlprobe/internal/storage/blob/fs"
	"github.com/ynggny/emlprobe/internal/testutils"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mod, err := fs.New("storage.blob.fs", "test", nil, []string{t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Open("sqlite",
		"file:"+filepath.Join(t.TempDir(), "audit.db")+"?_time_format=sqlite")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })

	return &Store{
		instName:  "test",
		log:       testutils.Logger(t, "audit"),
		blobs:     mod.(module.BlobStore),
		cat:       cat,
		signer:    token.NewSigner([]byte("test-secret")),
		origin:    "https://probe.example.org",
		retention: 90 * 24 * time.Hour,
		exports:   map[string]time.Time{},
		now:       time.Now,
	}
}

var testEml = []byte("From: sender@example.org\r\nSubject: test\r\n\r\nbody\r\n")

func TestStoreAndVerify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	longSubject := strings.Repeat("x", 150)
	res, err := s.Store(ctx, testEml, Metadata{
		FromDomain: "Example.ORG",
		Subject:    longSubject,
		Extra:      []byte(`{"source":"test"}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	sum := sha256.Sum256(testEml)
	if res.Hash != hex.EncodeToString(sum[:]) {
		t.Errorf("wrong hash: %s", res.Hash)
	}

	rec, err := s.Get(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.FromDomain != "example.org" {
		t.Errorf("domain not folded: %s", rec.FromDomain)
	}
	if len(rec.SubjectPreview) != 100 {
		t.Errorf("subject not truncated: %d chars", len(rec.SubjectPreview))
	}
	if !rec.ExpiresAt.Equal(rec.StoredAt.Add(90 * 24 * time.Hour)) {
		t.Errorf("wrong expiry: stored %v, expires %v", rec.StoredAt, rec.ExpiresAt)
	}

	ver, err := s.Verify(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ver.IsValid || ver.Calculated != ver.Stored {
		t.Errorf("verify failed on intact record: %+v", ver)
	}
}

func TestVerify_MissingBlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Store(ctx, testEml, Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.blobs.Delete(ctx, []string{"eml/" + res.ID}); err != nil {
		t.Fatal(err)
	}

	ver, err := s.Verify(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ver.IsValid {
		t.Error("verify passed with missing blob")
	}
	if ver.Calculated != "" {
		t.Errorf("expected empty calculated hash: %s", ver.Calculated)
	}
	if ver.Stored != res.Hash {
		t.Errorf("stored hash should come from the catalog: %s", ver.Stored)
	}
}

func TestPresignDownload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Store(ctx, testEml, Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	url, err := s.Presign(ctx, res.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	const prefix = "https://probe.example.org/api/download/"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("wrong url: %s", url)
	}
	tok := strings.TrimPrefix(url, prefix)

	// Presigned URLs stay valid for the whole TTL and can be reused.
	for i := 0; i < 2; i++ {
		rc, id, err := s.Download(ctx, tok)
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if id != res.ID || !bytes.Equal(data, testEml) {
			t.Errorf("wrong download: id=%s len=%d", id, len(data))
		}
	}

	if _, err := s.Presign(ctx, "no-such-id", time.Hour); !errors.Is(err, catalog.ErrNoRecord) {
		t.Errorf("expected ErrNoRecord, got %v", err)
	}
}

func TestDownload_BadTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Store(ctx, testEml, Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.Download(ctx, "garbage"); err == nil {
		t.Error("expected an error for a garbage token")
	}

	expired, err := s.signer.Generate(res.ID, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Download(ctx, expired); !errors.Is(err, token.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}

	other := token.NewSigner([]byte("other-secret"))
	forged, err := other.Generate(res.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Download(ctx, forged); !errors.Is(err, token.ErrBadSig) {
		t.Errorf("expected ErrBadSig, got %v", err)
	}
}

func TestDelete_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Store(ctx, testEml, Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := s.signer.Generate(res.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, res.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, res.ID); !errors.Is(err, catalog.ErrNoRecord) {
		t.Errorf("row should be gone: %v", err)
	}
	// A still-valid token must not resurrect a deleted record.
	if _, _, err := s.Download(ctx, tok); !errors.Is(err, module.ErrNoSuchBlob) {
		t.Errorf("blob should be gone: %v", err)
	}
}

func TestBulkDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := s.Store(ctx, append(testEml, byte('0'+i)), Metadata{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, res.ID)
	}

	n, err := s.BulkDelete(ctx, []string{ids[0], ids[2], "no-such-id"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if _, err := s.Get(ctx, ids[1]); err != nil {
		t.Errorf("untouched record should survive: %v", err)
	}
}

func TestExport_OneShot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data := []byte("id,hash\r\nabc,def\r\n")
	url, err := s.PrepareExport(ctx, "records.csv", "text/csv", data, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	const prefix = "https://probe.example.org/api/export/download/"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("wrong url: %s", url)
	}
	tok := strings.TrimPrefix(url, prefix)

	pe, err := s.DownloadExport(ctx, tok)
	if err != nil {
		t.Fatal(err)
	}
	if pe.Filename != "records.csv" || pe.ContentType != "text/csv" || !bytes.Equal(pe.Data, data) {
		t.Errorf("wrong export: %+v", pe)
	}

	// Unlike record downloads, export URLs burn on first use.
	if _, err := s.DownloadExport(ctx, tok); !errors.Is(err, module.ErrNoSuchBlob) {
		t.Errorf("expected ErrNoSuchBlob on reuse, got %v", err)
	}
}

func TestSweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	res, err := s.Store(ctx, testEml, Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	exportURL, err := s.PrepareExport(ctx, "stale.csv", "text/csv", []byte("x"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	// Nothing is expired yet.
	s.sweep(ctx)
	if _, err := s.Get(ctx, res.ID); err != nil {
		t.Fatalf("record swept too early: %v", err)
	}

	s.now = func() time.Time { return base.Add(91 * 24 * time.Hour) }
	s.sweep(ctx)

	if _, err := s.Get(ctx, res.ID); !errors.Is(err, catalog.ErrNoRecord) {
		t.Errorf("expired record should be gone: %v", err)
	}
	if _, err := s.blobs.Open(ctx, "eml/"+res.ID); !errors.Is(err, module.ErrNoSuchBlob) {
		t.Errorf("expired blob should be gone: %v", err)
	}

	tok := strings.TrimPrefix(exportURL, "https://probe.example.org/api/export/download/")
	if _, err := s.DownloadExport(ctx, tok); err == nil {
		t.Error("stale export should be gone")
	}
}
