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

// Package audit implements the evidence store: raw messages are kept in
// a blob store keyed eml/{id}, metadata lives in a SQL catalog, and
// downloads are authorized by stateless HMAC-signed tokens.
//
// A record is co-owned by the catalog row and the blob; Delete cascades
// both. A background janitor drops records past their retention window.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ynggny/emlprobe/framework/config"
	"github.com/ynggny/emlprobe/framework/log"
	"github.com/ynggny/emlprobe/framework/module"
	"github.com/ynggny/emlprobe/internal/audit/catalog"
	"github.com/ynggny/emlprobe/internal/audit/token"
)

const modName = "audit"

type Store struct {
	instName string
	log      log.Logger

	blobs  module.BlobStore
	cat    *catalog.Catalog
	signer *token.Signer
	origin string

	retention  time.Duration
	sweepEvery time.Duration

	// In-flight export blobs with their expiry, so the janitor can
	// clean up exports that were prepared but never downloaded.
	exportsLock sync.Mutex
	exports     map[string]time.Time

	janitorStop chan struct{}
	janitorDone chan struct{}

	now func() time.Time
}

func New(_, instName string, _, _ []string) (module.Module, error) {
	return &Store{
		instName: instName,
		log:      log.Logger{Name: modName},
		exports:  map[string]time.Time{},
		now:      time.Now,
	}, nil
}

func (s *Store) Name() string {
	return modName
}

func (s *Store) InstanceName() string {
	return s.instName
}

func (s *Store) Init(cfg *config.Map) error {
	var (
		driver   string
		dsnParts []string
		secret   string
	)
	cfg.Bool("debug", true, false, &s.log.Debug)
	cfg.String("driver", false, false, "sqlite3", &driver)
	cfg.StringList("dsn", false, false, []string{"emlprobe.db"}, &dsnParts)
	cfg.String("origin", false, false, "http://localhost:8080", &s.origin)
	cfg.String("token_secret", false, false, "", &secret)
	cfg.Duration("retention", false, false, 90*24*time.Hour, &s.retention)
	cfg.Duration("sweep_interval", false, false, time.Hour, &s.sweepEvery)
	cfg.Custom("blob", false, true, nil, func(m *config.Map, node config.Node) (interface{}, error) {
		if len(node.Args) == 0 {
			return nil, config.NodeErr(node, "expected a blob store type")
		}
		factory := module.Get("storage.blob." + node.Args[0])
		if factory == nil {
			return nil, config.NodeErr(node, "unknown blob store: %s", node.Args[0])
		}
		mod, err := factory("storage.blob."+node.Args[0], "", nil, node.Args[1:])
		if err != nil {
			return nil, err
		}
		if err := mod.Init(config.NewMap(m.Globals, node)); err != nil {
			return nil, err
		}
		store, ok := mod.(module.BlobStore)
		if !ok {
			return nil, config.NodeErr(node, "module %s is not a blob store", mod.Name())
		}
		return store, nil
	}, &s.blobs)
	if _, err := cfg.Process(); err != nil {
		return err
	}

	if secret == "" {
		secret = os.Getenv("TOKEN_SECRET")
	}
	if secret == "" {
		// Documented fallback for small deployments.
		secret = os.Getenv("ADMIN_PASSWORD_HASH")
	}
	if secret == "" {
		return fmt.Errorf("%s: token secret not set (token_secret directive or TOKEN_SECRET)", modName)
	}
	s.signer = token.NewSigner([]byte(secret))

	s.origin = strings.TrimSuffix(s.origin, "/")

	cat, err := catalog.Open(driver, strings.Join(dsnParts, " "))
	if err != nil {
		return fmt.Errorf("%s: %w", modName, err)
	}
	s.cat = cat

	if s.sweepEvery > 0 {
		s.janitorStop = make(chan struct{})
		s.janitorDone = make(chan struct{})
		go s.janitor()
	}

	return nil
}

func (s *Store) Close() error {
	if s.janitorStop != nil {
		close(s.janitorStop)
		<-s.janitorDone
	}
	return s.cat.Close()
}

// Metadata is the caller-supplied context stored alongside the raw
// bytes. Extra is kept as opaque JSON in the catalog row.
type Metadata struct {
	FromDomain string
	Subject    string
	Extra      json.RawMessage
}

type StoreResult struct {
	ID       string    `json:"id"`
	Hash     string    `json:"hash"`
	StoredAt time.Time `json:"storedAt"`
}

// Store writes raw under a fresh random id and records the metadata
// row. The blob is written first so a catalog row never points at a
// missing object.
func (s *Store) Store(ctx context.Context, raw []byte, meta Metadata) (StoreResult, error) {
	sum := sha256.Sum256(raw)
	res := StoreResult{
		ID:       uuid.NewString(),
		Hash:     hex.EncodeToString(sum[:]),
		StoredAt: s.now().UTC(),
	}

	if err := s.putBlob(ctx, "eml/"+res.ID, raw); err != nil {
		return StoreResult{}, fmt.Errorf("%s: store %s: %w", modName, res.ID, err)
	}

	extra := string(meta.Extra)
	if extra == "" {
		extra = "{}"
	}
	err := s.cat.Insert(ctx, catalog.Record{
		ID:             res.ID,
		HashSHA256:     res.Hash,
		FromDomain:     strings.ToLower(meta.FromDomain),
		SubjectPreview: preview(meta.Subject),
		StoredAt:       res.StoredAt,
		ExpiresAt:      res.StoredAt.Add(s.retention),
		Metadata:       extra,
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, []string{"eml/" + res.ID}); delErr != nil {
			s.log.Error("orphaned blob cleanup failed", delErr, "id", res.ID)
		}
		return StoreResult{}, fmt.Errorf("%s: store %s: %w", modName, res.ID, err)
	}

	s.log.DebugMsg("record stored", "id", res.ID, "hash", res.Hash)
	return res, nil
}

func (s *Store) putBlob(ctx context.Context, key string, data []byte) error {
	blob, err := s.blobs.Create(ctx, key, int64(len(data)))
	if err != nil {
		return err
	}
	if _, err := blob.Write(data); err != nil {
		blob.Close()
		return err
	}
	if err := blob.Sync(); err != nil {
		blob.Close()
		return err
	}
	return blob.Close()
}

func (s *Store) Get(ctx context.Context, id string) (catalog.Record, error) {
	return s.cat.Get(ctx, id)
}

func (s *Store) List(ctx context.Context, f catalog.ListFilters) ([]catalog.Record, int, error) {
	return s.cat.List(ctx, f)
}

func (s *Store) DomainCounts(ctx context.Context, limit int) ([]catalog.DomainCount, error) {
	return s.cat.DomainCounts(ctx, limit)
}

func (s *Store) Stats(ctx context.Context) (catalog.Stats, error) {
	return s.cat.Stats(ctx)
}

// AllRecords returns the full catalog for exports, bypassing the List
// pagination cap.
func (s *Store) AllRecords(ctx context.Context) ([]catalog.Record, error) {
	return s.cat.All(ctx)
}

type VerifyResult struct {
	Stored     string    `json:"stored"`
	Calculated string    `json:"calculated"`
	IsValid    bool      `json:"isValid"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Verify re-reads the stored bytes and compares their hash against the
// catalog row. A missing or unreadable blob is an integrity failure,
// not an error.
func (s *Store) Verify(ctx context.Context, id string) (VerifyResult, error) {
	rec, err := s.cat.Get(ctx, id)
	if err != nil {
		return VerifyResult{}, err
	}
	res := VerifyResult{Stored: rec.HashSHA256, CheckedAt: s.now().UTC()}

	r, err := s.blobs.Open(ctx, "eml/"+id)
	if err != nil {
		return res, nil
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return res, nil
	}
	res.Calculated = hex.EncodeToString(h.Sum(nil))
	res.IsValid = res.Calculated == res.Stored
	return res, nil
}

// Presign returns a time-limited download URL for the record. The URL
// stays valid for the whole TTL and can be used multiple times.
func (s *Store) Presign(ctx context.Context, id string, ttl time.Duration) (string, error) {
	if _, err := s.cat.Get(ctx, id); err != nil {
		return "", err
	}
	tok, err := s.signer.Generate(id, ttl)
	if err != nil {
		return "", fmt.Errorf("%s: presign %s: %w", modName, id, err)
	}
	return s.origin + "/api/download/" + tok, nil
}

// Download validates tok and opens the referenced record. Token errors
// (token.ErrBadSig, token.ErrExpired, ...) pass through unwrapped so
// the endpoint can map them to 403.
func (s *Store) Download(ctx context.Context, tok string) (io.ReadCloser, string, error) {
	id, err := s.signer.Verify(tok)
	if err != nil {
		return nil, "", err
	}
	r, err := s.blobs.Open(ctx, "eml/"+id)
	if err != nil {
		return nil, "", err
	}
	return r, id, nil
}

// OpenRaw opens the stored bytes directly, for the authenticated admin
// download path that does not go through tokens.
func (s *Store) OpenRaw(ctx context.Context, id string) (io.ReadCloser, error) {
	if _, err := s.cat.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.blobs.Open(ctx, "eml/"+id)
}

// Delete removes both the blob and the catalog row. A half-deleted
// record (blob gone, row present) is still deletable.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.blobs.Delete(ctx, []string{"eml/" + id}); err != nil {
		return fmt.Errorf("%s: delete %s: %w", modName, id, err)
	}
	return s.cat.Delete(ctx, id)
}

// BulkDelete removes the listed records and reports how many catalog
// rows were dropped.
func (s *Store) BulkDelete(ctx context.Context, ids []string) (int64, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "eml/" + id
	}
	if err := s.blobs.Delete(ctx, keys); err != nil {
		return 0, fmt.Errorf("%s: bulk delete: %w", modName, err)
	}
	return s.cat.DeleteMany(ctx, ids)
}

// PreparedExport is a rendered export persisted at exports/{exportId}
// until its one-shot download.
type PreparedExport struct {
	ExportID    string    `json:"exportId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Data        []byte    `json:"data"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// PrepareExport persists the rendered export and returns a one-shot
// download URL for it.
func (s *Store) PrepareExport(ctx context.Context, filename, contentType string, data []byte, ttl time.Duration) (string, error) {
	pe := PreparedExport{
		ExportID:    uuid.NewString(),
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		ExpiresAt:   s.now().UTC().Add(ttl),
	}
	encoded, err := json.Marshal(pe)
	if err != nil {
		return "", fmt.Errorf("%s: prepare export: %w", modName, err)
	}
	if err := s.putBlob(ctx, "exports/"+pe.ExportID, encoded); err != nil {
		return "", fmt.Errorf("%s: prepare export: %w", modName, err)
	}

	s.exportsLock.Lock()
	s.exports[pe.ExportID] = pe.ExpiresAt
	s.exportsLock.Unlock()

	tok, err := s.signer.Generate(pe.ExportID, ttl)
	if err != nil {
		return "", fmt.Errorf("%s: prepare export: %w", modName, err)
	}
	return s.origin + "/api/export/download/" + tok, nil
}

// DownloadExport validates tok, reads the prepared export and deletes
// it. The second download of the same token fails with ErrNoSuchBlob.
func (s *Store) DownloadExport(ctx context.Context, tok string) (*PreparedExport, error) {
	exportID, err := s.signer.Verify(tok)
	if err != nil {
		return nil, err
	}

	r, err := s.blobs.Open(ctx, "exports/"+exportID)
	if err != nil {
		return nil, err
	}
	var pe PreparedExport
	err = json.NewDecoder(r).Decode(&pe)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: export %s: %w", modName, exportID, err)
	}
	if !pe.ExpiresAt.After(s.now()) {
		s.dropExport(ctx, exportID)
		return nil, token.ErrExpired
	}

	s.dropExport(ctx, exportID)
	return &pe, nil
}

func (s *Store) dropExport(ctx context.Context, exportID string) {
	if err := s.blobs.Delete(ctx, []string{"exports/" + exportID}); err != nil {
		s.log.Error("export cleanup failed", err, "export_id", exportID)
	}
	s.exportsLock.Lock()
	delete(s.exports, exportID)
	s.exportsLock.Unlock()
}

func (s *Store) janitor() {
	defer close(s.janitorDone)

	t := time.NewTicker(s.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-s.janitorStop:
			return
		case <-t.C:
			s.sweep(context.Background())
		}
	}
}

// sweep drops records and exports past their expiry. Blobs go first so
// an interrupted sweep leaves rows behind for the next tick instead of
// unreachable blobs.
func (s *Store) sweep(ctx context.Context) {
	now := s.now()

	ids, err := s.cat.ExpiredBefore(ctx, now)
	if err != nil {
		s.log.Error("retention sweep failed", err)
		return
	}
	if len(ids) != 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = "eml/" + id
		}
		if err := s.blobs.Delete(ctx, keys); err != nil {
			s.log.Error("retention sweep failed", err)
			return
		}
		n, err := s.cat.DeleteMany(ctx, ids)
		if err != nil {
			s.log.Error("retention sweep failed", err)
			return
		}
		s.log.Msg("expired records removed", "count", n)
	}

	s.exportsLock.Lock()
	var staleExports []string
	for id, exp := range s.exports {
		if !exp.After(now) {
			staleExports = append(staleExports, id)
		}
	}
	s.exportsLock.Unlock()
	for _, id := range staleExports {
		s.dropExport(ctx, id)
	}
}

func preview(s string) string {
	const maxLen = 100
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}

func init() {
	module.Register(modName, New)
}
