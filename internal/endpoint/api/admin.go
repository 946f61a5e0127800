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
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/sha256_crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"
	"golang.org/x/crypto/bcrypt"

	"github.com/ynggny/emlprobe/framework/module"
	"github.com/ynggny/emlprobe/internal/audit/catalog"
)

func (e *Endpoint) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !e.checkAdmin(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Admin Area"`)
			e.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		h(w, r)
	}
}

func (e *Endpoint) checkAdmin(user, pass string) bool {
	if e.adminUser == "" || e.adminHash == "" {
		return false
	}
	userOk := subtle.ConstantTimeCompare([]byte(user), []byte(e.adminUser)) == 1
	return verifyPassword(e.adminHash, pass) && userOk
}

// verifyPassword accepts bcrypt ($2...), crypt(3) SHA-256/SHA-512
// ($5$/$6$) and the default bare sha256-hex form.
func verifyPassword(hash, pass string) (ok bool) {
	switch {
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil
	case strings.HasPrefix(hash, "$5$"), strings.HasPrefix(hash, "$6$"):
		// crypt.NewFromHash panics on an unknown hash function.
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		return crypt.NewFromHash(hash).Verify(hash, []byte(pass)) == nil
	default:
		sum := sha256.Sum256([]byte(pass))
		computed := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(hash))) == 1
	}
}

// handleAdmin dispatches /api/admin/... by hand. ServeMux cannot route
// the /records/{id}/... shapes on its own.
func (e *Endpoint) handleAdmin(w http.ResponseWriter, r *http.Request) {
	store := e.auditStore(w)
	if store == nil {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/admin/")
	switch {
	case rest == "records" && r.Method == http.MethodGet:
		e.handleAdminList(w, r)
	case rest == "records/bulk-delete" && r.Method == http.MethodPost:
		e.handleAdminBulkDelete(w, r)
	case strings.HasPrefix(rest, "records/"):
		e.handleAdminRecord(w, r, strings.TrimPrefix(rest, "records/"))
	case rest == "summary" && r.Method == http.MethodGet:
		e.handleAdminSummary(w, r)
	case rest == "domains" && r.Method == http.MethodGet:
		e.handleAdminDomains(w, r)
	case rest == "stats" && r.Method == http.MethodGet:
		e.handleAdminStats(w, r)
	case rest == "export" && r.Method == http.MethodGet:
		e.handleAdminExport(w, r)
	default:
		e.writeError(w, http.StatusNotFound, "no such endpoint")
	}
}

// apiRecord is the JSON shape of a catalog row.
type apiRecord struct {
	ID             string `json:"id"`
	Hash           string `json:"hash"`
	FromDomain     string `json:"fromDomain,omitempty"`
	SubjectPreview string `json:"subjectPreview,omitempty"`
	StoredAt       string `json:"storedAt"`
	ExpiresAt      string `json:"expiresAt"`
	Metadata       string `json:"metadata,omitempty"`
}

func toAPIRecord(rec catalog.Record) apiRecord {
	return apiRecord{
		ID:             rec.ID,
		Hash:           rec.HashSHA256,
		FromDomain:     rec.FromDomain,
		SubjectPreview: rec.SubjectPreview,
		StoredAt:       rec.StoredAt.UTC().Format(time.RFC3339),
		ExpiresAt:      rec.ExpiresAt.UTC().Format(time.RFC3339),
		Metadata:       rec.Metadata,
	}
}

func (e *Endpoint) handleAdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.ListFilters{
		Search:     q.Get("search"),
		Domain:     q.Get("domain"),
		HashPrefix: q.Get("hashPrefix"),
		SortBy:     q.Get("sortBy"),
		SortDir:    q.Get("sortDir"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			e.writeError(w, http.StatusBadRequest, "malformed from date")
			return
		}
		f.After = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			e.writeError(w, http.StatusBadRequest, "malformed to date")
			return
		}
		f.Before = t
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	recs, total, err := e.audit.List(r.Context(), f)
	if err != nil {
		e.logger.Error("list failed", err)
		e.writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	out := make([]apiRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toAPIRecord(rec))
	}
	e.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": out,
		"total":   total,
	})
}

// handleAdminRecord routes records/{id}, records/{id}/download,
// records/{id}/presign and records/{id}/verify.
func (e *Endpoint) handleAdminRecord(w http.ResponseWriter, r *http.Request, rest string) {
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		e.writeError(w, http.StatusNotFound, "no such endpoint")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		rec, err := e.audit.Get(r.Context(), id)
		if err != nil {
			e.writeRecordError(w, err)
			return
		}
		e.writeJSON(w, http.StatusOK, toAPIRecord(rec))

	case action == "" && r.Method == http.MethodDelete:
		if err := e.audit.Delete(r.Context(), id); err != nil {
			e.writeRecordError(w, err)
			return
		}
		observeAuditOp("delete")
		e.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})

	case action == "download" && r.Method == http.MethodGet:
		rc, err := e.audit.OpenRaw(r.Context(), id)
		if err != nil {
			e.writeRecordError(w, err)
			return
		}
		defer rc.Close()
		observeAuditOp("download")
		w.Header().Set("Content-Type", "message/rfc822")
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.eml"`)
		if _, err := io.Copy(w, rc); err != nil {
			e.logger.Error("download stream failed", err, "id", id)
		}

	case action == "presign" && r.Method == http.MethodPost:
		minutes, err := strconv.Atoi(r.URL.Query().Get("expires"))
		if err != nil || minutes <= 0 {
			minutes = 60
		}
		ttl := time.Duration(minutes) * time.Minute
		url, err := e.audit.Presign(r.Context(), id, ttl)
		if err != nil {
			e.writeRecordError(w, err)
			return
		}
		e.writeJSON(w, http.StatusOK, map[string]string{
			"url":       url,
			"expiresAt": time.Now().UTC().Add(ttl).Format(time.RFC3339),
		})

	case action == "verify" && r.Method == http.MethodPost:
		res, err := e.audit.Verify(r.Context(), id)
		if err != nil {
			e.writeRecordError(w, err)
			return
		}
		observeAuditOp("verify")
		e.writeJSON(w, http.StatusOK, res)

	default:
		e.writeError(w, http.StatusNotFound, "no such endpoint")
	}
}

func (e *Endpoint) handleAdminBulkDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if !e.readJSON(w, r, &body) {
		return
	}
	if len(body.IDs) == 0 {
		e.writeError(w, http.StatusBadRequest, "ids are required")
		return
	}

	n, err := e.audit.BulkDelete(r.Context(), body.IDs)
	if err != nil {
		e.logger.Error("bulk delete failed", err)
		e.writeError(w, http.StatusInternalServerError, "failed to delete records")
		return
	}
	observeAuditOp("delete")
	e.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (e *Endpoint) handleAdminSummary(w http.ResponseWriter, r *http.Request) {
	st, err := e.audit.Stats(r.Context())
	if err != nil {
		e.logger.Error("summary failed", err)
		e.writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	e.writeJSON(w, http.StatusOK, map[string]int{
		"totalRecords":  st.TotalRecords,
		"uniqueDomains": st.UniqueDomains,
	})
}

func (e *Endpoint) handleAdminDomains(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	counts, err := e.audit.DomainCounts(r.Context(), limit)
	if err != nil {
		e.logger.Error("domains failed", err)
		e.writeError(w, http.StatusInternalServerError, "failed to read domains")
		return
	}

	type domainCount struct {
		Domain string `json:"domain"`
		Count  int    `json:"count"`
	}
	out := make([]domainCount, 0, len(counts))
	for _, dc := range counts {
		out = append(out, domainCount{Domain: dc.Domain, Count: dc.Count})
	}
	e.writeJSON(w, http.StatusOK, map[string]interface{}{"domains": out})
}

func (e *Endpoint) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	st, err := e.audit.Stats(r.Context())
	if err != nil {
		e.logger.Error("stats failed", err)
		e.writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	counts, err := e.audit.DomainCounts(r.Context(), 10)
	if err != nil {
		e.logger.Error("stats failed", err)
		e.writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	resp := map[string]interface{}{
		"totalRecords":  st.TotalRecords,
		"uniqueDomains": st.UniqueDomains,
		"topDomains":    counts,
	}
	if st.TotalRecords != 0 {
		resp["oldestStored"] = st.OldestStored.UTC().Format(time.RFC3339)
		resp["newestStored"] = st.NewestStored.UTC().Format(time.RFC3339)
	}
	e.writeJSON(w, http.StatusOK, resp)
}

// handleAdminExport dumps the whole catalog as a JSON attachment.
func (e *Endpoint) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	recs, err := e.audit.AllRecords(r.Context())
	if err != nil {
		e.logger.Error("export failed", err)
		e.writeError(w, http.StatusInternalServerError, "failed to export records")
		return
	}

	out := make([]apiRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toAPIRecord(rec))
	}
	observeAuditOp("export")
	w.Header().Set("Content-Disposition", `attachment; filename="records.json"`)
	e.writeJSON(w, http.StatusOK, map[string]interface{}{
		"exportedAt": time.Now().UTC().Format(time.RFC3339),
		"records":    out,
	})
}

func (e *Endpoint) writeRecordError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNoRecord) || errors.Is(err, module.ErrNoSuchBlob) {
		e.writeError(w, http.StatusNotFound, "no such record")
		return
	}
	e.logger.Error("record operation failed", err)
	e.writeError(w, http.StatusInternalServerError, "operation failed")
}
