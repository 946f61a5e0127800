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
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ynggny/emlprobe/framework/dns"
	"github.com/ynggny/emlprobe/framework/module"
	"github.com/ynggny/emlprobe/internal/analyze"
	"github.com/ynggny/emlprobe/internal/analyze/arc"
	"github.com/ynggny/emlprobe/internal/analyze/dkim"
	"github.com/ynggny/emlprobe/internal/audit"
	"github.com/ynggny/emlprobe/internal/audit/token"
	"github.com/ynggny/emlprobe/internal/message"
)

func (e *Endpoint) handleHealth(w http.ResponseWriter, r *http.Request) {
	e.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeAnalysisRequest reads an AnalysisRequest, deriving the header
// list from rawHeaders when only the raw block was sent.
func (e *Endpoint) decodeAnalysisRequest(w http.ResponseWriter, r *http.Request) *message.AnalysisRequest {
	req := &message.AnalysisRequest{}
	if !e.readJSON(w, r, req) {
		return nil
	}
	if len(req.Headers) == 0 && req.RawHeaders != "" {
		hdrs, err := message.ParseRawHeaders(req.RawHeaders)
		if err != nil {
			e.writeError(w, http.StatusBadRequest, "malformed rawHeaders: "+err.Error())
			return nil
		}
		req.Headers = hdrs
	}
	if len(req.Headers) == 0 {
		e.writeError(w, http.StatusBadRequest, "headers are required")
		return nil
	}
	return req
}

func (e *Endpoint) handleAnalyzeFull(w http.ResponseWriter, r *http.Request) {
	e.handleAnalyze(w, r, true)
}

func (e *Endpoint) handleAnalyzeQuick(w http.ResponseWriter, r *http.Request) {
	e.handleAnalyze(w, r, false)
}

func (e *Endpoint) handleAnalyze(w http.ResponseWriter, r *http.Request, full bool) {
	req := e.decodeAnalysisRequest(w, r)
	if req == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), e.deadline)
	defer cancel()

	start := time.Now()
	var resp *analyze.Response
	if full {
		resp = e.analyzer.AnalyzeFull(ctx, req)
	} else {
		resp = e.analyzer.AnalyzeQuick(ctx, req)
	}
	observeAnalysis(full, resp.Score.Verdict, time.Since(start))

	e.writeJSON(w, http.StatusOK, resp)
}

func (e *Endpoint) handleSecurityDKIM(w http.ResponseWriter, r *http.Request) {
	req := e.decodeAnalysisRequest(w, r)
	if req == nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), e.deadline)
	defer cancel()

	v := dkim.Verifier{Resolver: e.resolver, Log: e.logger.Sublogger("dkim")}
	e.writeJSON(w, http.StatusOK, v.Verify(ctx, req))
}

func (e *Endpoint) handleSecurityARC(w http.ResponseWriter, r *http.Request) {
	req := e.decodeAnalysisRequest(w, r)
	if req == nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), e.deadline)
	defer cancel()

	v := arc.Verifier{Resolver: e.resolver, Log: e.logger.Sublogger("arc")}
	e.writeJSON(w, http.StatusOK, v.Verify(ctx, req))
}

func (e *Endpoint) handleConfusables(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Domain  string   `json:"domain"`
		Domains []string `json:"domains"`
	}
	if !e.readJSON(w, r, &body) {
		return
	}

	if body.Domain != "" {
		body.Domains = append([]string{body.Domain}, body.Domains...)
	}
	results, err := analyze.AnalyzeDomains(body.Domains)
	if err != nil {
		e.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Domain != "" && len(body.Domains) == 1 {
		e.writeJSON(w, http.StatusOK, results[0])
		return
	}
	e.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type recordCheck struct {
	Found  bool     `json:"found"`
	Record string   `json:"record,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

// handleVerify reports the live SPF/DMARC/DKIM DNS state of a domain.
// Lookup failures become issues on the mechanism, not HTTP errors.
func (e *Endpoint) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Domain       string `json:"domain"`
		DKIMSelector string `json:"dkimSelector"`
	}
	if !e.readJSON(w, r, &body) {
		return
	}
	if body.Domain == "" {
		e.writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	domain, err := dns.ForLookup(body.Domain)
	if err != nil {
		e.writeError(w, http.StatusBadRequest, "malformed domain: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), e.deadline)
	defer cancel()

	resp := struct {
		Domain    string       `json:"domain"`
		SPF       recordCheck  `json:"spf"`
		DMARC     recordCheck  `json:"dmarc"`
		DKIM      *recordCheck `json:"dkim,omitempty"`
		CheckedAt string       `json:"checkedAt"`
	}{
		Domain:    domain,
		SPF:       e.checkTXT(ctx, domain, "v=spf1", "SPF"),
		DMARC:     e.checkTXT(ctx, "_dmarc."+domain, "v=DMARC1", "DMARC"),
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if body.DKIMSelector != "" {
		check := e.checkTXT(ctx, body.DKIMSelector+"._domainkey."+domain, "", "DKIM")
		resp.DKIM = &check
	}

	e.writeJSON(w, http.StatusOK, resp)
}

// checkTXT finds the TXT record with the given prefix. An empty prefix
// accepts any record carrying a p= tag (DKIM keys are not required to
// start with v=DKIM1).
func (e *Endpoint) checkTXT(ctx context.Context, name, prefix, mechanism string) recordCheck {
	var check recordCheck

	txts, err := e.resolver.LookupTXT(ctx, name)
	if err != nil {
		if dns.IsNotExist(err) {
			check.Issues = append(check.Issues, "no "+mechanism+" record found")
		} else {
			check.Issues = append(check.Issues, mechanism+" lookup failed: "+err.Error())
		}
		return check
	}

	var matched []string
	for _, txt := range txts {
		switch {
		case prefix != "" && strings.HasPrefix(txt, prefix):
			matched = append(matched, txt)
		case prefix == "" && (strings.HasPrefix(txt, "v=DKIM1") || strings.Contains(txt, "p=")):
			matched = append(matched, txt)
		}
	}
	switch len(matched) {
	case 0:
		check.Issues = append(check.Issues, "no "+mechanism+" record found")
	case 1:
		check.Found = true
		check.Record = matched[0]
	default:
		// Publishing several records makes the mechanism undefined for
		// most verifiers.
		check.Found = true
		check.Record = matched[0]
		check.Issues = append(check.Issues, "multiple "+mechanism+" records published")
	}
	return check
}

// handleDNS is the raw resolver passthrough: /api/dns/{type}/{name}.
func (e *Endpoint) handleDNS(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/dns/")
	qtype, name, ok := strings.Cut(rest, "/")
	if !ok || name == "" {
		e.writeError(w, http.StatusBadRequest, "expected /api/dns/{txt|a|mx|cname}/{name}")
		return
	}
	name, err := dns.ForLookup(name)
	if err != nil {
		e.writeError(w, http.StatusBadRequest, "malformed name: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), e.deadline)
	defer cancel()

	var records []string
	switch qtype {
	case "txt":
		records, err = e.resolver.LookupTXT(ctx, name)
	case "a":
		records, err = e.resolver.LookupHost(ctx, name)
	case "mx":
		mxs, mxErr := e.resolver.LookupMX(ctx, name)
		err = mxErr
		for _, mx := range mxs {
			records = append(records, strconv.Itoa(int(mx.Pref))+" "+strings.TrimSuffix(mx.Host, "."))
		}
	case "cname":
		var cname string
		cname, err = e.resolver.LookupCNAME(ctx, name)
		if err == nil {
			records = []string{strings.TrimSuffix(cname, ".")}
		}
	default:
		e.writeError(w, http.StatusBadRequest, "unknown record type: "+qtype)
		return
	}
	if err != nil {
		if dns.IsNotExist(err) {
			e.writeError(w, http.StatusNotFound, "domain not found")
			return
		}
		e.writeError(w, http.StatusInternalServerError, "lookup failed: "+err.Error())
		return
	}

	e.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    name,
		"type":    qtype,
		"records": records,
	})
}

func (e *Endpoint) handleStore(w http.ResponseWriter, r *http.Request) {
	store := e.auditStore(w)
	if store == nil {
		return
	}

	var body struct {
		EmlBase64 string          `json:"emlBase64"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if !e.readJSON(w, r, &body) {
		return
	}
	if body.EmlBase64 == "" {
		e.writeError(w, http.StatusBadRequest, "emlBase64 is required")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(body.EmlBase64)
	if err != nil {
		e.writeError(w, http.StatusBadRequest, "emlBase64 is not valid base64")
		return
	}

	var meta struct {
		FromDomain string `json:"fromDomain"`
		Subject    string `json:"subject"`
	}
	if len(body.Metadata) != 0 {
		if err := json.Unmarshal(body.Metadata, &meta); err != nil {
			e.writeError(w, http.StatusBadRequest, "malformed metadata")
			return
		}
	}

	res, err := store.Store(r.Context(), raw, audit.Metadata{
		FromDomain: meta.FromDomain,
		Subject:    meta.Subject,
		Extra:      body.Metadata,
	})
	if err != nil {
		e.logger.Error("store failed", err)
		e.writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	observeAuditOp("store")
	e.writeJSON(w, http.StatusOK, res)
}

func (e *Endpoint) handleDownload(w http.ResponseWriter, r *http.Request) {
	store := e.auditStore(w)
	if store == nil {
		return
	}

	tok := strings.TrimPrefix(r.URL.Path, "/api/download/")
	rc, id, err := store.Download(r.Context(), tok)
	if err != nil {
		e.writeTokenError(w, err)
		return
	}
	defer rc.Close()
	observeAuditOp("download")

	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.eml"`)
	if _, err := io.Copy(w, rc); err != nil {
		e.logger.Error("download stream failed", err, "id", id)
	}
}

func (e *Endpoint) handleExportPrepare(w http.ResponseWriter, r *http.Request) {
	store := e.auditStore(w)
	if store == nil {
		return
	}

	var body struct {
		Filename         string `json:"filename"`
		ContentType      string `json:"contentType"`
		DataBase64       string `json:"dataBase64"`
		ExpiresInMinutes int    `json:"expiresInMinutes"`
	}
	if !e.readJSON(w, r, &body) {
		return
	}
	if body.DataBase64 == "" {
		e.writeError(w, http.StatusBadRequest, "dataBase64 is required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(body.DataBase64)
	if err != nil {
		e.writeError(w, http.StatusBadRequest, "dataBase64 is not valid base64")
		return
	}
	if body.Filename == "" {
		body.Filename = "export.bin"
	}
	if body.ContentType == "" {
		body.ContentType = "application/octet-stream"
	}
	ttl := time.Duration(body.ExpiresInMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	url, err := store.PrepareExport(r.Context(), body.Filename, body.ContentType, data, ttl)
	if err != nil {
		e.logger.Error("export prepare failed", err)
		e.writeError(w, http.StatusInternalServerError, "failed to prepare export")
		return
	}
	e.writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":       url,
		"expiresAt": time.Now().UTC().Add(ttl).Format(time.RFC3339),
	})
}

func (e *Endpoint) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	store := e.auditStore(w)
	if store == nil {
		return
	}

	tok := strings.TrimPrefix(r.URL.Path, "/api/export/download/")
	pe, err := store.DownloadExport(r.Context(), tok)
	if err != nil {
		e.writeTokenError(w, err)
		return
	}
	observeAuditOp("export")

	w.Header().Set("Content-Type", pe.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+pe.Filename+`"`)
	if _, err := w.Write(pe.Data); err != nil {
		e.logger.Error("export stream failed", err, "export_id", pe.ExportID)
	}
}

// writeTokenError maps download failures to the error taxonomy: bad or
// expired tokens are 403, missing objects are 404.
func (e *Endpoint) writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrExpired):
		e.writeError(w, http.StatusForbidden, "token expired")
	case errors.Is(err, token.ErrBadSig), errors.Is(err, token.ErrMalformed):
		e.writeError(w, http.StatusForbidden, "invalid token")
	case errors.Is(err, module.ErrNoSuchBlob):
		e.writeError(w, http.StatusNotFound, "no such record")
	default:
		e.logger.Error("download failed", err)
		e.writeError(w, http.StatusInternalServerError, "download failed")
	}
}
