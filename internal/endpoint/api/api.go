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

// Package api implements the HTTP API endpoint.
//
// All responses are JSON and carry permissive CORS headers. Admin routes
// sit behind HTTP Basic auth, download routes behind HMAC-signed tokens.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ynggny/emlprobe/framework/config"
	"github.com/ynggny/emlprobe/framework/dns"
	"github.com/ynggny/emlprobe/framework/log"
	"github.com/ynggny/emlprobe/framework/module"
	"github.com/ynggny/emlprobe/internal/analyze"
	"github.com/ynggny/emlprobe/internal/audit"
)

const modName = "api"

type Endpoint struct {
	addrs  []string
	logger log.Logger

	analyzer *analyze.Analyzer
	resolver dns.Resolver
	audit    *audit.Store

	adminUser string
	adminHash string
	maxBody   int64
	deadline  time.Duration

	listenersWg sync.WaitGroup
	serv        http.Server
	mux         *http.ServeMux
}

func New(_ string, args []string) (module.Module, error) {
	return &Endpoint{
		addrs:  args,
		logger: log.Logger{Name: modName, Debug: log.DefaultLogger.Debug},
	}, nil
}

func (e *Endpoint) Name() string {
	return modName
}

func (e *Endpoint) InstanceName() string {
	return ""
}

func (e *Endpoint) Init(cfg *config.Map) error {
	var (
		dohURL    string
		auditName string
	)
	cfg.Bool("debug", true, false, &e.logger.Debug)
	cfg.String("doh_url", false, false, "", &dohURL)
	cfg.String("audit", false, false, "audit", &auditName)
	cfg.String("admin_username", false, false, "", &e.adminUser)
	cfg.String("admin_password_hash", false, false, "", &e.adminHash)
	cfg.DataSize("max_body", false, false, 25*1024*1024, &e.maxBody)
	cfg.Duration("deadline", false, false, 10*time.Second, &e.deadline)
	if _, err := cfg.Process(); err != nil {
		return err
	}

	if dohURL == "" {
		dohURL = os.Getenv("DOH_URL")
	}
	e.resolver = dns.NewDoHResolver(dohURL)
	e.analyzer = &analyze.Analyzer{
		Resolver: e.resolver,
		Log:      e.logger.Sublogger("analyze"),
	}

	if e.adminUser == "" {
		e.adminUser = os.Getenv("ADMIN_USERNAME")
	}
	if e.adminHash == "" {
		e.adminHash = os.Getenv("ADMIN_PASSWORD_HASH")
	}

	if module.HasInstance(auditName) {
		inst, err := module.GetInstance(auditName)
		if err != nil {
			return fmt.Errorf("%s: %w", modName, err)
		}
		store, ok := inst.(*audit.Store)
		if !ok {
			return fmt.Errorf("%s: %s is not an audit store", modName, auditName)
		}
		e.audit = store
	}

	e.serv.Handler = e.buildMux()

	for _, a := range e.addrs {
		a := a
		endp, err := config.ParseEndpoint(a)
		if err != nil {
			return fmt.Errorf("%s: malformed endpoint: %v", modName, err)
		}
		if endp.IsTLS() {
			return fmt.Errorf("%s: TLS is not supported yet", modName)
		}
		l, err := net.Listen(endp.Network(), endp.Address())
		if err != nil {
			return fmt.Errorf("%s: %v", modName, err)
		}

		e.listenersWg.Add(1)
		go func() {
			e.logger.Println("listening on", endp.String())
			err := e.serv.Serve(l)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("serve failed", err, "endpoint", a)
			}
			e.listenersWg.Done()
		}()
	}

	return nil
}

func (e *Endpoint) buildMux() *http.ServeMux {
	e.mux = http.NewServeMux()
	e.mux.HandleFunc("/api/verify", e.wrap(http.MethodPost, e.handleVerify))
	e.mux.HandleFunc("/api/store", e.wrap(http.MethodPost, e.handleStore))
	e.mux.HandleFunc("/api/analyze", e.wrap(http.MethodPost, e.handleAnalyzeFull))
	e.mux.HandleFunc("/api/analyze/quick", e.wrap(http.MethodPost, e.handleAnalyzeQuick))
	e.mux.HandleFunc("/api/security/dkim", e.wrap(http.MethodPost, e.handleSecurityDKIM))
	e.mux.HandleFunc("/api/security/arc", e.wrap(http.MethodPost, e.handleSecurityARC))
	e.mux.HandleFunc("/api/security/confusables", e.wrap(http.MethodPost, e.handleConfusables))
	e.mux.HandleFunc("/api/dns/", e.wrap(http.MethodGet, e.handleDNS))
	e.mux.HandleFunc("/api/health", e.wrap(http.MethodGet, e.handleHealth))
	e.mux.HandleFunc("/api/admin/", e.wrap("", e.requireAdmin(e.handleAdmin)))
	e.mux.HandleFunc("/api/download/", e.wrap(http.MethodGet, e.handleDownload))
	e.mux.HandleFunc("/api/export/prepare", e.wrap(http.MethodPost, e.handleExportPrepare))
	e.mux.HandleFunc("/api/export/download/", e.wrap(http.MethodGet, e.handleExportDownload))
	return e.mux
}

func (e *Endpoint) Close() error {
	if err := e.serv.Close(); err != nil {
		return err
	}
	e.listenersWg.Wait()
	return nil
}

// wrap applies CORS, the preflight short-circuit, the method check and
// the body size cap. method "" allows any method (per-route dispatch
// happens in the handler).
func (e *Endpoint) wrap(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if method != "" && r.Method != method {
			e.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, e.maxBody)
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		h(rec, r)
		observeRequest(r.Method, r.URL.Path, rec.code, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (e *Endpoint) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		e.logger.Error("response write failed", err)
	}
}

func (e *Endpoint) writeError(w http.ResponseWriter, code int, msg string) {
	e.writeJSON(w, code, map[string]string{"error": msg})
}

// readJSON decodes the request body, mapping decode failures to a 400.
func (e *Endpoint) readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		e.writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

// auditStore fails the request when no audit backend is configured.
func (e *Endpoint) auditStore(w http.ResponseWriter) *audit.Store {
	if e.audit == nil {
		e.writeError(w, http.StatusInternalServerError, "audit store is not configured")
		return nil
	}
	return e.audit
}

func init() {
	module.RegisterEndpoint(modName, New)
}
