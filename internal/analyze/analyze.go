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

// Package analyze fans the analysis factors out over goroutines, joins
// them and scores the combined result. A factor failing or timing out
// surfaces only in that factor's issues, never as an analysis failure.
package analyze

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ynggny/emlprobe/framework/dns"
	"github.com/ynggny/emlprobe/framework/log"
	"github.com/ynggny/emlprobe/internal/analyze/arc"
	"github.com/ynggny/emlprobe/internal/analyze/attachments"
	"github.com/ynggny/emlprobe/internal/analyze/auth"
	"github.com/ynggny/emlprobe/internal/analyze/bec"
	"github.com/ynggny/emlprobe/internal/analyze/dkim"
	"github.com/ynggny/emlprobe/internal/analyze/domain"
	"github.com/ynggny/emlprobe/internal/analyze/headers"
	"github.com/ynggny/emlprobe/internal/analyze/links"
	"github.com/ynggny/emlprobe/internal/analyze/tlspath"
	"github.com/ynggny/emlprobe/internal/message"
	"github.com/ynggny/emlprobe/internal/scoring"
)

// Version is stamped into every response.
const Version = "1.4.0"

// Response is the full analysis result. DKIM and ARC are nil for quick
// analyses.
type Response struct {
	Auth        auth.Result        `json:"authentication"`
	DKIM        *dkim.Result       `json:"dkim,omitempty"`
	ARC         *arc.Result        `json:"arc,omitempty"`
	TLS         tlspath.Result     `json:"tlsPath"`
	Links       links.Result       `json:"links"`
	Attachments attachments.Result `json:"attachments"`
	BEC         bec.Result         `json:"bec"`
	Domain      domain.Result      `json:"domain"`
	Headers     headers.Result     `json:"headerConsistency"`

	Score scoring.Score `json:"securityScore"`

	AnalyzedAt string `json:"analyzedAt"`
	Version    string `json:"version"`
}

// Analyzer runs analyses. Resolver must be set for full analyses.
type Analyzer struct {
	Resolver dns.Resolver
	Log      log.Logger

	// FactorTimeout bounds each DNS-dependent factor. Zero means the
	// 5 second default.
	FactorTimeout time.Duration

	// Now is overridden in tests.
	Now func() time.Time
}

func (a *Analyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Analyzer) factorTimeout() time.Duration {
	if a.FactorTimeout != 0 {
		return a.FactorTimeout
	}
	return 5 * time.Second
}

// AnalyzeFull runs all factors, DKIM and ARC included.
func (a *Analyzer) AnalyzeFull(ctx context.Context, req *message.AnalysisRequest) *Response {
	return a.run(ctx, req, true)
}

// AnalyzeQuick runs the pure-CPU factors only.
func (a *Analyzer) AnalyzeQuick(ctx context.Context, req *message.AnalysisRequest) *Response {
	return a.run(ctx, req, false)
}

func (a *Analyzer) run(ctx context.Context, req *message.AnalysisRequest, full bool) *Response {
	resp := &Response{
		AnalyzedAt: a.now().UTC().Format(time.RFC3339),
		Version:    Version,
	}

	var wg sync.WaitGroup

	// Each factor writes to its own pre-allocated slot, so the barrier
	// is the only synchronization needed.
	spawn := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.Log.Msg("factor panicked", "factor", name, "panic", r,
						"stack", string(debug.Stack()))
				}
			}()
			fn()
		}()
	}

	if full {
		spawn("dkim", func() {
			ctx, cancel := context.WithTimeout(ctx, a.factorTimeout())
			defer cancel()
			v := dkim.Verifier{Resolver: a.Resolver, Log: a.Log.Sublogger("dkim")}
			res := v.Verify(ctx, req)
			if ctx.Err() != nil && res.Status != "pass" {
				res.Status = "temperror"
				res.Issues = append(res.Issues, "analysis timed out")
			}
			resp.DKIM = &res
		})
		spawn("arc", func() {
			ctx, cancel := context.WithTimeout(ctx, a.factorTimeout())
			defer cancel()
			v := arc.Verifier{Resolver: a.Resolver, Log: a.Log.Sublogger("arc")}
			res := v.Verify(ctx, req)
			if ctx.Err() != nil && res.Status == "fail" {
				res.Issues = append(res.Issues, "analysis timed out")
			}
			resp.ARC = &res
		})
	}

	spawn("auth", func() { resp.Auth = auth.Evaluate(req) })
	spawn("tlspath", func() { resp.TLS = tlspath.Analyze(req) })
	spawn("links", func() { resp.Links = links.Analyze(req) })
	spawn("attachments", func() { resp.Attachments = attachments.Analyze(req) })
	spawn("bec", func() { resp.BEC = bec.Analyze(req) })
	spawn("domain", func() { resp.Domain = domain.Analyze(req.FromDomain()) })
	spawn("headers", func() {
		c := headers.Checker{Now: a.Now}
		resp.Headers = c.Check(req)
	})

	wg.Wait()

	resp.Score = scoring.Compute(scoring.Input{
		Auth:        resp.Auth,
		DKIM:        resp.DKIM,
		Domain:      resp.Domain,
		Links:       resp.Links,
		Attachments: resp.Attachments,
		BEC:         resp.BEC,
		TLS:         resp.TLS,
		Headers:     resp.Headers,
	})
	return resp
}

// AnalyzeDomains is the batch entry point for the confusables endpoint.
func AnalyzeDomains(domains []string) ([]domain.Result, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("no domains given")
	}
	res := make([]domain.Result, 0, len(domains))
	for _, d := range domains {
		res = append(res, domain.Analyze(d))
	}
	return res, nil
}
