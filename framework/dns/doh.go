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

package dns

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/ynggny/emlprobe/framework/exterrors"
)

// DefaultDoHEndpoint is used when no URL is configured.
const DefaultDoHEndpoint = "https://cloudflare-dns.com/dns-query"

// RCodeError is returned by DoHResolver when the upstream server returns
// a non-zero RCODE.
type RCodeError struct {
	Name string
	Code int
}

func (err RCodeError) Error() string {
	return fmt.Sprintf("dns: %s lookup failed: %s", err.Name, dns.RcodeToString[err.Code])
}

// Temporary reports whether the failure may go away on retry. SERVFAIL is
// temporary, NXDOMAIN and the rest are not.
func (err RCodeError) Temporary() bool {
	return err.Code == dns.RcodeServerFailure
}

// IsNotExist returns true if err was caused by a NXDOMAIN response,
// from DoHResolver or from a net.Resolver-compatible implementation.
func IsNotExist(err error) bool {
	var rcodeErr RCodeError
	if errors.As(err, &rcodeErr) {
		return rcodeErr.Code == dns.RcodeNameError
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	return false
}

// DoHResolver implements the Resolver interface on top of a RFC 8484
// DNS-over-HTTPS server. Wire-format queries are POSTed with the
// application/dns-message media type.
//
// Responses are cached per (name, qtype) for the minimum answer TTL, capped
// at 5 minutes. NXDOMAIN responses are cached for 30 seconds. Concurrent
// queries for the same key are collapsed into a single upstream request.
//
// DoHResolver methods are goroutine-safe.
type DoHResolver struct {
	endpoint string
	cl       *http.Client

	cache cache
	group singleflight.Group
}

// NewDoHResolver creates a DoHResolver that will query the specified
// endpoint URL. If the URL is empty, DefaultDoHEndpoint is used.
func NewDoHResolver(endpoint string) *DoHResolver {
	if endpoint == "" {
		endpoint = DefaultDoHEndpoint
	}
	return &DoHResolver{
		endpoint: endpoint,
		cl: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (r *DoHResolver) exchange(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	name = dns.Fqdn(name)
	key := fmt.Sprintf("%s/%d", name, qtype)

	if rrs, ok := r.cache.get(key); ok {
		return rrs, nil
	}
	if r.cache.getNegative(key) {
		return nil, RCodeError{Name: strings.TrimSuffix(name, "."), Code: dns.RcodeNameError}
	}

	res, err, _ := r.group.Do(key, func() (interface{}, error) {
		// Check again, the cache may have been populated while we were
		// waiting for the flight lock.
		if rrs, ok := r.cache.get(key); ok {
			return rrs, nil
		}
		if r.cache.getNegative(key) {
			return nil, RCodeError{Name: strings.TrimSuffix(name, "."), Code: dns.RcodeNameError}
		}

		rrs, ttl, err := r.query(ctx, name, qtype)
		if err != nil {
			if IsNotExist(err) {
				r.cache.putNegative(key)
			}
			return nil, err
		}
		r.cache.put(key, rrs, ttl)
		return rrs, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]dns.RR), nil
}

func (r *DoHResolver) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, time.Duration, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.SetEdns0(4096, false)
	msg.RecursionDesired = true
	// RFC 8484 Section 4.1 - use a fixed ID to aid HTTP-level caching.
	msg.Id = 0

	packed, err := msg.Pack()
	if err != nil {
		return nil, 0, fmt.Errorf("doh: pack query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(packed))
	if err != nil {
		return nil, 0, fmt.Errorf("doh: %w", err)
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := r.cl.Do(req)
	if err != nil {
		return nil, 0, exterrors.WithTemporary(fmt.Errorf("doh: %w", err), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, exterrors.WithTemporary(
			fmt.Errorf("doh: unexpected status %d from %s", resp.StatusCode, r.endpoint),
			resp.StatusCode >= 500)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 65535))
	if err != nil {
		return nil, 0, exterrors.WithTemporary(fmt.Errorf("doh: %w", err), true)
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return nil, 0, fmt.Errorf("doh: unpack reply: %w", err)
	}

	if reply.Rcode != dns.RcodeSuccess {
		return nil, 0, RCodeError{Name: strings.TrimSuffix(name, "."), Code: reply.Rcode}
	}

	ttl := maxCacheTTL
	for _, rr := range reply.Answer {
		rrTTL := time.Duration(rr.Header().Ttl) * time.Second
		if rrTTL < ttl {
			ttl = rrTTL
		}
	}

	return reply.Answer, ttl, nil
}

func (r *DoHResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	rrs, err := r.exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}

	res := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		// Long TXT records are fragmented into 255-byte chunks
		// that are meant to be concatenated by the consumer.
		res = append(res, strings.Join(txt.Txt, ""))
	}
	return res, nil
}

func (r *DoHResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	rrs, err := r.exchange(ctx, host, dns.TypeA)
	if err != nil {
		return nil, err
	}

	res := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		switch a := rr.(type) {
		case *dns.A:
			res = append(res, a.A.String())
		case *dns.AAAA:
			res = append(res, a.AAAA.String())
		}
	}
	return res, nil
}

func (r *DoHResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	rrs, err := r.exchange(ctx, name, dns.TypeMX)
	if err != nil {
		return nil, err
	}

	res := make([]*net.MX, 0, len(rrs))
	for _, rr := range rrs {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}
		res = append(res, &net.MX{
			Host: mx.Mx,
			Pref: mx.Preference,
		})
	}
	return res, nil
}

func (r *DoHResolver) LookupCNAME(ctx context.Context, host string) (string, error) {
	rrs, err := r.exchange(ctx, host, dns.TypeCNAME)
	if err != nil {
		return "", err
	}

	for _, rr := range rrs {
		cname, ok := rr.(*dns.CNAME)
		if !ok {
			continue
		}
		return cname.Target, nil
	}
	return "", nil
}
