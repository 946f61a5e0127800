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
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emlprobe",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Handled HTTP requests, by route and status code",
		},
		[]string{"method", "route", "code"},
	)
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emlprobe",
			Subsystem: "api",
			Name:      "analyses_total",
			Help:      "Completed analyses, by mode and verdict",
		},
		[]string{"mode", "verdict"},
	)
	analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "emlprobe",
			Subsystem: "api",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of a complete analysis",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		},
	)
	auditOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emlprobe",
			Subsystem: "audit",
			Name:      "operations_total",
			Help:      "Audit store operations served over HTTP",
		},
		[]string{"op"},
	)
)

func observeRequest(method, path string, code int, _ time.Duration) {
	httpRequests.WithLabelValues(method, routeLabel(path), strconv.Itoa(code)).Inc()
}

func observeAnalysis(full bool, verdict string, d time.Duration) {
	mode := "quick"
	if full {
		mode = "full"
	}
	analysesTotal.WithLabelValues(mode, verdict).Inc()
	analysisDuration.Observe(d.Seconds())
}

func observeAuditOp(op string) {
	auditOps.WithLabelValues(op).Inc()
}

// routeLabel collapses the variable path parts so the route label stays
// low-cardinality.
func routeLabel(path string) string {
	for _, prefix := range []string{
		"/api/dns/",
		"/api/download/",
		"/api/export/download/",
		"/api/admin/records/",
	} {
		if strings.HasPrefix(path, prefix) {
			return prefix + "*"
		}
	}
	return path
}

func init() {
	prometheus.MustRegister(httpRequests, analysesTotal, analysisDuration, auditOps)
}
