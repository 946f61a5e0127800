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

// Package dns defines the interface used by emlprobe to perform DNS lookups
// and its DNS-over-HTTPS implementation.
package dns

import (
	"context"
	"net"
)

// Resolver is an interface that describes DNS-related methods used by
// emlprobe.
//
// It is implemented by net.Resolver, by dns.DoHResolver and by
// mockdns.Resolver in tests. Methods behave the same way as net.Resolver
// counterparts.
type Resolver interface {
	LookupHost(ctx context.Context, host string) (addrs []string, err error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// DefaultResolver returns the system stub resolver.
//
// The server normally talks DNS-over-HTTPS (see NewDoHResolver), the system
// resolver is used as the offline fallback by the analyze CLI command.
func DefaultResolver() Resolver {
	return net.DefaultResolver
}
