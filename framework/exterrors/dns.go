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

package exterrors

import (
	"errors"
	"net"
)

// UnwrapDNSErr extracts the reason string from a *net.DNSError in the
// wrap chain, for use as the "reason" log field next to fields describing
// the lookup itself. Non-DNS errors give an empty reason.
func UnwrapDNSErr(err error) (temporary bool, reason string) {
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		return IsTemporary(err), ""
	}

	// NXDOMAIN is a definitive answer, everything else may go away on
	// retry.
	return !dnsErr.IsNotFound, dnsErr.Err
}
