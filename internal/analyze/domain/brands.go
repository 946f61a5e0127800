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

package domain

// Brands is the list of frequently-impersonated domains the analyzer
// matches against. Case-folded, read-only after init.
var Brands = []string{
	"google.com",
	"gmail.com",
	"apple.com",
	"icloud.com",
	"amazon.com",
	"amazon.co.jp",
	"microsoft.com",
	"outlook.com",
	"office.com",
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"paypal.com",
	"netflix.com",
	"linkedin.com",
	"github.com",
	"yahoo.co.jp",
	"rakuten.co.jp",
	"mercari.com",
	"line.me",
	"docomo.ne.jp",
	"softbank.jp",
	"au.com",
	"mufg.jp",
	"smbc.co.jp",
	"mizuhobank.co.jp",
	"japanpost.jp",
	"americanexpress.com",
	"visa.com",
	"mastercard.com",
	"dhl.com",
	"fedex.com",
	"ups.com",
	"dropbox.com",
	"adobe.com",
	"salesforce.com",
	"zoom.us",
	"slack.com",
	"spotify.com",
	"ebay.com",
	"booking.com",
	"airbnb.com",
	"coinbase.com",
}

var brandSet = map[string]bool{}

func init() {
	for _, b := range Brands {
		brandSet[b] = true
	}
}
