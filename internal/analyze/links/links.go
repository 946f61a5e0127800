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

// Package links extracts URLs from the message body and grades each one
// against a set of phishing heuristics.
package links

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/ynggny/emlprobe/internal/analyze/domain"
	"github.com/ynggny/emlprobe/internal/message"
)

// Link is one analyzed URL.
type Link struct {
	URL         string `json:"url"`
	DisplayText string `json:"displayText,omitempty"`
	Host        string `json:"host,omitempty"`

	// Risk is one of safe, suspicious, dangerous.
	Risk string `json:"risk"`

	Issues []string `json:"issues,omitempty"`
}

// Result carries all analyzed links sorted dangerous first.
type Result struct {
	// Risk is the worst per-link risk, safe when there are no links.
	Risk  string `json:"risk"`
	Links []Link `json:"links,omitempty"`
}

var (
	anchorRe = regexp.MustCompile(`(?is)<a\s[^>]*?href\s*=\s*["']?([^"'\s>]+)["']?[^>]*>(.*?)</a>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	urlRe    = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	hostRe   = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}.-]*\.[\p{L}]{2,}$`)
)

var shorteners = map[string]bool{
	"bit.ly": true, "tinyurl.com": true, "goo.gl": true, "t.co": true,
	"ow.ly": true, "is.gd": true, "buff.ly": true, "cutt.ly": true,
	"rebrand.ly": true, "tiny.cc": true, "rb.gy": true, "shorturl.at": true,
}

var suspiciousTLDs = []string{
	".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top", ".click",
	".link", ".work", ".loan", ".zip", ".mov", ".country",
}

var standardPorts = map[string]bool{"": true, "80": true, "443": true, "8080": true, "8443": true}

var baitPaths = []string{"/login", "/verify", "/reset", "/update", "/signin", "/account"}

// Analyze extracts and grades every URL in the message.
func Analyze(req *message.AnalysisRequest) Result {
	type candidate struct {
		href    string
		display string
	}
	var candidates []candidate

	for _, m := range anchorRe.FindAllStringSubmatch(req.HTML, -1) {
		display := strings.TrimSpace(tagRe.ReplaceAllString(m[2], ""))
		candidates = append(candidates, candidate{href: m[1], display: display})
	}
	for _, raw := range urlRe.FindAllString(req.Text, -1) {
		candidates = append(candidates, candidate{href: raw})
	}

	res := Result{Risk: "safe"}
	seen := make(map[string]bool)
	for _, c := range candidates {
		link := analyzeLink(c.href, c.display)
		key := link.URL
		if seen[key] {
			continue
		}
		seen[key] = true
		res.Links = append(res.Links, link)
		if riskRank(link.Risk) > riskRank(res.Risk) {
			res.Risk = link.Risk
		}
	}

	sort.SliceStable(res.Links, func(i, j int) bool {
		return riskRank(res.Links[i].Risk) > riskRank(res.Links[j].Risk)
	})
	return res
}

func analyzeLink(href, display string) Link {
	decoded := percentDecode(href)
	link := Link{URL: decoded, DisplayText: display, Risk: "safe"}

	lower := strings.ToLower(decoded)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") {
		link.Risk = "dangerous"
		link.Issues = append(link.Issues, "active content scheme ("+strings.SplitN(lower, ":", 2)[0]+":)")
		return link
	}

	u, err := url.Parse(decoded)
	if err != nil || u.Host == "" {
		link.Risk = "suspicious"
		link.Issues = append(link.Issues, "unparsable URL")
		return link
	}

	host := strings.ToLower(u.Hostname())
	link.Host = host
	raise := func(risk, issue string) {
		link.Issues = append(link.Issues, issue)
		if riskRank(risk) > riskRank(link.Risk) {
			link.Risk = risk
		}
	}

	if shorteners[host] {
		raise("suspicious", "URL shortener ("+host+")")
	}
	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			raise("suspicious", "suspicious TLD ("+tld+")")
			break
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() {
			raise("dangerous", "private IP address literal")
		} else {
			raise("suspicious", "IP address literal")
		}
	}
	if strings.Count(host, ".") > 5 {
		raise("suspicious", "excessive subdomain depth")
	}
	if !standardPorts[u.Port()] {
		raise("suspicious", "non-standard port ("+u.Port()+")")
	}
	if u.Scheme == "http" {
		raise("suspicious", "unencrypted http link")
	}

	if conf := domain.Analyze(host); conf.Risk != "none" && conf.MatchedDomain != "" {
		risk := "suspicious"
		if conf.Risk == "high" {
			risk = "dangerous"
		}
		raise(risk, fmt.Sprintf("host resembles %s (%s)", conf.MatchedDomain, conf.Risk))
	}

	if dispHost := displayHost(display); dispHost != "" && dispHost != host &&
		!strings.HasSuffix(host, "."+dispHost) {
		raise("dangerous", fmt.Sprintf("display URL (%s) and actual URL (%s) differ", dispHost, host))
	} else if brand := brandInText(display); brand != "" && !sameSite(host, brand) {
		raise("dangerous", fmt.Sprintf("display text references %s but links to %s", brand, host))
	}

	if !trustedHost(host) {
		path := strings.ToLower(u.Path)
		for _, bait := range baitPaths {
			if strings.Contains(path, bait) {
				raise("suspicious", "credential-related path on unrecognized host")
				break
			}
		}
	}
	return link
}

// percentDecode undoes percent-encoding layered to hide the real target.
// Capped to avoid loops on pathological input.
func percentDecode(raw string) string {
	for i := 0; i < 4 && strings.Contains(raw, "%"); i++ {
		decoded, err := url.QueryUnescape(raw)
		if err != nil || decoded == raw {
			break
		}
		raw = decoded
	}
	return raw
}

// displayHost extracts a hostname from the anchor text when the text
// itself looks like a URL or a bare domain.
func displayHost(display string) string {
	display = strings.TrimSpace(display)
	if display == "" {
		return ""
	}
	if u, err := url.Parse(display); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}
	if hostRe.MatchString(display) && strings.ContainsRune(display, '.') {
		return strings.ToLower(strings.TrimSuffix(display, "/"))
	}
	return ""
}

func brandInText(display string) string {
	lower := strings.ToLower(display)
	for _, brand := range domain.Brands {
		name := brand[:strings.IndexByte(brand, '.')]
		// Short names (au, ups, dhl) appear inside ordinary words far
		// too often to be usable as display-text evidence.
		if len(name) >= 4 && containsWord(lower, name) {
			return brand
		}
	}
	return ""
}

func containsWord(s, word string) bool {
	for from := 0; ; {
		indx := strings.Index(s[from:], word)
		if indx == -1 {
			return false
		}
		start := from + indx
		end := start + len(word)
		if (start == 0 || !isAlnum(s[start-1])) && (end == len(s) || !isAlnum(s[end])) {
			return true
		}
		from = start + 1
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func sameSite(host, brand string) bool {
	return host == brand || strings.HasSuffix(host, "."+brand)
}

func trustedHost(host string) bool {
	for _, brand := range domain.Brands {
		if sameSite(host, brand) {
			return true
		}
	}
	return false
}

func riskRank(risk string) int {
	switch risk {
	case "dangerous":
		return 2
	case "suspicious":
		return 1
	default:
		return 0
	}
}
