package scan

import (
	"net/url"
	"strings"
)

// blockedSuffixes lists host suffixes of known non-content third-party
// origins (ads, tracking, tag managers). Frames from these origins carry
// nothing an agent can act on, so the aggregator never scans them.
var blockedSuffixes = []string{
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"googletagmanager.com",
	"google-analytics.com",
	"adservice.google.com",
	"adnxs.com",
	"criteo.com",
	"scorecardresearch.com",
	"outbrain.com",
	"taboola.com",
	"amazon-adsystem.com",
	"facebook.net",
	"hotjar.com",
}

// BlockedOrigin reports whether rawURL belongs to a known ad/tracking
// origin. Unparseable URLs are not blocked; they fail later at scan time
// where the error is logged with context.
func BlockedOrigin(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range blockedSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
