package session

import (
	"bytes"
	"strings"
)

// Challenge interstitials carry these fragments. They show up on 403/503
// responses but also on 200s when the edge serves a managed challenge, so
// the body is checked either way.
var challengeMarkers = []string{
	"cf-browser-verification",
	"challenge-form",
	"/cdn-cgi/challenge-platform/",
	"cf-chl-",
}

// challenged reports whether a response body is an anti-bot interstitial
// rather than content. A challenged response counts as a failed attempt;
// the cookie jar usually carries a clearance token by the next one.
func challenged(body []byte) (string, bool) {
	lower := strings.ToLower(string(bytes.TrimSpace(body)))
	if lower == "" {
		return "", false
	}
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}
