package tracking

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

// hrefRe matches an href attribute holding an absolute http(s) URL in either
// quote style. RE2 has no backreferences, so each quote style is its own
// alternative.
var hrefRe = regexp.MustCompile(`(?i)\bhref\s*=\s*(?:"(https?://[^"]*)"|'(https?://[^']*)')`)

// Rewrite routes every http(s) link through {base}/track/click and adds a
// 1x1 open pixel before the last </body> (or at the end without one). Links
// already pointing at {base}/track/ and non-http(s) hrefs are left alone.
// The output depends only on the inputs.
func Rewrite(body, campaignID, token, base string) string {
	base = strings.TrimRight(base, "/")
	trackPrefix := base + "/track/"
	c := url.QueryEscape(campaignID)
	t := url.QueryEscape(token)

	out := hrefRe.ReplaceAllStringFunc(body, func(match string) string {
		m := hrefRe.FindStringSubmatch(match)
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		target := html.UnescapeString(raw)
		if strings.HasPrefix(target, trackPrefix) {
			return match
		}
		return `href="` + base + "/track/click?c=" + c + "&t=" + t + "&u=" + url.QueryEscape(target) + `"`
	})

	pixel := `<img src="` + base + "/track/open?c=" + c + "&t=" + t + `" width="1" height="1" alt="" style="display:none" />`
	if i := lastIndexFold(out, "</body>"); i >= 0 {
		return out[:i] + pixel + out[i:]
	}
	return out + pixel
}

// lastIndexFold is strings.LastIndex with ASCII case folding. It works on
// bytes so the returned offset is valid for s itself.
func lastIndexFold(s, substr string) int {
	n := len(substr)
	for i := len(s) - n; i >= 0; i-- {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}
