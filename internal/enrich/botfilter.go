// Package enrich derives device, browser, OS and client address fields
// from raw request data. Everything here is pure and safe for concurrent use.
package enrich

import "regexp"

var botRe = regexp.MustCompile(`(?i)bot\b|crawler|spider|robot|crawling|jetpack|feedfetcher|feedburner|facebookexternalhit|slurp|bingpreview`)

// handsetRe strips phone brands whose model tokens end in "bot".
var handsetRe = regexp.MustCompile(`(?i)\bcubot`)

// IsBot reports whether the user agent belongs to a known crawler or feed
// reader. Misses are acceptable; common browsers must never match.
func IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return botRe.MatchString(handsetRe.ReplaceAllString(userAgent, ""))
}
