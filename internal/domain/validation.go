package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidateDomain checks the website-identifying domain of a submission.
func ValidateDomain(domain string) []FieldError {
	var errs []FieldError
	d := strings.TrimSpace(domain)
	switch {
	case d == "":
		errs = append(errs, FieldError{"domain", "required"})
	case len(d) > MaxDomainLen:
		errs = append(errs, FieldError{"domain", fmt.Sprintf("max length %d", MaxDomainLen)})
	case strings.ContainsAny(d, "/ \t"):
		errs = append(errs, FieldError{"domain", "must be a bare host name"})
	}
	return errs
}

// Normalize applies defaults and column limits in place.
// urlPath defaults to "/"; out-of-range screen sizes are dropped.
func Normalize(ev *Event) {
	ev.URLPath = truncate(strings.TrimSpace(ev.URLPath), MaxURLPathLen)
	if ev.URLPath == "" {
		ev.URLPath = "/"
	}
	ev.Referrer = truncate(strings.TrimSpace(ev.Referrer), MaxReferrerLen)
	ev.UserAgent = truncate(ev.UserAgent, MaxUserAgentLen)
	ev.Browser = truncate(ev.Browser, MaxBrowserLen)
	ev.BrowserVersion = truncate(ev.BrowserVersion, MaxBrowserVersionLen)
	ev.OS = truncate(ev.OS, MaxOSLen)
	ev.Source = truncate(strings.TrimSpace(ev.Source), MaxAttrLen)
	ev.Medium = truncate(strings.TrimSpace(ev.Medium), MaxAttrLen)
	ev.Campaign = truncate(strings.TrimSpace(ev.Campaign), MaxAttrLen)
	ev.SessionID = truncate(strings.TrimSpace(ev.SessionID), MaxSessionIDLen)
	ev.Country = truncate(ev.Country, MaxAttrLen)
	ev.CountryCode = truncate(ev.CountryCode, MaxAttrLen)
	ev.City = truncate(ev.City, MaxAttrLen)
	ev.Region = truncate(ev.Region, MaxAttrLen)

	if ev.ScreenWidth <= 0 || ev.ScreenWidth > MaxScreenPixels {
		ev.ScreenWidth = 0
	}
	if ev.ScreenHeight <= 0 || ev.ScreenHeight > MaxScreenPixels {
		ev.ScreenHeight = 0
	}
	if ev.DeviceType == "" {
		ev.DeviceType = DeviceUnknown
	}
	if ev.Browser == "" {
		ev.Browser = Unknown
	}
	if ev.OS == "" {
		ev.OS = Unknown
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
