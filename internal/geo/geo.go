// Package geo resolves a client IP to a location through an ordered,
// configurable chain of sources, rejecting implausible answers.
package geo

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrLookupFailed is returned by providers that answered but could not
// locate the address.
var ErrLookupFailed = errors.New("geo lookup failed")

// Result is one consistent resolution. Fields are never mixed across sources.
type Result struct {
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	City        string `json:"city"`
	Region      string `json:"region"`
	Source      string `json:"source"`
}

// Empty reports whether the result carries no location at all.
func (r Result) Empty() bool { return r.Country == "" && r.City == "" }

// Provider is an external IP geolocation service.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (Result, error)
}

// Location identifies a known bogus answer, typically the data center that
// hosts the ingestion service. An empty Country matches any country.
type Location struct {
	Country string `yaml:"country"`
	City    string `yaml:"city"`
}

func (l Location) matches(r Result) bool {
	if !strings.EqualFold(l.City, r.City) {
		return false
	}
	return l.Country == "" || strings.EqualFold(l.Country, r.Country) || strings.EqualFold(l.Country, r.CountryCode)
}

// PlatformHints are geo headers injected by the edge network.
type PlatformHints struct {
	Country string
	City    string
	Region  string
}

// PlatformHintsFromRequest reads the Vercel edge geo headers. The city
// header is URL-encoded.
func PlatformHintsFromRequest(r *http.Request) PlatformHints {
	city := r.Header.Get("X-Vercel-IP-City")
	if dec, err := url.QueryUnescape(city); err == nil {
		city = dec
	}
	return PlatformHints{
		Country: r.Header.Get("X-Vercel-IP-Country"),
		City:    city,
		Region:  r.Header.Get("X-Vercel-IP-Country-Region"),
	}
}

// result maps the ISO 3166 code from the edge to the English country name
// the IP providers report, so both sources share one vocabulary.
func (h PlatformHints) result() Result {
	code := strings.ToUpper(strings.TrimSpace(h.Country))
	return Result{
		Country:     CountryName(code),
		CountryCode: code,
		City:        h.City,
		Region:      h.Region,
		Source:      SourcePlatform,
	}
}

// CountryName returns the English name for an ISO 3166 region code, or the
// code itself when it is not a known country.
func CountryName(code string) string {
	if code == "" {
		return ""
	}
	region, err := language.ParseRegion(strings.ToUpper(code))
	if err != nil || !region.IsCountry() {
		return code
	}
	if name := display.English.Regions().Name(region); name != "" {
		return name
	}
	return code
}
