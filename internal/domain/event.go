package domain

import "time"

// Device types written to Event.DeviceType.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceUnknown = "unknown"
)

// Unknown is the browser/OS value when the user agent matches nothing.
const Unknown = "Unknown"

// Website is a tracked tenant. Domain is globally unique and is the only
// key the ingestion path looks it up by.
type Website struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event is one enriched page view. Empty strings and zero screen sizes are
// stored as NULL.
type Event struct {
	ID             string    `json:"id"`
	WebsiteID      string    `json:"websiteId"`
	CreatedAt      time.Time `json:"createdAt"`
	URLPath        string    `json:"urlPath"`
	Referrer       string    `json:"referrer,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	DeviceType     string    `json:"deviceType"`
	Browser        string    `json:"browser"`
	BrowserVersion string    `json:"browserVersion,omitempty"`
	OS             string    `json:"os"`
	ScreenWidth    int       `json:"screenWidth,omitempty"`
	ScreenHeight   int       `json:"screenHeight,omitempty"`
	Country        string    `json:"country,omitempty"`
	CountryCode    string    `json:"countryCode,omitempty"`
	City           string    `json:"city,omitempty"`
	Region         string    `json:"region,omitempty"`
	Source         string    `json:"source,omitempty"`
	Medium         string    `json:"medium,omitempty"`
	Campaign       string    `json:"campaign,omitempty"`
	SessionID      string    `json:"sessionId,omitempty"`
	IsNewVisitor   bool      `json:"isNewVisitor"`
}

// Column limits (keep in sync with migrations).
const (
	MaxDomainLen         = 253
	MaxURLPathLen        = 2048
	MaxReferrerLen       = 2048
	MaxUserAgentLen      = 1024
	MaxBrowserLen        = 64
	MaxBrowserVersionLen = 64
	MaxOSLen             = 64
	MaxAttrLen           = 255
	MaxSessionIDLen      = 128
	MaxScreenPixels      = 100_000
)
