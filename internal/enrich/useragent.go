package enrich

import (
	"regexp"
	"strings"

	"example.com/sitepulse/internal/domain"
)

// UserAgent is the classification of a raw user-agent string.
type UserAgent struct {
	DeviceType     string
	Browser        string
	BrowserVersion string
	OS             string
}

var (
	tabletRe = regexp.MustCompile(`(?i)tablet|ipad|playbook|silk`)
	mobileRe = regexp.MustCompile(`Mobile|Android|iP(hone|od)|IEMobile|BlackBerry|Kindle|Silk-Accelerated|(hpw|web)OS|Opera M(obi|ini)`)

	androidRe = regexp.MustCompile(`(?i)android`)
	mobiRe    = regexp.MustCompile(`(?i)mobi`)
)

// browserRule matches a browser token; version is the first submatch of re.
type browserRule struct {
	name  string
	token string
	re    *regexp.Regexp
}

// Order matters: Edge UAs contain "Chrome", Chrome UAs contain "Safari".
var browserRules = []browserRule{
	{"Firefox", "Firefox", regexp.MustCompile(`Firefox/([\d.]+)`)},
	{"Edge", "Edg", regexp.MustCompile(`Edg(?:e|A|iOS)?/([\d.]+)`)},
	{"Chrome", "Chrome", regexp.MustCompile(`Chrome/([\d.]+)`)},
	{"Safari", "Safari", regexp.MustCompile(`Version/([\d.]+)`)},
}

// Classify maps a user agent to device type, browser and OS. It is
// deterministic; an empty input yields unknown values.
func Classify(ua string) UserAgent {
	if strings.TrimSpace(ua) == "" {
		return UserAgent{DeviceType: domain.DeviceUnknown, Browser: domain.Unknown, OS: domain.Unknown}
	}
	out := UserAgent{
		DeviceType: deviceType(ua),
		Browser:    domain.Unknown,
		OS:         osName(ua),
	}
	for _, r := range browserRules {
		if !strings.Contains(ua, r.token) {
			continue
		}
		out.Browser = r.name
		if m := r.re.FindStringSubmatch(ua); m != nil {
			out.BrowserVersion = m[1]
		}
		break
	}
	return out
}

// deviceType checks tablet before mobile so Android tablets are not
// reported as phones.
func deviceType(ua string) string {
	if tabletRe.MatchString(ua) || (androidRe.MatchString(ua) && !mobiRe.MatchString(ua)) {
		return domain.DeviceTablet
	}
	if mobileRe.MatchString(ua) {
		return domain.DeviceMobile
	}
	return domain.DeviceDesktop
}

func osName(ua string) string {
	apple := strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad") || strings.Contains(ua, "iPod")
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case !apple && (strings.Contains(ua, "Macintosh") || strings.Contains(ua, "Mac OS")):
		return "macOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case apple:
		return "iOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return domain.Unknown
}
