// Package aggregate turns a website's raw events into dashboard metrics.
// Compute is a pure function of its inputs.
package aggregate

import (
	"math"
	"sort"
	"strconv"
	"time"

	"example.com/sitepulse/internal/domain"
)

const (
	// AllTime is the day count that selects the full history.
	AllTime = 9999
	// DefaultDays is the lookback used when the caller gives none.
	DefaultDays = 7
	// RecentLimit caps Bundle.RecentEvents.
	RecentLimit = 50

	directBucket = "Direct"
)

// RecentEvent is the display-safe projection of an Event.
type RecentEvent struct {
	ID         string    `json:"id"`
	URLPath    string    `json:"urlPath"`
	Referrer   *string   `json:"referrer"`
	DeviceType string    `json:"deviceType"`
	Browser    string    `json:"browser"`
	OS         string    `json:"os"`
	Source     *string   `json:"source"`
	Country    *string   `json:"country"`
	City       *string   `json:"city"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Bundle is the full metrics payload served by the stats endpoint.
type Bundle struct {
	TotalViews         int            `json:"totalViews"`
	UniqueSessions     int            `json:"uniqueSessions"`
	NewVisitors        int            `json:"newVisitors"`
	ReturningVisitors  int            `json:"returningVisitors"`
	AvgPagesPerSession float64        `json:"avgPagesPerSession"`
	BounceRate         float64        `json:"bounceRate"`
	PageViews          map[string]int `json:"pageViews"`
	Referrers          map[string]int `json:"referrers"`
	Devices            map[string]int `json:"devices"`
	Browsers           map[string]int `json:"browsers"`
	OperatingSystems   map[string]int `json:"operatingSystems"`
	Sources            map[string]int `json:"sources"`
	Countries          map[string]int `json:"countries"`
	ViewsPerDay        map[string]int `json:"viewsPerDay"`
	ViewsPerHour       map[string]int `json:"viewsPerHour"`
	ScreenSizes        map[string]int `json:"screenSizes"`
	RecentEvents       []RecentEvent  `json:"recentEvents"`
}

// Since returns the start of a lookback window of days ending at now. A
// count of AllTime or more returns the zero time (no cutoff). The window
// always reaches back at least to the start of now's day.
func Since(days int, now time.Time) time.Time {
	if days >= AllTime {
		return time.Time{}
	}
	if days < 0 {
		days = 0
	}
	cutoff := now.AddDate(0, 0, -days)
	y, m, d := now.Date()
	if startOfDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location()); startOfDay.Before(cutoff) {
		return startOfDay
	}
	return cutoff
}

// Compute aggregates events, which may arrive in any order. Calendar
// buckets use now's location; viewsPerHour only counts events on now's date.
func Compute(events []domain.Event, now time.Time) Bundle {
	loc := now.Location()
	today := now.Format(time.DateOnly)

	b := Bundle{
		TotalViews:       len(events),
		PageViews:        map[string]int{},
		Referrers:        map[string]int{},
		Devices:          map[string]int{},
		Browsers:         map[string]int{},
		OperatingSystems: map[string]int{},
		Sources:          map[string]int{},
		Countries:        map[string]int{},
		ViewsPerDay:      map[string]int{},
		ViewsPerHour:     map[string]int{},
		ScreenSizes:      map[string]int{},
	}

	sessions := make(map[string]int)
	for _, e := range events {
		if e.SessionID != "" {
			sessions[e.SessionID]++
		}
		if e.IsNewVisitor {
			b.NewVisitors++
		}

		b.PageViews[e.URLPath]++
		b.Referrers[orDefault(e.Referrer, directBucket)]++
		b.Devices[orDefault(e.DeviceType, domain.Unknown)]++
		b.Browsers[orDefault(e.Browser, domain.Unknown)]++
		b.OperatingSystems[orDefault(e.OS, domain.Unknown)]++
		b.Sources[orDefault(e.Source, directBucket)]++
		if e.Country != "" {
			b.Countries[e.Country]++
		}

		at := e.CreatedAt.In(loc)
		day := at.Format(time.DateOnly)
		b.ViewsPerDay[day]++
		if day == today {
			b.ViewsPerHour[at.Format("15")+":00"]++
		}

		if e.ScreenWidth > 0 && e.ScreenHeight > 0 {
			b.ScreenSizes[strconv.Itoa(e.ScreenWidth)+"x"+strconv.Itoa(e.ScreenHeight)]++
		}
	}

	b.UniqueSessions = len(sessions)
	b.ReturningVisitors = b.UniqueSessions - b.NewVisitors
	if b.UniqueSessions > 0 {
		var pages, bounces int
		for _, n := range sessions {
			pages += n
			if n == 1 {
				bounces++
			}
		}
		b.AvgPagesPerSession = round(float64(pages)/float64(b.UniqueSessions), 2)
		b.BounceRate = round(float64(bounces)/float64(b.UniqueSessions)*100, 1)
	}

	b.RecentEvents = recent(events, RecentLimit)
	return b
}

func recent(events []domain.Event, limit int) []RecentEvent {
	sorted := make([]domain.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]RecentEvent, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, RecentEvent{
			ID:         e.ID,
			URLPath:    e.URLPath,
			Referrer:   nullable(e.Referrer),
			DeviceType: e.DeviceType,
			Browser:    e.Browser,
			OS:         e.OS,
			Source:     nullable(e.Source),
			Country:    nullable(e.Country),
			City:       nullable(e.City),
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
