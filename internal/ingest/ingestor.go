// Package ingest runs the tracking pipeline: bot filter, user-agent
// classification, IP and geo resolution, persistence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/sitepulse/internal/domain"
	"example.com/sitepulse/internal/enrich"
	"example.com/sitepulse/internal/geo"
	"example.com/sitepulse/internal/telemetry"
)

// TrackRequest is one beacon submission after transport decoding. Session
// id and new-visitor flag are client-asserted and trusted as is.
type TrackRequest struct {
	Domain       string
	URLPath      string
	Referrer     string
	UserAgent    string
	ScreenWidth  int
	ScreenHeight int
	Source       string
	Medium       string
	Campaign     string
	SessionID    string
	IsNewVisitor bool

	Addr        enrich.AddressHints
	PlatformGeo geo.PlatformHints
}

// TrackResult reports what happened to an accepted submission.
type TrackResult struct {
	EventID string
	Bot     bool
}

// GeoResolver is satisfied by *geo.Resolver.
type GeoResolver interface {
	Resolve(ctx context.Context, ips enrich.IPResolution, hints geo.PlatformHints) (*geo.Result, bool)
}

// Outcome labels for sitepulse_track_requests_total and
// sitepulse_pixel_events_total. Only pixels are ever dropped.
const (
	OutcomePersisted   = "persisted"
	OutcomeBot         = "bot"
	OutcomeInvalid     = "invalid"
	OutcomeUnknownSite = "unknown_site"
	OutcomeStorage     = "storage_error"
	OutcomeDropped     = "dropped"
)

const DefaultWriteTimeout = 5 * time.Second

type Options struct {
	Sites        domain.WebsiteDirectory
	Store        domain.EventStore
	Geo          GeoResolver // nil disables geolocation
	IPPolicy     enrich.IPPolicy
	WriteTimeout time.Duration
	Now          func() time.Time
	NewID        func() string
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
}

type Ingestor struct {
	sites        domain.WebsiteDirectory
	store        domain.EventStore
	geo          GeoResolver
	ips          enrich.IPPolicy
	writeTimeout time.Duration
	now          func() time.Time
	newID        func() string
	log          *slog.Logger
	metrics      *telemetry.Metrics
}

func New(opts Options) *Ingestor {
	ig := &Ingestor{
		sites:        opts.Sites,
		store:        opts.Store,
		geo:          opts.Geo,
		ips:          opts.IPPolicy,
		writeTimeout: opts.WriteTimeout,
		now:          opts.Now,
		newID:        opts.NewID,
		log:          opts.Logger,
		metrics:      opts.Metrics,
	}
	if ig.writeTimeout <= 0 {
		ig.writeTimeout = DefaultWriteTimeout
	}
	if ig.now == nil {
		ig.now = func() time.Time { return time.Now().UTC() }
	}
	if ig.newID == nil {
		ig.newID = func() string { return uuid.NewString() }
	}
	if ig.log == nil {
		ig.log = slog.Default()
	}
	return ig
}

// Track runs the full pipeline and persists one event. The caller's
// cancellation is ignored from here on so an aborted beacon request still
// stores its event.
func (ig *Ingestor) Track(ctx context.Context, req TrackRequest) (TrackResult, error) {
	ctx = context.WithoutCancel(ctx)

	ev, err := ig.Build(ctx, req)
	if err != nil {
		ig.metrics.TrackRequest(outcomeOf(err))
		return TrackResult{}, err
	}
	if ev == nil {
		ig.metrics.TrackRequest(OutcomeBot)
		return TrackResult{Bot: true}, nil
	}

	wctx, cancel := context.WithTimeout(ctx, ig.writeTimeout)
	defer cancel()
	if err := ig.store.CreateEvent(wctx, ev); err != nil {
		ig.metrics.TrackRequest(OutcomeStorage)
		ig.log.Error("event insert failed", "website_id", ev.WebsiteID, "error", err)
		return TrackResult{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	ig.metrics.TrackRequest(OutcomePersisted)
	ig.log.Debug("event stored", "event_id", ev.ID, "website_id", ev.WebsiteID,
		"device", ev.DeviceType, "browser", ev.Browser, "os", ev.OS, "city", ev.City)
	return TrackResult{EventID: ev.ID}, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return OutcomeInvalid
	case errors.Is(err, domain.ErrNotFound):
		return OutcomeUnknownSite
	default:
		return OutcomeStorage
	}
}

// Build validates and enriches req into an Event without storing it. It
// returns (nil, nil) for bots.
func (ig *Ingestor) Build(ctx context.Context, req TrackRequest) (*domain.Event, error) {
	if errs := domain.ValidateDomain(req.Domain); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, errs[0].Error())
	}
	if enrich.IsBot(req.UserAgent) {
		return nil, nil
	}

	site, err := ig.sites.WebsiteByDomain(ctx, strings.TrimSpace(req.Domain))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: website lookup: %v", domain.ErrStorage, err)
	}

	ev := &domain.Event{
		ID:           ig.newID(),
		WebsiteID:    site.ID,
		CreatedAt:    ig.now(),
		URLPath:      req.URLPath,
		Referrer:     req.Referrer,
		UserAgent:    req.UserAgent,
		ScreenWidth:  req.ScreenWidth,
		ScreenHeight: req.ScreenHeight,
		Source:       req.Source,
		Medium:       req.Medium,
		Campaign:     req.Campaign,
		SessionID:    req.SessionID,
		IsNewVisitor: req.IsNewVisitor,
	}
	ig.enrich(ctx, ev, req)
	domain.Normalize(ev)
	return ev, nil
}

// enrich fills classification and geo fields. Any failure leaves the
// affected fields empty; it never aborts the event.
func (ig *Ingestor) enrich(ctx context.Context, ev *domain.Event, req TrackRequest) {
	defer func() {
		if r := recover(); r != nil {
			ig.log.Warn("enrichment panicked", "website_id", ev.WebsiteID, "panic", r)
		}
	}()

	ua := enrich.Classify(req.UserAgent)
	ev.DeviceType = ua.DeviceType
	ev.Browser = ua.Browser
	ev.BrowserVersion = ua.BrowserVersion
	ev.OS = ua.OS

	if ig.geo == nil {
		return
	}
	ips := ig.ips.Resolve(req.Addr)
	loc, ok := ig.geo.Resolve(ctx, ips, req.PlatformGeo)
	if !ok {
		ig.log.Debug("geo unresolved", "website_id", ev.WebsiteID, "ip", ips.Primary, "secondary", ips.Secondary)
		return
	}
	ev.Country = loc.Country
	ev.CountryCode = loc.CountryCode
	ev.City = loc.City
	ev.Region = loc.Region
}
