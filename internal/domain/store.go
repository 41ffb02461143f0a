package domain

import (
	"context"
	"time"
)

// WebsiteDirectory resolves a domain to its Website. Implementations return
// an error wrapping ErrNotFound for unknown domains.
type WebsiteDirectory interface {
	WebsiteByDomain(ctx context.Context, domain string) (Website, error)
}

// WebsiteRegistry registers new tenants.
type WebsiteRegistry interface {
	CreateWebsite(ctx context.Context, w Website) error
}

// EventStore is the append-only event log.
type EventStore interface {
	CreateEvent(ctx context.Context, ev *Event) error
	CreateEvents(ctx context.Context, evs []Event) (int64, error)
	// ListEvents returns the website's events created at or after since,
	// newest first. A zero since selects the full history.
	ListEvents(ctx context.Context, websiteID string, since time.Time) ([]Event, error)
}
