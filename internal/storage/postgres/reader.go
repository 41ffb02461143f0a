package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/sitepulse/internal/domain"
)

func (db *DB) WebsiteByDomain(ctx context.Context, d string) (domain.Website, error) {
	var w domain.Website
	var owner *string
	row := db.Pool.QueryRow(ctx,
		"SELECT id, domain, owner_id, created_at FROM websites WHERE domain = $1",
		strings.ToLower(strings.TrimSpace(d)))
	if err := row.Scan(&w.ID, &w.Domain, &owner, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return w, fmt.Errorf("%s: %w", d, domain.ErrNotFound)
		}
		return w, fmt.Errorf("scan website: %w", err)
	}
	if owner != nil {
		w.OwnerID = *owner
	}
	return w, nil
}

func (db *DB) CreateWebsite(ctx context.Context, w domain.Website) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO websites (id, domain, owner_id) VALUES ($1, $2, $3)",
		w.ID, strings.ToLower(strings.TrimSpace(w.Domain)), nullString(w.OwnerID))
	if err != nil {
		return fmt.Errorf("insert website: %w", err)
	}
	return nil
}

// ListEvents returns events newest first; a zero since means all history.
func (db *DB) ListEvents(ctx context.Context, websiteID string, since time.Time) ([]domain.Event, error) {
	cond := "WHERE website_id = $1"
	args := []any{websiteID}
	if !since.IsZero() {
		cond += " AND created_at >= $2"
		args = append(args, since)
	}
	sql := "SELECT " + strings.Join(eventColumns, ",") + " FROM events " + cond + " ORDER BY created_at DESC"

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(rows pgx.Rows) (domain.Event, error) {
	var (
		ev                                  domain.Event
		referrer, ua, version               *string
		country, countryCode, city, region  *string
		source, medium, campaign, sessionID *string
		width, height                       *int32
	)
	err := rows.Scan(
		&ev.ID, &ev.WebsiteID, &ev.CreatedAt, &ev.URLPath, &referrer, &ua,
		&ev.DeviceType, &ev.Browser, &version, &ev.OS, &width, &height,
		&country, &countryCode, &city, &region, &source, &medium, &campaign,
		&sessionID, &ev.IsNewVisitor,
	)
	if err != nil {
		return ev, fmt.Errorf("scan event: %w", err)
	}
	ev.Referrer = deref(referrer)
	ev.UserAgent = deref(ua)
	ev.BrowserVersion = deref(version)
	ev.Country = deref(country)
	ev.CountryCode = deref(countryCode)
	ev.City = deref(city)
	ev.Region = deref(region)
	ev.Source = deref(source)
	ev.Medium = deref(medium)
	ev.Campaign = deref(campaign)
	ev.SessionID = deref(sessionID)
	if width != nil {
		ev.ScreenWidth = int(*width)
	}
	if height != nil {
		ev.ScreenHeight = int(*height)
	}
	return ev, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
