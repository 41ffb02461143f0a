package postgres

import (
	"context"
	"fmt"
	"strings"

	"example.com/sitepulse/internal/domain"
)

var eventColumns = []string{
	"id", "website_id", "created_at", "url_path", "referrer", "user_agent",
	"device_type", "browser", "browser_version", "os", "screen_width", "screen_height",
	"country", "country_code", "city", "region", "source", "medium", "campaign",
	"session_id", "is_new_visitor",
}

// CreateEvent inserts a single event. A duplicate id is an error.
func (db *DB) CreateEvent(ctx context.Context, ev *domain.Event) error {
	sql, args := buildInsert([]domain.Event{*ev}, false)
	if _, err := db.Pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// CreateEvents inserts events with ON CONFLICT DO NOTHING so a retried
// batch does not duplicate rows.
func (db *DB) CreateEvents(ctx context.Context, items []domain.Event) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	sql, args := buildInsert(items, true)
	ct, err := db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	return ct.RowsAffected(), nil
}

func buildInsert(items []domain.Event, ignoreConflicts bool) (string, []any) {
	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*len(eventColumns))

	argi := 1
	for _, ev := range items {
		row := []any{
			ev.ID, ev.WebsiteID, ev.CreatedAt, ev.URLPath,
			nullString(ev.Referrer), nullString(ev.UserAgent),
			ev.DeviceType, ev.Browser, nullString(ev.BrowserVersion), ev.OS,
			nullInt(ev.ScreenWidth), nullInt(ev.ScreenHeight),
			nullString(ev.Country), nullString(ev.CountryCode), nullString(ev.City), nullString(ev.Region),
			nullString(ev.Source), nullString(ev.Medium), nullString(ev.Campaign),
			nullString(ev.SessionID), ev.IsNewVisitor,
		}
		ph := make([]string, len(row))
		for i := range row {
			ph[i] = fmt.Sprintf("$%d", argi)
			argi++
		}
		args = append(args, row...)
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	sql := "INSERT INTO events (" + strings.Join(eventColumns, ",") + ") VALUES " +
		strings.Join(placeholders, ",")
	if ignoreConflicts {
		sql += " ON CONFLICT DO NOTHING"
	}
	return sql, args
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}
