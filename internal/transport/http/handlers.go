package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"example.com/sitepulse/internal/aggregate"
	"example.com/sitepulse/internal/config"
	"example.com/sitepulse/internal/domain"
	"example.com/sitepulse/internal/enrich"
	"example.com/sitepulse/internal/geo"
	"example.com/sitepulse/internal/ingest"
	"example.com/sitepulse/internal/telemetry"
)

// Store is the event store as seen by the HTTP layer.
type Store interface {
	domain.EventStore
	Ping(ctx context.Context) error
}

// Enqueuer accepts pixel submissions for background processing.
type Enqueuer interface {
	Enqueue(req ingest.TrackRequest) bool
}

type ServerDeps struct {
	Cfg      config.Config
	Ingestor *ingest.Ingestor
	Pixels   Enqueuer // nil processes pixels inline
	Sites    domain.WebsiteDirectory
	Store    Store
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	Location *time.Location
	Now      func() time.Time
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.Ping(r.Context()); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "database not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Track ---

// flexInt accepts numbers, numeric strings and null.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// flexBool accepts true/false, "true"/"false", 1/0 and null.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseBool(strings.Trim(string(b), `"`))
	*f = flexBool(err == nil && v)
	return nil
}

// trackPayload accepts both the documented keys and the compact keys the
// bundled beacon sends.
type trackPayload struct {
	Domain       string   `json:"domain"`
	URLPath      string   `json:"urlPath"`
	Referrer     string   `json:"referrer"`
	UserAgent    string   `json:"userAgent"`
	ScreenWidth  flexInt  `json:"screenWidth"`
	ScreenHeight flexInt  `json:"screenHeight"`
	Source       string   `json:"source"`
	Medium       string   `json:"medium"`
	Campaign     string   `json:"campaign"`
	SessionID    string   `json:"sessionId"`
	IsNewVisitor flexBool `json:"isNewVisitor"`
	IP           string   `json:"ip"`

	D  string  `json:"d"`
	P  string  `json:"p"`
	R  string  `json:"r"`
	UA string  `json:"ua"`
	SW flexInt `json:"sw"`
	SH flexInt `json:"sh"`
}

func (p trackPayload) request() ingest.TrackRequest {
	return ingest.TrackRequest{
		Domain:       first(p.Domain, p.D),
		URLPath:      first(p.URLPath, p.P),
		Referrer:     first(p.Referrer, p.R),
		UserAgent:    first(p.UserAgent, p.UA),
		ScreenWidth:  int(firstInt(p.ScreenWidth, p.SW)),
		ScreenHeight: int(firstInt(p.ScreenHeight, p.SH)),
		Source:       p.Source,
		Medium:       p.Medium,
		Campaign:     p.Campaign,
		SessionID:    p.SessionID,
		IsNewVisitor: bool(p.IsNewVisitor),
	}
}

func (d *ServerDeps) HandleTrack(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var p trackPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req := p.request()
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}
	req.Addr = enrich.AddressHintsFromRequest(r, p.IP)
	req.PlatformGeo = geo.PlatformHintsFromRequest(r)

	res, err := d.Ingestor.Track(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrValidation):
		msg := "Missing domain"
		if req.Domain != "" {
			msg = "Invalid domain"
		}
		WriteError(w, http.StatusBadRequest, msg)
		return
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Website not found")
		return
	case err != nil:
		d.Logger.Error("track failed", "domain", req.Domain, "request_id", RequestIDFrom(r.Context()), "error", err)
		WriteError(w, http.StatusInternalServerError, "Internal Error")
		return
	}
	if res.Bot {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Bot ignored"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "eventId": res.EventID})
}

// --- Pixel ---

// HandlePixel always answers with the GIF; errors never reach the client.
func (d *ServerDeps) HandlePixel(w http.ResponseWriter, r *http.Request) {
	defer writePixel(w)
	if r.Method != http.MethodGet {
		return
	}
	q := r.URL.Query()
	sw, _ := strconv.Atoi(q.Get("sw"))
	sh, _ := strconv.Atoi(q.Get("sh"))
	nv, _ := strconv.ParseBool(q.Get("nv"))
	req := ingest.TrackRequest{
		Domain:       q.Get("d"),
		URLPath:      q.Get("p"),
		Referrer:     q.Get("r"),
		UserAgent:    r.UserAgent(),
		ScreenWidth:  sw,
		ScreenHeight: sh,
		Source:       q.Get("s"),
		Medium:       q.Get("m"),
		Campaign:     q.Get("c"),
		SessionID:    q.Get("sid"),
		IsNewVisitor: nv,
		Addr:         enrich.AddressHintsFromRequest(r, q.Get("ip")),
		PlatformGeo:  geo.PlatformHintsFromRequest(r),
	}
	if req.Domain == "" {
		return
	}

	if d.Pixels != nil {
		if !d.Pixels.Enqueue(req) {
			d.Logger.Warn("pixel queue full, dropping event", "domain", req.Domain)
		}
		return
	}
	if _, err := d.Ingestor.Track(r.Context(), req); err != nil && !errors.Is(err, domain.ErrNotFound) {
		d.Logger.Warn("pixel track failed", "domain", req.Domain, "error", err)
	}
}

// --- Stats ---

func (d *ServerDeps) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("domain"))
	if name == "" {
		WriteError(w, http.StatusBadRequest, "Domain required")
		return
	}
	days := aggregate.DefaultDays
	if s := q.Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		days = n
	}

	ctx := r.Context()
	site, err := d.Sites.WebsiteByDomain(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Website not found")
		return
	}
	if err != nil {
		d.Logger.Error("stats website lookup failed", "domain", name, "error", err)
		WriteError(w, http.StatusInternalServerError, "Internal Error")
		return
	}

	now := d.now()
	events, err := d.Store.ListEvents(ctx, site.ID, aggregate.Since(days, now))
	if err != nil {
		d.Logger.Error("stats query failed", "website_id", site.ID, "error", err)
		WriteError(w, http.StatusInternalServerError, "Internal Error")
		return
	}
	writeJSON(w, http.StatusOK, aggregate.Compute(events, now))
}

func (d *ServerDeps) now() time.Time {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc)
}

// --- CORS ---

// trackOrigin echoes the Origin only when its host is a registered website.
func (d *ServerDeps) trackOrigin(r *http.Request) string {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return ""
	}
	if d.Cfg.CORSAllowAny {
		return "*"
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, candidate := range []string{host, strings.TrimPrefix(host, "www.")} {
		if _, err := d.Sites.WebsiteByDomain(r.Context(), candidate); err == nil {
			return origin
		}
	}
	return ""
}

// statsOrigin allows the configured dashboard origins, then falls back to
// the registered-website check.
func (d *ServerDeps) statsOrigin(r *http.Request) string {
	origin := r.Header.Get("Origin")
	if _, ok := d.Cfg.StatsCORSOrigins[origin]; ok && origin != "" {
		return origin
	}
	return d.trackOrigin(r)
}

func anyOrigin(*http.Request) string { return "*" }

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", d.HandleHealthz)
	mux.HandleFunc("/readyz", d.HandleReadyz)
	mux.Handle("/metrics", d.Metrics.Handler())

	var track http.Handler = http.HandlerFunc(d.HandleTrack)
	track = RequireBeaconContent(track)
	track = BodyLimit(d.Cfg.MaxBodyBytes)(track)
	track = CORS("POST, OPTIONS", d.trackOrigin)(track)

	var pixel http.Handler = http.HandlerFunc(d.HandlePixel)
	pixel = CORS("GET, OPTIONS", anyOrigin)(pixel)

	var stats http.Handler = http.HandlerFunc(d.HandleStats)
	stats = RateLimitPerMinute(d.Cfg.RateLimitStatsMin, time.Now)(stats)
	stats = APIKeyAuth(d.Cfg.StatsAPIKeys)(stats)
	stats = CORS("GET, OPTIONS", d.statsOrigin)(stats)

	// /api/* keeps beacons pointed at the legacy paths working.
	for _, prefix := range []string{"", "/api"} {
		mux.Handle(prefix+"/track", track)
		mux.Handle(prefix+"/pixel", pixel)
		mux.Handle(prefix+"/stats", stats)
	}

	return RequestID(AccessLog(d.Logger)(mux))
}

func first(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstInt(vals ...flexInt) flexInt {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
