package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/sitepulse/internal/domain"
	"example.com/sitepulse/internal/enrich"
	"example.com/sitepulse/internal/geo"
	"example.com/sitepulse/internal/storage/memory"
)

const (
	chromeUA    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iphoneUA    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	googlebotUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeGeo struct {
	result *geo.Result
	panics bool
	seen   []enrich.IPResolution
}

func (f *fakeGeo) Resolve(_ context.Context, ips enrich.IPResolution, _ geo.PlatformHints) (*geo.Result, bool) {
	f.seen = append(f.seen, ips)
	if f.panics {
		panic("provider exploded")
	}
	return f.result, f.result != nil
}

type failingStore struct {
	*memory.Store
}

func (failingStore) CreateEvent(context.Context, *domain.Event) error {
	return errors.New("connection refused")
}

type failingSites struct{}

func (failingSites) WebsiteByDomain(context.Context, string) (domain.Website, error) {
	return domain.Website{}, errors.New("too many connections")
}

func newTestIngestor(t *testing.T, g GeoResolver) (*Ingestor, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.CreateWebsite(context.Background(), domain.Website{ID: "site-1", Domain: "example.com"}))
	ig := New(Options{
		Sites:    store,
		Store:    store,
		Geo:      g,
		IPPolicy: enrich.IPPolicy{Pick: enrich.PickFirst},
		Now:      func() time.Time { return fixedNow },
		NewID:    func() string { return "evt-1" },
	})
	return ig, store
}

func TestTrackPersistsEnrichedEvent(t *testing.T) {
	g := &fakeGeo{result: &geo.Result{Country: "Germany", CountryCode: "DE", City: "Berlin", Region: "Berlin"}}
	ig, store := newTestIngestor(t, g)

	res, err := ig.Track(context.Background(), TrackRequest{
		Domain:       "example.com",
		Referrer:     "https://google.com",
		UserAgent:    iphoneUA,
		ScreenWidth:  390,
		ScreenHeight: 844,
		SessionID:    "sess-1",
		IsNewVisitor: true,
		Addr:         enrich.AddressHints{CFConnectingIP: "203.0.113.5", ForwardedFor: "10.0.0.1, 203.0.113.9"},
	})
	require.NoError(t, err)
	assert.Equal(t, TrackResult{EventID: "evt-1"}, res)

	events, err := store.ListEvents(context.Background(), "site-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "/", ev.URLPath)
	assert.Equal(t, fixedNow, ev.CreatedAt)
	assert.Equal(t, domain.DeviceMobile, ev.DeviceType)
	assert.Equal(t, "Safari", ev.Browser)
	assert.Equal(t, "17.1", ev.BrowserVersion)
	assert.Equal(t, "iOS", ev.OS)
	assert.Equal(t, "Berlin", ev.City)
	assert.Equal(t, "DE", ev.CountryCode)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.True(t, ev.IsNewVisitor)

	require.Len(t, g.seen, 1)
	assert.Equal(t, enrich.IPResolution{Primary: "203.0.113.5", Secondary: "203.0.113.9"}, g.seen[0])
}

func TestTrackBotIsAcknowledgedButNotStored(t *testing.T) {
	g := &fakeGeo{}
	ig, store := newTestIngestor(t, g)

	res, err := ig.Track(context.Background(), TrackRequest{Domain: "example.com", UserAgent: googlebotUA})
	require.NoError(t, err)
	assert.True(t, res.Bot)
	assert.Zero(t, store.Len())
	assert.Empty(t, g.seen, "bots must not be enriched")
}

func TestTrackRejectsMissingDomain(t *testing.T) {
	ig, store := newTestIngestor(t, nil)

	_, err := ig.Track(context.Background(), TrackRequest{UserAgent: chromeUA})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, store.Len())
}

func TestTrackUnknownDomain(t *testing.T) {
	ig, store := newTestIngestor(t, nil)

	_, err := ig.Track(context.Background(), TrackRequest{Domain: "nope.example", UserAgent: chromeUA})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, store.Len())
}

func TestTrackGeoFailureStillStores(t *testing.T) {
	ig, store := newTestIngestor(t, &fakeGeo{})

	_, err := ig.Track(context.Background(), TrackRequest{Domain: "example.com", UserAgent: chromeUA})
	require.NoError(t, err)

	events, _ := store.ListEvents(context.Background(), "site-1", time.Time{})
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Country)
	assert.Empty(t, events[0].City)
	assert.Equal(t, "Chrome", events[0].Browser)
}

func TestTrackRecoversFromEnrichmentPanic(t *testing.T) {
	ig, store := newTestIngestor(t, &fakeGeo{panics: true})

	_, err := ig.Track(context.Background(), TrackRequest{Domain: "example.com", UserAgent: chromeUA})
	require.NoError(t, err)
	events, _ := store.ListEvents(context.Background(), "site-1", time.Time{})
	require.Len(t, events, 1)
	assert.Equal(t, "Windows", events[0].OS)
	assert.Empty(t, events[0].City)
}

func TestTrackStorageFailure(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.CreateWebsite(context.Background(), domain.Website{ID: "site-1", Domain: "example.com"}))
	ig := New(Options{Sites: store, Store: failingStore{store}})

	_, err := ig.Track(context.Background(), TrackRequest{Domain: "example.com", UserAgent: chromeUA})
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTrackWebsiteLookupFailureIsStorageError(t *testing.T) {
	store := memory.NewStore()
	ig := New(Options{Sites: failingSites{}, Store: store})

	_, err := ig.Track(context.Background(), TrackRequest{Domain: "example.com", UserAgent: chromeUA})
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestTrackSurvivesCancelledRequest(t *testing.T) {
	ig, store := newTestIngestor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ig.Track(ctx, TrackRequest{Domain: "example.com", UserAgent: chromeUA})
	require.NoError(t, err)
	assert.NotEmpty(t, res.EventID)
	assert.Equal(t, 1, store.Len())
}

func TestBuildDefaultsAndGeneratedID(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.CreateWebsite(context.Background(), domain.Website{ID: "site-1", Domain: "example.com"}))
	ig := New(Options{Sites: store, Store: store})

	ev, err := ig.Build(context.Background(), TrackRequest{Domain: " Example.com ", URLPath: "/blog", ScreenWidth: 0})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Len(t, ev.ID, 36)
	assert.Equal(t, "/blog", ev.URLPath)
	assert.Equal(t, domain.DeviceUnknown, ev.DeviceType)
	assert.Equal(t, domain.Unknown, ev.Browser)
	assert.Zero(t, ev.ScreenWidth)
	assert.Zero(t, store.Len(), "Build must not persist")
}

func TestBuildBoundsOversizedBrowserVersion(t *testing.T) {
	ig, _ := newTestIngestor(t, nil)
	ua := "Mozilla/5.0 (Windows NT 10.0) Chrome/" + strings.Repeat("1.", 100) + "0 Safari/537.36"

	ev, err := ig.Build(context.Background(), TrackRequest{Domain: "example.com", UserAgent: ua})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "Chrome", ev.Browser)
	assert.Len(t, ev.BrowserVersion, domain.MaxBrowserVersionLen)
	assert.True(t, strings.HasPrefix(ev.BrowserVersion, "1.1.1."))
}
