package geo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/sitepulse/internal/enrich"
)

var ashburn = Result{Country: "United States", CountryCode: "US", City: "Ashburn", Region: "Virginia"}
var berlin = Result{Country: "Germany", CountryCode: "DE", City: "Berlin", Region: "Land Berlin"}
var paris = Result{Country: "France", CountryCode: "FR", City: "Paris", Region: "Île-de-France"}

type fakeProvider struct {
	name    string
	answers map[string]Result
	block   bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Lookup(ctx context.Context, ip string) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ip)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	res, ok := f.answers[ip]
	if !ok {
		return Result{}, errors.New("no answer")
	}
	return res, nil
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestResolver(t *testing.T, cfg ChainConfig, providers ...Provider) *Resolver {
	t.Helper()
	r, err := NewResolver(cfg, providers, nil, nil)
	require.NoError(t, err)
	return r
}

func TestResolveSentinelThenSecondaryCandidate(t *testing.T) {
	primary := &fakeProvider{name: IPAPIName, answers: map[string]Result{
		"203.0.113.5": ashburn,
		"203.0.113.9": berlin,
	}}
	secondary := &fakeProvider{name: IPWhoName}
	r := newTestResolver(t, DefaultChainConfig(), primary, secondary)

	res, ok := r.Resolve(context.Background(), enrich.IPResolution{Primary: "203.0.113.5", Secondary: "203.0.113.9"}, PlatformHints{})
	require.True(t, ok)
	assert.Equal(t, "Berlin", res.City)
	assert.Equal(t, "Germany", res.Country)
	assert.Equal(t, IPAPIName, res.Source)
	assert.Equal(t, []string{"203.0.113.5", "203.0.113.9"}, primary.Calls())
	assert.Empty(t, secondary.Calls())
}

func TestResolveFallsBackToSecondProvider(t *testing.T) {
	primary := &fakeProvider{name: IPAPIName, answers: map[string]Result{"203.0.113.5": ashburn}}
	secondary := &fakeProvider{name: IPWhoName, answers: map[string]Result{"203.0.113.5": paris}}
	r := newTestResolver(t, DefaultChainConfig(), primary, secondary)

	res, ok := r.Resolve(context.Background(), enrich.IPResolution{Primary: "203.0.113.5"}, PlatformHints{})
	require.True(t, ok)
	assert.Equal(t, paris.City, res.City)
	assert.Equal(t, paris.Region, res.Region)
	assert.Equal(t, IPWhoName, res.Source)
}

func TestResolvePlatformHints(t *testing.T) {
	primary := &fakeProvider{name: IPAPIName}
	r := newTestResolver(t, DefaultChainConfig(), primary, &fakeProvider{name: IPWhoName})

	res, ok := r.Resolve(context.Background(), enrich.IPResolution{Primary: "203.0.113.5"},
		PlatformHints{Country: "DE", City: "München", Region: "BY"})
	require.True(t, ok)
	assert.Equal(t, Result{Country: "Germany", CountryCode: "DE", City: "München", Region: "BY", Source: SourcePlatform}, *res)
	assert.Empty(t, primary.Calls(), "platform hints must not cost a network call")
}

func TestResolvePlatformSentinelIsIgnored(t *testing.T) {
	primary := &fakeProvider{name: IPAPIName, answers: map[string]Result{"203.0.113.5": berlin}}
	r := newTestResolver(t, DefaultChainConfig(), primary, &fakeProvider{name: IPWhoName})

	res, ok := r.Resolve(context.Background(), enrich.IPResolution{Primary: "203.0.113.5"},
		PlatformHints{Country: "US", City: "Ashburn", Region: "VA"})
	require.True(t, ok)
	assert.Equal(t, "Berlin", res.City)
}

func TestResolveAllRejected(t *testing.T) {
	primary := &fakeProvider{name: IPAPIName, answers: map[string]Result{"203.0.113.5": ashburn}}
	secondary := &fakeProvider{name: IPWhoName, answers: map[string]Result{"203.0.113.5": {}}}
	r := newTestResolver(t, DefaultChainConfig(), primary, secondary)

	res, ok := r.Resolve(context.Background(), enrich.IPResolution{Primary: "203.0.113.5"}, PlatformHints{})
	assert.False(t, ok)
	assert.Nil(t, res)
	assert.Len(t, primary.Calls(), 1)
	assert.Len(t, secondary.Calls(), 1)
}

func TestResolveUnknownIPSkipsProviders(t *testing.T) {
	primary := &fakeProvider{name: IPAPIName}
	r := newTestResolver(t, DefaultChainConfig(), primary, &fakeProvider{name: IPWhoName})

	_, ok := r.Resolve(context.Background(), enrich.IPResolution{Primary: enrich.UnknownIP}, PlatformHints{})
	assert.False(t, ok)
	assert.Empty(t, primary.Calls())
}

func TestResolveTimeoutMovesOn(t *testing.T) {
	cfg := DefaultChainConfig()
	cfg.Timeout = 20 * time.Millisecond
	slow := &fakeProvider{name: IPAPIName, block: true}
	fast := &fakeProvider{name: IPWhoName, answers: map[string]Result{"203.0.113.5": berlin}}
	r := newTestResolver(t, cfg, slow, fast)

	start := time.Now()
	res, ok := r.Resolve(context.Background(), enrich.IPResolution{Primary: "203.0.113.5"}, PlatformHints{})
	require.True(t, ok)
	assert.Equal(t, "Berlin", res.City)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResolveSkipsRepeatedLookup(t *testing.T) {
	cfg := ChainConfig{Steps: []Step{
		{Source: IPAPIName, Candidate: CandidatePrimary},
		{Source: IPAPIName, Candidate: CandidatePrimary},
	}}
	p := &fakeProvider{name: IPAPIName}
	r := newTestResolver(t, cfg, p)

	_, ok := r.Resolve(context.Background(), enrich.IPResolution{Primary: "203.0.113.5"}, PlatformHints{})
	assert.False(t, ok)
	assert.Len(t, p.Calls(), 1)
}

func TestNewResolverValidatesChain(t *testing.T) {
	_, err := NewResolver(ChainConfig{Steps: []Step{{Source: "maxmind", Candidate: CandidatePrimary}}}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewResolver(ChainConfig{Steps: []Step{{Source: IPAPIName, Candidate: "middle"}}},
		[]Provider{&fakeProvider{name: IPAPIName}}, nil, nil)
	assert.Error(t, err)
}

func TestSentinelMatchesCountryCode(t *testing.T) {
	loc := Location{Country: "US", City: "ashburn"}
	assert.True(t, loc.matches(ashburn))
	assert.False(t, loc.matches(berlin))
	assert.True(t, Location{City: "Ashburn"}.matches(Result{City: "Ashburn", Country: "Anywhere"}))
}
