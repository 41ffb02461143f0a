package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/sitepulse/internal/config"
	"example.com/sitepulse/internal/domain"
	"example.com/sitepulse/internal/storage/memory"
)

func TestRegisterWebsite(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, registerWebsite(ctx, store, store, " Example.COM ", "owner-1"))
	site, err := store.WebsiteByDomain(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", site.Domain)
	assert.Equal(t, "owner-1", site.OwnerID)
	assert.NotEmpty(t, site.ID)

	err = registerWebsite(ctx, store, store, "example.com", "")
	assert.ErrorContains(t, err, "already registered")

	err = registerWebsite(ctx, store, store, "https://bad/path", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOpenBackend(t *testing.T) {
	store, closeFn, err := openBackend(context.Background(), config.Config{Storage: "memory"}, slog.Default())
	require.NoError(t, err)
	defer closeFn()
	assert.NoError(t, store.Ping(context.Background()))

	_, _, err = openBackend(context.Background(), config.Config{Storage: "cassandra"}, slog.Default())
	assert.ErrorContains(t, err, "unknown STORAGE")
}

func TestNewGeoResolver_BadChainFile(t *testing.T) {
	_, err := newGeoResolver(config.Config{GeoChainFile: "/nonexistent/geo.yaml"}, slog.Default(), nil)
	assert.Error(t, err)
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("info").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("error").Enabled(ctx, slog.LevelWarn))
	assert.True(t, newLogger("bogus").Enabled(ctx, slog.LevelInfo))
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := rootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "website", "version"} {
		assert.True(t, names[want], want)
	}
}
