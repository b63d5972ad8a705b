package models

import (
	"strings"
	"testing"
	"time"

	"github.com/danthegoodman1/usedcars/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTablesBindsEverySchema(t *testing.T) {
	tables, err := NewTables(nil)
	require.NoError(t, err)
	assert.Equal(t, "sites", tables.Sites.Schema().Table())
	assert.Equal(t, []string{"listing_id", "scrape_run_id"}, tables.ListingObservations.Schema().PrimaryKey())
}

func TestNewScrapeRun(t *testing.T) {
	started := time.Date(2022, 11, 1, 9, 0, 0, 0, time.UTC)
	tables, err := NewTables(nil, orm.WithClock(func() time.Time { return started }))
	require.NoError(t, err)

	run, err := tables.NewScrapeRun(4, started)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(run.RunKey, "run_"))
	assert.Equal(t, int64(4), run.SiteID)
	assert.Equal(t, started, run.StartedAt)
	assert.Equal(t, started, run.CreatedAt)
	assert.False(t, run.Persisted())

	other, err := tables.NewScrapeRun(4, started)
	require.NoError(t, err)
	assert.NotEqual(t, run.RunKey, other.RunKey)
}

type parsedListing struct {
	ExternalID string
	URL        string
	Title      string
	Price      string
	MileageKM  *int64
}

func TestListingFromParser(t *testing.T) {
	tables, err := NewTables(nil)
	require.NoError(t, err)

	l, err := tables.Listings.FromExternal(parsedListing{
		ExternalID: "abc-1",
		URL:        "https://example.com/listing/abc-1",
		Title:      "Peugeot 208 Allure",
		Price:      "12500.5",
	}, map[string]any{"site_id": 2, "currency": "EUR", "mileage_km": 0})
	require.NoError(t, err)
	assert.Equal(t, int64(2), l.SiteID)
	assert.Equal(t, "abc-1", l.ExternalID)
	require.NotNil(t, l.Price)
	assert.Equal(t, 12500.5, *l.Price)
	require.NotNil(t, l.Currency)
	assert.Equal(t, "EUR", *l.Currency)
	require.NotNil(t, l.MileageKM)
	assert.Equal(t, int64(0), *l.MileageKM)
	assert.Nil(t, l.VersionID)
	assert.False(t, l.Persisted())
}
