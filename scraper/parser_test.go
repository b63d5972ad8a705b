package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingsPage = `{
  "page": 1,
  "listings": [
    {
      "id": 1001,
      "url": "https://example.com/l/1001",
      "title": "Peugeot 208 Allure",
      "price": {"amount": "12.500 €", "currency": "EUR"},
      "mileage": {"value": 87000},
      "location": {"city": "Madrid"},
      "seller": {"name": "Autos Madrid"}
    },
    {
      "id": "abc",
      "link": "https://example.com/l/abc",
      "price": 9999.5,
      "year": "2018"
    },
    {
      "title": "no id, skipped"
    }
  ]
}`

func TestParseListings(t *testing.T) {
	got, err := ParseListings([]byte(listingsPage), DefaultAliases())
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "1001", first.ExternalID)
	assert.Equal(t, "https://example.com/l/1001", first.URL)
	require.NotNil(t, first.Title)
	assert.Equal(t, "Peugeot 208 Allure", *first.Title)
	require.NotNil(t, first.Price)
	assert.Equal(t, 12500.0, *first.Price)
	require.NotNil(t, first.Currency)
	assert.Equal(t, "EUR", *first.Currency)
	require.NotNil(t, first.MileageKM)
	assert.Equal(t, int64(87000), *first.MileageKM)
	require.NotNil(t, first.Location)
	assert.Equal(t, "Madrid", *first.Location)
	require.NotNil(t, first.Seller)
	assert.Equal(t, "Autos Madrid", *first.Seller)
	assert.Nil(t, first.Year)

	second := got[1]
	assert.Equal(t, "abc", second.ExternalID)
	assert.Equal(t, "https://example.com/l/abc", second.URL)
	require.NotNil(t, second.Price)
	assert.Equal(t, 9999.5, *second.Price)
	require.NotNil(t, second.Year)
	assert.Equal(t, int64(2018), *second.Year)
	assert.Nil(t, second.Title)
}

func TestParseListingsShapes(t *testing.T) {
	got, err := ParseListings([]byte(`[{"id": 1, "url": "u1"}, {"id": 2, "url": "u2"}]`), DefaultAliases())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = ParseListings([]byte(`{"id": 1, "url": "u1"}`), DefaultAliases())
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = ParseListings([]byte(`{"results": []}`), DefaultAliases())
	assert.ErrorIs(t, err, ErrNoListings)

	_, err = ParseListings([]byte(`"just a string"`), DefaultAliases())
	assert.ErrorIs(t, err, ErrNoListings)

	_, err = ParseListings([]byte(`<html>`), DefaultAliases())
	assert.Error(t, err)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "price_amount", NormalizeKey("price.amount"))
	assert.Equal(t, "price_amount", NormalizeKey("Price.Amount"))
	assert.Equal(t, "seller_name", NormalizeKey("seller__name_"))
}

func TestParseNumber(t *testing.T) {
	cases := map[string]float64{
		"12.500 €":  12500,
		"1,234.50":  1234.5,
		"1.234,50":  1234.5,
		"87 000 km": 87000,
		"9.99":      9.99,
		"1.234.567": 1234567,
		"42":        42,
	}
	for in, want := range cases {
		got, ok := ParseNumber(in)
		if assert.True(t, ok, in) {
			assert.InDelta(t, want, got, 0.0001, in)
		}
	}
	_, ok := ParseNumber("ask for price")
	assert.False(t, ok)
}
