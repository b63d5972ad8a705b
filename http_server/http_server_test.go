package http_server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danthegoodman1/usedcars/models"
	"github.com/danthegoodman1/usedcars/orm"
	"github.com/danthegoodman1/usedcars/orm/ormtest"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommitter struct {
	commits, rollbacks int
}

func (f *fakeCommitter) Commit(context.Context) error {
	f.commits++
	return nil
}

func (f *fakeCommitter) Rollback(context.Context) error {
	f.rollbacks++
	return nil
}

func newTestServer(t *testing.T) (*HTTPServer, *fakeCommitter, *models.Tables) {
	t.Helper()
	store := ormtest.NewStore()
	for _, s := range []*orm.Schema{models.SiteSchema, models.ListingSchema} {
		store.AddTable(s.Table(), s.Columns(), s.PrimaryKey())
	}
	tables, err := models.NewTables(store)
	require.NoError(t, err)
	tx := &fakeCommitter{}
	return NewHTTPServer(tables, tx), tx, tables
}

func do(s *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/hc", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestCreateSite(t *testing.T) {
	s, tx, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/sites", `{"name":"coches","base_url":"https://coches.example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Site
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.SiteID)
	assert.Equal(t, "coches", created.Name)

	// same values again resolve to the stored site
	rec = do(s, http.MethodPost, "/sites", `{"name":"coches","base_url":"https://coches.example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var again models.Site
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, created.SiteID, again.SiteID)

	rec = do(s, http.MethodGet, "/sites", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sites []models.Site
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sites))
	assert.Len(t, sites, 1)
	assert.Equal(t, 3, tx.commits)
}

func TestCreateSiteValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/sites", `{"base_url":"https://x.example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/sites", `{"name":"x","base_url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndUpdateSite(t *testing.T) {
	s, _, tables := newTestServer(t)
	site, err := tables.Sites.New(map[string]any{"name": "autos"})
	require.NoError(t, err)
	_, err = tables.Sites.Persist(context.Background(), site, false)
	require.NoError(t, err)

	rec := do(s, http.MethodGet, "/sites/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodPatch, "/sites/1", `{"base_url":"https://autos.example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.Site
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.NotNil(t, updated.BaseURL)
	assert.Equal(t, "https://autos.example.com", *updated.BaseURL)
	assert.Equal(t, "autos", updated.Name)
	assert.NotNil(t, updated.UpdatedAt)

	stored, err := tables.Sites.LoadByKey(context.Background(), []any{int64(1)})
	require.NoError(t, err)
	assert.Equal(t, "https://autos.example.com", *stored.BaseURL)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPatch, "/sites/1", `{}`).Code)
}

func TestSiteNotFound(t *testing.T) {
	s, tx, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/sites/9", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPatch, "/sites/9", `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/sites/abc", "").Code)
	assert.Equal(t, 2, tx.rollbacks)
}

func TestListingsEndpoints(t *testing.T) {
	s, _, tables := newTestServer(t)
	l, err := tables.Listings.New(map[string]any{"site_id": int64(1), "external_id": "a1", "url": "https://x.example.com/a1"})
	require.NoError(t, err)
	_, err = tables.Listings.Persist(context.Background(), l, false)
	require.NoError(t, err)

	rec := do(s, http.MethodGet, "/listings/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "a1", got.ExternalID)

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/listings/2", "").Code)

	rec = do(s, http.MethodGet, "/listings/export.parquet", "")
	require.Equal(t, http.StatusOK, rec.Code)
	// parquet files start and end with the PAR1 magic
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PAR1"))
	assert.True(t, strings.HasSuffix(rec.Body.String(), "PAR1"))
}

func TestWithDBRollsBack(t *testing.T) {
	s, tx, _ := newTestServer(t)
	boom := errors.New("boom")
	err := s.withDB(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, tx.rollbacks)
	assert.Zero(t, tx.commits)
}
