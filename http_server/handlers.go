package http_server

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/danthegoodman1/usedcars/models"
	"github.com/danthegoodman1/usedcars/orm"
	"github.com/danthegoodman1/usedcars/parquet_export"
)

type (
	CreateSiteReq struct {
		Name    string  `json:"name" validate:"required"`
		BaseURL *string `json:"base_url" validate:"omitempty,url"`
	}

	UpdateSiteReq struct {
		Name    *string `json:"name" validate:"omitempty,min=1"`
		BaseURL *string `json:"base_url" validate:"omitempty,url"`
	}
)

func (s *HTTPServer) ListSites(c *CustomContext) error {
	var sites []*models.Site
	err := s.withDB(c.Request().Context(), func(ctx context.Context) (err error) {
		sites, err = s.tables.Sites.ListAll(ctx)
		return
	})
	if err != nil {
		return c.InternalError(err, "error listing sites")
	}
	return c.JSON(http.StatusOK, sites)
}

// CreateSite answers 201 with the new site, or 200 with the stored one when a site with the
// same values already exists.
func (s *HTTPServer) CreateSite(c *CustomContext) error {
	var body CreateSiteReq
	if err := ValidateRequest(c, &body); err != nil {
		return err
	}

	site, err := s.tables.Sites.New(map[string]any{"name": body.Name, "base_url": body.BaseURL})
	if err != nil {
		return c.InternalError(err, "error building site")
	}
	existed := false
	err = s.withDB(c.Request().Context(), func(ctx context.Context) error {
		found, err := s.tables.Sites.Exists(ctx, site)
		if err != nil {
			return err
		}
		existed = found
		_, err = s.tables.Sites.Persist(ctx, site, false)
		return err
	})
	if err != nil {
		return c.InternalError(err, "error persisting site")
	}
	if existed {
		return c.JSON(http.StatusOK, site)
	}
	return c.JSON(http.StatusCreated, site)
}

func (s *HTTPServer) GetSite(c *CustomContext) error {
	id, ok, err := c.Int64Param("id")
	if !ok {
		return err
	}
	var site *models.Site
	err = s.withDB(c.Request().Context(), func(ctx context.Context) (err error) {
		site, err = s.tables.Sites.LoadByKey(ctx, []any{id})
		return
	})
	if errors.Is(err, orm.ErrRecordNotFound) {
		return c.String(http.StatusNotFound, "site not found")
	}
	if err != nil {
		return c.InternalError(err, "error loading site")
	}
	return c.JSON(http.StatusOK, site)
}

// UpdateSite writes only the fields present in the body.
func (s *HTTPServer) UpdateSite(c *CustomContext) error {
	id, ok, err := c.Int64Param("id")
	if !ok {
		return err
	}
	var body UpdateSiteReq
	if err := ValidateRequest(c, &body); err != nil {
		return err
	}
	var columns []string
	if body.Name != nil {
		columns = append(columns, "name")
	}
	if body.BaseURL != nil {
		columns = append(columns, "base_url")
	}
	if len(columns) == 0 {
		return c.String(http.StatusBadRequest, "nothing to update")
	}

	var site *models.Site
	err = s.withDB(c.Request().Context(), func(ctx context.Context) (err error) {
		site, err = s.tables.Sites.LoadByKey(ctx, []any{id})
		if err != nil {
			return err
		}
		if body.Name != nil {
			site.Name = *body.Name
		}
		if body.BaseURL != nil {
			site.BaseURL = body.BaseURL
		}
		return s.tables.Sites.Refresh(ctx, site, columns...)
	})
	if errors.Is(err, orm.ErrRecordNotFound) {
		return c.String(http.StatusNotFound, "site not found")
	}
	if err != nil {
		return c.InternalError(err, "error updating site")
	}
	return c.JSON(http.StatusOK, site)
}

func (s *HTTPServer) GetListing(c *CustomContext) error {
	id, ok, err := c.Int64Param("id")
	if !ok {
		return err
	}
	var listing *models.Listing
	err = s.withDB(c.Request().Context(), func(ctx context.Context) (err error) {
		listing, err = s.tables.Listings.LoadByKey(ctx, []any{id})
		return
	})
	if errors.Is(err, orm.ErrRecordNotFound) {
		return c.String(http.StatusNotFound, "listing not found")
	}
	if err != nil {
		return c.InternalError(err, "error loading listing")
	}
	return c.JSON(http.StatusOK, listing)
}

// ExportListings streams every listing as a snappy parquet file.
func (s *HTTPServer) ExportListings(c *CustomContext) error {
	var buf bytes.Buffer
	err := s.withDB(c.Request().Context(), func(ctx context.Context) error {
		_, err := parquet_export.ExportListings(ctx, s.tables, &buf)
		return err
	})
	if err != nil {
		return c.InternalError(err, "error exporting listings")
	}
	c.Response().Header().Set("Content-Disposition", `attachment; filename="listings.parquet"`)
	return c.Blob(http.StatusOK, "application/vnd.apache.parquet", buf.Bytes())
}
