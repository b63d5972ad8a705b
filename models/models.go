package models

import (
	"time"

	"github.com/danthegoodman1/usedcars/orm"
)

type (
	Site struct {
		orm.Model
		SiteID    int64      `db:"site_id" json:"site_id"`
		Name      string     `db:"name" json:"name"`
		BaseURL   *string    `db:"base_url" json:"base_url,omitempty"`
		UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
		CreatedAt time.Time  `db:"created_at" json:"created_at"`
	}

	Brand struct {
		orm.Model
		BrandID   int64     `db:"brand_id" json:"brand_id"`
		Name      string    `db:"name" json:"name"`
		CreatedAt time.Time `db:"created_at" json:"created_at"`
	}

	VehicleModel struct {
		orm.Model
		ModelID   int64     `db:"model_id" json:"model_id"`
		BrandID   int64     `db:"brand_id" json:"brand_id"`
		Name      string    `db:"name" json:"name"`
		CreatedAt time.Time `db:"created_at" json:"created_at"`
	}

	Version struct {
		orm.Model
		VersionID int64     `db:"version_id" json:"version_id"`
		ModelID   int64     `db:"model_id" json:"model_id"`
		Name      string    `db:"name" json:"name"`
		Year      *int64    `db:"year" json:"year,omitempty"`
		CreatedAt time.Time `db:"created_at" json:"created_at"`
	}

	// VersionDetails shares its key with the version it describes.
	VersionDetails struct {
		orm.Model
		VersionID    int64      `db:"version_id" json:"version_id"`
		Fuel         *string    `db:"fuel" json:"fuel,omitempty"`
		Transmission *string    `db:"transmission" json:"transmission,omitempty"`
		PowerHP      *int64     `db:"power_hp" json:"power_hp,omitempty"`
		BodyType     *string    `db:"body_type" json:"body_type,omitempty"`
		Doors        *int64     `db:"doors" json:"doors,omitempty"`
		UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
		CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	}

	ScrapeRun struct {
		orm.Model
		ScrapeRunID int64      `db:"scrape_run_id" json:"scrape_run_id"`
		RunKey      string     `db:"run_key" json:"run_key"`
		SiteID      int64      `db:"site_id" json:"site_id"`
		StartedAt   time.Time  `db:"started_at" json:"started_at"`
		FinishedAt  *time.Time `db:"finished_at" json:"finished_at,omitempty"`
		Pages       int64      `db:"pages" json:"pages"`
		Failures    int64      `db:"failures" json:"failures"`
		UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
		CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	}

	Listing struct {
		orm.Model
		ListingID  int64      `db:"listing_id" json:"listing_id"`
		SiteID     int64      `db:"site_id" json:"site_id"`
		ExternalID string     `db:"external_id" json:"external_id"`
		URL        string     `db:"url" json:"url"`
		VersionID  *int64     `db:"version_id" json:"version_id,omitempty"`
		Title      *string    `db:"title" json:"title,omitempty"`
		Price      *float64   `db:"price" json:"price,omitempty"`
		Currency   *string    `db:"currency" json:"currency,omitempty"`
		MileageKM  *int64     `db:"mileage_km" json:"mileage_km,omitempty"`
		Year       *int64     `db:"year" json:"year,omitempty"`
		Location   *string    `db:"location" json:"location,omitempty"`
		Seller     *string    `db:"seller" json:"seller,omitempty"`
		UpdatedAt  *time.Time `db:"updated_at" json:"updated_at,omitempty"`
		CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	}

	// ListingObservation is one sighting of a listing during a scrape run.
	ListingObservation struct {
		orm.Model
		ListingID   int64     `db:"listing_id" json:"listing_id"`
		ScrapeRunID int64     `db:"scrape_run_id" json:"scrape_run_id"`
		Price       *float64  `db:"price" json:"price,omitempty"`
		MileageKM   *int64    `db:"mileage_km" json:"mileage_km,omitempty"`
		ObservedAt  time.Time `db:"observed_at" json:"observed_at"`
	}
)

var (
	SiteSchema = orm.MustSchema("sites",
		[]string{"site_id", "name", "base_url", "updated_at", "created_at"},
		[]string{"site_id"})

	BrandSchema = orm.MustSchema("brands",
		[]string{"brand_id", "name", "created_at"},
		[]string{"brand_id"})

	VehicleModelSchema = orm.MustSchema("vehicle_models",
		[]string{"model_id", "brand_id", "name", "created_at"},
		[]string{"model_id"})

	VersionSchema = orm.MustSchema("versions",
		[]string{"version_id", "model_id", "name", "year", "created_at"},
		[]string{"version_id"})

	VersionDetailsSchema = orm.MustSchema("version_details",
		[]string{"version_id", "fuel", "transmission", "power_hp", "body_type", "doors", "updated_at", "created_at"},
		[]string{"version_id"})

	ScrapeRunSchema = orm.MustSchema("scrape_runs",
		[]string{"scrape_run_id", "run_key", "site_id", "started_at", "finished_at", "pages", "failures", "updated_at", "created_at"},
		[]string{"scrape_run_id"})

	ListingSchema = orm.MustSchema("listings",
		[]string{"listing_id", "site_id", "external_id", "url", "version_id", "title", "price", "currency",
			"mileage_km", "year", "location", "seller", "updated_at", "created_at"},
		[]string{"listing_id"})

	ListingObservationSchema = orm.MustSchema("listing_observations",
		[]string{"listing_id", "scrape_run_id", "price", "mileage_km", "observed_at"},
		[]string{"listing_id", "scrape_run_id"})
)
