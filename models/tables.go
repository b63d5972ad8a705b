package models

import (
	"fmt"
	"time"

	"github.com/danthegoodman1/usedcars/orm"
	"github.com/danthegoodman1/usedcars/utils"
)

// Tables binds every entity to one store.
type Tables struct {
	Sites               *orm.Table[Site, *Site]
	Brands              *orm.Table[Brand, *Brand]
	VehicleModels       *orm.Table[VehicleModel, *VehicleModel]
	Versions            *orm.Table[Version, *Version]
	VersionDetails      *orm.Table[VersionDetails, *VersionDetails]
	ScrapeRuns          *orm.Table[ScrapeRun, *ScrapeRun]
	Listings            *orm.Table[Listing, *Listing]
	ListingObservations *orm.Table[ListingObservation, *ListingObservation]
}

func NewTables(store orm.Store, opts ...orm.TableOption) (*Tables, error) {
	var (
		t   Tables
		err error
	)
	if t.Sites, err = orm.NewTable[Site](SiteSchema, store, opts...); err != nil {
		return nil, fmt.Errorf("error in NewTable for sites: %w", err)
	}
	if t.Brands, err = orm.NewTable[Brand](BrandSchema, store, opts...); err != nil {
		return nil, fmt.Errorf("error in NewTable for brands: %w", err)
	}
	if t.VehicleModels, err = orm.NewTable[VehicleModel](VehicleModelSchema, store, opts...); err != nil {
		return nil, fmt.Errorf("error in NewTable for vehicle_models: %w", err)
	}
	if t.Versions, err = orm.NewTable[Version](VersionSchema, store, opts...); err != nil {
		return nil, fmt.Errorf("error in NewTable for versions: %w", err)
	}
	if t.VersionDetails, err = orm.NewTable[VersionDetails](VersionDetailsSchema, store, opts...); err != nil {
		return nil, fmt.Errorf("error in NewTable for version_details: %w", err)
	}
	if t.ScrapeRuns, err = orm.NewTable[ScrapeRun](ScrapeRunSchema, store, opts...); err != nil {
		return nil, fmt.Errorf("error in NewTable for scrape_runs: %w", err)
	}
	if t.Listings, err = orm.NewTable[Listing](ListingSchema, store, opts...); err != nil {
		return nil, fmt.Errorf("error in NewTable for listings: %w", err)
	}
	if t.ListingObservations, err = orm.NewTable[ListingObservation](ListingObservationSchema, store, opts...); err != nil {
		return nil, fmt.Errorf("error in NewTable for listing_observations: %w", err)
	}
	return &t, nil
}

// NewScrapeRun starts a run for siteID with a k-sortable run key.
func (t *Tables) NewScrapeRun(siteID int64, startedAt time.Time) (*ScrapeRun, error) {
	return t.ScrapeRuns.New(map[string]any{
		"run_key":    utils.GenKSortedID("run_"),
		"site_id":    siteID,
		"started_at": startedAt,
	})
}
