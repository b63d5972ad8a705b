package scraper

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/danthegoodman1/usedcars/models"
	"github.com/rs/zerolog"
)

type (
	// Archiver keeps the raw page somewhere outside the database and returns where.
	Archiver interface {
		Archive(ctx context.Context, siteID int64, page *Page) (string, error)
	}

	Ingestor struct {
		tables   *models.Tables
		fetcher  *Fetcher
		archiver Archiver
		aliases  Aliases
		now      func() time.Time
	}

	RunResult struct {
		Run *models.ScrapeRun
		// Listings counts every listing seen, New only the ones inserted by this run.
		Listings int
		New      int
		Updated  int
		Failed   []string
	}
)

// NewIngestor wires a fetcher to the store. archiver may be nil.
func NewIngestor(tables *models.Tables, fetcher *Fetcher, archiver Archiver) *Ingestor {
	return &Ingestor{
		tables:   tables,
		fetcher:  fetcher,
		archiver: archiver,
		aliases:  DefaultAliases(),
		now:      time.Now,
	}
}

// Run records a scrape run for site, fetches every path and stores the listings found. Fetch
// and parse failures are counted on the run and do not stop it; store errors do.
func (in *Ingestor) Run(ctx context.Context, site *models.Site, paths []string) (*RunResult, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	run, err := in.tables.NewScrapeRun(site.SiteID, in.now())
	if err != nil {
		return nil, fmt.Errorf("error in NewScrapeRun: %w", err)
	}
	if _, err := in.tables.ScrapeRuns.Persist(ctx, run, true); err != nil {
		return nil, fmt.Errorf("error persisting scrape run: %w", err)
	}
	logger.Info().Str("runKey", run.RunKey).Int64("siteID", site.SiteID).Int("paths", len(paths)).Msg("starting scrape run")

	res := &RunResult{Run: run}
	seen := map[int64]bool{}
	for _, path := range paths {
		page, err := in.fetcher.Fetch(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn().Err(err).Str("path", path).Msg("giving up on page")
			run.Failures++
			res.Failed = append(res.Failed, path)
			continue
		}
		run.Pages++

		if in.archiver != nil {
			key, err := in.archiver.Archive(ctx, site.SiteID, page)
			if err != nil {
				logger.Warn().Err(err).Str("url", page.URL).Msg("error archiving page")
			} else {
				logger.Debug().Str("key", key).Msg("archived page")
			}
		}

		parsed, err := ParseListings(page.Body, in.aliases)
		if errors.Is(err, ErrNoListings) {
			logger.Debug().Str("url", page.URL).Msg("no listings on page")
			continue
		}
		if err != nil {
			logger.Warn().Err(err).Str("url", page.URL).Msg("error parsing page")
			run.Failures++
			res.Failed = append(res.Failed, path)
			continue
		}

		for _, p := range parsed {
			created, updated, listing, err := in.storeListing(ctx, site, p)
			if err != nil {
				return nil, err
			}
			res.Listings++
			if created {
				res.New++
			} else if updated {
				res.Updated++
			}
			if seen[listing.ListingID] {
				continue
			}
			seen[listing.ListingID] = true
			obs := &models.ListingObservation{
				ListingID:   listing.ListingID,
				ScrapeRunID: run.ScrapeRunID,
				Price:       listing.Price,
				MileageKM:   listing.MileageKM,
				ObservedAt:  page.FetchedAt,
			}
			if _, err := in.tables.ListingObservations.Persist(ctx, obs, true); err != nil {
				return nil, fmt.Errorf("error persisting observation: %w", err)
			}
		}
	}

	finished := in.now()
	run.FinishedAt = &finished
	if err := in.tables.ScrapeRuns.Refresh(ctx, run, "finished_at", "pages", "failures"); err != nil {
		return nil, fmt.Errorf("error finishing scrape run: %w", err)
	}
	logger.Info().Str("runKey", run.RunKey).Int("listings", res.Listings).Int("new", res.New).Int("updated", res.Updated).Int64("failures", run.Failures).Msg("finished scrape run")
	return res, nil
}

// storeListing inserts p, or refreshes the stored listing with the same site and external id
// when any of its values changed.
func (in *Ingestor) storeListing(ctx context.Context, site *models.Site, p ParsedListing) (created, updated bool, l *models.Listing, err error) {
	l, err = in.tables.Listings.FromExternal(p, map[string]any{"site_id": site.SiteID})
	if err != nil {
		return false, false, nil, fmt.Errorf("error in FromExternal: %w", err)
	}
	existing, err := in.tables.Listings.FindUnique(ctx, map[string]any{"site_id": site.SiteID, "external_id": l.ExternalID})
	if err != nil {
		return false, false, nil, fmt.Errorf("error looking up listing %s: %w", l.ExternalID, err)
	}
	if existing == nil {
		if _, err := in.tables.Listings.Persist(ctx, l, false); err != nil {
			return false, false, nil, fmt.Errorf("error persisting listing %s: %w", l.ExternalID, err)
		}
		return true, false, l, nil
	}

	l.ListingID = existing.ListingID
	l.CreatedAt = existing.CreatedAt
	// version matching happens outside the scraper
	if l.VersionID == nil {
		l.VersionID = existing.VersionID
	}
	// snapshots hold dereferenced values, not the entities' pointer fields, so DeepEqual compares
	// prices and titles rather than addresses
	if reflect.DeepEqual(in.tables.Listings.Snapshot(l).Map(), in.tables.Listings.Snapshot(existing).Map()) {
		return false, false, existing, nil
	}
	if err := in.tables.Listings.Refresh(ctx, l); err != nil {
		return false, false, nil, fmt.Errorf("error refreshing listing %s: %w", l.ExternalID, err)
	}
	return false, true, l, nil
}
