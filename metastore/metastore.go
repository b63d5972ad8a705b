package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/danthegoodman1/usedcars/gologger"
)

var (
	logger = gologger.NewComponentLogger("metastore")

	ErrSiteLocked = errors.New("another scrape run holds the site")
)

type (
	// MetaStore coordinates scrape runs across processes and keeps a summary of each one
	// outside the database.
	MetaStore interface {
		// LockSite takes the site for owner until ttl passes or UnlockSite. It reports false
		// when someone else holds it.
		LockSite(ctx context.Context, siteID int64, owner string, ttl time.Duration) (bool, error)
		// UnlockSite releases the site only if owner still holds it.
		UnlockSite(ctx context.Context, siteID int64, owner string) error

		RecordRun(ctx context.Context, run RunSummary) error
		// ListRuns returns the site's runs oldest first.
		ListRuns(ctx context.Context, siteID int64) ([]RunSummary, error)

		Shutdown(ctx context.Context) error
	}

	RunSummary struct {
		RunKey     string
		SiteID     int64
		StartedAt  time.Time
		FinishedAt time.Time
		Pages      int64
		Failures   int64
		New        int
		Updated    int
	}
)
