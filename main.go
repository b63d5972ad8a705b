package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danthegoodman1/usedcars/crdb"
	"github.com/danthegoodman1/usedcars/database"
	"github.com/danthegoodman1/usedcars/datastore"
	"github.com/danthegoodman1/usedcars/gologger"
	"github.com/danthegoodman1/usedcars/http_server"
	"github.com/danthegoodman1/usedcars/metastore"
	"github.com/danthegoodman1/usedcars/migrations"
	"github.com/danthegoodman1/usedcars/models"
	"github.com/danthegoodman1/usedcars/parquet_export"
	"github.com/danthegoodman1/usedcars/s3_helper"
	"github.com/danthegoodman1/usedcars/scraper"
	"github.com/danthegoodman1/usedcars/utils"
)

var logger = gologger.NewLogger()

func main() {
	logger.Debug().Msg("starting usedcars")
	ctx := context.Background()
	cfg := crdb.ConfigFromEnv()

	if utils.ENSURE_DB {
		if _, err := crdb.EnsureDatabase(ctx, cfg); err != nil {
			logger.Error().Err(err).Msg("error ensuring database")
			os.Exit(1)
		}
	}

	if utils.RUN_MIGRATIONS {
		n, err := migrations.RunMigrations(cfg.ConnString())
		if err != nil {
			logger.Error().Err(err).Msg("error running migrations")
			os.Exit(1)
		}
		logger.Info().Int("applied", n).Msg("ran migrations")
	} else if err := migrations.CheckMigrations(cfg.ConnString()); err != nil {
		logger.Error().Err(err).Msg("Error checking migrations")
		os.Exit(1)
	}

	factory := crdb.NewFactory(cfg)
	if err := runJobs(ctx, factory); err != nil {
		logger.Error().Err(err).Msg("error running startup jobs")
		os.Exit(1)
	}

	// the server gets its own connection so its commits never flush job work
	httpConn, err := factory.Isolated(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("error connecting to CRDB")
		os.Exit(1)
	}
	tables, err := models.NewTables(database.New(httpConn))
	if err != nil {
		logger.Error().Err(err).Msg("error building tables")
		os.Exit(1)
	}
	httpServer := http_server.NewHTTPServer(tables, httpConn)
	if err := httpServer.Start(); err != nil {
		logger.Error().Err(err).Msg("error starting HTTP server")
		os.Exit(1)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	// Convert the time to seconds
	sleepTime := utils.GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}
	if err := httpConn.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("error closing HTTP server connection")
	}
	if err := factory.Reset(ctx); err != nil {
		logger.Error().Err(err).Msg("error closing shared connection")
	}
}

// runJobs runs the one-shot scrape and export configured in the env on the shared connection.
func runJobs(ctx context.Context, factory *crdb.Factory) error {
	if utils.SCRAPE_SITE_ID == 0 && utils.EXPORT_PARQUET_PATH == "" {
		return nil
	}
	conn, err := factory.Shared(ctx)
	if err != nil {
		return fmt.Errorf("error in factory.Shared: %w", err)
	}
	tables, err := models.NewTables(database.New(conn))
	if err != nil {
		return fmt.Errorf("error in NewTables: %w", err)
	}

	if utils.SCRAPE_SITE_ID != 0 {
		if err := scrape(ctx, tables, utils.SCRAPE_SITE_ID, splitPaths(utils.SCRAPE_PATHS)); err != nil {
			if rbErr := conn.Rollback(ctx); rbErr != nil {
				logger.Error().Err(rbErr).Msg("error rolling back scrape")
			}
			return err
		}
		if err := conn.Commit(ctx); err != nil {
			return fmt.Errorf("error committing scrape: %w", err)
		}
	}

	if utils.EXPORT_PARQUET_PATH != "" {
		n, err := parquet_export.ExportListingsToFile(ctx, tables, utils.EXPORT_PARQUET_PATH)
		if err != nil {
			return fmt.Errorf("error exporting listings: %w", err)
		}
		if err := conn.Rollback(ctx); err != nil {
			return fmt.Errorf("error ending export transaction: %w", err)
		}
		logger.Info().Int("listings", n).Str("path", utils.EXPORT_PARQUET_PATH).Msg("exported listings")
	}
	return nil
}

func scrape(ctx context.Context, tables *models.Tables, siteID int64, paths []string) error {
	site, err := tables.Sites.LoadByKey(ctx, []any{siteID})
	if err != nil {
		return fmt.Errorf("error loading site %d: %w", siteID, err)
	}
	cfg := scraper.DefaultConfig()
	cfg.BaseURL = utils.Deref(site.BaseURL, "")
	fetcher := scraper.NewFetcher(cfg)

	var archiver scraper.Archiver
	switch {
	case utils.S3_BUCKET_NAME != "":
		pa, err := s3_helper.NewPageArchiverFromEnv()
		if err != nil {
			return fmt.Errorf("error in NewPageArchiverFromEnv: %w", err)
		}
		archiver = pa
	case utils.ARCHIVE_DIR != "":
		dds, err := datastore.NewDiskDataStore(utils.ARCHIVE_DIR)
		if err != nil {
			return fmt.Errorf("error in NewDiskDataStore: %w", err)
		}
		archiver = dds
	}

	var ms metastore.MetaStore
	if utils.REDIS_ADDR != "" {
		rms, err := metastore.NewRedisMetaStore(ctx)
		if err != nil {
			return fmt.Errorf("error in NewRedisMetaStore: %w", err)
		}
		defer rms.Shutdown(ctx)
		ms = rms

		owner := utils.GenRandomID("")
		locked, err := ms.LockSite(ctx, siteID, owner, time.Duration(utils.SCRAPE_LOCK_TTL_SEC)*time.Second)
		if err != nil {
			return fmt.Errorf("error locking site: %w", err)
		}
		if !locked {
			return fmt.Errorf("%w: site %d", metastore.ErrSiteLocked, siteID)
		}
		defer func() {
			if err := ms.UnlockSite(ctx, siteID, owner); err != nil {
				logger.Error().Err(err).Msg("error unlocking site")
			}
		}()
	}

	res, err := scraper.NewIngestor(tables, fetcher, archiver).Run(ctx, site, paths)
	if err != nil {
		return fmt.Errorf("error in scrape run: %w", err)
	}
	if ms != nil {
		err := ms.RecordRun(ctx, metastore.RunSummary{
			RunKey:     res.Run.RunKey,
			SiteID:     siteID,
			StartedAt:  res.Run.StartedAt,
			FinishedAt: utils.Deref(res.Run.FinishedAt, time.Time{}),
			Pages:      res.Run.Pages,
			Failures:   res.Run.Failures,
			New:        res.New,
			Updated:    res.Updated,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("error recording run summary")
		}
	}
	stats := fetcher.Stats()
	logger.Info().Str("runKey", res.Run.RunKey).Int("new", res.New).Int("updated", res.Updated).Int64("requests", stats.Total).Int("failed", len(res.Failed)).Msg("scrape finished")
	return nil
}

func splitPaths(s string) []string {
	var paths []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
