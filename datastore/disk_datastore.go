package datastore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/danthegoodman1/usedcars/gologger"
	"github.com/danthegoodman1/usedcars/partitioner"
	"github.com/danthegoodman1/usedcars/scraper"
	"github.com/danthegoodman1/usedcars/utils"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewComponentLogger("datastore")
)

type (
	// DiskDataStore keeps raw scraped pages on local disk under the same partitioned layout
	// the S3 archiver uses. It satisfies scraper.Archiver.
	DiskDataStore struct {
		rootPath string
		plan     []partitioner.PartitionPlan
	}
)

func NewDiskDataStore(rootPath string) (*DiskDataStore, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	dds := &DiskDataStore{
		rootPath: rootPath,
		plan:     partitioner.ArchivePlan,
	}

	return dds, nil
}

// Archive writes the page body and returns its path relative to the root.
func (dds *DiskDataStore) Archive(ctx context.Context, siteID int64, page *scraper.Page) (string, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	part, err := partitioner.GetRowPartition(map[string]any{
		"site_id":    siteID,
		"fetched_at": page.FetchedAt,
	}, dds.plan)
	if err != nil {
		return "", fmt.Errorf("error in GetRowPartition: %w", err)
	}
	name := fmt.Sprintf("%d_%s.page", page.FetchedAt.UnixMilli(), utils.GenRandomShortID())
	rel := filepath.Join(filepath.FromSlash(part), name)

	w, err := dds.WritePage(ctx, rel)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(page.Body); err != nil {
		w.Close()
		return "", fmt.Errorf("error writing page: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("error closing page file: %w", err)
	}
	logger.Debug().Str("path", rel).Int("bytes", len(page.Body)).Msg("archived page to disk")
	return rel, nil
}

// WritePage creates the file at rel, and any missing parent directories.
func (dds *DiskDataStore) WritePage(_ context.Context, rel string) (io.WriteCloser, error) {
	p := filepath.Join(dds.rootPath, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, fmt.Errorf("error in os.Create: %w", err)
	}
	return f, nil
}

func (dds *DiskDataStore) GetPage(_ context.Context, rel string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(dds.rootPath, rel))
	if err != nil {
		return nil, fmt.Errorf("error in os.Open: %w", err)
	}
	return f, nil
}
