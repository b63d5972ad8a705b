package parquet_export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/danthegoodman1/usedcars/gologger"
	"github.com/danthegoodman1/usedcars/models"
	"github.com/rs/zerolog"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

var logger = gologger.NewComponentLogger("parquet_export")

const parallelism = 4

// ListingRow is the columnar layout of a listing. Timestamps are unix milliseconds.
type ListingRow struct {
	ListingID  int64    `parquet:"name=listing_id, type=INT64"`
	SiteID     int64    `parquet:"name=site_id, type=INT64"`
	ExternalID string   `parquet:"name=external_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	URL        string   `parquet:"name=url, type=BYTE_ARRAY, convertedtype=UTF8"`
	VersionID  *int64   `parquet:"name=version_id, type=INT64, repetitiontype=OPTIONAL"`
	Title      *string  `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Price      *float64 `parquet:"name=price, type=DOUBLE, repetitiontype=OPTIONAL"`
	Currency   *string  `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY, repetitiontype=OPTIONAL"`
	MileageKM  *int64   `parquet:"name=mileage_km, type=INT64, repetitiontype=OPTIONAL"`
	Year       *int64   `parquet:"name=year, type=INT64, repetitiontype=OPTIONAL"`
	Location   *string  `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Seller     *string  `parquet:"name=seller, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	UpdatedAt  *int64   `parquet:"name=updated_at, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
	CreatedAt  int64    `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func NewListingRow(l *models.Listing) ListingRow {
	row := ListingRow{
		ListingID:  l.ListingID,
		SiteID:     l.SiteID,
		ExternalID: l.ExternalID,
		URL:        l.URL,
		VersionID:  l.VersionID,
		Title:      l.Title,
		Price:      l.Price,
		Currency:   l.Currency,
		MileageKM:  l.MileageKM,
		Year:       l.Year,
		Location:   l.Location,
		Seller:     l.Seller,
		CreatedAt:  l.CreatedAt.UnixMilli(),
	}
	if l.UpdatedAt != nil {
		ms := l.UpdatedAt.UnixMilli()
		row.UpdatedAt = &ms
	}
	return row
}

// WriteListings writes a snappy compressed parquet file to w.
func WriteListings(w io.Writer, listings []*models.Listing) error {
	pw, err := writer.NewParquetWriterFromWriter(w, new(ListingRow), parallelism)
	if err != nil {
		return fmt.Errorf("error in writer.NewParquetWriterFromWriter: %w", err)
	}
	return writeRows(pw, listings)
}

func writeRows(pw *writer.ParquetWriter, listings []*models.Listing) error {
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, l := range listings {
		if err := pw.Write(NewListingRow(l)); err != nil {
			return fmt.Errorf("error in pw.Write for listing %d: %w", l.ListingID, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return nil
}

// ExportListings writes every stored listing to w and returns how many were written.
func ExportListings(ctx context.Context, tables *models.Tables, w io.Writer) (int, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	s := time.Now()
	listings, err := tables.Listings.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("error listing listings: %w", err)
	}
	if err := WriteListings(w, listings); err != nil {
		return 0, err
	}
	logger.Debug().Int("rows", len(listings)).Str("duration", time.Since(s).String()).Msg("exported listings")
	return len(listings), nil
}

// ExportListingsToFile is ExportListings into a local file.
func ExportListingsToFile(ctx context.Context, tables *models.Tables, path string) (int, error) {
	listings, err := tables.Listings.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("error listing listings: %w", err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("error in local.NewLocalFileWriter: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(ListingRow), parallelism)
	if err != nil {
		return 0, fmt.Errorf("error in writer.NewParquetWriter: %w", err)
	}
	if err := writeRows(pw, listings); err != nil {
		return 0, err
	}
	logger.Info().Str("path", path).Int("rows", len(listings)).Msg("exported listings to file")
	return len(listings), nil
}

// ReadListings reads back a file written by this package.
func ReadListings(path string) ([]ListingRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("error in local.NewLocalFileReader: %w", err)
	}
	defer fr.Close()
	return readRows(fr)
}

func readRows(fr source.ParquetFile) ([]ListingRow, error) {
	pr, err := reader.NewParquetReader(fr, new(ListingRow), parallelism)
	if err != nil {
		return nil, fmt.Errorf("error in reader.NewParquetReader: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]ListingRow, int(pr.GetNumRows()))
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("error in pr.Read: %w", err)
	}
	return rows, nil
}
