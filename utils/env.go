package utils

import "os"

var (
	// CRDB_DSN overrides the individual DB_* settings when present.
	CRDB_DSN = os.Getenv("CRDB_DSN")

	DB_NAME     = os.Getenv("DB_NAME")
	DB_USER     = os.Getenv("DB_USER")
	DB_PASSWORD = os.Getenv("DB_PASSWORD")
	DB_HOST     = GetEnvOrDefault("DB_HOST", "localhost")
	DB_PORT     = GetEnvOrDefault("DB_PORT", "5432")

	// ENSURE_DB=1 makes the entrypoint create DB_NAME before migrating.
	ENSURE_DB = os.Getenv("ENSURE_DB") == "1"
	// RUN_MIGRATIONS=1 applies pending migrations instead of only checking them.
	RUN_MIGRATIONS = os.Getenv("RUN_MIGRATIONS") == "1"

	AWS_DEFAULT_REGION = GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")

	S3_BUCKET_NAME = os.Getenv("S3_BUCKET_NAME")
	S3_ENDPOINT    = os.Getenv("S3_ENDPOINT")
)

var (
	HTTP_PORT = GetEnvOrDefault("HTTP_PORT", "8080")

	// SCRAPE_SITE_ID and SCRAPE_PATHS (comma separated) trigger a scrape run at startup.
	SCRAPE_SITE_ID = GetEnvOrDefaultInt("SCRAPE_SITE_ID", 0)
	SCRAPE_PATHS   = os.Getenv("SCRAPE_PATHS")

	// EXPORT_PARQUET_PATH writes every listing to a parquet file at startup.
	EXPORT_PARQUET_PATH = os.Getenv("EXPORT_PARQUET_PATH")

	// ARCHIVE_DIR keeps raw pages on local disk when no S3 bucket is configured.
	ARCHIVE_DIR = os.Getenv("ARCHIVE_DIR")
	// REDIS_ADDR enables the cross-process site lock and run history.
	REDIS_ADDR          = os.Getenv("REDIS_ADDR")
	SCRAPE_LOCK_TTL_SEC = GetEnvOrDefaultInt("SCRAPE_LOCK_TTL_SEC", 1800)
)
