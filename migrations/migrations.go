package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/danthegoodman1/usedcars/gologger"
	// ensure "pgx" driver is loaded
	_ "github.com/jackc/pgx/v4/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	//go:embed *.sql
	migrations embed.FS

	ErrMigrationsNotRun = fmt.Errorf("not all migrations applied")

	logger = gologger.NewComponentLogger("migrations")

	migrationSet = migrate.MigrationSet{
		TableName: "schema_migrations",
	}
)

func source() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       ".",
	}
}

// Migrations lists the embedded migrations in apply order.
func Migrations() ([]*migrate.Migration, error) {
	ms, err := source().FindMigrations()
	if err != nil {
		return nil, fmt.Errorf("error in FindMigrations: %w", err)
	}
	return ms, nil
}

// RunMigrations applies every pending migration and returns how many ran.
func RunMigrations(dsn string) (int, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return 0, fmt.Errorf("error in sql.Open: %w", err)
	}
	defer db.Close()
	n, err := migrationSet.Exec(db, "postgres", source(), migrate.Up)
	if err != nil {
		return n, fmt.Errorf("error applying migrations: %w", err)
	}
	logger.Info().Int("applied", n).Msg("migrations applied")
	return n, nil
}

// CheckMigrations returns ErrMigrationsNotRun, after logging each missing id, when the
// database is behind the embedded set.
func CheckMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("error in sql.Open: %w", err)
	}
	defer db.Close()
	planned, _, err := migrationSet.PlanMigration(db, "postgres", source(), migrate.Up, 0)
	if err != nil {
		return fmt.Errorf("error in PlanMigration: %w", err)
	}
	if len(planned) > 0 {
		for _, mig := range planned {
			logger.Warn().Str("migrationID", mig.Id).Msg("missing migration")
		}
		return ErrMigrationsNotRun
	}
	return nil
}
