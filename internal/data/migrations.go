package data

import (
	"context"
	"database/sql"

	"github.com/quarrylabs/quarry/internal/migrate"
)

// RunMigrations sets up the jobs schema by delegating to the migrate package.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}
