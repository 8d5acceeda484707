// Package database opens the host's SQLite database and applies the
// embedded schema migrations.
//
// The database only holds the backend launch history. It runs with a single
// connection, WAL journaling when enabled, and a busy timeout. The file is
// created with owner-only permissions.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and are registered through MigrationsFS by
// the migrations package.
package database
