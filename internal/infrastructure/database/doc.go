// Package database provides the SQLite store backing the audit trail.
//
// It opens the database with WAL mode and a busy timeout, limits the pool
// to a single writer and applies versioned SQL migrations from MigrationsFS.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
