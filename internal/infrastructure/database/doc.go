// Package database provides the SQLite connection used by the connection
// journal.
//
// It opens the file with WAL mode and a busy timeout, limits the pool to a
// single connection, and applies forward-only migrations supplied as an
// fs.FS by the package that owns the schema.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
package database
