// Package database provides the SQLite connection and schema migrations
// backing the device store.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns are nullable or carry a DEFAULT, and
// every .up.sql has a matching .down.sql.
package database
