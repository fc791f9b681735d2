// Package database provides SQLite connectivity for SprayCell Core.
//
// The database holds the transition audit log. It is opened in WAL mode
// with a single connection and migrated from an embedded filesystem:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive-only: new columns must be nullable or carry a
// default, and every .up.sql ships with a .down.sql.
package database
