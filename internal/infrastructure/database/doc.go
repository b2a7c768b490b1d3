// Package database provides the device's local SQLite store.
//
// The store holds the lease event history. It is opened with WAL mode and
// a busy timeout, limited to a single connection, and its file is
// restricted to the owner.
//
// Migrations are SQL file pairs read from an fs.FS, normally the embedded
// migrations package:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive. New columns must be NULLABLE or have DEFAULT
// values, and every .up.sql has a matching .down.sql.
package database
