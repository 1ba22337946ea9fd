package sqlite

import (
	"database/sql"
	"fmt"
)

// columnSpec is one additive migration: a column that must exist on table,
// added with ddl if a catalog inspection shows it missing. Migrations never
// drop or rename columns (SPEC_FULL.md §4.1).
type columnSpec struct {
	table  string
	column string
	ddl    string
}

// migrations lists every column this store version requires, beyond the
// baseline schema. New fields are added here, never by editing the
// baseline CREATE TABLE after it has shipped.
var migrations = []columnSpec{
	{"queue_entries", "parent_workspace", "ALTER TABLE queue_entries ADD COLUMN parent_workspace TEXT"},
}

func (s *SQLiteStorage) runMigrations() error {
	for _, m := range migrations {
		exists, err := columnExists(s.db, m.table, m.column)
		if err != nil {
			return fmt.Errorf("inspect %s.%s: %w", m.table, m.column, err)
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(m.ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

// columnExists inspects table's catalog via PRAGMA table_info, the
// additive-introspection pattern every migration in this store follows:
// check presence, add only if missing, never drop or rename.
func columnExists(db *sql.DB, table, column string) (found bool, retErr error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			found = true
		}
	}
	return found, rows.Err()
}
