package analyses

import (
	"database/sql"
	"time"
)

// NewSQLiteRepo constructs a Repo backed by SQLite. The database should be opened in WAL mode.
func NewSQLiteRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{DB: db, dialect: sqliteDialect{}}
}

type sqliteDialect struct{}

func (sqliteDialect) rebind(query string) string { return query }

func (sqliteDialect) greatest(a, b string) string {
	return "MAX(" + a + ", " + b + ")"
}

func (sqliteDialect) timeArg(t time.Time) any {
	return t.UTC().Format(sortableTime)
}
