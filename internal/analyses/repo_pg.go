package analyses

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// NewPGRepo constructs a Repo backed by Postgres.
func NewPGRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{DB: db, dialect: postgresDialect{}}
}

type postgresDialect struct{}

// rebind turns ? placeholders into $1..$n.
func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (postgresDialect) greatest(a, b string) string {
	return "GREATEST(" + a + ", " + b + ")"
}

func (postgresDialect) timeArg(t time.Time) any {
	return t.UTC()
}
