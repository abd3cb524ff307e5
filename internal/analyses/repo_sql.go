package analyses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const selectColumns = `
repository, issue_id,
analysis_session_id, analysis_devin_url, analysis_status, plan, confidence_score, analysis_error,
fix_session_id, fix_devin_url, fix_status, pr_url, fix_error,
created_at, updated_at`

// sqlDialect isolates what differs between Postgres and SQLite.
type sqlDialect interface {
	rebind(query string) string
	greatest(a, b string) string
	timeArg(t time.Time) any
}

// SQLRepo implements Repo over database/sql.
type SQLRepo struct {
	DB      *sql.DB
	dialect sqlDialect
	now     func() time.Time
}

type lifecycleColumns struct {
	session string
	url     string
	status  string
	errCol  string
	results []string
}

var (
	analysisColumns = lifecycleColumns{
		session: "analysis_session_id",
		url:     "analysis_devin_url",
		status:  "analysis_status",
		errCol:  "analysis_error",
		results: []string{"plan", "confidence_score"},
	}
	fixColumns = lifecycleColumns{
		session: "fix_session_id",
		url:     "fix_devin_url",
		status:  "fix_status",
		errCol:  "fix_error",
		results: []string{"pr_url"},
	}
)

func columnsFor(lc Lifecycle) lifecycleColumns {
	if lc == LifecycleFix {
		return fixColumns
	}
	return analysisColumns
}

func inFlightPredicate(col string) string {
	return fmt.Sprintf("%s IN ('%s', '%s')", col, StatusPending, StatusAnalyzing)
}

func (r *SQLRepo) q(query string) string {
	return r.dialect.rebind(query)
}

func (r *SQLRepo) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}

func (r *SQLRepo) Get(ctx context.Context, key Key) (Record, error) {
	query := r.q(`SELECT ` + selectColumns + `
FROM devin_analyses
WHERE repository = ? AND issue_id = ?
LIMIT 1`)
	rec, err := scanRecord(r.DB.QueryRowContext(ctx, query, key.Repository, key.IssueID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *SQLRepo) StartSession(ctx context.Context, key Key, lc Lifecycle, sessionID, devinURL string) error {
	cols := columnsFor(lc)
	resets := make([]string, 0, len(cols.results)+1)
	for _, c := range append(append([]string{}, cols.results...), cols.errCol) {
		resets = append(resets, c+" = NULL")
	}

	query := r.q(fmt.Sprintf(`
INSERT INTO devin_analyses (repository, issue_id, %[1]s, %[2]s, %[3]s, created_at, updated_at)
VALUES (?, ?, ?, ?, '%[4]s', ?, ?)
ON CONFLICT (repository, issue_id) DO UPDATE SET
	%[1]s = excluded.%[1]s,
	%[2]s = excluded.%[2]s,
	%[3]s = '%[4]s',
	%[5]s,
	updated_at = %[6]s
WHERE devin_analyses.%[3]s IS NULL OR devin_analyses.%[3]s NOT IN ('%[4]s', '%[7]s')`,
		cols.session, cols.url, cols.status, StatusPending,
		strings.Join(resets, ",\n\t"),
		r.dialect.greatest("devin_analyses.updated_at", "excluded.updated_at"),
		StatusAnalyzing,
	))

	now := r.dialect.timeArg(r.clock())
	res, err := r.DB.ExecContext(ctx, query, key.Repository, key.IssueID, sessionID, devinURL, now, now)
	if err != nil {
		return fmt.Errorf("start %s session: %w", lc, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInFlight
	}
	return nil
}

func (r *SQLRepo) UpdateLifecycle(ctx context.Context, key Key, lc Lifecycle, sessionID string, upd LifecycleUpdate) error {
	cols := columnsFor(lc)

	sets := []string{cols.status + " = ?"}
	args := []any{string(upd.Status)}
	if lc == LifecycleFix {
		sets = append(sets, "pr_url = COALESCE(?, pr_url)")
		args = append(args, nullableString(upd.PRURL))
	} else {
		sets = append(sets,
			"plan = COALESCE(?, plan)",
			"confidence_score = COALESCE(?, confidence_score)",
		)
		args = append(args, nullableString(upd.Plan), nullableInt(upd.ConfidenceScore))
	}
	sets = append(sets,
		fmt.Sprintf("%[1]s = COALESCE(?, %[1]s)", cols.errCol),
		"updated_at = "+r.dialect.greatest("updated_at", "?"),
	)
	args = append(args, nullableString(upd.Error), r.dialect.timeArg(r.clock()))

	query := r.q(fmt.Sprintf(`
UPDATE devin_analyses SET
	%s
WHERE repository = ? AND issue_id = ? AND %s = ? AND %s`,
		strings.Join(sets, ",\n\t"), cols.session, inFlightPredicate(cols.status)))
	args = append(args, key.Repository, key.IssueID, sessionID)

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s lifecycle: %w", lc, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoActiveSession
	}
	return nil
}

func (r *SQLRepo) Delete(ctx context.Context, key Key) (Record, error) {
	query := r.q(`DELETE FROM devin_analyses WHERE repository = ? AND issue_id = ?
RETURNING ` + selectColumns)
	rec, err := scanRecord(r.DB.QueryRowContext(ctx, query, key.Repository, key.IssueID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *SQLRepo) ListInFlight(ctx context.Context) ([]Record, error) {
	query := r.q(`SELECT ` + selectColumns + `
FROM devin_analyses
WHERE ` + inFlightPredicate("analysis_status") + ` OR ` + inFlightPredicate("fix_status") + `
ORDER BY repository, issue_id`)
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLRepo) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var analysisStatus, plan, analysisErr sql.NullString
	var fixStatus, prURL, fixErr sql.NullString
	var confidence sql.NullInt64
	err := row.Scan(
		&rec.Repository,
		&rec.IssueID,
		&rec.AnalysisSessionID,
		&rec.AnalysisDevinURL,
		&analysisStatus,
		&plan,
		&confidence,
		&analysisErr,
		&rec.FixSessionID,
		&rec.FixDevinURL,
		&fixStatus,
		&prURL,
		&fixErr,
		timeScanner{&rec.CreatedAt},
		timeScanner{&rec.UpdatedAt},
	)
	if err != nil {
		return Record{}, err
	}
	rec.AnalysisStatus = Status(analysisStatus.String)
	rec.FixStatus = Status(fixStatus.String)
	rec.Plan = stringPtr(plan)
	rec.AnalysisError = stringPtr(analysisErr)
	rec.PRURL = stringPtr(prURL)
	rec.FixError = stringPtr(fixErr)
	if confidence.Valid {
		score := int(confidence.Int64)
		rec.ConfidenceScore = &score
	}
	return rec, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return int64(*n)
}

// sortableTime is fixed width so text comparison matches time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// timeScanner reads timestamps stored natively (Postgres) or as text (SQLite).
type timeScanner struct {
	dst *time.Time
}

func (s timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s.dst = time.Time{}
		return nil
	case time.Time:
		*s.dst = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (s timeScanner) parse(raw string) error {
	for _, layout := range []string{sortableTime, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			*s.dst = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", raw)
}
