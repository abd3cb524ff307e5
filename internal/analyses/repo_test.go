package analyses

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devin-backend/internal/shared/storage/db"
)

func newSQLiteRepo(t *testing.T) *SQLRepo {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, ":memory:", db.DefaultServerOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.RunMigrations(ctx, conn, db.DialectSQLite))
	return NewSQLiteRepo(conn)
}

func TestRepoContract(t *testing.T) {
	impls := map[string]func(t *testing.T) Repo{
		"memory": func(t *testing.T) Repo { return NewMemoryRepo() },
		"sqlite": func(t *testing.T) Repo { return newSQLiteRepo(t) },
	}
	for name, newRepo := range impls {
		t.Run(name, func(t *testing.T) {
			t.Run("get missing", func(t *testing.T) {
				_, err := newRepo(t).Get(context.Background(), testKey)
				assert.ErrorIs(t, err, ErrNotFound)
			})
			t.Run("start creates pending record", func(t *testing.T) { testStartCreates(t, newRepo(t)) })
			t.Run("start refuses in-flight lifecycle", func(t *testing.T) { testStartRefusesInFlight(t, newRepo(t)) })
			t.Run("restart clears results", func(t *testing.T) { testRestartClearsResults(t, newRepo(t)) })
			t.Run("lifecycles are independent", func(t *testing.T) { testLifecyclesIndependent(t, newRepo(t)) })
			t.Run("update requires owning session", func(t *testing.T) { testUpdateRequiresOwner(t, newRepo(t)) })
			t.Run("terminal is absorbing", func(t *testing.T) { testTerminalAbsorbing(t, newRepo(t)) })
			t.Run("delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
			t.Run("list in flight", func(t *testing.T) { testListInFlight(t, newRepo(t)) })
			t.Run("ping", func(t *testing.T) { assert.NoError(t, newRepo(t).Ping(context.Background())) })
		})
	}
}

func testStartCreates(t *testing.T, repo Repo) {
	ctx := context.Background()
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "devin-1", "https://x/1"))

	rec, err := repo.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, testKey, rec.Key())
	assert.Equal(t, "devin-1", rec.AnalysisSessionID)
	assert.Equal(t, "https://x/1", rec.AnalysisDevinURL)
	assert.Equal(t, StatusPending, rec.AnalysisStatus)
	assert.Equal(t, Status(""), rec.FixStatus)
	assert.Nil(t, rec.Plan)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.Before(rec.CreatedAt))
}

func testStartRefusesInFlight(t *testing.T, repo Repo) {
	ctx := context.Background()
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "devin-1", "u1"))
	assert.ErrorIs(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "devin-2", "u2"), ErrInFlight)

	require.NoError(t, repo.UpdateLifecycle(ctx, testKey, LifecycleAnalysis, "devin-1", LifecycleUpdate{Status: StatusAnalyzing}))
	assert.ErrorIs(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "devin-3", "u3"), ErrInFlight)

	rec, err := repo.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "devin-1", rec.AnalysisSessionID)
	assert.Equal(t, StatusAnalyzing, rec.AnalysisStatus)
}

func testRestartClearsResults(t *testing.T, repo Repo) {
	ctx := context.Background()
	plan := "do X"
	score := 8
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "devin-1", "u1"))
	require.NoError(t, repo.UpdateLifecycle(ctx, testKey, LifecycleAnalysis, "devin-1", LifecycleUpdate{
		Status: StatusCompleted, Plan: &plan, ConfidenceScore: &score,
	}))

	first, err := repo.Get(ctx, testKey)
	require.NoError(t, err)
	require.NotNil(t, first.Plan)
	assert.Equal(t, "do X", *first.Plan)
	require.NotNil(t, first.ConfidenceScore)
	assert.Equal(t, 8, *first.ConfidenceScore)

	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "devin-2", "u2"))
	second, err := repo.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "devin-2", second.AnalysisSessionID)
	assert.Equal(t, StatusPending, second.AnalysisStatus)
	assert.Nil(t, second.Plan)
	assert.Nil(t, second.ConfidenceScore)
	assert.Nil(t, second.AnalysisError)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
}

func testLifecyclesIndependent(t *testing.T, repo Repo) {
	ctx := context.Background()
	plan := "plan"
	prURL := "https://github.com/acme/widgets/pull/9"
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "a-1", "ua"))
	require.NoError(t, repo.UpdateLifecycle(ctx, testKey, LifecycleAnalysis, "a-1", LifecycleUpdate{Status: StatusCompleted, Plan: &plan}))
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleFix, "f-1", "uf"))
	require.NoError(t, repo.UpdateLifecycle(ctx, testKey, LifecycleFix, "f-1", LifecycleUpdate{Status: StatusCompleted, PRURL: &prURL}))

	rec, err := repo.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.AnalysisStatus)
	assert.Equal(t, "plan", *rec.Plan)
	assert.Equal(t, "f-1", rec.FixSessionID)
	assert.Equal(t, "uf", rec.FixDevinURL)
	assert.Equal(t, StatusCompleted, rec.FixStatus)
	require.NotNil(t, rec.PRURL)
	assert.Equal(t, prURL, *rec.PRURL)

	// fix start on a key never analyzed leaves the analysis lifecycle empty
	other := Key{Repository: testKey.Repository, IssueID: 7}
	require.NoError(t, repo.StartSession(ctx, other, LifecycleFix, "f-2", "uf2"))
	rec, err = repo.Get(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, Status(""), rec.AnalysisStatus)
	assert.Equal(t, StatusPending, rec.FixStatus)
}

func testUpdateRequiresOwner(t *testing.T, repo Repo) {
	ctx := context.Background()
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "devin-1", "u1"))

	err := repo.UpdateLifecycle(ctx, testKey, LifecycleAnalysis, "devin-stale", LifecycleUpdate{Status: StatusAnalyzing})
	assert.ErrorIs(t, err, ErrNoActiveSession)

	missing := Key{Repository: "https://github.com/acme/none", IssueID: 1}
	err = repo.UpdateLifecycle(ctx, missing, LifecycleAnalysis, "devin-1", LifecycleUpdate{Status: StatusAnalyzing})
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func testTerminalAbsorbing(t *testing.T, repo Repo) {
	ctx := context.Background()
	msg := "Session was stopped before completion."
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "devin-1", "u1"))
	require.NoError(t, repo.UpdateLifecycle(ctx, testKey, LifecycleAnalysis, "devin-1", LifecycleUpdate{Status: StatusFailed, Error: &msg}))

	plan := "late"
	err := repo.UpdateLifecycle(ctx, testKey, LifecycleAnalysis, "devin-1", LifecycleUpdate{Status: StatusCompleted, Plan: &plan})
	assert.ErrorIs(t, err, ErrNoActiveSession)

	rec, err := repo.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.AnalysisStatus)
	assert.Nil(t, rec.Plan)
	require.NotNil(t, rec.AnalysisError)
	assert.Equal(t, msg, *rec.AnalysisError)
}

func testDelete(t *testing.T, repo Repo) {
	ctx := context.Background()
	_, err := repo.Delete(ctx, testKey)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "a-1", "ua"))
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleFix, "f-1", "uf"))
	removed, err := repo.Delete(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "a-1", removed.AnalysisSessionID)
	assert.Equal(t, StatusPending, removed.AnalysisStatus)
	assert.Equal(t, "f-1", removed.FixSessionID)
	assert.Equal(t, StatusPending, removed.FixStatus)

	_, err = repo.Get(ctx, testKey)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.UpdateLifecycle(ctx, testKey, LifecycleFix, "f-1", LifecycleUpdate{Status: StatusAnalyzing}), ErrNoActiveSession)
}

func testListInFlight(t *testing.T, repo Repo) {
	ctx := context.Background()
	plan := "p"
	keys := []Key{
		{Repository: "https://github.com/a/a", IssueID: 1},
		{Repository: "https://github.com/a/a", IssueID: 2},
		{Repository: "https://github.com/b/b", IssueID: 1},
	}
	require.NoError(t, repo.StartSession(ctx, keys[0], LifecycleAnalysis, "s1", ""))
	require.NoError(t, repo.StartSession(ctx, keys[1], LifecycleAnalysis, "s2", ""))
	require.NoError(t, repo.UpdateLifecycle(ctx, keys[1], LifecycleAnalysis, "s2", LifecycleUpdate{Status: StatusCompleted, Plan: &plan}))
	require.NoError(t, repo.StartSession(ctx, keys[2], LifecycleFix, "s3", ""))

	recs, err := repo.ListInFlight(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, keys[0], recs[0].Key())
	assert.Equal(t, keys[2], recs[1].Key())
}

func TestMemoryRepoUpdatedAtNeverMovesBackwards(t *testing.T) {
	repo := NewMemoryRepo()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	ctx := context.Background()
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "s1", ""))
	clock = clock.Add(-time.Hour)
	require.NoError(t, repo.UpdateLifecycle(ctx, testKey, LifecycleAnalysis, "s1", LifecycleUpdate{Status: StatusAnalyzing}))

	rec, err := repo.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), rec.UpdatedAt)
}

func TestSQLiteRepoUpdatedAtNeverMovesBackwards(t *testing.T) {
	repo := newSQLiteRepo(t)
	clock := time.Date(2026, 1, 2, 3, 4, 5, 123, time.UTC)
	repo.now = func() time.Time { return clock }

	ctx := context.Background()
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "s1", ""))
	clock = clock.Add(-time.Hour)
	require.NoError(t, repo.UpdateLifecycle(ctx, testKey, LifecycleAnalysis, "s1", LifecycleUpdate{Status: StatusAnalyzing}))

	rec, err := repo.Get(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, rec.UpdatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 123, time.UTC)), "got %s", rec.UpdatedAt)
	assert.Equal(t, StatusAnalyzing, rec.AnalysisStatus)
}

func TestMemoryRepoReturnsCopies(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	plan := "original"
	require.NoError(t, repo.StartSession(ctx, testKey, LifecycleAnalysis, "s1", ""))
	require.NoError(t, repo.UpdateLifecycle(ctx, testKey, LifecycleAnalysis, "s1", LifecycleUpdate{Status: StatusCompleted, Plan: &plan}))

	rec, err := repo.Get(ctx, testKey)
	require.NoError(t, err)
	*rec.Plan = "mutated"

	again, err := repo.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "original", *again.Plan)
}
