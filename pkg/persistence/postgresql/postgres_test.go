//go:build integration
// +build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/persistence/postgresql"
	"github.com/dukex/nurture/pkg/testutil"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{
		"member_interactions", "members", "execution_events", "enrollments",
		"flow_versions", "drafts", "flows", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("nurture_test"),
			postgres.WithUsername("nurture"),
			postgres.WithPassword("nurture"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 4, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestFlowLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.FlowRepository()

	flow := &models.Flow{OwnerID: "owner-1", Name: "Welcome"}
	require.NoError(t, repo.SaveFlow(ctx, flow))

	graph := testutil.CreateTestGraph()
	require.NoError(t, repo.SaveDraft(ctx, &models.Draft{FlowID: flow.ID, OwnerID: "owner-1", Revision: 1, Graph: graph}))

	err := repo.SaveDraft(ctx, &models.Draft{FlowID: flow.ID, OwnerID: "owner-1", Revision: 1, Graph: graph})
	assert.ErrorIs(t, err, persistence.ErrDraftConflict)

	def := testutil.CreateTestDefinition(graph, func(d *models.FlowDefinition) { d.ID = flow.ID })
	require.NoError(t, repo.PublishVersion(ctx, def))
	assert.ErrorIs(t, repo.PublishVersion(ctx, def), persistence.ErrVersionConflict)

	got, err := repo.Version(ctx, flow.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, graph.Edges, got.Graph.Edges)

	header, err := repo.Flow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, header.LatestVersion)
}

func TestEnrollmentClaimsAreExclusive(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.EnrollmentRepository()

	def := testutil.CreateTestDefinition(testutil.CreateTestGraph())
	now := time.Now().UTC().Truncate(time.Millisecond)

	for i := range 30 {
		e := testutil.CreateTestEnrollment(def, "member-"+string(rune('A'+i)), now.Add(-time.Minute))
		require.NoError(t, repo.Create(ctx, e, nil))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)

	for w := range 6 {
		wg.Add(1)

		go func(worker int) {
			defer wg.Done()

			claimed, err := repo.ClaimDue(ctx, now, 10, time.Minute, "worker-"+string(rune('0'+worker)))
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()

			for _, e := range claimed {
				seen[e.ID]++
			}
		}(w)
	}

	wg.Wait()

	assert.Len(t, seen, 30)

	for id, n := range seen {
		assert.Equal(t, 1, n, "enrollment %s claimed more than once", id)
	}
}

func TestEnrollmentOnePerMember(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.EnrollmentRepository()

	def := testutil.CreateTestDefinition(testutil.CreateTestGraph())
	now := time.Now().UTC()

	first := testutil.CreateTestEnrollment(def, "member-1", now)
	require.NoError(t, repo.Create(ctx, first, nil))

	second := testutil.CreateTestEnrollment(def, "member-1", now)
	assert.ErrorIs(t, repo.Create(ctx, second, nil), persistence.ErrAlreadyEnrolled)

	cancelled, err := repo.Cancel(ctx, first.ID, now, nil)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, cancelled.Status)

	assert.NoError(t, repo.Create(ctx, second, nil))
}

func TestSaveStepRequiresClaim(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.EnrollmentRepository()

	def := testutil.CreateTestDefinition(testutil.CreateTestGraph())
	now := time.Now().UTC()

	e := testutil.CreateTestEnrollment(def, "member-1", now.Add(-time.Second))
	require.NoError(t, repo.Create(ctx, e, nil))

	claimed, err := repo.ClaimDue(ctx, now, 1, time.Minute, "tok")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	next := claimed[0].Clone()
	next.CurrentNodeID = "welcome"
	next.Visit = 1

	ev := &models.ExecutionEvent{ID: "ev-1", FlowID: def.ID, EnrollmentID: e.ID, NodeID: "welcome", Kind: models.EventEntered, At: now}

	assert.True(t, persistence.IsClaimLost(repo.SaveStep(ctx, next, "other", nil)))
	require.NoError(t, repo.SaveStep(ctx, next, "tok", []*models.ExecutionEvent{ev}))

	events, err := p.EventRepository().ByEnrollment(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	saved, err := repo.Enrollment(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Visit)

	pending, err := p.EventRepository().Unpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ev-1", pending[0].ID)

	require.NoError(t, p.EventRepository().MarkPublished(ctx, []string{"ev-1"}, now))

	pending, err = p.EventRepository().Unpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
