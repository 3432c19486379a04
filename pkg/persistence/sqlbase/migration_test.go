package sqlbase

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, migrations map[int]string) (*MigrationManager, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return NewMigrationManager(logger, db, migrations), mock
}

func TestMigrationManager_LatestVersion(t *testing.T) {
	m, _ := newTestManager(t, map[int]string{1: "a", 3: "c", 2: "b"})
	assert.Equal(t, 3, m.LatestVersion())

	empty, _ := newTestManager(t, map[int]string{})
	assert.Equal(t, 0, empty.LatestVersion())
}

func TestMigrationManager_AppliesPendingInOrder(t *testing.T) {
	m, mock := newTestManager(t, map[int]string{
		3: "CREATE TABLE three (id INT)",
		1: "CREATE TABLE one (id INT)",
		2: "CREATE TABLE two (id INT)",
	})

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	for _, step := range []struct {
		version int
		stmt    string
	}{{2, "CREATE TABLE two"}, {3, "CREATE TABLE three"}} {
		mock.ExpectBegin()
		mock.ExpectExec(step.stmt).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO schema_migrations \(version\) VALUES \(\$1\)`).
			WithArgs(step.version).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	require.NoError(t, m.RunMigrations(t.Context()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationManager_UpToDate(t *testing.T) {
	m, mock := newTestManager(t, map[int]string{1: "CREATE TABLE one (id INT)"})

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	require.NoError(t, m.RunMigrations(t.Context()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	m, mock := newTestManager(t, map[int]string{1: "CREATE TABLE broken"})

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err := m.RunMigrations(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
