package sqlx_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "hotlympics/adapters/sqlx"
	"hotlympics/core"
)

func newMockStore(t *testing.T, driver string) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, driver), driver)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func TestSQLMock_Set_PostgresUpsert(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO hotlympics_cache .* VALUES \(\$1, \$2, \$3\)\s+ON CONFLICT \(cache_key\) DO UPDATE`).
		WithArgs("hotlympics_leaderboard_f", []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Set(context.Background(), "hotlympics_leaderboard_f", []byte(`{}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Set_MySQLUpsert(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverMySQL)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO hotlympics_cache .* VALUES \(\?, \?, \?\)\s+ON DUPLICATE KEY UPDATE`).
		WithArgs("k", []byte("v"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Set(context.Background(), "k", []byte("v")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Get(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectQuery(`SELECT value FROM hotlympics_cache WHERE cache_key = \$1`).
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("v")))
	mock.ExpectQuery(`SELECT value FROM hotlympics_cache`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(v))

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_KeysEscapesUnderscore(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT cache_key FROM hotlympics_cache WHERE cache_key LIKE \$1 ESCAPE '!'`).
		WithArgs(`hotlympics!_leaderboard!_%`).
		WillReturnRows(sqlmock.NewRows([]string{"cache_key"}).
			AddRow("hotlympics_leaderboard_a").
			AddRow("hotlympics_leaderboard_b"))

	keys, err := store.Keys(context.Background(), "hotlympics_leaderboard_")
	require.NoError(t, err)
	require.Equal(t, []string{"hotlympics_leaderboard_a", "hotlympics_leaderboard_b"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_DeleteAndErrors(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM hotlympics_cache WHERE cache_key = \$1`).
		WithArgs("k").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO hotlympics_cache`).
		WillReturnError(errors.New("disk full"))

	require.NoError(t, store.Delete(ctx, "k"))
	err := store.Set(ctx, "k", []byte("v"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_EnsureSchema(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverMySQL)
	defer cleanup()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS hotlympics_cache`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := storage.New(context.Background(), storage.DefaultConfig("sqlite"))
	require.Error(t, err)
}
