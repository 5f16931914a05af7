package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/database/dbtest"
)

func insertUser(ctx context.Context, q database.Querier, email string) error {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, `INSERT INTO users (email, password_hash, created_at, updated_at) VALUES (?, 'x', ?, ?)`, email, now, now)
	return err
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := dbtest.New(t)
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))
}

func TestMigrateUnknownDriver(t *testing.T) {
	db := dbtest.New(t)
	assert.Error(t, database.Migrate(context.Background(), db, "postgres"))
}

func TestIsUniqueViolation(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	require.NoError(t, insertUser(ctx, db, "a@example.com"))
	err := insertUser(ctx, db, "a@example.com")
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
	assert.False(t, database.IsUniqueViolation(errors.New("boom")))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	sentinel := errors.New("abort")

	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		require.NoError(t, insertUser(ctx, tx, "b@example.com"))
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Zero(t, count)

	require.NoError(t, database.WithTx(ctx, db, func(tx *sql.Tx) error {
		return insertUser(ctx, tx, "b@example.com")
	}))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Equal(t, 1, count)
}
