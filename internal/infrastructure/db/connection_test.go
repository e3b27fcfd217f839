package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perfguard/internal/infrastructure/db"
)

func TestDefaultConfig(t *testing.T) {
	config := db.DefaultConfig()

	assert.Equal(t, 10, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, config.ConnMaxLifetime)
	assert.Equal(t, 30*time.Second, config.QueryTimeout)
	assert.False(t, config.Enabled)
}

func TestNewManagerDisabled(t *testing.T) {
	manager, err := db.NewManager(db.Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.Repository())
	assert.Nil(t, manager.DB())
	assert.NoError(t, manager.Close())

	check := manager.Health().Health(context.Background())
	assert.True(t, check.Healthy)
	assert.Contains(t, check.Errors[0], "disabled")
	assert.NoError(t, manager.Health().Ping(context.Background()))

	assert.Error(t, manager.Migrate(context.Background()))
}

func TestNewManagerMissingDSN(t *testing.T) {
	_, err := db.NewManager(db.Config{Enabled: true})
	assert.ErrorContains(t, err, "DSN is required")
}

func newMockManager(t *testing.T) (*db.Manager, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return db.NewManagerWithDB(sqlx.NewDb(mockDB, "sqlmock"), db.Config{QueryTimeout: time.Second}), mock
}

func TestManagerWithDB(t *testing.T) {
	manager, mock := newMockManager(t)

	assert.True(t, manager.IsEnabled())
	require.NotNil(t, manager.Repository())
	assert.NotNil(t, manager.Repository().Models)

	mock.ExpectPing()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM perfguard_models`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	check := manager.Health().Health(context.Background())
	assert.True(t, check.Healthy)
	assert.Empty(t, check.Errors)
	assert.Equal(t, 2, check.Models)

	mock.ExpectPing()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM perfguard_models`).
		WillReturnError(errors.New(`relation "perfguard_models" does not exist`))
	check = manager.Health().Health(context.Background())
	assert.False(t, check.Healthy)
	assert.Contains(t, check.Errors[0], "schema check failed")

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	check = manager.Health().Health(context.Background())
	assert.False(t, check.Healthy)
	assert.Contains(t, check.Errors[0], "connection refused")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	manager, mock := newMockManager(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS perfguard_models").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, manager.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/perfguard")
	t.Setenv("PG_MAX_OPEN_CONNS", "3")
	t.Setenv("PG_QUERY_TIMEOUT", "2s")

	config := db.DefaultConfig()
	db.ApplyEnvOverrides(&config)

	assert.Equal(t, "postgres://localhost/perfguard", config.DSN)
	assert.True(t, config.Enabled)
	assert.Equal(t, 3, config.MaxOpenConns)
	assert.Equal(t, 2*time.Second, config.QueryTimeout)

	t.Setenv("PG_ENABLED", "false")
	db.ApplyEnvOverrides(&config)
	assert.False(t, config.Enabled)
}
