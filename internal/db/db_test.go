package db

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrationsAppliesAllStatements(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherFunc(func(string, string) error { return nil })))
	require.NoError(t, err)
	defer raw.Close()

	for range migrations {
		mock.ExpectExec("").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, runMigrations(sqlx.NewDb(raw, "postgres")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsStopsOnError(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherFunc(func(string, string) error { return nil })))
	require.NoError(t, err)
	defer raw.Close()

	mock.ExpectExec("").WillReturnError(assert.AnError)

	err = runMigrations(sqlx.NewDb(raw, "postgres"))
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
