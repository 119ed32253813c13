package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenDefaultsToSQLiteMemory(t *testing.T) {
	db, err := Open(Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, Close(db))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongodb"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestPostgresRequiresCredentialsWithoutDSN(t *testing.T) {
	_, err := openPostgres(Config{Driver: "postgres"})
	require.Error(t, err)
}

func TestMySQLRequiresCredentialsWithoutDSN(t *testing.T) {
	_, err := openMySQL(Config{Driver: "mysql"})
	require.Error(t, err)
}
