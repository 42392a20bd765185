package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/gatekeeper/internal/models"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongodb"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestOpenDefaultsToSQLiteMemory(t *testing.T) {
	db, err := Open(Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, sqlDB.Ping())
}

func TestAutoMigrateAndSeed(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	require.NoError(t, AutoMigrateAndSeed(db))

	var roleCount int64
	require.NoError(t, db.Model(&models.Role{}).Count(&roleCount).Error)
	require.EqualValues(t, 2, roleCount)

	var perm models.Permission
	require.NoError(t, db.First(&perm, "id = ?", "user-create").Error)
	require.Equal(t, "users.create", perm.Name)
	require.NotNil(t, perm.ParentID)
	require.Equal(t, "user-manage", *perm.ParentID)

	// seeding twice must not duplicate rows
	require.NoError(t, SeedData(db))
	require.NoError(t, db.Model(&models.Role{}).Count(&roleCount).Error)
	require.EqualValues(t, 2, roleCount)
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		Driver:   "postgres",
		User:     "gatekeeper",
		Password: "secret",
		Name:     "authz",
		Host:     "db.internal",
		Port:     5433,
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=db.internal")
	require.Contains(t, dsn, "port=5433")
	require.Contains(t, dsn, "sslmode=disable")

	_, err = buildPostgresDSN(Config{Driver: "postgres"})
	require.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		Driver: "mysql",
		User:   "gatekeeper",
		Name:   "authz",
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "gatekeeper@tcp(127.0.0.1:3306)/authz")
	require.Contains(t, dsn, "parseTime=True")
}
