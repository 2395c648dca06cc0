package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": 9000},
		"security": {"jwt_secret": "from-file"},
		"database": {"db_name": "farms"}
	}`), 0o600))

	t.Setenv("DATABASE_DBNAME", "farms_env")
	t.Setenv("VERIFICATION_DELAY", "0s")
	t.Setenv("ELASTICSEARCH_URLS", "http://a:9200,http://b:9200")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "from-file", cfg.Security.JWTSecret)
	assert.Equal(t, "farms_env", cfg.Database.DBName)
	assert.Equal(t, time.Duration(0), cfg.Verification.Delay)
	assert.Equal(t, []string{"http://a:9200", "http://b:9200"}, cfg.Search.Addresses)
	assert.Equal(t, 24*time.Hour, cfg.Security.TokenTTL)
}

func TestLoad_UsesConfigPathAndWorkerOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"security": {"jwt_secret": "s"},
		"worker": {"batch_size": 7}
	}`), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("WORKER_ONCE", "true")

	assert.Equal(t, path, Path())
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Worker.BatchSize)
	assert.True(t, cfg.Worker.Once)
	assert.True(t, cfg.Worker.Embedded)

	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, DefaultPath, Path())
}

func TestLoadConfig_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Security.JWTSecret = "s"
	require.NoError(t, cfg.Validate())

	cfg.Storage.Enabled = true
	assert.Error(t, cfg.Validate())
	cfg.Storage.Bucket = "photos"
	assert.NoError(t, cfg.Validate())

	cfg.Search.Enabled = true
	assert.Error(t, cfg.Validate())
}

func TestGetDatabaseURL(t *testing.T) {
	db := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5432, DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", db.GetDatabaseURL())
}
