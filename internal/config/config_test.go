package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.RegistryTable != "migrations_registry" {
		t.Fatal("default table mismatch")
	}
	assert.Equal(t, "memory", c.Backend)
	assert.NoError(t, c.Validate())
}

func TestLoadYAMLAndMergeEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	yml := "backend: mysql\ndsn: u:p@tcp(localhost:3306)/db\nregistry_table: t\ncors_origins: [\"http://localhost:3000\"]\n"
	require.NoError(t, os.WriteFile(p, []byte(yml), 0o644))

	cfg, err := LoadYAML(p)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Backend)
	assert.Equal(t, "t", cfg.RegistryTable)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, ":8089", cfg.AdminAddr, "defaults survive a partial file")

	t.Setenv("MIGRATE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REGISTRY_TABLE", "y")
	t.Setenv("CORS_ORIGINS", "http://a, http://b,")
	t.Setenv("RETRY_UNFINISHED", "true")
	cfg = MergeEnv(cfg)
	assert.Equal(t, "redis", cfg.Backend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "y", cfg.RegistryTable)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.CORSOrigins)
	assert.True(t, cfg.RetryUnfinished)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsIncompleteBackends(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "mongo" }},
		{"mysql without dsn", func(c *Config) { c.Backend = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Backend = "postgres" }},
		{"redis without addr", func(c *Config) { c.Backend = "redis" }},
		{"empty table", func(c *Config) { c.RegistryTable = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mut(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("ADMIN_ADDR=:9999\n"), 0o644))
	t.Setenv("ADMIN_ADDR", "")
	os.Unsetenv("ADMIN_ADDR")

	require.NoError(t, LoadDotEnv(p, filepath.Join(dir, "missing.env")))
	cfg := MergeEnv(Default())
	assert.Equal(t, ":9999", cfg.AdminAddr)
}
