package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/types"
)

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
uri: mongodb://localhost:27017/library
state_uri: sqlite:///var/lib/migrate.db
migrations_dir: ./db/migrations
batch_size: 500
workers: 4
lock_ttl: 2m
policy: relaxed
log_level: debug
`))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "mongodb://localhost:27017/library", c.URI)
	assert.Equal(t, "sqlite:///var/lib/migrate.db", c.EffectiveStateURI())
	assert.Equal(t, "./db/migrations", c.MigrationsDir)
	assert.Equal(t, 500, c.BatchSize)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, 2*time.Minute, c.LockTTL)
	assert.Equal(t, types.PolicyRelaxed, c.Policy)

	// untouched keys keep their defaults
	assert.Equal(t, DefaultStateCollection, c.StateCollection)
	assert.Equal(t, DefaultModels, c.Models)
}

func TestDefaults(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultMigrationsDir, c.MigrationsDir)
	assert.Equal(t, DefaultBatchSize, c.BatchSize)
	assert.Equal(t, DefaultWorkers, c.Workers)
	assert.Equal(t, DefaultLockTTL, c.LockTTL)
	assert.Equal(t, types.PolicyStrict, c.Policy)
	assert.Equal(t, "info", c.LogLevel)

	c.URI = "memory://"
	assert.Equal(t, "memory://", c.EffectiveStateURI())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "migrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("uri: memory://\nworkers: 2\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory://", c.URI)
	assert.Equal(t, 2, c.Workers)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "an explicitly named file must exist")

	require.NoError(t, os.WriteFile(path, []byte("uri: [unterminated\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestLoadDefaultPathMissing(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer os.Chdir(wd)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"policy", func(c *Config) { c.Policy = "lenient" }},
		{"batch size", func(c *Config) { c.BatchSize = -1 }},
		{"workers", func(c *Config) { c.Workers = -2 }},
		{"lock ttl", func(c *Config) { c.LockTTL = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
