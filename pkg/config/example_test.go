package config_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ipactable/pkg/config"
	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// ExampleNewConfig demonstrates creating a configuration with default values.
func ExampleNewConfig() {
	cfg := config.NewConfig()

	fmt.Printf("Prefetch: %d\n", cfg.Table.PrefetchSize)
	fmt.Printf("Null: %s\n", cfg.Table.NullString)
	fmt.Printf("Poll: %s\n", cfg.Reader.PollInterval)

	// Output:
	// Prefetch: 1000
	// Null: null
	// Poll: 250ms
}

// ExampleConfig_Validate shows how to validate a configuration before using it.
func ExampleConfig_Validate() {
	cfg := config.NewConfig()
	cfg.Table.PrefetchSize = 10
	cfg.Reader.WaitTimeout = 2 * time.Minute

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// prefetch is raised to the minimum rather than rejected
	fmt.Println(cfg.Table.PrefetchSize)

	// Output:
	// 100
}

func TestLoadConfig_EnvSubstitution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ipactable.yaml")
	t.Setenv("IPACTABLE_TEST_BUCKET", "results-bucket")

	yamlDoc := `
table:
  prefetch_size: 2500
  flush_every: 50
storage:
  work_dir: /data/tables
export:
  algorithm: zstd
  s3:
    bucket: ${IPACTABLE_TEST_BUCKET}
    region: ${IPACTABLE_TEST_REGION:-us-west-2}
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2500, cfg.Table.PrefetchSize)
	assert.Equal(t, 50, cfg.Table.FlushEvery)
	assert.Equal(t, "/data/tables", cfg.Storage.WorkDir)
	assert.Equal(t, "zstd", cfg.Export.Algorithm)
	assert.Equal(t, "results-bucket", cfg.Export.S3.Bucket)
	assert.Equal(t, "us-west-2", cfg.Export.S3.Region)
	assert.True(t, cfg.Export.HasS3())
	assert.False(t, cfg.Export.HasGCS())
	// untouched sections keep their defaults
	assert.Equal(t, "null", cfg.Table.NullString)
}

func TestValidate(t *testing.T) {
	t.Run("bad line terminator", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.Table.LineTerminator = "\r"
		err := cfg.Validate()
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})

	t.Run("bad level", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.Export.Level = 12
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("table: [1, 2"), 0o600))
		_, err := config.LoadConfig(path)
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("empty path gives defaults", func(t *testing.T) {
		cfg, err := config.LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, 1000, cfg.Table.PrefetchSize)
	})
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := config.NewConfig()
	cfg.Storage.WorkDir = "/srv/tables"
	cfg.Export.GCS.Bucket = "archive"
	require.NoError(t, config.Save(path, cfg))

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/tables", loaded.Storage.WorkDir)
	assert.True(t, loaded.Export.HasGCS())
	assert.Equal(t, cfg.Reader.WaitTimeout, loaded.Reader.WaitTimeout)
}
