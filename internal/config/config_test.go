package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
s3_bucket: my-bucket
s3_region: us-east-1
id: shard0
local_directory: /tmp/s3journal
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, "2006/01/02", cfg.S3DirectoryFormat)
	assert.Equal(t, "identity", cfg.Compressor)
	assert.Equal(t, 1000, cfg.MaxBatchSize)
	assert.EqualValues(t, 5*1024*1024, cfg.MinPartSize)
	assert.EqualValues(t, 500, cfg.MaxPartsPerFile)
	assert.Equal(t, 1, cfg.Shards)
	assert.True(t, cfg.FsyncPerPut)
}

func TestLoad_MissingRequiredFieldFails(t *testing.T) {
	path := writeConfigFile(t, `
s3_region: us-east-1
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsUnknownCompressor(t *testing.T) {
	path := writeConfigFile(t, `
s3_bucket: my-bucket
s3_region: us-east-1
id: shard0
local_directory: /tmp/s3journal
compressor: not-a-real-codec
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
s3_bucket: my-bucket
s3_region: us-east-1
id: shard0
local_directory: /tmp/s3journal
`)

	t.Setenv("S3JOURNAL_S3_BUCKET", "env-bucket")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-bucket", cfg.S3Bucket)
}
