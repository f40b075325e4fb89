package commands

import (
	"context"
	"fmt"

	"github.com/factual/s3journal/internal/codec"
	"github.com/factual/s3journal/internal/config"
	"github.com/factual/s3journal/internal/objectstore"
)

// loadConfig reads and validates the journal's configuration from
// configPath.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildStore constructs the S3-backed object store from cfg.
func buildStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	s3cfg := objectstore.S3Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3UsePathStyle,
		MinPartSize:  cfg.MinPartSize.Int64(),
	}

	client, err := objectstore.NewS3ClientFromConfig(ctx, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("build s3 client: %w", err)
	}

	return objectstore.NewS3Store(client, s3cfg), nil
}

// buildCompressor resolves cfg's compressor option into a codec.Compressor.
func buildCompressor(cfg *config.Config) (codec.Compressor, error) {
	return codec.ByName(cfg.Compressor)
}
