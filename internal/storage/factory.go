package storage

import (
	"context"
	"fmt"

	"pitchreel/internal/adapters/storage/gdrive"
	"pitchreel/internal/adapters/storage/s3"
	"pitchreel/internal/config"
)

// NewMirror builds the configured artifact mirror. It returns nil when
// mirroring is off.
func NewMirror(ctx context.Context, cfg config.MirrorConfig) (Provider, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil

	case "gdrive":
		c, err := gdrive.NewFromRefreshToken(ctx, gdrive.Credentials{
			ClientID:     cfg.GDrive.ClientID,
			ClientSecret: cfg.GDrive.ClientSecret,
			RefreshToken: cfg.GDrive.RefreshToken,
		}, cfg.GDrive.FolderID)
		if err != nil {
			return nil, err
		}
		return c, nil

	case "s3":
		b, err := s3.New(ctx, s3.Options{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown artifact mirror: %s", cfg.Kind)
	}
}
