package app

import (
	"context"
	"fmt"
	"os"

	"vaultsync/internal/auth"
	"vaultsync/internal/cloud"
	"vaultsync/internal/cloud/dropbox"
	"vaultsync/internal/cloud/gdrive"
	"vaultsync/internal/cloud/localfs"
	"vaultsync/internal/cloud/s3"
	"vaultsync/internal/cloud/webdav"
	"vaultsync/internal/config"

	"github.com/spf13/afero"
)

// NewBackend builds the configured backend. The result is not wrapped with
// the task queue.
func NewBackend(ctx context.Context, cfg *config.Config, opts cloud.Options) (cloud.Backend, error) {
	switch cfg.Backend {
	case cloud.KindGDrive:
		svc, err := auth.GDrive.NewService(ctx)
		if err != nil {
			return nil, err
		}
		return gdrive.New(svc, opts), nil

	case cloud.KindDropbox:
		dcfg, err := auth.Dropbox.NewConfig(ctx)
		if err != nil {
			return nil, err
		}
		return dropbox.New(dcfg, opts), nil

	case cloud.KindS3:
		return s3.New(ctx, cfg.S3, opts)

	case cloud.KindWebDAV:
		return webdav.New(cfg.WebDAV, opts)

	case cloud.KindLocal:
		if err := os.MkdirAll(cfg.Local.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", cfg.Local.Dir, err)
		}
		return localfs.New(afero.NewBasePathFs(afero.NewOsFs(), cfg.Local.Dir), opts), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
