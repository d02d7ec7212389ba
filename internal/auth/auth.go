// Package auth runs the OAuth flows for the hosted backends and turns the
// saved tokens into API clients.
package auth

import (
	"context"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"google.golang.org/api/drive/v3"
)

type Provider interface {
	Authorize(ctx context.Context) error
}

type GDriveProvider interface {
	Provider
	NewService(ctx context.Context) (*drive.Service, error)
}

type DropboxProvider interface {
	Provider
	NewConfig(ctx context.Context) (dropbox.Config, error)
}

var (
	GDrive  GDriveProvider  = &gdriveProvider{}
	Dropbox DropboxProvider = &dropboxProvider{}
)
