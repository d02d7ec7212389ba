// Package cloud defines the contract every storage backend satisfies.
//
// Backends queue their own download, url and path lookups on the shared
// TaskQueue. Listing and every other call is queued by WithQueue, so a
// backend must never enqueue list or other tasks itself.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"vaultsync/internal/model"
	"vaultsync/internal/queue"

	"github.com/spf13/afero"
)

type Kind string

const (
	KindGDrive  Kind = "gdrive"
	KindDropbox Kind = "dropbox"
	KindS3      Kind = "s3"
	KindWebDAV  Kind = "webdav"
	KindLocal   Kind = "local"
)

var ErrNotFound = errors.New("remote file not found")

type UploadOptions struct {
	CTime time.Time
	MTime time.Time
	// OnComplete runs after a successful upload with the times the backend
	// recorded.
	OnComplete func(ctime, mtime time.Time) error
}

type Downloader interface {
	DownloadFileAsString(ctx context.Context, path string) (string, error)
	// DownloadFile fetches path. hint, when known, supplies the size used
	// to split the transfer into chunks.
	DownloadFile(ctx context.Context, path string, hint *model.RemoteFileNode) ([]byte, error)
}

type Uploader interface {
	// UploadFile reads localPath from the local sync root.
	UploadFile(ctx context.Context, localPath, remotePath string) error
	UploadContent(ctx context.Context, content []byte, remotePath string, opts UploadOptions) error
}

type FileManager interface {
	queue.Executor
}

type InfoService interface {
	UserInfo(ctx context.Context) (*model.UserInfo, error)
	StorageInfo(ctx context.Context) (*model.StorageInfo, error)
	// ListFiles returns one page of the folder's children and the marker of
	// the next page, empty when there is none.
	ListFiles(ctx context.Context, parentID string, limit int, marker string) ([]model.FileEntry, string, error)
	ListAllFiles(ctx context.Context, folderPath, folderID string) ([]model.FileEntry, error)
}

type Backend interface {
	Downloader
	Uploader
	FileManager
	InfoService
	Kind() Kind
}

const DefaultChunkSize = 4 << 20

type Options struct {
	// Local is the local sync root that UploadFile reads from.
	Local     afero.Fs
	Queue     *queue.TaskQueue
	ChunkSize int64
}

func (o Options) Chunk() int64 {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

// ReadLocal loads a file from the local sync root.
func (o Options) ReadLocal(localPath string) ([]byte, os.FileInfo, error) {
	if o.Local == nil {
		return nil, nil, errors.New("no local filesystem configured")
	}
	info, err := o.Local.Stat(localPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	data, err := afero.ReadFile(o.Local, localPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", localPath, err)
	}
	return data, info, nil
}

// NotFound maps filesystem not-exist errors onto ErrNotFound.
func NotFound(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return err
}
