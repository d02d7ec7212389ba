package cloud

import (
	"context"

	"vaultsync/internal/model"
	"vaultsync/internal/queue"
)

type queued struct {
	Backend
	q *queue.TaskQueue
}

// WithQueue routes listing through the list category and uploads, metadata
// operations and account queries through the other category.
func WithQueue(b Backend, q *queue.TaskQueue) Backend {
	if q == nil {
		return b
	}
	return &queued{Backend: b, q: q}
}

func (b *queued) UploadFile(ctx context.Context, localPath, remotePath string) error {
	return queue.Run(ctx, b.q, queue.TaskOther, "upload:"+remotePath, func(ctx context.Context) error {
		return b.Backend.UploadFile(ctx, localPath, remotePath)
	})
}

func (b *queued) UploadContent(ctx context.Context, content []byte, remotePath string, opts UploadOptions) error {
	return queue.Run(ctx, b.q, queue.TaskOther, "upload:"+remotePath, func(ctx context.Context) error {
		return b.Backend.UploadContent(ctx, content, remotePath, opts)
	})
}

func (b *queued) RenameFile(ctx context.Context, from, newName string) error {
	return queue.Run(ctx, b.q, queue.TaskOther, "rename:"+from, func(ctx context.Context) error {
		return b.Backend.RenameFile(ctx, from, newName)
	})
}

func (b *queued) MoveFile(ctx context.Context, from, to string) error {
	return queue.Run(ctx, b.q, queue.TaskOther, "move:"+from, func(ctx context.Context) error {
		return b.Backend.MoveFile(ctx, from, to)
	})
}

func (b *queued) CopyFile(ctx context.Context, from, to string) error {
	return queue.Run(ctx, b.q, queue.TaskOther, "copy:"+from, func(ctx context.Context) error {
		return b.Backend.CopyFile(ctx, from, to)
	})
}

func (b *queued) DeleteFile(ctx context.Context, path string) error {
	return queue.Run(ctx, b.q, queue.TaskOther, "delete:"+path, func(ctx context.Context) error {
		return b.Backend.DeleteFile(ctx, path)
	})
}

func (b *queued) Mkdir(ctx context.Context, path string) error {
	return queue.Run(ctx, b.q, queue.TaskOther, "mkdir:"+path, func(ctx context.Context) error {
		return b.Backend.Mkdir(ctx, path)
	})
}

func (b *queued) UserInfo(ctx context.Context) (*model.UserInfo, error) {
	return queue.Do(ctx, b.q, queue.TaskOther, "user-info", b.Backend.UserInfo)
}

func (b *queued) StorageInfo(ctx context.Context) (*model.StorageInfo, error) {
	return queue.Do(ctx, b.q, queue.TaskOther, "storage-info", b.Backend.StorageInfo)
}

type page struct {
	entries []model.FileEntry
	next    string
}

func (b *queued) ListFiles(ctx context.Context, parentID string, limit int, marker string) ([]model.FileEntry, string, error) {
	p, err := queue.Do(ctx, b.q, queue.TaskList, "list:"+parentID, func(ctx context.Context) (page, error) {
		entries, next, err := b.Backend.ListFiles(ctx, parentID, limit, marker)
		return page{entries: entries, next: next}, err
	})
	return p.entries, p.next, err
}

func (b *queued) ListAllFiles(ctx context.Context, folderPath, folderID string) ([]model.FileEntry, error) {
	return queue.Do(ctx, b.q, queue.TaskList, "list-all:"+folderPath, func(ctx context.Context) ([]model.FileEntry, error) {
		return b.Backend.ListAllFiles(ctx, folderPath, folderID)
	})
}
