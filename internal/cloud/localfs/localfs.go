// Package localfs stores the remote tree in a directory, such as a mounted
// network share.
package localfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"vaultsync/internal/cloud"
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/util"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type Backend struct {
	remote afero.Fs
	opts   cloud.Options
}

func New(remote afero.Fs, opts cloud.Options) *Backend {
	return &Backend{remote: remote, opts: opts}
}

func (b *Backend) Kind() cloud.Kind {
	return cloud.KindLocal
}

func (b *Backend) DownloadFile(ctx context.Context, p string, hint *model.RemoteFileNode) ([]byte, error) {
	p = pathutil.Join(p)

	size := int64(0)
	if hint != nil {
		size = hint.Size
	}

	return cloud.ChunkedDownload(ctx, b.opts.Queue, p, size, b.opts.Chunk(), func(ctx context.Context, off, length int64) ([]byte, error) {
		f, err := b.remote.Open(p)
		if err != nil {
			return nil, cloud.NotFound(p, err)
		}

		defer func(f afero.File) {
			_ = f.Close()
		}(f)

		if off > 0 {
			if _, err := f.Seek(off, io.SeekStart); err != nil {
				return nil, fmt.Errorf("failed to seek: %w", err)
			}
		}
		if length < 0 {
			return io.ReadAll(f)
		}

		buf := make([]byte, length)
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		return buf[:n], nil
	})
}

func (b *Backend) DownloadFileAsString(ctx context.Context, p string) (string, error) {
	data, err := b.DownloadFile(ctx, p, nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *Backend) UploadFile(ctx context.Context, localPath, remotePath string) error {
	data, info, err := b.opts.ReadLocal(localPath)
	if err != nil {
		return err
	}
	return b.UploadContent(ctx, data, remotePath, cloud.UploadOptions{MTime: info.ModTime()})
}

func (b *Backend) UploadContent(ctx context.Context, content []byte, remotePath string, opts cloud.UploadOptions) error {
	p := pathutil.Join(remotePath)
	if err := util.AtomicWrite(b.remote, p, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("failed to upload %s: %w", p, err)
	}

	mtime := opts.MTime
	if mtime.IsZero() {
		mtime = time.Now()
	}
	if err := b.remote.Chtimes(p, mtime, mtime); err != nil {
		logger.Log.Warn("failed to set remote mtime", zap.String("path", p), zap.Error(err))
	}

	logger.Log.Debug("uploaded", zap.String("path", p), zap.Int("size", len(content)))

	if opts.OnComplete != nil {
		ctime := opts.CTime
		if ctime.IsZero() {
			ctime = mtime
		}
		return opts.OnComplete(ctime, mtime)
	}
	return nil
}

func (b *Backend) RenameFile(ctx context.Context, from, newName string) error {
	return b.MoveFile(ctx, from, pathutil.Join(pathutil.Dirname(pathutil.Join(from)), newName))
}

func (b *Backend) MoveFile(_ context.Context, from, to string) error {
	from, to = pathutil.Join(from), pathutil.Join(to)
	if dir := pathutil.Dirname(to); dir != "" {
		if err := b.remote.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := b.remote.Rename(from, to); err != nil {
		return cloud.NotFound(from, err)
	}
	return nil
}

func (b *Backend) CopyFile(ctx context.Context, from, to string) error {
	from = pathutil.Join(from)
	data, err := afero.ReadFile(b.remote, from)
	if err != nil {
		return cloud.NotFound(from, err)
	}
	info, err := b.remote.Stat(from)
	if err != nil {
		return cloud.NotFound(from, err)
	}
	return b.UploadContent(ctx, data, to, cloud.UploadOptions{MTime: info.ModTime()})
}

func (b *Backend) DeleteFile(_ context.Context, p string) error {
	p = pathutil.Join(p)
	if _, err := b.remote.Stat(p); err != nil {
		return cloud.NotFound(p, err)
	}
	return util.RemoveIfExists(b.remote, p)
}

func (b *Backend) Mkdir(_ context.Context, p string) error {
	return b.remote.MkdirAll(pathutil.Join(p), 0755)
}

func (b *Backend) UserInfo(context.Context) (*model.UserInfo, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &model.UserInfo{ID: "local", Name: host}, nil
}

func (b *Backend) StorageInfo(context.Context) (*model.StorageInfo, error) {
	var used int64
	err := afero.Walk(b.remote, "", func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			used += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to measure storage: %w", err)
	}
	return &model.StorageInfo{Used: used}, nil
}

func entry(p string, info os.FileInfo) model.FileEntry {
	mtime := info.ModTime().Unix()
	return model.FileEntry{
		Path:  p,
		IsDir: info.IsDir(),
		FsID:  p,
		CTime: mtime,
		MTime: mtime,
		Size:  info.Size(),
	}
}

// ListFiles pages through the directory parentID. The marker is the offset
// of the next page.
func (b *Backend) ListFiles(_ context.Context, parentID string, limit int, marker string) ([]model.FileEntry, string, error) {
	dir := pathutil.Join(parentID)
	infos, err := afero.ReadDir(b.remote, dir)
	if err != nil {
		return nil, "", cloud.NotFound(dir, err)
	}
	slices.SortFunc(infos, func(a, b os.FileInfo) int { return strings.Compare(a.Name(), b.Name()) })

	start := 0
	if marker != "" {
		if start, err = strconv.Atoi(marker); err != nil {
			return nil, "", fmt.Errorf("invalid marker %q: %w", marker, err)
		}
	}
	start = min(start, len(infos))
	end := len(infos)
	if limit > 0 {
		end = min(start+limit, len(infos))
	}

	entries := make([]model.FileEntry, 0, end-start)
	for _, info := range infos[start:end] {
		entries = append(entries, entry(pathutil.Join(dir, info.Name()), info))
	}

	next := ""
	if end < len(infos) {
		next = strconv.Itoa(end)
	}
	return entries, next, nil
}

func (b *Backend) ListAllFiles(_ context.Context, folderPath, _ string) ([]model.FileEntry, error) {
	root := pathutil.Join(folderPath)
	if _, err := b.remote.Stat(root); err != nil {
		return nil, cloud.NotFound(root, err)
	}

	var entries []model.FileEntry
	err := afero.Walk(b.remote, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		p = pathutil.Join(p)
		if p == root || strings.HasSuffix(p, util.TempSuffix) {
			return nil
		}
		entries = append(entries, entry(p, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}
	return entries, nil
}
