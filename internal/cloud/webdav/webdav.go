// Package webdav stores the remote tree on a WebDAV server.
package webdav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"vaultsync/internal/cloud"
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"

	"github.com/studio-b12/gowebdav"
	"go.uber.org/zap"
)

type Config struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type Backend struct {
	client *gowebdav.Client
	user   string
	opts   cloud.Options
}

func New(cfg Config, opts cloud.Options) (*Backend, error) {
	if cfg.URL == "" {
		return nil, errors.New("webdav url is required")
	}

	client := gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	return &Backend{client: client, user: cfg.Username, opts: opts}, nil
}

func (b *Backend) Kind() cloud.Kind {
	return cloud.KindWebDAV
}

func davPath(p string) string {
	return "/" + pathutil.Join(p)
}

func wrap(p string, err error) error {
	if gowebdav.IsErrNotFound(err) {
		return fmt.Errorf("%w: %s", cloud.ErrNotFound, p)
	}
	return err
}

func (b *Backend) DownloadFile(ctx context.Context, p string, hint *model.RemoteFileNode) ([]byte, error) {
	p = pathutil.Join(p)
	size := int64(0)
	if hint != nil {
		size = hint.Size
	}

	return cloud.ChunkedDownload(ctx, b.opts.Queue, p, size, b.opts.Chunk(), func(_ context.Context, off, length int64) ([]byte, error) {
		if length < 0 {
			data, err := b.client.Read(davPath(p))
			if err != nil {
				return nil, wrap(p, err)
			}
			return data, nil
		}

		rc, err := b.client.ReadStreamRange(davPath(p), off, length)
		if err != nil {
			return nil, wrap(p, err)
		}

		defer func(rc io.ReadCloser) {
			_ = rc.Close()
		}(rc)

		return io.ReadAll(rc)
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

func (b *Backend) UploadContent(_ context.Context, content []byte, remotePath string, opts cloud.UploadOptions) error {
	p := pathutil.Join(remotePath)
	// Missing parent collections are created by the client on 409.
	if err := b.client.WriteStream(davPath(p), bytes.NewReader(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}

	logger.Log.Debug("WebDAV put", zap.String("path", p), zap.Int("size", len(content)))

	if opts.OnComplete == nil {
		return nil
	}

	// The server stamps its own modification time.
	mtime := opts.MTime
	if info, err := b.client.Stat(davPath(p)); err == nil {
		mtime = info.ModTime()
	}
	ctime := opts.CTime
	if ctime.IsZero() {
		ctime = mtime
	}
	return opts.OnComplete(ctime, mtime)
}

func (b *Backend) RenameFile(_ context.Context, from, newName string) error {
	from = pathutil.Join(from)
	to := pathutil.Join(pathutil.Dirname(from), newName)
	return wrap(from, b.client.Rename(davPath(from), davPath(to), false))
}

func (b *Backend) MoveFile(_ context.Context, from, to string) error {
	from, to = pathutil.Join(from), pathutil.Join(to)
	if err := b.ensureParent(to); err != nil {
		return err
	}
	return wrap(from, b.client.Rename(davPath(from), davPath(to), false))
}

func (b *Backend) CopyFile(_ context.Context, from, to string) error {
	from, to = pathutil.Join(from), pathutil.Join(to)
	if err := b.ensureParent(to); err != nil {
		return err
	}
	return wrap(from, b.client.Copy(davPath(from), davPath(to), false))
}

// ensureParent creates the collection holding p. MOVE and COPY fail with
// 403 or 409 when it is missing.
func (b *Backend) ensureParent(p string) error {
	dir := pathutil.Dirname(p)
	if dir == "" {
		return nil
	}
	if err := b.client.MkdirAll(davPath(dir), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

func (b *Backend) DeleteFile(_ context.Context, p string) error {
	p = pathutil.Join(p)
	if _, err := b.client.Stat(davPath(p)); err != nil {
		return wrap(p, err)
	}
	return b.client.RemoveAll(davPath(p))
}

func (b *Backend) Mkdir(_ context.Context, p string) error {
	return b.client.MkdirAll(davPath(p), 0755)
}

func (b *Backend) UserInfo(context.Context) (*model.UserInfo, error) {
	return &model.UserInfo{ID: b.user, Name: b.user}, nil
}

func (b *Backend) StorageInfo(ctx context.Context) (*model.StorageInfo, error) {
	entries, err := b.ListAllFiles(ctx, "", "")
	if err != nil {
		return nil, err
	}
	var used int64
	for _, e := range entries {
		used += e.Size
	}
	return &model.StorageInfo{Used: used}, nil
}

func entry(dir string, info os.FileInfo) model.FileEntry {
	p := pathutil.Join(dir, info.Name())
	e := model.FileEntry{
		Path:  p,
		IsDir: info.IsDir(),
		FsID:  p,
		CTime: info.ModTime().Unix(),
		MTime: info.ModTime().Unix(),
	}
	if !info.IsDir() {
		e.Size = info.Size()
	}
	if f, ok := info.(interface{ ContentType() string }); ok {
		e.MimeType = f.ContentType()
	}
	return e
}

func (b *Backend) readDir(p string) ([]os.FileInfo, error) {
	infos, err := b.client.ReadDir(davPath(p))
	if err != nil {
		return nil, wrap(p, err)
	}
	slices.SortFunc(infos, func(a, b os.FileInfo) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return infos, nil
}

// ListFiles pages one PROPFIND result. The marker is the offset into the
// sorted listing.
func (b *Backend) ListFiles(_ context.Context, parentID string, limit int, marker string) ([]model.FileEntry, string, error) {
	dir := pathutil.Join(parentID)
	infos, err := b.readDir(dir)
	if err != nil {
		return nil, "", err
	}

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
		entries = append(entries, entry(dir, info))
	}

	next := ""
	if end < len(infos) {
		next = strconv.Itoa(end)
	}
	return entries, next, nil
}

func (b *Backend) ListAllFiles(ctx context.Context, folderPath, _ string) ([]model.FileEntry, error) {
	var out []model.FileEntry
	var walk func(dir string) error
	walk = func(dir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		infos, err := b.readDir(dir)
		if err != nil {
			return err
		}
		for _, info := range infos {
			e := entry(dir, info)
			out = append(out, e)
			if e.IsDir {
				if err := walk(e.Path); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(pathutil.Join(folderPath)); err != nil {
		return nil, err
	}
	return out, nil
}
