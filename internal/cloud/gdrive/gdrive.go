// Package gdrive stores the remote tree in Google Drive. Drive addresses
// files by id, so paths are resolved one segment at a time and cached.
package gdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"vaultsync/internal/cloud"
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/queue"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	folderMime = "application/vnd.google-apps.folder"
	rootID     = "root"
	fileFields = "id, name, mimeType, size, md5Checksum, createdTime, modifiedTime, parents"
)

type Backend struct {
	mu      sync.RWMutex
	svc     *drive.Service
	opts    cloud.Options
	idCache map[string]string
}

func New(svc *drive.Service, opts cloud.Options) *Backend {
	return &Backend{
		svc:     svc,
		opts:    opts,
		idCache: make(map[string]string),
	}
}

func (b *Backend) Kind() cloud.Kind {
	return cloud.KindGDrive
}

func (b *Backend) DownloadFile(ctx context.Context, p string, hint *model.RemoteFileNode) ([]byte, error) {
	p = pathutil.Join(p)
	id, err := b.resolve(ctx, p)
	if err != nil {
		return nil, err
	}

	size := int64(0)
	if hint != nil {
		size = hint.Size
	}

	return cloud.ChunkedDownload(ctx, b.opts.Queue, p, size, b.opts.Chunk(), func(ctx context.Context, off, length int64) ([]byte, error) {
		call := b.svc.Files.Get(id).Context(ctx)
		if length > 0 {
			call.Header().Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+length-1))
		}

		resp, err := call.Download()
		if err != nil {
			return nil, b.wrap(p, fmt.Errorf("failed to download: %w", err))
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		return io.ReadAll(resp.Body)
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
	parentID, err := b.ensureFolder(ctx, pathutil.Dirname(p))
	if err != nil {
		return fmt.Errorf("failed to create parent folders: %w", err)
	}

	meta := &drive.File{}
	if !opts.MTime.IsZero() {
		meta.ModifiedTime = opts.MTime.UTC().Format(time.RFC3339)
	}

	existingID, err := b.resolve(ctx, p)
	if err != nil && !errors.Is(err, cloud.ErrNotFound) {
		return err
	}

	var f *drive.File
	if existingID != "" {
		f, err = b.svc.Files.Update(existingID, meta).
			Media(bytes.NewReader(content)).
			Fields("id, createdTime, modifiedTime").
			Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to update file: %w", err)
		}
	} else {
		meta.Name = pathutil.Basename(p, "")
		meta.Parents = []string{parentID}
		if !opts.CTime.IsZero() {
			meta.CreatedTime = opts.CTime.UTC().Format(time.RFC3339)
		}

		f, err = b.svc.Files.Create(meta).
			Media(bytes.NewReader(content)).
			Fields("id, createdTime, modifiedTime").
			Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
	}

	b.setCachedID(p, f.Id)
	logger.Log.Debug("gdrive uploaded", zap.String("path", p), zap.String("id", f.Id))

	if opts.OnComplete != nil {
		return opts.OnComplete(parseTime(f.CreatedTime), parseTime(f.ModifiedTime))
	}
	return nil
}

func (b *Backend) RenameFile(ctx context.Context, from, newName string) error {
	from = pathutil.Join(from)
	id, err := b.resolve(ctx, from)
	if err != nil {
		return err
	}

	if _, err := b.svc.Files.Update(id, &drive.File{Name: newName}).Fields("id").Context(ctx).Do(); err != nil {
		return b.wrap(from, fmt.Errorf("failed to rename: %w", err))
	}

	b.invalidate(from)
	return nil
}

func (b *Backend) MoveFile(ctx context.Context, from, to string) error {
	from, to = pathutil.Join(from), pathutil.Join(to)
	id, err := b.resolve(ctx, from)
	if err != nil {
		return err
	}

	cur, err := b.svc.Files.Get(id).Fields("parents").Context(ctx).Do()
	if err != nil {
		return b.wrap(from, err)
	}

	parentID, err := b.ensureFolder(ctx, pathutil.Dirname(to))
	if err != nil {
		return err
	}

	_, err = b.svc.Files.Update(id, &drive.File{Name: pathutil.Basename(to, "")}).
		AddParents(parentID).
		RemoveParents(strings.Join(cur.Parents, ",")).
		Fields("id").
		Context(ctx).Do()
	if err != nil {
		return b.wrap(from, fmt.Errorf("failed to move: %w", err))
	}

	b.invalidate(from)
	return nil
}

func (b *Backend) CopyFile(ctx context.Context, from, to string) error {
	from, to = pathutil.Join(from), pathutil.Join(to)
	id, err := b.resolve(ctx, from)
	if err != nil {
		return err
	}

	parentID, err := b.ensureFolder(ctx, pathutil.Dirname(to))
	if err != nil {
		return err
	}

	f, err := b.svc.Files.Copy(id, &drive.File{
		Name:    pathutil.Basename(to, ""),
		Parents: []string{parentID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return b.wrap(from, fmt.Errorf("failed to copy: %w", err))
	}

	b.setCachedID(to, f.Id)
	return nil
}

func (b *Backend) DeleteFile(ctx context.Context, p string) error {
	p = pathutil.Join(p)
	id, err := b.resolve(ctx, p)
	if err != nil {
		return err
	}

	if err := b.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return b.wrap(p, fmt.Errorf("failed to delete file: %w", err))
	}

	b.invalidate(p)
	return nil
}

func (b *Backend) Mkdir(ctx context.Context, p string) error {
	_, err := b.ensureFolder(ctx, pathutil.Join(p))
	return err
}

func (b *Backend) about(ctx context.Context) (*drive.About, error) {
	about, err := b.svc.About.Get().Fields("user, storageQuota").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get account info: %w", err)
	}
	return about, nil
}

func (b *Backend) UserInfo(ctx context.Context) (*model.UserInfo, error) {
	about, err := b.about(ctx)
	if err != nil {
		return nil, err
	}
	if about.User == nil {
		return &model.UserInfo{}, nil
	}
	return &model.UserInfo{
		ID:     about.User.PermissionId,
		Name:   about.User.DisplayName,
		Email:  about.User.EmailAddress,
		Avatar: about.User.PhotoLink,
	}, nil
}

func (b *Backend) StorageInfo(ctx context.Context) (*model.StorageInfo, error) {
	about, err := b.about(ctx)
	if err != nil {
		return nil, err
	}
	q := about.StorageQuota
	if q == nil {
		return &model.StorageInfo{}, nil
	}
	info := &model.StorageInfo{Total: q.Limit, Used: q.Usage}
	if q.Limit > 0 {
		info.Free = q.Limit - q.Usage
	}
	return info, nil
}

// ListFiles lists one folder. The marker is Drive's page token.
func (b *Backend) ListFiles(ctx context.Context, parentID string, limit int, marker string) ([]model.FileEntry, string, error) {
	dir := pathutil.Join(parentID)
	id, err := b.resolve(ctx, dir)
	if err != nil {
		return nil, "", err
	}

	call := b.svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed=false", id)).
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
		OrderBy("name").
		Context(ctx)
	if limit > 0 {
		call = call.PageSize(int64(limit))
	}
	if marker != "" {
		call = call.PageToken(marker)
	}

	list, err := call.Do()
	if err != nil {
		return nil, "", fmt.Errorf("failed to list %s: %w", dir, err)
	}

	entries := make([]model.FileEntry, 0, len(list.Files))
	for _, f := range list.Files {
		e := toEntry(dir, f)
		b.setCachedID(e.Path, f.Id)
		entries = append(entries, e)
	}
	return entries, list.NextPageToken, nil
}

func (b *Backend) ListAllFiles(ctx context.Context, folderPath, folderID string) ([]model.FileEntry, error) {
	dir := pathutil.Join(folderPath)
	if folderID != "" {
		b.setCachedID(dir, folderID)
	}

	var out []model.FileEntry
	pending := []string{dir}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		marker := ""
		for {
			entries, next, err := b.ListFiles(ctx, cur, 1000, marker)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				out = append(out, e)
				if e.IsDir {
					pending = append(pending, e.Path)
				}
			}
			if next == "" {
				break
			}
			marker = next
		}
	}
	return out, nil
}

// resolve maps a path to its Drive id, walking from the drive root.
func (b *Backend) resolve(ctx context.Context, p string) (string, error) {
	if p == "" {
		return rootID, nil
	}
	if id := b.getCachedID(p); id != "" {
		return id, nil
	}

	parentID, err := b.resolve(ctx, pathutil.Dirname(p))
	if err != nil {
		return "", err
	}

	id, err := b.findChild(ctx, pathutil.Basename(p, ""), parentID)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s", cloud.ErrNotFound, p)
	}

	b.setCachedID(p, id)
	return id, nil
}

func (b *Backend) ensureFolder(ctx context.Context, dir string) (string, error) {
	id, err := b.resolve(ctx, dir)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, cloud.ErrNotFound) {
		return "", err
	}

	parentID, err := b.ensureFolder(ctx, pathutil.Dirname(dir))
	if err != nil {
		return "", err
	}

	id, err = b.createFolder(ctx, pathutil.Basename(dir, ""), parentID)
	if err != nil {
		return "", err
	}

	b.setCachedID(dir, id)
	return id, nil
}

func (b *Backend) findChild(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", escapeName(name), parentID)

	return queue.Do(ctx, b.opts.Queue, queue.TaskGetByPath, "lookup:"+parentID+"/"+name, func(ctx context.Context) (string, error) {
		list, err := b.svc.Files.List().Q(q).Fields("files(id)").Context(ctx).Do()
		if err != nil {
			return "", err
		}
		if len(list.Files) == 0 {
			return "", nil
		}
		return list.Files[0].Id, nil
	})
}

func (b *Backend) createFolder(ctx context.Context, name, parentID string) (string, error) {
	f := &drive.File{
		Name:     name,
		MimeType: folderMime,
		Parents:  []string{parentID},
	}

	created, err := b.svc.Files.Create(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", name, err)
	}

	return created.Id, nil
}

func (b *Backend) wrap(p string, err error) error {
	if isNotFound(err) {
		b.invalidate(p)
		return fmt.Errorf("%w: %s", cloud.ErrNotFound, p)
	}
	return err
}

func (b *Backend) getCachedID(key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.idCache[key]
}

func (b *Backend) setCachedID(key, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idCache[key] = id
}

// invalidate drops p and everything cached below it.
func (b *Backend) invalidate(p string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.idCache {
		if k == p || pathutil.Within(p, k) {
			delete(b.idCache, k)
		}
	}
}

func toEntry(dir string, f *drive.File) model.FileEntry {
	isDir := f.MimeType == folderMime
	e := model.FileEntry{
		Path:     pathutil.Join(dir, f.Name),
		IsDir:    isDir,
		FsID:     f.Id,
		CTime:    parseTime(f.CreatedTime).Unix(),
		MTime:    parseTime(f.ModifiedTime).Unix(),
		MimeType: f.MimeType,
	}
	if !isDir {
		e.Size = f.Size
		e.MD5 = f.Md5Checksum
	}
	return e
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func escapeName(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	return strings.ReplaceAll(name, "'", "\\'")
}

func isNotFound(err error) bool {
	if apiErr, ok := errors.AsType[*googleapi.Error](err); ok {
		return apiErr.Code == http.StatusNotFound
	}

	return false
}
