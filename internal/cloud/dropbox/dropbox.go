// Package dropbox stores the remote tree in a Dropbox app folder.
package dropbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vaultsync/internal/cloud"
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/queue"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"
	"go.uber.org/zap"
)

type Backend struct {
	files files.Client
	users users.Client
	http  *http.Client
	opts  cloud.Options
}

func New(cfg dropbox.Config, opts cloud.Options) *Backend {
	return &Backend{
		files: files.New(cfg),
		users: users.New(cfg),
		http:  &http.Client{Timeout: 5 * time.Minute},
		opts:  opts,
	}
}

func (b *Backend) Kind() cloud.Kind {
	return cloud.KindDropbox
}

// dbxPath maps a relative path onto Dropbox's form, where the root is "".
func dbxPath(p string) string {
	p = pathutil.Join(p)
	if p == "" {
		return ""
	}
	return "/" + p
}

func (b *Backend) DownloadFile(ctx context.Context, p string, hint *model.RemoteFileNode) ([]byte, error) {
	p = pathutil.Join(p)
	link, err := queue.Do(ctx, b.opts.Queue, queue.TaskGetDownloadURL, "link:"+p, func(context.Context) (string, error) {
		res, err := b.files.GetTemporaryLink(files.NewGetTemporaryLinkArg(dbxPath(p)))
		if err != nil {
			return "", wrap(p, err)
		}
		return res.Link, nil
	})
	if err != nil {
		return nil, err
	}

	size := int64(0)
	if hint != nil {
		size = hint.Size
	}

	return cloud.ChunkedDownload(ctx, b.opts.Queue, p, size, b.opts.Chunk(), func(ctx context.Context, off, length int64) ([]byte, error) {
		return rangeGet(ctx, b.http, link, off, length)
	})
}

func rangeGet(ctx context.Context, client *http.Client, link string, off, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	if length > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+length-1))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, &statusError{code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("download failed with status %d", e.code)
}

func (e *statusError) HTTPStatusCode() int {
	return e.code
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

	arg := files.NewUploadArg(dbxPath(p))
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
	arg.Autorename = false
	if !opts.MTime.IsZero() {
		// Dropbox only keeps whole seconds.
		mtime := opts.MTime.UTC().Truncate(time.Second)
		arg.ClientModified = &mtime
	}

	res, err := b.files.Upload(arg, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to upload to dropbox: %w", err)
	}

	logger.Log.Debug("dropbox uploaded", zap.String("path", res.PathDisplay), zap.Uint64("size", res.Size))

	if opts.OnComplete != nil {
		return opts.OnComplete(res.ServerModified, res.ClientModified)
	}
	return nil
}

func (b *Backend) RenameFile(ctx context.Context, from, newName string) error {
	from = pathutil.Join(from)
	return b.MoveFile(ctx, from, pathutil.Join(pathutil.Dirname(from), newName))
}

func (b *Backend) MoveFile(_ context.Context, from, to string) error {
	arg := files.NewRelocationArg(dbxPath(from), dbxPath(to))
	if _, err := b.files.MoveV2(arg); err != nil {
		return wrap(from, fmt.Errorf("failed to move: %w", err))
	}
	return nil
}

func (b *Backend) CopyFile(_ context.Context, from, to string) error {
	arg := files.NewRelocationArg(dbxPath(from), dbxPath(to))
	if _, err := b.files.CopyV2(arg); err != nil {
		return wrap(from, fmt.Errorf("failed to copy: %w", err))
	}
	return nil
}

func (b *Backend) DeleteFile(_ context.Context, p string) error {
	if _, err := b.files.DeleteV2(files.NewDeleteArg(dbxPath(p))); err != nil {
		return wrap(p, fmt.Errorf("failed to delete from dropbox: %w", err))
	}
	return nil
}

func (b *Backend) Mkdir(_ context.Context, p string) error {
	arg := files.NewCreateFolderArg(dbxPath(p))
	arg.Autorename = false

	if _, err := b.files.CreateFolderV2(arg); err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}
	return nil
}

func (b *Backend) UserInfo(context.Context) (*model.UserInfo, error) {
	acc, err := b.users.GetCurrentAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	info := &model.UserInfo{
		ID:     acc.AccountId,
		Email:  acc.Email,
		Avatar: acc.ProfilePhotoUrl,
	}
	if acc.Name != nil {
		info.Name = acc.Name.DisplayName
	}
	return info, nil
}

func (b *Backend) StorageInfo(context.Context) (*model.StorageInfo, error) {
	usage, err := b.users.GetSpaceUsage()
	if err != nil {
		return nil, fmt.Errorf("failed to get space usage: %w", err)
	}

	info := &model.StorageInfo{Used: int64(usage.Used)}
	if a := usage.Allocation; a != nil {
		switch {
		case a.Individual != nil:
			info.Total = int64(a.Individual.Allocated)
		case a.Team != nil:
			info.Total = int64(a.Team.Allocated)
		}
	}
	if info.Total > 0 {
		info.Free = info.Total - info.Used
	}
	return info, nil
}

// ListFiles lists one folder. The marker is a list_folder cursor.
func (b *Backend) ListFiles(_ context.Context, parentID string, limit int, marker string) ([]model.FileEntry, string, error) {
	var res *files.ListFolderResult
	var err error
	if marker != "" {
		res, err = b.files.ListFolderContinue(files.NewListFolderContinueArg(marker))
	} else {
		arg := files.NewListFolderArg(dbxPath(parentID))
		if limit > 0 {
			arg.Limit = uint32(limit)
		}
		res, err = b.files.ListFolder(arg)
	}
	if err != nil {
		return nil, "", wrap(parentID, fmt.Errorf("failed to list folder: %w", err))
	}

	next := ""
	if res.HasMore {
		next = res.Cursor
	}
	return toEntries(res.Entries), next, nil
}

func (b *Backend) ListAllFiles(_ context.Context, folderPath, _ string) ([]model.FileEntry, error) {
	arg := files.NewListFolderArg(dbxPath(folderPath))
	arg.Recursive = true

	res, err := b.files.ListFolder(arg)
	if err != nil {
		return nil, wrap(folderPath, fmt.Errorf("failed to list folder: %w", err))
	}

	out := toEntries(res.Entries)
	for res.HasMore {
		res, err = b.files.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return nil, fmt.Errorf("failed to continue listing: %w", err)
		}
		out = append(out, toEntries(res.Entries)...)
	}
	return out, nil
}

func toEntries(entries []files.IsMetadata) []model.FileEntry {
	out := make([]model.FileEntry, 0, len(entries))
	for _, entry := range entries {
		switch e := entry.(type) {
		case *files.FileMetadata:
			out = append(out, model.FileEntry{
				Path:  pathutil.Join(e.PathDisplay),
				FsID:  e.Id,
				CTime: e.ServerModified.Unix(),
				MTime: e.ClientModified.Unix(),
				Size:  int64(e.Size),
			})
		case *files.FolderMetadata:
			out = append(out, model.FileEntry{
				Path:  pathutil.Join(e.PathDisplay),
				IsDir: true,
				FsID:  e.Id,
			})
		}
	}
	return out
}

func lookupNotFound(e *files.LookupError) bool {
	return e != nil && e.Tag == files.LookupErrorNotFound
}

func isNotFound(err error) bool {
	if apiErr, ok := errors.AsType[files.DeleteV2APIError](err); ok {
		return apiErr.EndpointError != nil && lookupNotFound(apiErr.EndpointError.PathLookup)
	}
	if apiErr, ok := errors.AsType[files.GetTemporaryLinkAPIError](err); ok {
		return apiErr.EndpointError != nil && lookupNotFound(apiErr.EndpointError.Path)
	}
	if apiErr, ok := errors.AsType[files.MoveV2APIError](err); ok {
		return apiErr.EndpointError != nil && lookupNotFound(apiErr.EndpointError.FromLookup)
	}
	if apiErr, ok := errors.AsType[files.CopyV2APIError](err); ok {
		return apiErr.EndpointError != nil && lookupNotFound(apiErr.EndpointError.FromLookup)
	}
	if apiErr, ok := errors.AsType[files.ListFolderAPIError](err); ok {
		return apiErr.EndpointError != nil && lookupNotFound(apiErr.EndpointError.Path)
	}
	return false
}

func wrap(p string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", cloud.ErrNotFound, pathutil.Join(p))
	}
	return err
}

func isConflict(err error) bool {
	if apiErr, ok := errors.AsType[files.CreateFolderV2APIError](err); ok {
		return apiErr.EndpointError != nil &&
			apiErr.EndpointError.Path != nil &&
			strings.EqualFold(apiErr.EndpointError.Path.Tag, files.WriteErrorConflict)
	}

	return false
}
