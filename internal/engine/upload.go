package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"vaultsync/internal/cloud"
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/pipeline"
	"vaultsync/internal/reconcile"
	"vaultsync/internal/tree"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Progress reports how many items of a batch have completed.
type Progress func(done, total int)

// Upload sends the file at p, or every upload-eligible file below the
// directory at p. The batch stops at the first failure; files uploaded
// before it stay uploaded.
func (e *Engine) Upload(ctx context.Context, p string, progress Progress) error {
	p = pathutil.Join(p)

	e.mu.Lock()
	if e.local == nil {
		e.mu.Unlock()
		return ErrNotReady
	}
	n := tree.Find(e.local, p)
	if n == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	var items []reconcile.UploadItem
	if n.IsDir() {
		items = reconcile.UploadCandidates(n, p)
	} else {
		items = []reconcile.UploadItem{{Node: n, Path: p}}
	}
	e.mu.Unlock()

	_, err := e.uploadItems(ctx, items, progress)
	return err
}

// autoUploadsLocked lists the upload candidates below n that sync may send
// on its own, and how many the ignore rules held back.
func (e *Engine) autoUploadsLocked(n *model.LocalFileNode, p string) ([]reconcile.UploadItem, int) {
	var (
		items   []reconcile.UploadItem
		skipped int
	)
	for _, it := range reconcile.UploadCandidates(n, p) {
		if e.ignored(it.Path, it.Node) {
			skipped++
			continue
		}
		items = append(items, it)
	}
	return items, skipped
}

// uploadItems uploads sequentially and returns how many succeeded.
func (e *Engine) uploadItems(ctx context.Context, items []reconcile.UploadItem, progress Progress) (int, error) {
	for i, it := range items {
		if e.Stopped() {
			return i, ErrStopped
		}
		if err := e.uploadFile(ctx, it.Path); err != nil {
			return i, fmt.Errorf("failed to upload %s: %w", it.Path, err)
		}
		if progress != nil {
			progress(i+1, len(items))
		}
	}
	return len(items), nil
}

func (e *Engine) uploadFile(ctx context.Context, p string) (err error) {
	defer func() {
		e.record(model.DirectionUpload, p, err)
	}()

	e.mu.Lock()
	n := tree.Find(e.local, p)
	if n == nil || n.IsDir() {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	snap := *n
	snap.Children = nil
	n.SyncStatus = model.StatusSyncing
	e.mu.Unlock()

	remote := e.remotePath(p)
	encrypted := false
	size := snap.Size

	if e.encrypt {
		data, err := afero.ReadFile(e.fs, p)
		if err != nil {
			e.markStatus(p, model.StatusSyncError)
			return fmt.Errorf("failed to read: %w", err)
		}
		if snap.MD5 == "" {
			sum := md5.Sum(data)
			snap.MD5 = hex.EncodeToString(sum[:])
		}
		blob, err := e.cipher.Encrypt(data)
		if err != nil {
			e.markStatus(p, model.StatusSyncError)
			return err
		}
		err = e.backend.UploadContent(ctx, blob, remote, cloud.UploadOptions{CTime: snap.CTime, MTime: snap.MTime})
		if err != nil {
			e.markStatus(p, model.StatusSyncError)
			return err
		}
		encrypted = true
		size = int64(len(blob))
	} else {
		if snap.MD5 == "" && e.hash {
			if sum, err := pipeline.Checksum(e.fs, p); err == nil {
				snap.MD5 = sum
			}
		}
		if err := e.backend.UploadFile(ctx, p, remote); err != nil {
			e.markStatus(p, model.StatusSyncError)
			return err
		}
	}

	now := time.Now()
	snap.SyncStatus = model.StatusFullySynced
	snap.LastSyncTime = now
	snap.RemoteEncrypt = encrypted

	e.mu.Lock()
	defer e.mu.Unlock()
	tree.Insert(e.local, p, &snap)
	e.stampRemoteLocked(p, &snap, size, now)
	return nil
}

// stampRemoteLocked records a finished upload of local in the remote meta.
// size is the stored object size, which differs from the local size for
// encrypted files.
func (e *Engine) stampRemoteLocked(p string, local *model.LocalFileNode, size int64, now time.Time) {
	rn := e.meta.Find(p)
	if rn != nil && rn.IsDir() {
		logger.Log.Warn("remote meta has a directory where a file was uploaded", zap.String("path", p))
		return
	}
	if rn == nil {
		rn = &model.RemoteFileNode{Name: pathutil.Basename(p, ""), Type: model.TypeFile}
		if !e.meta.Insert(p, rn) {
			return
		}
	}

	mtime := local.MTime
	if mtime.IsZero() {
		mtime = now
	}

	rn.LastSync = model.NewLastSync(e.device, now)
	rn.MTime = mtime.UnixMilli()
	rn.Size = size
	rn.MD5 = local.MD5
	rn.Encrypt = local.RemoteEncrypt
}

func (e *Engine) markStatus(p string, status model.SyncStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := tree.Find(e.local, p); n != nil {
		n.SyncStatus = status
	}
}
