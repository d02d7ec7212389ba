package engine

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"vaultsync/internal/crypt"
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/reconcile"
	"vaultsync/internal/tree"
	"vaultsync/internal/util"

	"go.uber.org/zap"
)

// DownloadCallback is told the outcome of each item in a download batch.
type DownloadCallback func(item reconcile.DownloadItem, err error)

// Download fetches every item independently. A failed item is reported and
// the batch moves on. It returns the number of failed items.
func (e *Engine) Download(ctx context.Context, items []reconcile.DownloadItem, cb DownloadCallback) int {
	failed := 0
	for _, it := range items {
		var err error
		if e.Stopped() {
			err = ErrStopped
		} else {
			err = e.downloadFile(ctx, it)
		}
		if err != nil {
			failed++
		}
		if cb != nil {
			cb(it, err)
		}
	}
	return failed
}

// DownloadPath downloads the remote file at p, or every file below the
// remote directory at p that is newer than its local copy and whose status
// asks for a download. The empty path covers the whole tree.
func (e *Engine) DownloadPath(ctx context.Context, p string, cb DownloadCallback) (int, error) {
	p = pathutil.Join(p)

	e.mu.Lock()
	if e.meta == nil {
		e.mu.Unlock()
		return 0, ErrNotReady
	}

	var items []reconcile.DownloadItem
	if p == "" {
		items = reconcile.AllDownloadCandidates(e.meta, e.local)
	} else {
		rn := e.meta.Find(p)
		switch {
		case rn == nil:
			e.mu.Unlock()
			return 0, fmt.Errorf("%w: %s", ErrNotFound, p)
		case !rn.IsDir():
			items = []reconcile.DownloadItem{{Node: rn, Path: p}}
		default:
			items = reconcile.DownloadCandidatesAt(rn, e.local, p)
		}
	}
	for i := range items {
		items[i].Node = items[i].Node.Clone()
	}
	e.mu.Unlock()

	return e.Download(ctx, items, cb), nil
}

func (e *Engine) downloadFile(ctx context.Context, it reconcile.DownloadItem) (err error) {
	p := pathutil.Join(it.Path)
	defer func() {
		e.record(model.DirectionDownload, p, err)
	}()

	e.mu.Lock()
	hint := it.Node
	if rn := e.meta.Find(p); rn != nil && !rn.IsDir() {
		hint = rn.Clone()
	}
	e.mu.Unlock()
	if hint == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	data, err := e.backend.DownloadFile(ctx, e.remotePath(p), hint)
	if err != nil {
		return err
	}

	encrypted := crypt.IsEncrypted(data)
	if encrypted {
		if e.cipher == nil {
			return fmt.Errorf("%s is encrypted: %w", p, crypt.ErrNoPassword)
		}
		if data, err = e.cipher.Decrypt(data); err != nil {
			return fmt.Errorf("failed to decrypt %s: %w", p, err)
		}
	}

	if err := util.AtomicWrite(e.fs, p, bytes.NewReader(data)); err != nil {
		return err
	}

	now := time.Now()
	mtime := now
	if hint.MTime > 0 {
		mtime = time.UnixMilli(hint.MTime)
	}
	if err := e.fs.Chtimes(p, mtime, mtime); err != nil {
		logger.Log.Warn("failed to set mtime", zap.String("path", p), zap.Error(err))
	}

	sum := md5.Sum(data)
	node := &model.LocalFileNode{
		Name:          pathutil.Basename(p, ""),
		Type:          model.TypeFile,
		MD5:           hex.EncodeToString(sum[:]),
		Size:          int64(len(data)),
		CTime:         mtime,
		MTime:         mtime,
		SyncStatus:    model.StatusFullySynced,
		LastSyncTime:  now,
		RemoteEncrypt: encrypted,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !tree.Insert(e.local, p, node) {
		return fmt.Errorf("failed to record %s in the local tree", p)
	}
	return nil
}
