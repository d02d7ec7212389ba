package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"vaultsync/internal/cloud"
	"vaultsync/internal/localtree"
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/queue"
	"vaultsync/internal/reconcile"
	"vaultsync/internal/tree"

	"go.uber.org/zap"
)

// HandleEvent applies a local filesystem change to the trees right away and
// mirrors it on the backend when the path is already known remotely.
func (e *Engine) HandleEvent(ctx context.Context, ev model.FileEvent) error {
	e.mu.Lock()
	ready := e.local != nil
	e.mu.Unlock()
	if !ready {
		return ErrNotReady
	}

	var (
		changed bool
		err     error
	)
	switch ev.Type {
	case model.EventCreate, model.EventWrite:
		changed, err = e.handleWrite(ctx, pathutil.Join(ev.Path))
	case model.EventRemove:
		changed, err = e.handleRemove(ctx, pathutil.Join(ev.Path))
	case model.EventRename:
		changed, err = e.handleRename(ctx, pathutil.Join(ev.OldPath), pathutil.Join(ev.Path))
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	if changed {
		if serr := e.SaveMeta(ctx); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return err
}

func (e *Engine) handleWrite(ctx context.Context, p string) (bool, error) {
	if p == "" {
		return false, nil
	}

	info, err := e.fs.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		logger.Log.Debug("file vanished before it was handled", zap.String("path", p))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	if n := tree.Find(e.local, p); n != nil && !n.IsDir() && !info.IsDir() &&
		n.SyncStatus == model.StatusFullySynced &&
		n.Size == info.Size() && n.MTime.Unix() == info.ModTime().Unix() {
		e.mu.Unlock()
		logger.Log.Debug("unchanged file event, skipping", zap.String("path", p))
		return false, nil
	}
	e.mu.Unlock()

	node, err := localtree.Scan(e.fs, p, localtree.Options{Hash: e.hash})
	if err != nil {
		return false, fmt.Errorf("failed to scan %s: %w", p, err)
	}

	e.mu.Lock()
	if !tree.Insert(e.local, p, node) {
		e.mu.Unlock()
		return false, fmt.Errorf("failed to insert %s into the local tree", p)
	}
	e.classifyLocked(p)
	e.classifyAncestorsLocked(p)

	n := tree.Find(e.local, p)
	var items []reconcile.UploadItem
	if e.meta.Find(p) != nil && n.SyncStatus.ShouldUpload() && !e.ignored(p, n) {
		items, _ = e.autoUploadsLocked(n, p)
	}
	e.mu.Unlock()

	if len(items) == 0 {
		return false, nil
	}

	_, err = e.uploadItems(ctx, items, nil)

	e.mu.Lock()
	e.classifyAncestorsLocked(p)
	e.mu.Unlock()
	return true, err
}

func (e *Engine) handleRemove(ctx context.Context, p string) (bool, error) {
	if p == "" {
		return false, nil
	}

	e.mu.Lock()
	tree.Remove(e.local, p)
	rn := e.meta.Remove(p)
	e.classifyAncestorsLocked(p)
	e.mu.Unlock()

	if rn == nil {
		return false, nil
	}
	if e.ignored(p, nil) {
		e.restoreRemote(p, rn)
		return false, nil
	}

	err := e.ops.Add(ctx, queue.Operation{Type: queue.OpDelete, From: e.remotePath(p)})
	if errors.Is(err, cloud.ErrNotFound) {
		err = nil
	}
	e.record(model.DirectionDelete, p, err)

	if err != nil {
		e.restoreRemote(p, rn)
		return false, err
	}
	return true, nil
}

func (e *Engine) restoreRemote(p string, rn *model.RemoteFileNode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta.Find(p) == nil {
		e.meta.Insert(p, rn)
	}
}

func (e *Engine) handleRename(ctx context.Context, from, to string) (bool, error) {
	if from == "" || to == "" {
		return false, fmt.Errorf("rename needs both paths: %q -> %q", from, to)
	}
	if from == to {
		return false, nil
	}

	e.mu.Lock()
	if !tree.Rename(e.local, from, to) {
		e.mu.Unlock()
		// Unknown source, treat the destination as new.
		return e.handleWrite(ctx, to)
	}
	known := e.meta.Find(from) != nil
	e.classifyAncestorsLocked(from)
	e.mu.Unlock()

	if !known || e.ignored(to, nil) {
		e.mu.Lock()
		e.classifyLocked(to)
		e.classifyAncestorsLocked(to)
		e.mu.Unlock()
		return false, nil
	}

	op := queue.Operation{Type: queue.OpMove, From: e.remotePath(from), To: e.remotePath(to)}
	if pathutil.Dirname(from) == pathutil.Dirname(to) {
		op = queue.Operation{Type: queue.OpRename, From: e.remotePath(from), NewName: pathutil.Basename(to, "")}
	}

	err := e.ops.Add(ctx, op)
	e.record(model.DirectionRename, to, err)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		e.meta.Rename(from, to)
	}
	e.classifyLocked(to)
	e.classifyAncestorsLocked(to)
	return err == nil, err
}
