// Package engine turns sync status into backend calls and keeps the local
// tree, the remote meta and the persisted meta document consistent.
//
// The engine owns both trees. Every access holds mu, and mu is never held
// across backend or filesystem I/O, so long operations look nodes up by path
// again after each call instead of keeping references.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vaultsync/internal/cloud"
	"vaultsync/internal/crypt"
	"vaultsync/internal/ignore"
	"vaultsync/internal/localtree"
	"vaultsync/internal/logger"
	"vaultsync/internal/metastore"
	"vaultsync/internal/metrics"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/queue"
	"vaultsync/internal/reconcile"
	"vaultsync/internal/snapshot"
	"vaultsync/internal/tree"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	ErrStopped  = errors.New("sync stopped")
	ErrNotFound = errors.New("path not found")
	ErrNotReady = errors.New("engine not loaded")
)

// Recorder receives the outcome of every transfer and remote operation.
type Recorder interface {
	Record(result model.SyncResult)
}

// TreeCache persists the local tree between runs so file hashes survive a
// restart.
type TreeCache interface {
	Load() (*model.LocalFileNode, error)
	Save(root *model.LocalFileNode) error
}

type Options struct {
	// Fs is the local sync root. Paths given to the engine are relative to it.
	Fs         afero.Fs
	Backend    cloud.Backend
	Ops        *queue.OpQueue
	Store      *metastore.Store
	RemoteRoot string
	Device     string
	Ignore     *ignore.Matcher
	// Cipher decrypts downloads. Uploads are encrypted only with Encrypt set.
	Cipher   *crypt.Cipher
	Encrypt  bool
	Hash     bool
	Recorder Recorder
	Cache    TreeCache
}

type Engine struct {
	mu    sync.Mutex
	local *model.LocalFileNode
	meta  *model.RemoteMeta

	fs         afero.Fs
	backend    cloud.Backend
	ops        *queue.OpQueue
	store      *metastore.Store
	remoteRoot string
	device     string
	ignore     *ignore.Matcher
	cipher     *crypt.Cipher
	encrypt    bool
	hash       bool
	recorder   Recorder
	cache      TreeCache

	stopped atomic.Bool
}

func New(opts Options) (*Engine, error) {
	if opts.Fs == nil || opts.Backend == nil {
		return nil, errors.New("engine needs a local filesystem and a backend")
	}
	if opts.Encrypt && opts.Cipher == nil {
		return nil, crypt.ErrNoPassword
	}

	ops := opts.Ops
	if ops == nil {
		ops = queue.NewOpQueue(opts.Backend)
	}
	store := opts.Store
	if store == nil {
		store = metastore.New(opts.Backend, opts.RemoteRoot)
	}

	return &Engine{
		fs:         opts.Fs,
		backend:    opts.Backend,
		ops:        ops,
		store:      store,
		remoteRoot: pathutil.Join(opts.RemoteRoot),
		device:     opts.Device,
		ignore:     opts.Ignore,
		cipher:     opts.Cipher,
		encrypt:    opts.Encrypt,
		hash:       opts.Hash,
		recorder:   opts.Recorder,
		cache:      opts.Cache,
	}, nil
}

// Load scans the local root and loads the remote meta, bootstrapping it from
// a full listing when no document exists yet, then classifies every node.
func (e *Engine) Load(ctx context.Context) error {
	var prev *model.LocalFileNode
	if e.cache != nil {
		var err error
		if prev, err = e.cache.Load(); err != nil {
			logger.Log.Warn("failed to load tree cache", zap.Error(err))
		}
	}

	local, err := localtree.Build(e.fs, localtree.Options{Hash: e.hash, Prev: prev})
	if err != nil {
		return fmt.Errorf("failed to scan local root: %w", err)
	}

	meta, found, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	if !found {
		if meta, err = e.bootstrap(ctx); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.local = local
	e.meta = meta
	e.classifyLocked("")
	e.mu.Unlock()

	logger.Log.Info("sync state loaded",
		zap.String("remote_root", e.remoteRoot),
		zap.Bool("meta_found", found))
	return nil
}

func (e *Engine) bootstrap(ctx context.Context) (*model.RemoteMeta, error) {
	entries, err := e.backend.ListAllFiles(ctx, e.remoteRoot, "")
	if errors.Is(err, cloud.ErrNotFound) {
		return model.NewRemoteMeta(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list remote root: %w", err)
	}

	snap := snapshot.New(entries, e.remoteRoot)
	logger.Log.Info("bootstrapping remote meta from listing", zap.Int("entries", snap.Size()))
	return snap.ToMeta(metastore.Dir), nil
}

// Rescan rebuilds the local tree from disk, reusing hashes of unchanged
// files, and reclassifies it.
func (e *Engine) Rescan() error {
	prev := e.LocalTree()
	if prev == nil {
		return ErrNotReady
	}

	local, err := localtree.Build(e.fs, localtree.Options{Hash: e.hash, Prev: prev})
	if err != nil {
		return fmt.Errorf("failed to scan local root: %w", err)
	}

	e.mu.Lock()
	e.local = local
	e.classifyLocked("")
	e.mu.Unlock()
	return nil
}

// Refresh reclassifies every local node against the remote meta.
func (e *Engine) Refresh() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		return ErrNotReady
	}
	e.classifyLocked("")
	return nil
}

// classifyLocked sets the status of the node at p and of its whole subtree.
func (e *Engine) classifyLocked(p string) {
	n := tree.Find(e.local, p)
	if n == nil {
		return
	}
	n.SyncStatus = reconcile.Classify(n, p, e.meta)
	tree.Walk(n, p, func(cp string, c *model.LocalFileNode) bool {
		c.SyncStatus = reconcile.Classify(c, cp, e.meta)
		return true
	})
}

// classifyAncestorsLocked refreshes every directory above p, deepest first.
func (e *Engine) classifyAncestorsLocked(p string) {
	parts := pathutil.Split(p)
	for i := len(parts) - 1; i >= 0; i-- {
		dir := pathutil.Join(parts[:i]...)
		if n := tree.Find(e.local, dir); n != nil && n.IsDir() {
			n.SyncStatus = reconcile.Classify(n, dir, e.meta)
		}
	}
}

// SaveMeta prunes empty remote directories and persists the meta document.
func (e *Engine) SaveMeta(ctx context.Context) error {
	e.mu.Lock()
	if e.meta == nil {
		e.mu.Unlock()
		return ErrNotReady
	}
	e.meta.RemoveEmptyDirs()
	e.meta.Latest = model.NewLastSync(e.device, time.Now())
	meta := e.meta.Clone()
	e.mu.Unlock()

	return e.store.Save(ctx, meta)
}

// SaveTree writes the local tree to the tree cache, if one is configured.
func (e *Engine) SaveTree() error {
	if e.cache == nil {
		return nil
	}
	root := e.LocalTree()
	if root == nil {
		return ErrNotReady
	}
	return e.cache.Save(root)
}

// Stop asks running batches to skip their remaining items. Calls already in
// flight finish.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

func (e *Engine) Resume() {
	e.stopped.Store(false)
}

func (e *Engine) Stopped() bool {
	return e.stopped.Load()
}

func (e *Engine) LocalTree() *model.LocalFileNode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		return nil
	}
	return e.local.Clone()
}

func (e *Engine) Meta() *model.RemoteMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta == nil {
		return nil
	}
	return e.meta.Clone()
}

// Node returns a copy of the local node at p.
func (e *Engine) Node(p string) (*model.LocalFileNode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := tree.Find(e.local, p)
	if n == nil {
		return nil, false
	}
	return n.Clone(), true
}

// RemoteContents lists the remote directory at p, leaving out folders with
// no file beneath them.
func (e *Engine) RemoteContents(p string) []*model.LocalFileNode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta == nil {
		return nil
	}
	var out []*model.LocalFileNode
	for _, n := range e.meta.Contents(p) {
		if tree.Empty(n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// PendingOps is the number of remote renames, moves and deletes waiting in
// the op queue.
func (e *Engine) PendingOps() int {
	return e.ops.Len()
}

func (e *Engine) RemoteRoot() string {
	return e.remoteRoot
}

func (e *Engine) remotePath(p string) string {
	return pathutil.Join(e.remoteRoot, p)
}

func (e *Engine) ignored(p string, n *model.LocalFileNode) bool {
	return e.ignore.Match(p, n)
}

func (e *Engine) record(dir model.Direction, p string, err error) {
	metrics.RecordTransfer(string(dir), err == nil)
	if err != nil {
		logger.Log.Error("sync failed",
			zap.String("direction", string(dir)),
			zap.String("path", p),
			zap.Error(err))
	} else {
		logger.Log.Info("synced",
			zap.String("direction", string(dir)),
			zap.String("path", p))
	}

	if e.recorder != nil {
		e.recorder.Record(model.SyncResult{
			Direction: dir,
			Path:      p,
			Remote:    e.remotePath(p),
			Err:       err,
		})
	}
}
