// Package app owns one sync session: the task queue, the backend behind it,
// the op queue, the engine and the watcher pipeline that feeds it.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"vaultsync/internal/cloud"
	"vaultsync/internal/config"
	"vaultsync/internal/crypt"
	"vaultsync/internal/engine"
	"vaultsync/internal/ignore"
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pipeline"
	"vaultsync/internal/queue"
	"vaultsync/internal/repository"
	"vaultsync/internal/tree"
	"vaultsync/internal/watcher"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type App struct {
	Config  *config.Config
	Device  string
	Root    string
	Queue   *queue.TaskQueue
	Ops     *queue.OpRegistry
	Backend cloud.Backend
	Engine  *engine.Engine
	History *repository.HistoryRepository

	local    afero.Fs
	matcher  *ignore.Matcher
	checksum *pipeline.ChecksumFilter
	results  *fanout
}

// New wires a session from cfg and loads both trees. db.Init must have run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	device, err := deviceName(cfg)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.LocalRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local root: %w", err)
	}
	local := afero.NewBasePathFs(afero.NewOsFs(), root)

	var qopts []queue.Option
	for t, p := range cfg.Policies() {
		qopts = append(qopts, queue.WithPolicy(t, p))
	}
	q := queue.New(qopts...)

	raw, err := NewBackend(ctx, cfg, cloud.Options{Local: local, Queue: q, ChunkSize: cfg.ChunkSize})
	if err != nil {
		q.Shutdown()
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Backend, err)
	}
	backend := cloud.WithQueue(raw, q)

	remoteRoot := cfg.RemotePath()
	ops := queue.NewOpRegistry()

	matcher, err := ignore.New(ignore.Options{
		Pattern:   cfg.IgnorePattern,
		Globs:     cfg.IgnoreList,
		MaxSizeMB: cfg.FileSizeLimitMB,
		Fs:        local,
	})
	if err != nil {
		q.Shutdown()
		return nil, err
	}

	var cipher *crypt.Cipher
	if cfg.Password != "" {
		if cipher, err = crypt.New(cfg.Password); err != nil {
			q.Shutdown()
			return nil, err
		}
	}

	a := &App{
		Config:   cfg,
		Device:   device,
		Root:     root,
		Queue:    q,
		Ops:      ops,
		Backend:  backend,
		History:  repository.NewHistoryRepository(),
		local:    local,
		matcher:  matcher,
		checksum: pipeline.NewChecksumFilter(local),
		results:  &fanout{},
	}
	a.results.add(historyRecorder{repo: a.History})

	a.Engine, err = engine.New(engine.Options{
		Fs:         local,
		Backend:    backend,
		Ops:        ops.For(string(cfg.Backend)+":"+remoteRoot, backend),
		RemoteRoot: remoteRoot,
		Device:     device,
		Ignore:     matcher,
		Cipher:     cipher,
		Encrypt:    cfg.Encrypt,
		Hash:       cfg.ComputeMD5,
		Recorder:   a.results,
		Cache:      repository.NewTreeCacheRepository(root),
	})
	if err != nil {
		q.Shutdown()
		return nil, err
	}

	if err := a.Engine.Load(ctx); err != nil {
		q.Shutdown()
		return nil, err
	}
	a.seedChecksums()

	logger.Log.Info("session ready",
		zap.String("backend", string(cfg.Backend)),
		zap.String("local_root", root),
		zap.String("remote_root", remoteRoot),
		zap.String("device", device))
	return a, nil
}

func deviceName(cfg *config.Config) (string, error) {
	if cfg.DeviceName != "" {
		return cfg.DeviceName, nil
	}
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	id, err := model.LoadOrCreateDeviceID(dir)
	if err != nil {
		return "", fmt.Errorf("failed to load device id: %w", err)
	}
	return id, nil
}

func (a *App) seedChecksums() {
	tree.Walk(a.Engine.LocalTree(), "", func(p string, n *model.LocalFileNode) bool {
		if !n.IsDir() && n.MD5 != "" {
			a.checksum.Seed(p, n.MD5)
		}
		return true
	})
}

// OnResult registers r to receive every transfer result.
func (a *App) OnResult(r engine.Recorder) {
	a.results.add(r)
}

// Watch feeds local filesystem events to the engine until ctx is done.
// Events that arrive while the engine is stopped are dropped; the next full
// pass rescans the disk.
func (a *App) Watch(ctx context.Context) error {
	w, err := watcher.New(a.Config.BufferSize, 0)
	if err != nil {
		return err
	}
	if err := w.Watch(a.Root); err != nil {
		return err
	}
	defer w.Stop()

	events := pipeline.Debounce(w.Events(), a.Config.Debounce)
	events = pipeline.Filter(events, a.matcher)
	events = a.checksum.Run(events)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if a.Engine.Stopped() {
				logger.Log.Debug("sync stopped, dropping event",
					zap.String("type", string(ev.Type)),
					zap.String("path", ev.Path))
				continue
			}
			if err := a.Engine.HandleEvent(ctx, ev); err != nil {
				logger.Log.Warn("failed to handle event",
					zap.String("type", string(ev.Type)),
					zap.String("path", ev.Path),
					zap.Error(err))
			}
		}
	}
}

// Close drains the task queue.
func (a *App) Close() {
	a.Queue.Shutdown()
}

type historyRecorder struct {
	repo *repository.HistoryRepository
}

func (h historyRecorder) Record(result model.SyncResult) {
	if err := h.repo.Save(result); err != nil {
		logger.Log.Warn("failed to save history",
			zap.Error(err))
	}
}

type fanout struct {
	mu        sync.RWMutex
	recorders []engine.Recorder
}

func (f *fanout) add(r engine.Recorder) {
	f.mu.Lock()
	f.recorders = append(f.recorders, r)
	f.mu.Unlock()
}

func (f *fanout) Record(result model.SyncResult) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, r := range f.recorders {
		r.Record(result)
	}
}
