package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"vaultsync/internal/app"
	"vaultsync/internal/engine"
	"vaultsync/internal/logger"

	"go.uber.org/zap"
)

var (
	ErrBusy   = errors.New("a sync pass is already running")
	ErrPaused = errors.New("sync is paused")
)

// Manager runs one session: the watcher pipeline, the startup pass and the
// periodic passes.
type Manager struct {
	app    *app.App
	state  *State
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(a *app.App) *Manager {
	m := &Manager{
		app:   a,
		state: NewState(a.Root, a.Engine.RemoteRoot(), string(a.Config.Backend)),
	}
	a.OnResult(m.state)
	return m
}

func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Go(func() {
		if err := m.app.Watch(ctx); err != nil {
			logger.Log.Error("watcher failed", zap.Error(err))
		}
	})
	m.wg.Go(func() {
		m.run(ctx)
	})

	logger.Log.Info("session started",
		zap.String("local", m.state.Local),
		zap.String("remote", m.state.Remote))
}

func (m *Manager) run(ctx context.Context) {
	if _, err := m.Sync(ctx); err != nil {
		logger.Log.Warn("initial sync failed", zap.Error(err))
	}

	interval := m.app.Config.SyncInterval
	if !m.app.Config.AutoSync || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sync(ctx); err != nil && !errors.Is(err, ErrPaused) && !errors.Is(err, ErrBusy) {
				logger.Log.Warn("periodic sync failed", zap.Error(err))
			}
		}
	}
}

// Sync runs one full pass unless the session is paused or a pass is running.
func (m *Manager) Sync(ctx context.Context) (engine.Report, error) {
	if m.app.Engine.Stopped() {
		return engine.Report{}, ErrPaused
	}
	if !m.state.beginPass() {
		return engine.Report{}, ErrBusy
	}

	report, err := m.app.Engine.SyncAll(ctx)
	m.state.endPass(report)
	return report, err
}

func (m *Manager) Pause() {
	m.app.Engine.Stop()
	m.state.SetStatus(StatusPaused)
	logger.Log.Info("sync paused")
}

func (m *Manager) Resume() {
	m.app.Engine.Resume()
	m.state.SetStatus(StatusActive)
	logger.Log.Info("sync resumed")
}

// Stop cancels the session and waits for its goroutines.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	logger.Log.Info("session stopped")
}

func (m *Manager) Snapshot() Snapshot {
	return m.state.Snapshot()
}
