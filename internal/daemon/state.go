package daemon

import (
	"sync"
	"time"

	"vaultsync/internal/engine"
	"vaultsync/internal/model"
)

type SessionStatus string

const (
	StatusActive SessionStatus = "ACTIVE"
	StatusPaused SessionStatus = "PAUSED"
)

type State struct {
	mu         sync.RWMutex
	Local      string
	Remote     string
	Backend    string
	Status     SessionStatus
	StartedAt  time.Time
	Synced     int
	Failed     int
	LastSync   *time.Time
	Syncing    bool
	LastReport *engine.Report
}

func NewState(local, remote, backend string) *State {
	return &State{
		Local:     local,
		Remote:    remote,
		Backend:   backend,
		Status:    StatusActive,
		StartedAt: time.Now(),
	}
}

// Record counts one transfer result.
func (s *State) Record(result model.SyncResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastSync = new(time.Now())
	if result.Err != nil {
		s.Failed++
	} else {
		s.Synced++
	}
}

func (s *State) SetStatus(status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

// beginPass marks a full pass as running. It reports false when one already is.
func (s *State) beginPass() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Syncing {
		return false
	}
	s.Syncing = true
	return true
}

func (s *State) endPass(report engine.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Syncing = false
	s.LastReport = &report
}

type Snapshot struct {
	Local      string         `json:"local"`
	Remote     string         `json:"remote"`
	Backend    string         `json:"backend"`
	Status     SessionStatus  `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	Synced     int            `json:"synced"`
	Failed     int            `json:"failed"`
	LastSync   *time.Time     `json:"last_sync,omitempty"`
	Syncing    bool           `json:"syncing"`
	LastReport *engine.Report `json:"last_report,omitempty"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Local:      s.Local,
		Remote:     s.Remote,
		Backend:    s.Backend,
		Status:     s.Status,
		StartedAt:  s.StartedAt,
		Synced:     s.Synced,
		Failed:     s.Failed,
		LastSync:   s.LastSync,
		Syncing:    s.Syncing,
		LastReport: s.LastReport,
	}
}
