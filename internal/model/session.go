package model

import "time"

type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionPaused  SessionStatus = "PAUSED"
	SessionSyncing SessionStatus = "SYNCING"
)

type SessionSnapshot struct {
	Backend    string        `json:"backend"`
	LocalRoot  string        `json:"local_root"`
	RemoteRoot string        `json:"remote_root"`
	Device     string        `json:"device"`
	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	Uploaded   int           `json:"uploaded"`
	Downloaded int           `json:"downloaded"`
	Failed     int           `json:"failed"`
	LastSync   *time.Time    `json:"last_sync"`
}
