package model

import (
	"time"

	"gorm.io/gorm"
)

type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "SUCCESS"
	HistoryFailed  HistoryStatus = "FAILED"
)

type History struct {
	gorm.Model
	Status     HistoryStatus `gorm:"not null"`
	Direction  Direction     `gorm:"not null"`
	LocalPath  string        `gorm:"not null"`
	RemotePath string        `gorm:"not null"`
	ErrMsg     string
	SyncedAt   time.Time `gorm:"not null"`
}

// TreeCache keeps the last serialized local tree per sync root so hashes
// survive a restart.
type TreeCache struct {
	gorm.Model
	Root string `gorm:"uniqueIndex;not null"`
	Data []byte
}
