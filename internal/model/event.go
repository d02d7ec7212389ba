package model

import "time"

type EventType string

const (
	EventCreate EventType = "CREATE"
	EventWrite  EventType = "WRITE"
	EventRemove EventType = "REMOVE"
	EventRename EventType = "RENAME"
)

// FileEvent paths are relative to the local sync root. OldPath is only set
// for renames.
type FileEvent struct {
	Type      EventType
	Path      string
	OldPath   string
	IsDir     bool
	Timestamp time.Time
}

type Direction string

const (
	DirectionUpload   Direction = "UPLOAD"
	DirectionDownload Direction = "DOWNLOAD"
	DirectionDelete   Direction = "DELETE"
	DirectionRename   Direction = "RENAME"
)

type SyncResult struct {
	Direction Direction
	Path      string
	Remote    string
	Err       error
}
