package model

type SyncStatus string

const (
	StatusFullySynced    SyncStatus = "FullySynced"
	StatusConflict       SyncStatus = "Conflict"
	StatusSyncing        SyncStatus = "Syncing"
	StatusLocalModified  SyncStatus = "LocalModified"
	StatusLocalCreated   SyncStatus = "LocalCreated"
	StatusLocalDeleted   SyncStatus = "LocalDeleted"
	StatusRemoteCreated  SyncStatus = "RemoteCreated"
	StatusRemoteModified SyncStatus = "RemoteModified"
	StatusRemoteDeleted  SyncStatus = "RemoteDeleted"
	StatusSyncError      SyncStatus = "SyncError"
	StatusUnknown        SyncStatus = "Unknown"
)

// HasLocalChanges covers the statuses that need an upload or a remote delete.
func (s SyncStatus) HasLocalChanges() bool {
	return s == StatusLocalModified || s == StatusLocalCreated || s == StatusLocalDeleted
}

func (s SyncStatus) HasRemoteChanges() bool {
	return s == StatusRemoteModified || s == StatusRemoteCreated || s == StatusRemoteDeleted
}

// ShouldUpload is narrower than HasLocalChanges: deletions are not uploads.
func (s SyncStatus) ShouldUpload() bool {
	return s == StatusLocalModified || s == StatusLocalCreated
}

func (s SyncStatus) ShouldDownload() bool {
	return s == StatusRemoteModified || s == StatusRemoteCreated
}
