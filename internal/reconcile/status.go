// Package reconcile classifies local nodes against their remote counterparts.
// Every function here is read-only with respect to both trees.
package reconcile

import (
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/tree"

	"go.uber.org/zap"
)

// ClassifyFile compares a local file with its remote node. md5 equality wins;
// otherwise mtimes are compared at second granularity.
func ClassifyFile(local *model.LocalFileNode, remote *model.RemoteFileNode) model.SyncStatus {
	if remote == nil {
		return model.StatusLocalCreated
	}
	if local.MD5 != "" && remote.MD5 != "" && local.MD5 == remote.MD5 {
		return model.StatusFullySynced
	}
	return compareSeconds(local.MTimeSeconds(), remote.MTimeSeconds())
}

func compareSeconds(local, remote int64) model.SyncStatus {
	switch {
	case local > remote:
		return model.StatusLocalModified
	case local < remote:
		return model.StatusRemoteModified
	default:
		return model.StatusFullySynced
	}
}

// ClassifyDirectory aggregates the statuses of a directory's children.
// Remote children with no local counterpart count as remote changes.
func ClassifyDirectory(local *model.LocalFileNode, remote *model.RemoteFileNode, path string) model.SyncStatus {
	remaining := make(map[string]*model.RemoteFileNode)
	if remote != nil {
		for _, c := range remote.Children {
			remaining[c.Name] = c
		}
	}

	var (
		hasLocalModified  bool
		hasRemoteModified bool
		hasConflict       bool
		hasSyncing        bool
		hasFullySynced    = true
	)

	for _, c := range local.Children {
		rc := remaining[c.Name]
		delete(remaining, c.Name)

		var status model.SyncStatus
		if c.IsDir() {
			status = ClassifyDirectory(c, rc, pathutil.Join(path, c.Name))
		} else {
			status = ClassifyFile(c, rc)
		}

		switch {
		case status.HasLocalChanges():
			hasLocalModified = true
		case status.HasRemoteChanges():
			hasRemoteModified = true
		case status == model.StatusConflict:
			hasConflict = true
		case status == model.StatusSyncing:
			hasSyncing = true
		}
		if status != model.StatusFullySynced {
			hasFullySynced = false
		}
	}

	if len(remaining) > 0 {
		hasRemoteModified = true
	}

	var result model.SyncStatus
	switch {
	case hasConflict:
		result = model.StatusConflict
	case hasSyncing:
		result = model.StatusSyncing
	case hasLocalModified && !hasRemoteModified:
		result = model.StatusLocalModified
	case hasRemoteModified && !hasLocalModified:
		result = model.StatusRemoteModified
	case hasFullySynced:
		result = model.StatusFullySynced
	default:
		result = model.StatusUnknown
	}

	logger.Log.Debug("classified directory",
		zap.String("path", path),
		zap.String("status", string(result)))
	return result
}

// Classify returns the status of the local node at path.
func Classify(local *model.LocalFileNode, path string, meta *model.RemoteMeta) model.SyncStatus {
	remote := meta.Find(path)
	if local.IsDir() {
		if remote == nil && pathutil.Join(path) == "" {
			remote = &model.RemoteFileNode{Type: model.TypeDirectory, Children: meta.Children}
		}
		return ClassifyDirectory(local, remote, path)
	}
	return ClassifyFile(local, remote)
}

// RemoteStatus classifies a remote file against whatever is at path locally.
func RemoteStatus(remote *model.RemoteFileNode, localRoot *model.LocalFileNode, path string) model.SyncStatus {
	local := tree.Find(localRoot, path)
	if local == nil {
		return model.StatusRemoteCreated
	}
	return ClassifyFile(local, remote)
}
