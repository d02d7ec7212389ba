package reconcile

import (
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/tree"
)

type UploadItem struct {
	Node *model.LocalFileNode
	Path string
}

type DownloadItem struct {
	Node *model.RemoteFileNode
	Path string
}

// UploadCandidates lists the files below node that need uploading. Direct
// file children come before the contents of subdirectories.
func UploadCandidates(node *model.LocalFileNode, path string) []UploadItem {
	if node == nil {
		return nil
	}
	if !node.IsDir() {
		if node.SyncStatus.ShouldUpload() {
			return []UploadItem{{Node: node, Path: pathutil.Join(path)}}
		}
		return nil
	}

	var items []UploadItem
	for _, c := range node.Children {
		if !c.IsDir() && c.SyncStatus.ShouldUpload() {
			items = append(items, UploadItem{Node: c, Path: pathutil.Join(path, c.Name)})
		}
	}
	for _, c := range node.Children {
		if c.IsDir() {
			items = append(items, UploadCandidates(c, pathutil.Join(path, c.Name))...)
		}
	}
	return items
}

// IsDownloadCandidate reports whether remote should replace local.
func IsDownloadCandidate(remote *model.RemoteFileNode, local *model.LocalFileNode) bool {
	if remote == nil || remote.IsDir() {
		return false
	}
	return local == nil || local.MTime.IsZero() || remote.MTime > local.MTime.UnixMilli()
}

// DownloadCandidates walks remote, paired with the local node at the same
// path, and collects the file leaves that should be downloaded.
func DownloadCandidates(remote *model.RemoteFileNode, local *model.LocalFileNode, path string) []DownloadItem {
	if remote == nil {
		return nil
	}
	if !remote.IsDir() {
		if IsDownloadCandidate(remote, local) {
			return []DownloadItem{{Node: remote, Path: pathutil.Join(path)}}
		}
		return nil
	}

	var items []DownloadItem
	for _, c := range remote.Children {
		var lc *model.LocalFileNode
		if local != nil && local.IsDir() {
			lc = tree.Find(local, c.Name)
		}
		items = append(items, DownloadCandidates(c, lc, pathutil.Join(path, c.Name))...)
	}
	return items
}

// DownloadCandidatesAt walks the remote node at path and keeps the eligible
// files whose status against localRoot asks for a download.
func DownloadCandidatesAt(remote *model.RemoteFileNode, localRoot *model.LocalFileNode, path string) []DownloadItem {
	var local *model.LocalFileNode
	if localRoot != nil {
		local = tree.Find(localRoot, path)
	}

	var items []DownloadItem
	for _, it := range DownloadCandidates(remote, local, path) {
		if RemoteStatus(it.Node, localRoot, it.Path).ShouldDownload() {
			items = append(items, it)
		}
	}
	return items
}

// AllDownloadCandidates is DownloadCandidatesAt over every top level entry
// of meta.
func AllDownloadCandidates(meta *model.RemoteMeta, localRoot *model.LocalFileNode) []DownloadItem {
	if meta == nil {
		return nil
	}
	var items []DownloadItem
	for _, c := range meta.Children {
		items = append(items, DownloadCandidatesAt(c, localRoot, c.Name)...)
	}
	return items
}
