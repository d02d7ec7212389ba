// Package snapshot holds a flat, path-keyed view of one backend listing.
package snapshot

import (
	"maps"
	"slices"
	"strings"

	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
)

type Snapshot struct {
	data map[string]model.FileEntry
}

// New keys every entry by its path relative to remoteRoot. Entries outside
// the root, and the root itself, are dropped.
func New(files []model.FileEntry, remoteRoot string) *Snapshot {
	s := &Snapshot{data: make(map[string]model.FileEntry, len(files))}
	for _, f := range files {
		rel := pathutil.Relative(remoteRoot, f.Path)
		if rel == "" || rel == ".." || strings.HasPrefix(rel, "../") {
			continue
		}
		s.data[rel] = f
	}
	return s
}

func (s *Snapshot) Size() int {
	return len(s.data)
}

// Paths returns every key in lexical order.
func (s *Snapshot) Paths() []string {
	return slices.Sorted(maps.Keys(s.data))
}

// ToMeta builds a remote tree from the listing. Paths under skip are left out.
func (s *Snapshot) ToMeta(skip ...string) *model.RemoteMeta {
	meta := model.NewRemoteMeta()

	for _, p := range s.Paths() {
		if skipped(p, skip) {
			continue
		}

		e := s.data[p]
		if e.IsDir {
			if existing := meta.Find(p); existing != nil && existing.IsDir() {
				existing.MTime = e.MTime * 1000
				continue
			}
			dir := model.NewRemoteDir(pathutil.Basename(p, ""))
			dir.MTime = e.MTime * 1000
			meta.Insert(p, dir)
			continue
		}

		meta.Insert(p, &model.RemoteFileNode{
			Name:  pathutil.Basename(p, ""),
			Type:  model.TypeFile,
			Size:  e.Size,
			MTime: e.MTime * 1000,
			MD5:   e.MD5,
		})
	}
	return meta
}

func skipped(p string, skip []string) bool {
	for _, s := range skip {
		if p == s || pathutil.Within(s, p) {
			return true
		}
	}
	return false
}
