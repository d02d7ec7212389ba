package reconcile

import (
	"testing"
	"time"

	"vaultsync/internal/model"
	"vaultsync/internal/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths[T any](items []T, get func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, get(it))
	}
	return out
}

func TestUploadCandidatesOrder(t *testing.T) {
	root := model.NewLocalDir("")
	add := func(p string, status model.SyncStatus) {
		n := localFile(p[len(p)-1:], time.Unix(1, 0), "")
		n.SyncStatus = status
		require.True(t, tree.Insert(root, p, n))
	}
	add("sub/a", model.StatusLocalCreated)
	add("b", model.StatusLocalModified)
	add("sub/deep/c", model.StatusLocalCreated)
	add("d", model.StatusFullySynced)
	add("e", model.StatusRemoteModified)

	items := UploadCandidates(root, "")
	assert.Equal(t, []string{"b", "sub/a", "sub/deep/c"}, paths(items, func(i UploadItem) string { return i.Path }))

	single := UploadCandidates(tree.Find(root, "b"), "b")
	require.Len(t, single, 1)
	assert.Equal(t, "b", single[0].Path)
}

func TestDownloadEligibility(t *testing.T) {
	remote := remoteFile("f", time.Unix(2000, 0), "")

	assert.True(t, IsDownloadCandidate(remote, nil))
	assert.True(t, IsDownloadCandidate(remote, &model.LocalFileNode{Type: model.TypeFile}))
	assert.True(t, IsDownloadCandidate(remote, localFile("f", time.Unix(1999, 0), "")))
	assert.False(t, IsDownloadCandidate(remote, localFile("f", time.Unix(2000, 0), "")))
	assert.False(t, IsDownloadCandidate(model.NewRemoteDir("d"), nil))
}

func TestDownloadCandidates(t *testing.T) {
	meta := model.NewRemoteMeta()
	require.True(t, meta.Insert("docs/new.md", remoteFile("new.md", time.Unix(2000, 0), "")))
	require.True(t, meta.Insert("docs/old.md", remoteFile("old.md", time.Unix(1000, 0), "")))
	require.True(t, meta.Insert("docs/empty", model.NewRemoteDir("empty")))

	local := model.NewLocalDir("")
	require.True(t, tree.Insert(local, "docs/old.md", localFile("old.md", time.Unix(1000, 0), "")))

	items := DownloadCandidates(meta.Find("docs"), tree.Find(local, "docs"), "docs")
	assert.Equal(t, []string{"docs/new.md"}, paths(items, func(i DownloadItem) string { return i.Path }))

	all := AllDownloadCandidates(meta, local)
	assert.Equal(t, []string{"docs/new.md"}, paths(all, func(i DownloadItem) string { return i.Path }))
}

func TestDownloadCandidatesAtNeedsBothRules(t *testing.T) {
	meta := model.NewRemoteMeta()
	// Newer on the remote side but identical content.
	require.True(t, meta.Insert("docs/same.md", remoteFile("same.md", time.Unix(3000, 0), "abc")))
	require.True(t, meta.Insert("docs/changed.md", remoteFile("changed.md", time.Unix(3000, 0), "def")))
	require.True(t, meta.Insert("docs/sub/fresh.md", remoteFile("fresh.md", time.Unix(3000, 0), "")))

	local := model.NewLocalDir("")
	require.True(t, tree.Insert(local, "docs/same.md", localFile("same.md", time.Unix(1000, 0), "abc")))
	require.True(t, tree.Insert(local, "docs/changed.md", localFile("changed.md", time.Unix(1000, 0), "xyz")))

	eligible := DownloadCandidates(meta.Find("docs"), tree.Find(local, "docs"), "docs")
	assert.Len(t, eligible, 3)

	items := DownloadCandidatesAt(meta.Find("docs"), local, "docs")
	assert.Equal(t, []string{"docs/changed.md", "docs/sub/fresh.md"}, paths(items, func(i DownloadItem) string { return i.Path }))

	all := AllDownloadCandidates(meta, local)
	assert.Equal(t, []string{"docs/changed.md", "docs/sub/fresh.md"}, paths(all, func(i DownloadItem) string { return i.Path }))

	assert.Empty(t, AllDownloadCandidates(nil, local))
}
