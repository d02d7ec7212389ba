package reconcile

import (
	"testing"
	"time"

	"vaultsync/internal/model"
	"vaultsync/internal/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localFile(name string, mtime time.Time, md5 string) *model.LocalFileNode {
	return &model.LocalFileNode{Name: name, Type: model.TypeFile, MTime: mtime, MD5: md5, SyncStatus: model.StatusUnknown}
}

func remoteFile(name string, mtime time.Time, md5 string) *model.RemoteFileNode {
	return &model.RemoteFileNode{Name: name, Type: model.TypeFile, MTime: mtime.UnixMilli(), MD5: md5}
}

func TestClassifyFileSecondTruncation(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	local := localFile("a", base.Add(999*time.Millisecond), "")

	assert.Equal(t, model.StatusFullySynced, ClassifyFile(local, remoteFile("a", base, "")))

	assert.Equal(t, model.StatusLocalModified, ClassifyFile(local, remoteFile("a", base.Add(-time.Second), "")))
	assert.Equal(t, model.StatusRemoteModified, ClassifyFile(local, remoteFile("a", base.Add(time.Second), "")))
}

func TestClassifyFileMD5Wins(t *testing.T) {
	local := localFile("a", time.Unix(5000, 0), "abc")

	assert.Equal(t, model.StatusFullySynced, ClassifyFile(local, remoteFile("a", time.Unix(10, 0), "abc")))
	assert.Equal(t, model.StatusLocalModified, ClassifyFile(local, remoteFile("a", time.Unix(10, 0), "def")))
	assert.Equal(t, model.StatusLocalCreated, ClassifyFile(local, nil))
}

func TestClassifyDirectory(t *testing.T) {
	mtime := time.Unix(1000, 0)
	local := model.NewLocalDir("d")
	remote := model.NewRemoteDir("d")
	for _, name := range []string{"x", "y", "z"} {
		local.Children = append(local.Children, localFile(name, mtime, ""))
		remote.Children = append(remote.Children, remoteFile(name, mtime, ""))
	}

	assert.Equal(t, model.StatusFullySynced, ClassifyDirectory(local, remote, "d"))

	local.Children[1].MTime = mtime.Add(time.Minute)
	assert.Equal(t, model.StatusLocalModified, ClassifyDirectory(local, remote, "d"))

	remote.Children = append(remote.Children, remoteFile("only-remote", mtime, ""))
	assert.Equal(t, model.StatusUnknown, ClassifyDirectory(local, remote, "d"))

	local.Children[1].MTime = mtime
	assert.Equal(t, model.StatusRemoteModified, ClassifyDirectory(local, remote, "d"))
}

func TestClassifyDirectoryNested(t *testing.T) {
	mtime := time.Unix(1000, 0)
	localRoot := model.NewLocalDir("")
	require.True(t, tree.Insert(localRoot, "a/b/f", localFile("f", mtime, "")))

	meta := model.NewRemoteMeta()
	assert.Equal(t, model.StatusLocalModified, Classify(localRoot, "", meta))

	require.True(t, meta.Insert("a/b/f", remoteFile("f", mtime, "")))
	assert.Equal(t, model.StatusFullySynced, Classify(tree.Find(localRoot, "a"), "a", meta))
	assert.Equal(t, model.StatusFullySynced, Classify(tree.Find(localRoot, "a/b/f"), "a/b/f", meta))
}

func TestClassifyDirectoryRemoteOnlyChildren(t *testing.T) {
	parent := model.NewLocalDir("p")
	child := model.NewLocalDir("c")
	parent.Children = append(parent.Children, child)

	// an empty local dir against a remote dir holding a file is a remote change
	remoteParent := model.NewRemoteDir("p")
	remoteChild := model.NewRemoteDir("c")
	remoteChild.Children = append(remoteChild.Children, remoteFile("r", time.Unix(1, 0), ""))
	remoteParent.Children = append(remoteParent.Children, remoteChild)

	assert.Equal(t, model.StatusRemoteModified, ClassifyDirectory(parent, remoteParent, "p"))
	assert.Equal(t, model.StatusFullySynced, ClassifyDirectory(model.NewLocalDir("e"), model.NewRemoteDir("e"), "e"))
}

