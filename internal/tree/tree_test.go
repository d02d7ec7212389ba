package tree_test

import (
	"testing"
	"time"

	"vaultsync/internal/model"
	"vaultsync/internal/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(name string) *model.LocalFileNode {
	return &model.LocalFileNode{
		Name:       name,
		Type:       model.TypeFile,
		Size:       3,
		MTime:      time.Unix(1000, 0),
		SyncStatus: model.StatusLocalCreated,
	}
}

func TestInsertFind(t *testing.T) {
	root := model.NewLocalDir("")

	require.True(t, tree.Insert(root, "a/b/c.txt", file("c.txt")))

	got := tree.Find(root, "a/b/c.txt")
	require.NotNil(t, got)
	assert.Equal(t, "c.txt", got.Name)

	dir := tree.Find(root, "a/b")
	require.NotNil(t, dir)
	assert.True(t, dir.IsDir())
	assert.Equal(t, model.EmptyFileMD5, dir.MD5)
	assert.Equal(t, model.StatusUnknown, dir.SyncStatus)

	assert.Same(t, root, tree.Find(root, ""))
	assert.Nil(t, tree.Find(root, "a/missing"))
	assert.Nil(t, tree.Find(root, "a/b/c.txt/deeper"))
}

func TestInsertUpserts(t *testing.T) {
	root := model.NewLocalDir("")
	first := file("x.md")
	require.True(t, tree.Insert(root, "x.md", first))

	second := file("x.md")
	second.Size = 42
	second.SyncStatus = model.StatusFullySynced
	require.True(t, tree.Insert(root, "x.md", second))

	require.Len(t, root.Children, 1)
	assert.Same(t, first, root.Children[0])
	assert.Equal(t, int64(42), first.Size)
	assert.Equal(t, model.StatusFullySynced, first.SyncStatus)
}

func TestInsertThroughFileFails(t *testing.T) {
	root := model.NewLocalDir("")
	require.True(t, tree.Insert(root, "a", file("a")))

	assert.False(t, tree.Insert(root, "a/b.txt", file("b.txt")))
	assert.Nil(t, tree.Find(root, "a/b.txt"))
}

func TestRemove(t *testing.T) {
	root := model.NewLocalDir("")
	require.True(t, tree.Insert(root, "d/one", file("one")))
	require.True(t, tree.Insert(root, "d/two", file("two")))

	removed := tree.Remove(root, "d/one")
	require.NotNil(t, removed)
	assert.Equal(t, "one", removed.Name)
	assert.Nil(t, tree.Find(root, "d/one"))
	assert.NotNil(t, tree.Find(root, "d/two"))

	assert.Nil(t, tree.Remove(root, "d/one"))
	assert.Nil(t, tree.Remove(root, "nope/one"))
	assert.Nil(t, tree.Remove(root, ""))
}

func TestRename(t *testing.T) {
	root := model.NewLocalDir("")
	require.True(t, tree.Insert(root, "a/note.md", file("note.md")))

	t.Run("same path is a no-op", func(t *testing.T) {
		assert.True(t, tree.Rename(root, "a/note.md", "a/note.md"))
		assert.NotNil(t, tree.Find(root, "a/note.md"))
		assert.Len(t, tree.Find(root, "a").Children, 1)
	})

	t.Run("moves across directories", func(t *testing.T) {
		require.True(t, tree.Rename(root, "a/note.md", "b/renamed.md"))
		assert.Nil(t, tree.Find(root, "a/note.md"))
		moved := tree.Find(root, "b/renamed.md")
		require.NotNil(t, moved)
		assert.Equal(t, "renamed.md", moved.Name)
	})

	t.Run("missing source fails", func(t *testing.T) {
		assert.False(t, tree.Rename(root, "nope.md", "other.md"))
	})
}

func TestWalk(t *testing.T) {
	root := model.NewLocalDir("")
	require.True(t, tree.Insert(root, "a/1", file("1")))
	require.True(t, tree.Insert(root, "a/b/2", file("2")))
	require.True(t, tree.Insert(root, "c/3", file("3")))

	var seen []string
	tree.Walk(root, "", func(p string, n *model.LocalFileNode) bool {
		seen = append(seen, p)
		return n.Name != "c"
	})
	assert.Equal(t, []string{"a", "a/1", "a/b", "a/b/2", "c"}, seen)
}

func TestEmpty(t *testing.T) {
	root := model.NewLocalDir("")
	require.True(t, tree.Insert(root, "a/b/c", model.NewLocalDir("c")))
	assert.True(t, tree.Empty(root))

	require.True(t, tree.Insert(root, "a/b/f.txt", file("f.txt")))
	assert.False(t, tree.Empty(root))
	assert.True(t, tree.Empty(tree.Find(root, "a/b/c")))
	assert.False(t, tree.Empty(file("f")))
	assert.False(t, tree.Empty[*model.LocalFileNode](nil))

	assert.True(t, tree.Empty(model.NewRemoteDir("x")))
}
