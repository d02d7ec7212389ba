package snapshot

import (
	"testing"

	"vaultsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listing() []model.FileEntry {
	return []model.FileEntry{
		{Path: "/apps/vault-sync/notes/a.md", Size: 3, MTime: 1700000000, MD5: "aaa"},
		{Path: "/apps/vault-sync/notes", IsDir: true, MTime: 1600000000},
		{Path: "/apps/vault-sync/notes/sub/b.md", Size: 5, MTime: 1700000001},
		{Path: "/apps/vault-sync/notes/.meta/data.json", Size: 10},
		{Path: "/apps/vault-sync", IsDir: true},
		{Path: "/apps/other/c.md"},
	}
}

func TestNewStripsRoot(t *testing.T) {
	s := New(listing(), "apps/vault-sync/notes")

	assert.Equal(t, 3, s.Size())
	assert.Equal(t, []string{".meta/data.json", "a.md", "sub/b.md"}, s.Paths())

	a := s.ToMeta().Find("a.md")
	require.NotNil(t, a)
	assert.Equal(t, "aaa", a.MD5)
}

func TestToMeta(t *testing.T) {
	s := New(listing(), "apps/vault-sync")
	meta := s.ToMeta("notes/.meta")

	notes := meta.Find("notes")
	require.NotNil(t, notes)
	assert.True(t, notes.IsDir())
	assert.Equal(t, int64(1600000000000), notes.MTime)

	a := meta.Find("notes/a.md")
	require.NotNil(t, a)
	assert.Equal(t, int64(1700000000000), a.MTime)
	assert.Equal(t, "aaa", a.MD5)

	require.NotNil(t, meta.Find("notes/sub/b.md"))
	assert.Nil(t, meta.Find("notes/.meta"))
}
