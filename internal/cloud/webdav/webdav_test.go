package webdav

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"vaultsync/internal/cloud"
	"vaultsync/internal/model"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"
)

func newServer(t *testing.T) *Backend {
	t.Helper()
	h := &webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	local := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(local, "a.md", []byte("hello webdav"), 0644))

	b, err := New(Config{URL: srv.URL}, cloud.Options{Local: local, ChunkSize: 5})
	require.NoError(t, err)
	return b
}

func TestUploadDownload(t *testing.T) {
	b := newServer(t)
	ctx := context.Background()

	var stamped time.Time
	require.NoError(t, b.UploadContent(ctx, []byte("hello webdav"), "vault/notes/a.md", cloud.UploadOptions{
		OnComplete: func(_, mtime time.Time) error {
			stamped = mtime
			return nil
		},
	}))
	assert.False(t, stamped.IsZero())

	got, err := b.DownloadFile(ctx, "vault/notes/a.md", &model.RemoteFileNode{Size: 12})
	require.NoError(t, err)
	assert.Equal(t, "hello webdav", string(got))

	s, err := b.DownloadFileAsString(ctx, "vault/notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello webdav", s)

	_, err = b.DownloadFile(ctx, "vault/missing.md", nil)
	assert.ErrorIs(t, err, cloud.ErrNotFound)
}

func TestFileManagement(t *testing.T) {
	b := newServer(t)
	ctx := context.Background()

	require.NoError(t, b.UploadFile(ctx, "a.md", "v/a.md"))
	require.NoError(t, b.RenameFile(ctx, "v/a.md", "b.md"))
	require.NoError(t, b.MoveFile(ctx, "v/b.md", "v/sub/c.md"))
	require.NoError(t, b.CopyFile(ctx, "v/sub/c.md", "v/d.md"))
	require.NoError(t, b.Mkdir(ctx, "v/empty"))

	entries, err := b.ListAllFiles(ctx, "v", "")
	require.NoError(t, err)

	paths := map[string]bool{}
	for _, e := range entries {
		paths[e.Path] = e.IsDir
	}
	assert.Equal(t, map[string]bool{"v/d.md": false, "v/empty": true, "v/sub": true, "v/sub/c.md": false}, paths)

	page, next, err := b.ListFiles(ctx, "v", 2, "")
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, "2", next)

	page, next, err = b.ListFiles(ctx, "v", 2, next)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Empty(t, next)

	require.NoError(t, b.DeleteFile(ctx, "v/sub"))
	assert.ErrorIs(t, b.DeleteFile(ctx, "v/sub"), cloud.ErrNotFound)
}

func TestMoveCreatesMissingParent(t *testing.T) {
	b := newServer(t)
	ctx := context.Background()

	require.NoError(t, b.UploadFile(ctx, "a.md", "v/a.md"))
	require.NoError(t, b.MoveFile(ctx, "v/a.md", "v/new/deeper/a.md"))
	require.NoError(t, b.CopyFile(ctx, "v/new/deeper/a.md", "v/other/a.md"))

	got, err := b.DownloadFileAsString(ctx, "v/new/deeper/a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello webdav", got)

	got, err = b.DownloadFileAsString(ctx, "v/other/a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello webdav", got)

	_, err = b.DownloadFile(ctx, "v/a.md", nil)
	assert.ErrorIs(t, err, cloud.ErrNotFound)
}
