package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"vaultsync/internal/cloud"
	"vaultsync/internal/cloud/localfs"
	"vaultsync/internal/crypt"
	"vaultsync/internal/engine"
	"vaultsync/internal/ignore"
	"vaultsync/internal/metastore"
	"vaultsync/internal/model"
	"vaultsync/internal/pipeline"
	"vaultsync/internal/queue"
	"vaultsync/internal/reconcile"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteRoot = "apps/vault-sync/v"

var errInjected = errors.New("injected failure")

// faultyBackend records transfers and fails the ones whose remote path ends
// with a registered suffix.
type faultyBackend struct {
	cloud.Backend

	mu           sync.Mutex
	uploads      []string
	downloads    []string
	failUpload   []string
	failDownload []string
}

func (f *faultyBackend) fails(list []string, p string) bool {
	for _, s := range list {
		if strings.HasSuffix(p, s) {
			return true
		}
	}
	return false
}

func (f *faultyBackend) UploadFile(ctx context.Context, localPath, remotePath string) error {
	f.mu.Lock()
	f.uploads = append(f.uploads, remotePath)
	fail := f.fails(f.failUpload, remotePath)
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Backend.UploadFile(ctx, localPath, remotePath)
}

func (f *faultyBackend) UploadContent(ctx context.Context, content []byte, remotePath string, opts cloud.UploadOptions) error {
	f.mu.Lock()
	if !strings.HasSuffix(remotePath, metastore.File) {
		f.uploads = append(f.uploads, remotePath)
	}
	fail := f.fails(f.failUpload, remotePath)
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Backend.UploadContent(ctx, content, remotePath, opts)
}

func (f *faultyBackend) DownloadFile(ctx context.Context, p string, hint *model.RemoteFileNode) ([]byte, error) {
	f.mu.Lock()
	f.downloads = append(f.downloads, p)
	fail := f.fails(f.failDownload, p)
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.Backend.DownloadFile(ctx, p, hint)
}

func (f *faultyBackend) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

type recorder struct {
	mu      sync.Mutex
	results []model.SyncResult
}

func (r *recorder) Record(res model.SyncResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

type env struct {
	local   afero.Fs
	remote  afero.Fs
	backend *faultyBackend
	rec     *recorder
}

func newEnv() *env {
	local := afero.NewMemMapFs()
	remote := afero.NewMemMapFs()
	return &env{
		local:   local,
		remote:  remote,
		backend: &faultyBackend{Backend: localfs.New(remote, cloud.Options{Local: local})},
		rec:     &recorder{},
	}
}

func (v *env) engine(t *testing.T, mutate ...func(*engine.Options)) *engine.Engine {
	t.Helper()
	ops := queue.NewOpQueue(v.backend)
	ops.SetPace(0)

	matcher, err := ignore.New(ignore.Options{Fs: v.local})
	require.NoError(t, err)

	opts := engine.Options{
		Fs:         v.local,
		Backend:    v.backend,
		Ops:        ops,
		RemoteRoot: remoteRoot,
		Device:     "dev-1",
		Ignore:     matcher,
		Hash:       true,
		Recorder:   v.rec,
	}
	for _, m := range mutate {
		m(&opts)
	}

	e, err := engine.New(opts)
	require.NoError(t, err)
	require.NoError(t, e.Load(context.Background()))
	return e
}

func writeFile(t *testing.T, fs afero.Fs, p, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0644))
	require.NoError(t, fs.Chtimes(p, mtime, mtime))
}

func TestUploadThenClassifiesSynced(t *testing.T) {
	v := newEnv()
	writeFile(t, v.local, "a.txt", "hello", time.Unix(1000, 0))
	e := v.engine(t)
	ctx := context.Background()

	n, ok := e.Node("a.txt")
	require.True(t, ok)
	assert.Equal(t, model.StatusLocalCreated, n.SyncStatus)

	require.NoError(t, e.Upload(ctx, "a.txt", nil))

	meta := e.Meta()
	rn := meta.Find("a.txt")
	require.NotNil(t, rn)
	require.NotNil(t, rn.LastSync)
	assert.Equal(t, "dev-1", rn.LastSync.By)
	assert.Equal(t, int64(1000000), rn.MTime)
	assert.Equal(t, int64(5), rn.Size)

	n, _ = e.Node("a.txt")
	assert.Equal(t, model.StatusFullySynced, n.SyncStatus)
	assert.Equal(t, model.StatusFullySynced, reconcile.ClassifyFile(n, rn))

	data, err := afero.ReadFile(v.remote, remoteRoot+"/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUploadDirectoryStopsAtFirstFailure(t *testing.T) {
	v := newEnv()
	now := time.Unix(2000, 0)
	writeFile(t, v.local, "d/a.md", "a", now)
	writeFile(t, v.local, "d/b.md", "b", now)
	writeFile(t, v.local, "d/c.md", "c", now)
	v.backend.failUpload = []string{"d/b.md"}
	e := v.engine(t)

	var progress []int
	err := e.Upload(context.Background(), "d", func(done, total int) {
		assert.Equal(t, 3, total)
		progress = append(progress, done)
	})
	require.ErrorIs(t, err, errInjected)

	assert.Equal(t, []string{remoteRoot + "/d/a.md", remoteRoot + "/d/b.md"}, v.backend.uploaded())
	assert.Equal(t, []int{1}, progress)

	meta := e.Meta()
	assert.NotNil(t, meta.Find("d/a.md"))
	assert.Nil(t, meta.Find("d/b.md"))
	assert.Nil(t, meta.Find("d/c.md"))

	b, _ := e.Node("d/b.md")
	assert.Equal(t, model.StatusSyncError, b.SyncStatus)
}

func TestDownloadContinuesAfterFailure(t *testing.T) {
	v := newEnv()
	mtime := time.Unix(3000, 0)
	for _, name := range []string{"one.md", "two.md", "three.md"} {
		writeFile(t, v.remote, remoteRoot+"/"+name, name, mtime)
	}
	v.backend.failDownload = []string{"two.md"}
	e := v.engine(t)

	items := []reconcile.DownloadItem{
		{Node: e.Meta().Find("one.md"), Path: "one.md"},
		{Node: e.Meta().Find("two.md"), Path: "two.md"},
		{Node: e.Meta().Find("three.md"), Path: "three.md"},
	}

	reported := map[string]error{}
	failed := e.Download(context.Background(), items, func(it reconcile.DownloadItem, err error) {
		reported[it.Path] = err
	})

	assert.Equal(t, 1, failed)
	require.Len(t, reported, 3)
	assert.NoError(t, reported["one.md"])
	assert.ErrorIs(t, reported["two.md"], errInjected)
	assert.NoError(t, reported["three.md"])

	for _, name := range []string{"one.md", "three.md"} {
		data, err := afero.ReadFile(v.local, name)
		require.NoError(t, err)
		assert.Equal(t, name, string(data))

		info, err := v.local.Stat(name)
		require.NoError(t, err)
		assert.Equal(t, mtime.Unix(), info.ModTime().Unix())

		n, ok := e.Node(name)
		require.True(t, ok)
		assert.Equal(t, model.StatusFullySynced, n.SyncStatus)
	}
	_, err := v.local.Stat("two.md")
	assert.Error(t, err)
}

func TestSyncAllAndReload(t *testing.T) {
	v := newEnv()
	writeFile(t, v.remote, remoteRoot+"/notes/r.md", "remote", time.Unix(4000, 0))
	writeFile(t, v.local, "l.md", "local", time.Unix(5000, 0))
	writeFile(t, v.local, ".obsidian/workspace.json", "{}", time.Unix(5000, 0))
	e := v.engine(t)
	ctx := context.Background()

	report, err := e.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)

	data, err := afero.ReadFile(v.local, "notes/r.md")
	require.NoError(t, err)
	assert.Equal(t, "remote", string(data))

	exists, err := afero.Exists(v.remote, remoteRoot+"/l.md")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = afero.Exists(v.remote, remoteRoot+"/.meta/data.json")
	require.NoError(t, err)
	assert.True(t, exists)

	hidden, ok := e.Node(".obsidian/workspace.json")
	require.True(t, ok)
	assert.Equal(t, model.StatusLocalCreated, hidden.SyncStatus)

	// A second engine picks up the persisted meta.
	again := v.engine(t)
	meta := again.Meta()
	assert.NotNil(t, meta.Find("notes/r.md"))
	assert.NotNil(t, meta.Find("l.md"))
	assert.Nil(t, meta.Find(".meta"))

	l, _ := again.Node("l.md")
	assert.Equal(t, model.StatusFullySynced, l.SyncStatus)
}

func TestWriteEventUploadsKnownFile(t *testing.T) {
	v := newEnv()
	writeFile(t, v.local, "l.md", "v1", time.Unix(5000, 0))
	e := v.engine(t)
	ctx := context.Background()
	_, err := e.SyncAll(ctx)
	require.NoError(t, err)

	writeFile(t, v.local, "l.md", "v2", time.Unix(6000, 0))
	require.NoError(t, e.HandleEvent(ctx, model.FileEvent{Type: model.EventWrite, Path: "l.md"}))

	data, err := afero.ReadFile(v.remote, remoteRoot+"/l.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.Equal(t, int64(6000000), e.Meta().Find("l.md").MTime)

	// new files wait for the next full pass
	writeFile(t, v.local, "new.md", "n", time.Unix(6000, 0))
	require.NoError(t, e.HandleEvent(ctx, model.FileEvent{Type: model.EventCreate, Path: "new.md"}))
	n, ok := e.Node("new.md")
	require.True(t, ok)
	assert.Equal(t, model.StatusLocalCreated, n.SyncStatus)
	ok, _ = afero.Exists(v.remote, remoteRoot+"/new.md")
	assert.False(t, ok)
}

func TestDownloadedFileEventIsSuppressed(t *testing.T) {
	v := newEnv()
	writeFile(t, v.remote, remoteRoot+"/r.md", "remote", time.Unix(4000, 0))
	e := v.engine(t)
	ctx := context.Background()
	_, err := e.SyncAll(ctx)
	require.NoError(t, err)

	before := len(v.backend.uploaded())
	require.NoError(t, e.HandleEvent(ctx, model.FileEvent{Type: model.EventWrite, Path: "r.md"}))
	assert.Len(t, v.backend.uploaded(), before)
}

func TestRemoveEvent(t *testing.T) {
	v := newEnv()
	writeFile(t, v.local, "l.md", "v1", time.Unix(5000, 0))
	e := v.engine(t)
	ctx := context.Background()
	_, err := e.SyncAll(ctx)
	require.NoError(t, err)

	require.NoError(t, v.local.Remove("l.md"))
	require.NoError(t, e.HandleEvent(ctx, model.FileEvent{Type: model.EventRemove, Path: "l.md"}))

	ok, _ := afero.Exists(v.remote, remoteRoot+"/l.md")
	assert.False(t, ok)
	assert.Nil(t, e.Meta().Find("l.md"))
	_, found := e.Node("l.md")
	assert.False(t, found)

	last := v.rec.results[len(v.rec.results)-1]
	assert.Equal(t, model.DirectionDelete, last.Direction)
	assert.NoError(t, last.Err)
}

func TestRenameEvents(t *testing.T) {
	v := newEnv()
	writeFile(t, v.local, "a.md", "a", time.Unix(5000, 0))
	e := v.engine(t)
	ctx := context.Background()
	_, err := e.SyncAll(ctx)
	require.NoError(t, err)

	// same directory: rename
	require.NoError(t, v.local.Rename("a.md", "b.md"))
	require.NoError(t, e.HandleEvent(ctx, model.FileEvent{Type: model.EventRename, OldPath: "a.md", Path: "b.md"}))
	ok, _ := afero.Exists(v.remote, remoteRoot+"/b.md")
	assert.True(t, ok)
	assert.NotNil(t, e.Meta().Find("b.md"))
	assert.Nil(t, e.Meta().Find("a.md"))

	// other directory: move
	require.NoError(t, v.local.MkdirAll("sub", 0755))
	require.NoError(t, v.local.Rename("b.md", "sub/c.md"))
	require.NoError(t, e.HandleEvent(ctx, model.FileEvent{Type: model.EventRename, OldPath: "b.md", Path: "sub/c.md"}))
	ok, _ = afero.Exists(v.remote, remoteRoot+"/sub/c.md")
	assert.True(t, ok)
	assert.NotNil(t, e.Meta().Find("sub/c.md"))

	n, found := e.Node("sub/c.md")
	require.True(t, found)
	assert.Equal(t, model.StatusFullySynced, n.SyncStatus)
}

func TestEncryptedRoundTrip(t *testing.T) {
	v := newEnv()
	writeFile(t, v.local, "secret.md", "plain text", time.Unix(7000, 0))
	c, err := crypt.New("hunter2")
	require.NoError(t, err)

	e := v.engine(t, func(o *engine.Options) {
		o.Cipher = c
		o.Encrypt = true
	})
	ctx := context.Background()
	require.NoError(t, e.Upload(ctx, "secret.md", nil))

	blob, err := afero.ReadFile(v.remote, remoteRoot+"/secret.md")
	require.NoError(t, err)
	assert.True(t, crypt.IsEncrypted(blob))
	assert.True(t, e.Meta().Find("secret.md").Encrypt)
	require.NoError(t, e.SaveMeta(ctx))

	// another device with the password
	other := &env{local: afero.NewMemMapFs(), remote: v.remote, rec: &recorder{}}
	other.backend = &faultyBackend{Backend: localfs.New(v.remote, cloud.Options{Local: other.local})}
	oe := other.engine(t, func(o *engine.Options) { o.Cipher = c })
	_, err = oe.DownloadPath(ctx, "secret.md", nil)
	require.NoError(t, err)
	data, err := afero.ReadFile(other.local, "secret.md")
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(data))

	n, _ := oe.Node("secret.md")
	assert.True(t, n.RemoteEncrypt)

	// and one without
	third := &env{local: afero.NewMemMapFs(), remote: v.remote, rec: &recorder{}}
	third.backend = &faultyBackend{Backend: localfs.New(v.remote, cloud.Options{Local: third.local})}
	te := third.engine(t)
	var got error
	_, err = te.DownloadPath(ctx, "secret.md", func(_ reconcile.DownloadItem, err error) { got = err })
	require.NoError(t, err)
	assert.ErrorIs(t, got, crypt.ErrNoPassword)
}

func TestStopSkipsRemainingItems(t *testing.T) {
	v := newEnv()
	writeFile(t, v.remote, remoteRoot+"/a.md", "a", time.Unix(1, 0))
	writeFile(t, v.remote, remoteRoot+"/b.md", "b", time.Unix(1, 0))
	e := v.engine(t)
	e.Stop()

	failed, err := e.DownloadPath(context.Background(), "", func(_ reconcile.DownloadItem, err error) {
		assert.ErrorIs(t, err, engine.ErrStopped)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, failed)

	e.Resume()
	failed, err = e.DownloadPath(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestUploadMissingPath(t *testing.T) {
	v := newEnv()
	e := v.engine(t)
	assert.ErrorIs(t, e.Upload(context.Background(), "nope.md", nil), engine.ErrNotFound)
	_, err := e.DownloadPath(context.Background(), "nope.md", nil)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSyncAllPicksUpFilesWithoutEvents(t *testing.T) {
	v := newEnv()
	e := v.engine(t)
	ctx := context.Background()

	writeFile(t, v.local, "late.md", "late", time.Unix(8000, 0))
	_, found := e.Node("late.md")
	assert.False(t, found)

	report, err := e.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)

	n, found := e.Node("late.md")
	require.True(t, found)
	assert.Equal(t, model.StatusFullySynced, n.SyncStatus)
	assert.NotEmpty(t, n.MD5)
}

func TestDirectoryEventSkipsHiddenFiles(t *testing.T) {
	v := newEnv()
	writeFile(t, v.local, "notes/a.md", "v1", time.Unix(1000, 0))
	e := v.engine(t)
	ctx := context.Background()
	require.NoError(t, e.Upload(ctx, "notes/a.md", nil))

	writeFile(t, v.local, "notes/a.md", "v2", time.Unix(2000, 0))
	writeFile(t, v.local, "notes/.secret", "token", time.Unix(2000, 0))
	before := len(v.backend.uploaded())

	require.NoError(t, e.HandleEvent(ctx, model.FileEvent{Type: model.EventCreate, Path: "notes", IsDir: true}))

	assert.Equal(t, []string{remoteRoot + "/notes/a.md"}, v.backend.uploaded()[before:])
	assert.Nil(t, e.Meta().Find("notes/.secret"))
	exists, err := afero.Exists(v.remote, remoteRoot+"/notes/.secret")
	require.NoError(t, err)
	assert.False(t, exists)

	n, ok := e.Node("notes/.secret")
	require.True(t, ok)
	assert.Equal(t, model.StatusLocalCreated, n.SyncStatus)
}

func TestDownloadPathSkipsIdenticalContent(t *testing.T) {
	v := newEnv()
	writeFile(t, v.remote, remoteRoot+"/docs/same.md", "same", time.Unix(3000, 0))
	writeFile(t, v.remote, remoteRoot+"/docs/new.md", "new", time.Unix(3000, 0))
	writeFile(t, v.local, "docs/same.md", "same", time.Unix(1000, 0))
	sum, err := pipeline.Checksum(v.local, "docs/same.md")
	require.NoError(t, err)

	// The remote copy is newer but carries the same content hash.
	ctx := context.Background()
	meta := model.NewRemoteMeta()
	require.True(t, meta.Insert("docs/same.md", &model.RemoteFileNode{
		Name: "same.md", Type: model.TypeFile, Size: 4, MTime: 3000000, MD5: sum,
	}))
	require.True(t, meta.Insert("docs/new.md", &model.RemoteFileNode{
		Name: "new.md", Type: model.TypeFile, Size: 3, MTime: 3000000,
	}))
	require.NoError(t, metastore.New(v.backend, remoteRoot).Save(ctx, meta))
	e := v.engine(t)

	failed, err := e.DownloadPath(ctx, "docs", nil)
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Equal(t, []string{remoteRoot + "/docs/new.md"}, v.backend.downloads)
}

func TestRemoteContentsHidesEmptyFolders(t *testing.T) {
	v := newEnv()
	writeFile(t, v.remote, remoteRoot+"/notes/a.md", "a", time.Unix(1000, 0))
	require.NoError(t, v.remote.MkdirAll(remoteRoot+"/hollow/inner", 0755))
	e := v.engine(t)

	var names []string
	for _, n := range e.RemoteContents("") {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"notes"}, names)
}
