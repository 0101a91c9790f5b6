package coordinator

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachefs/internal/backend"
	"cachefs/internal/cache"
	"cachefs/internal/store"
	"cachefs/internal/util"
)

// fixedProber lets tests flip connectivity deterministically.
type fixedProber struct {
	err error
}

func (p *fixedProber) Probe(context.Context) error { return p.err }

// fakeRequest records the single Reply* call made against it, enforcing the
// same single-reply discipline a real kernel binding would.
type fakeRequest struct {
	onceGuard

	entryIno   store.InodeID
	attr       *store.InodeRecord
	openFH     FileHandle
	buf        []byte
	dirents    []DirentReply
	errno      syscall.Errno
	replyKind  string
}

func (r *fakeRequest) ReplyEntry(ino store.InodeID, attr *store.InodeRecord, _ time.Duration) {
	r.markReplied()
	r.entryIno, r.attr, r.replyKind = ino, attr, "entry"
}

func (r *fakeRequest) ReplyAttr(attr *store.InodeRecord, _ time.Duration) {
	r.markReplied()
	r.attr, r.replyKind = attr, "attr"
}

func (r *fakeRequest) ReplyOpen(fh FileHandle) {
	r.markReplied()
	r.openFH, r.replyKind = fh, "open"
}

func (r *fakeRequest) ReplyBuf(data []byte) {
	r.markReplied()
	r.buf, r.replyKind = data, "buf"
}

func (r *fakeRequest) ReplyDirents(entries []DirentReply) {
	r.markReplied()
	r.dirents, r.replyKind = entries, "dirents"
}

func (r *fakeRequest) ReplyError(errno syscall.Errno) {
	r.markReplied()
	r.errno, r.replyKind = errno, "error"
}

func newTestCoordinator(t *testing.T, prober *fixedProber) (*Coordinator, billy.Filesystem) {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("books", 0755))
	f, err := fs.Create("books/a.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c, err := cache.Open(t.TempDir(), cache.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	b := backend.New(fs, backend.Options{Prober: prober, ProbeInterval: 10 * time.Millisecond})
	t.Cleanup(b.Close)
	waitForConnectivity(t, b, prober.err == nil)

	return New(c, b), fs
}

func waitForConnectivity(t *testing.T, b *backend.Adapter, want bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	if !util.WaitWithDeadline(deadline, time.Millisecond, func() bool { return b.IsConnected() == want }) {
		t.Fatalf("backend did not reach connected=%v in time", want)
	}
}

func TestLookupConnectedEmplacesAndReplies(t *testing.T) {
	t.Parallel()
	co, _ := newTestCoordinator(t, &fixedProber{})
	req := &fakeRequest{}

	co.Lookup(context.Background(), req, store.RootIno, "books")
	require.Equal(t, "entry", req.replyKind)
	assert.Equal(t, store.KindDir, req.attr.Kind)
	assert.NotEqual(t, store.InvalidIno, req.entryIno)
}

func TestLookupMissingReturnsENOENT(t *testing.T) {
	t.Parallel()
	co, _ := newTestCoordinator(t, &fixedProber{})
	req := &fakeRequest{}

	co.Lookup(context.Background(), req, store.RootIno, "nope")
	require.Equal(t, "error", req.replyKind)
	assert.Equal(t, syscall.ENOENT, req.errno)
}

func TestLookupInvalidNameReturnsEINVAL(t *testing.T) {
	t.Parallel()
	co, _ := newTestCoordinator(t, &fixedProber{})
	req := &fakeRequest{}

	co.Lookup(context.Background(), req, store.RootIno, "..")
	require.Equal(t, "error", req.replyKind)
	assert.Equal(t, syscall.EINVAL, req.errno)
}

func TestLookupDisconnectedFallsBackToCache(t *testing.T) {
	t.Parallel()
	co, _ := newTestCoordinator(t, &fixedProber{})

	warm := &fakeRequest{}
	co.Lookup(context.Background(), warm, store.RootIno, "books")
	require.Equal(t, "entry", warm.replyKind)

	co.backend.Close()
	co.backend = backend.New(memfs.New(), backend.Options{
		Prober:        &fixedProber{err: errors.New("unreachable")},
		ProbeInterval: 10 * time.Millisecond,
	})
	t.Cleanup(co.backend.Close)
	waitForConnectivity(t, co.backend, false)

	req := &fakeRequest{}
	co.Lookup(context.Background(), req, store.RootIno, "books")
	require.Equal(t, "entry", req.replyKind)
	assert.Equal(t, warm.entryIno, req.entryIno)
}

func TestGetAttrConnected(t *testing.T) {
	t.Parallel()
	co, _ := newTestCoordinator(t, &fixedProber{})

	lookup := &fakeRequest{}
	co.Lookup(context.Background(), lookup, store.RootIno, "books")
	require.Equal(t, "entry", lookup.replyKind)

	req := &fakeRequest{}
	co.GetAttr(context.Background(), req, lookup.entryIno)
	require.Equal(t, "attr", req.replyKind)
	assert.Equal(t, store.KindDir, req.attr.Kind)
}

func TestOpenDirReadDirReconciles(t *testing.T) {
	t.Parallel()
	co, fs := newTestCoordinator(t, &fixedProber{})

	lookup := &fakeRequest{}
	co.Lookup(context.Background(), lookup, store.RootIno, "books")
	require.Equal(t, "entry", lookup.replyKind)
	booksIno := lookup.entryIno

	openReq := &fakeRequest{}
	co.OpenDir(context.Background(), openReq, booksIno)
	require.Equal(t, "open", openReq.replyKind)

	readReq := &fakeRequest{}
	co.ReadDir(context.Background(), readReq, openReq.openFH, 0)
	require.Equal(t, "dirents", readReq.replyKind)
	names := direntNames(readReq.dirents)
	assert.ElementsMatch(t, []string{".", "..", "a.txt"}, names)

	// Remove the file at the backend, then re-readdir against the same
	// handle: readdir never reconciles, so the page already opened keeps
	// serving what opendir observed.
	require.NoError(t, fs.Remove("books/a.txt"))
	readReq2 := &fakeRequest{}
	co.ReadDir(context.Background(), readReq2, openReq.openFH, 0)
	require.Equal(t, "dirents", readReq2.replyKind)
	assert.ElementsMatch(t, []string{".", "..", "a.txt"}, direntNames(readReq2.dirents))

	co.ReleaseDir(openReq, openReq.openFH)

	// A fresh opendir reconciles against the backend's current state and
	// prunes the now-stale entry.
	openReq2 := &fakeRequest{}
	co.OpenDir(context.Background(), openReq2, booksIno)
	require.Equal(t, "open", openReq2.replyKind)

	readReq3 := &fakeRequest{}
	co.ReadDir(context.Background(), readReq3, openReq2.openFH, 0)
	require.Equal(t, "dirents", readReq3.replyKind)
	assert.ElementsMatch(t, []string{".", ".."}, direntNames(readReq3.dirents))

	co.ReleaseDir(openReq2, openReq2.openFH)
}

func direntNames(entries []DirentReply) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

func TestOpenReadReleaseRegularFile(t *testing.T) {
	t.Parallel()
	co, _ := newTestCoordinator(t, &fixedProber{})

	lookupDir := &fakeRequest{}
	co.Lookup(context.Background(), lookupDir, store.RootIno, "books")
	require.Equal(t, "entry", lookupDir.replyKind)

	lookupFile := &fakeRequest{}
	co.Lookup(context.Background(), lookupFile, lookupDir.entryIno, "a.txt")
	require.Equal(t, "entry", lookupFile.replyKind)

	openReq := &fakeRequest{}
	co.Open(context.Background(), openReq, lookupFile.entryIno)
	require.Equal(t, "open", openReq.replyKind)

	readReq := &fakeRequest{}
	co.Read(readReq, openReq.openFH, 0, 5)
	require.Equal(t, "buf", readReq.replyKind)
	assert.Equal(t, "hello", string(readReq.buf))

	releaseReq := &fakeRequest{}
	co.Release(releaseReq, openReq.openFH)
	require.Equal(t, "error", releaseReq.replyKind)
	assert.Equal(t, syscall.Errno(0), releaseReq.errno)
}

func TestOpenRegularFileDisconnectedFails(t *testing.T) {
	t.Parallel()
	co, _ := newTestCoordinator(t, &fixedProber{})

	lookupDir := &fakeRequest{}
	co.Lookup(context.Background(), lookupDir, store.RootIno, "books")
	lookupFile := &fakeRequest{}
	co.Lookup(context.Background(), lookupFile, lookupDir.entryIno, "a.txt")

	co.backend.Close()
	co.backend = backend.New(memfs.New(), backend.Options{
		Prober:        &fixedProber{err: errors.New("unreachable")},
		ProbeInterval: 10 * time.Millisecond,
	})
	t.Cleanup(co.backend.Close)
	waitForConnectivity(t, co.backend, false)

	req := &fakeRequest{}
	co.Open(context.Background(), req, lookupFile.entryIno)
	require.Equal(t, "error", req.replyKind)
	assert.Equal(t, syscall.EIO, req.errno)
}

func TestReadlinkConnected(t *testing.T) {
	t.Parallel()
	fs := memfs.New()
	require.NoError(t, fs.Symlink("a.txt", "link"))
	f, err := fs.Create("a.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c, err := cache.Open(t.TempDir(), cache.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	b := backend.New(fs, backend.Options{Prober: &fixedProber{}, ProbeInterval: 10 * time.Millisecond})
	t.Cleanup(b.Close)
	waitForConnectivity(t, b, true)
	co := New(c, b)

	lookup := &fakeRequest{}
	co.Lookup(context.Background(), lookup, store.RootIno, "link")
	require.Equal(t, "entry", lookup.replyKind)
	assert.Equal(t, store.KindLink, lookup.attr.Kind)

	req := &fakeRequest{}
	co.Readlink(context.Background(), req, lookup.entryIno)
	require.Equal(t, "buf", req.replyKind)
	assert.Equal(t, "a.txt", string(req.buf))
}

func TestDoubleReplyPanics(t *testing.T) {
	t.Parallel()
	req := &fakeRequest{}
	req.ReplyError(syscall.ENOENT)
	assert.Panics(t, func() { req.ReplyError(syscall.EIO) })
}
