package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachefs/internal/cachefserr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "cache.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSeedsRoot(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	txn, err := s.BeginRO(context.Background())
	require.NoError(t, err)
	defer txn.Rollback()

	rec, err := txn.GetAttr(RootIno)
	require.NoError(t, err)
	assert.Equal(t, KindDir, rec.Kind)
	assert.Equal(t, uint32(0040755), rec.Mode)
}

func TestEmplaceAllocatesStableIno(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rw, err := s.BeginRW(ctx)
	require.NoError(t, err)
	ino, err := rw.Emplace(RootIno, "README.md", KindRegular, InodeAttributes{Mode: 0100640})
	require.NoError(t, err)
	require.NoError(t, rw.Commit())

	assert.NotEqual(t, InvalidIno, ino)
	assert.NotEqual(t, RootIno, ino)

	ro, err := s.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Rollback()
	got, err := ro.Lookup(RootIno, "README.md")
	require.NoError(t, err)
	assert.Equal(t, ino, got)
}

func TestEmplaceIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	attrs := InodeAttributes{Mode: 0100640, Size: 12}

	rw1, err := s.BeginRW(ctx)
	require.NoError(t, err)
	ino1, err := rw1.Emplace(RootIno, "README.md", KindRegular, attrs)
	require.NoError(t, err)
	require.NoError(t, rw1.Commit())

	rw2, err := s.BeginRW(ctx)
	require.NoError(t, err)
	ino2, err := rw2.Emplace(RootIno, "README.md", KindRegular, attrs)
	require.NoError(t, err)
	require.NoError(t, rw2.Commit())

	assert.Equal(t, ino1, ino2)
}

func TestEmplaceKindMismatchReallocates(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rw1, err := s.BeginRW(ctx)
	require.NoError(t, err)
	fileIno, err := rw1.Emplace(RootIno, "books", KindRegular, InodeAttributes{Mode: 0100644})
	require.NoError(t, err)
	require.NoError(t, rw1.Commit())

	rw2, err := s.BeginRW(ctx)
	require.NoError(t, err)
	dirIno, err := rw2.Emplace(RootIno, "books", KindDir, InodeAttributes{Mode: 0040755})
	require.NoError(t, err)
	require.NoError(t, rw2.Commit())

	assert.NotEqual(t, fileIno, dirIno, "kind change must allocate a fresh inode")

	ro, err := s.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Rollback()
	_, err = ro.GetAttr(fileIno)
	assert.ErrorIs(t, err, cachefserr.ErrNotFound, "old inode must be gone after kind mismatch")
}

func TestLookupMiss(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ro, err := s.BeginRO(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()

	_, err = ro.Lookup(RootIno, "nope")
	assert.ErrorIs(t, err, cachefserr.ErrNotFound)
}

func TestSyncedFlagDefaultsFalse(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ro, err := s.BeginRO(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()

	synced, err := ro.TestFlag(RootIno, FlagSynced)
	require.NoError(t, err)
	assert.False(t, synced)
}

func TestSetFlagRoundTrips(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rw, err := s.BeginRW(ctx)
	require.NoError(t, err)
	require.NoError(t, rw.SetFlag(RootIno, FlagSynced, true))
	require.NoError(t, rw.Commit())

	ro, err := s.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Rollback()
	synced, err := ro.TestFlag(RootIno, FlagSynced)
	require.NoError(t, err)
	assert.True(t, synced)
}

func TestReadDirOrdersByOffsetAndExcludesStart(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rw, err := s.BeginRW(ctx)
	require.NoError(t, err)
	inoA, err := rw.Emplace(RootIno, "a", KindRegular, InodeAttributes{})
	require.NoError(t, err)
	inoB, err := rw.Emplace(RootIno, "b", KindRegular, InodeAttributes{})
	require.NoError(t, err)
	require.NoError(t, rw.Commit())

	ro, err := s.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Rollback()

	all, err := ro.ReadDir(RootIno, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Less(t, all[0].Offset, all[1].Offset)

	resumed, err := ro.ReadDir(RootIno, all[0].Offset)
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, all[1].Child, resumed[0].Child)

	_ = inoA
	_ = inoB
}

func TestRemoveEntryIfAbsentUnderSynced(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rw, err := s.BeginRW(ctx)
	require.NoError(t, err)
	_, err = rw.Emplace(RootIno, "keep", KindRegular, InodeAttributes{})
	require.NoError(t, err)
	_, err = rw.Emplace(RootIno, "gone", KindRegular, InodeAttributes{})
	require.NoError(t, err)
	require.NoError(t, rw.Commit())

	rw2, err := s.BeginRW(ctx)
	require.NoError(t, err)
	require.NoError(t, rw2.RemoveEntryIfAbsentUnderSynced(RootIno, map[string]struct{}{"keep": {}}))
	require.NoError(t, rw2.Commit())

	ro, err := s.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Rollback()
	_, err = ro.Lookup(RootIno, "keep")
	assert.NoError(t, err)
	_, err = ro.Lookup(RootIno, "gone")
	assert.ErrorIs(t, err, cachefserr.ErrNotFound)
}

func TestParentOfWalksDirentBackward(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rw, err := s.BeginRW(ctx)
	require.NoError(t, err)
	booksIno, err := rw.Emplace(RootIno, "books", KindDir, InodeAttributes{})
	require.NoError(t, err)
	fileIno, err := rw.Emplace(booksIno, "a.txt", KindRegular, InodeAttributes{})
	require.NoError(t, err)
	require.NoError(t, rw.Commit())

	ro, err := s.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Rollback()

	parent, name, err := ro.ParentOf(fileIno)
	require.NoError(t, err)
	assert.Equal(t, booksIno, parent)
	assert.Equal(t, "a.txt", name)

	_, _, err = ro.ParentOf(RootIno)
	assert.ErrorIs(t, err, cachefserr.ErrNotFound)
}

func TestSetLinkTargetRoundTrips(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rw, err := s.BeginRW(ctx)
	require.NoError(t, err)
	ino, err := rw.Emplace(RootIno, "link", KindLink, InodeAttributes{Mode: 0120777})
	require.NoError(t, err)
	require.NoError(t, rw.SetLinkTarget(ino, "target.txt"))
	require.NoError(t, rw.Commit())

	ro, err := s.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Rollback()
	target, err := ro.Readlink(ino)
	require.NoError(t, err)
	assert.Equal(t, "target.txt", target)
}

func TestSetLinkTargetOnNonLinkFails(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rw, err := s.BeginRW(ctx)
	require.NoError(t, err)
	ino, err := rw.Emplace(RootIno, "file.txt", KindRegular, InodeAttributes{})
	require.NoError(t, err)
	err = rw.SetLinkTarget(ino, "whatever")
	assert.ErrorIs(t, err, cachefserr.ErrKindMismatch)
}

func TestInvalidNameRejected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	rw, err := s.BeginRW(context.Background())
	require.NoError(t, err)
	defer rw.Rollback()

	_, err = rw.Emplace(RootIno, "..", KindRegular, InodeAttributes{})
	assert.ErrorIs(t, err, cachefserr.ErrInvalidName)
}

func TestReopenRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	s1, err := Open(path, Options{})
	require.NoError(t, err)
	rw, err := s1.BeginRW(context.Background())
	require.NoError(t, err)
	ino, err := rw.Emplace(RootIno, "README.md", KindRegular, InodeAttributes{Mode: 0100640})
	require.NoError(t, err)
	require.NoError(t, rw.Commit())
	require.NoError(t, s1.Close())

	s2, err := Open(path, Options{})
	require.NoError(t, err)
	defer s2.Close()
	ro, err := s2.BeginRO(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()
	got, err := ro.Lookup(RootIno, "README.md")
	require.NoError(t, err)
	assert.Equal(t, ino, got)
}
