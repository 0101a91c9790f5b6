package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachefs/internal/store"
)

func TestOpenGuaranteesRoot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := Open(dir, Options{})
	require.NoError(t, err)
	defer c.Close()

	ro, err := c.BeginRO(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()

	rec, err := ro.GetAttr(store.RootIno)
	require.NoError(t, err)
	assert.Equal(t, store.KindDir, rec.Kind)
}

func TestOpenTwiceFromSameProcessFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c1, err := Open(dir, Options{})
	require.NoError(t, err)
	defer c1.Close()

	_, err = Open(dir, Options{})
	assert.Error(t, err, "a second Open of the same directory must fail fast, not corrupt the store")
}

func TestBeginRWIsSerializedWithinProcess(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c, err := Open(dir, Options{})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	first, err := c.BeginRW(ctx)
	require.NoError(t, err)

	second := make(chan struct{})
	go func() {
		txn, err := c.BeginRW(ctx)
		require.NoError(t, err)
		close(second)
		_ = txn.Rollback()
	}()

	select {
	case <-second:
		t.Fatal("second BeginRW returned before the first transaction released")
	default:
	}

	require.NoError(t, first.Rollback())
	<-second
}
