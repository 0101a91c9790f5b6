package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachefs/internal/cachefserr"
	"cachefs/internal/store"
)

// fixedProber lets tests flip connectivity deterministically instead of
// racing a real network check, matching the TestEnvironment-style fixture
// SPEC_FULL.md calls for.
type fixedProber struct {
	err error
}

func (p *fixedProber) Probe(context.Context) error { return p.err }

func newTestAdapter(t *testing.T, prober *fixedProber) *Adapter {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("books", 0755))
	f, err := fs.Create("README.md")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	a := New(fs, Options{Prober: prober, ProbeInterval: 10 * time.Millisecond})
	t.Cleanup(a.Close)
	waitForConnectivity(t, a, prober.err == nil)
	return a
}

func waitForConnectivity(t *testing.T, a *Adapter, want bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if a.IsConnected() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("adapter did not reach connected=%v in time", want)
}

func TestLstatConnected(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &fixedProber{})

	st, err := a.Lstat("README.md")
	require.NoError(t, err)
	assert.Equal(t, store.KindRegular, st.Kind)
	assert.EqualValues(t, 5, st.Size)
}

func TestLstatMissingReturnsBackendError(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &fixedProber{})

	_, err := a.Lstat("nope")
	e, ok := cachefserr.As(err)
	require.True(t, ok)
	assert.Equal(t, cachefserr.Backend, e.Kind)
}

func TestDisconnectedFailsWithoutTouchingDriver(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &fixedProber{err: errors.New("unreachable")})

	_, err := a.Lstat("README.md")
	assert.ErrorIs(t, err, cachefserr.ErrDisconnected)

	_, err = a.ReadDir(".")
	assert.ErrorIs(t, err, cachefserr.ErrDisconnected)

	_, err = a.Open("README.md")
	assert.ErrorIs(t, err, cachefserr.ErrDisconnected)
}

func TestReadDirListsAllEntries(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &fixedProber{})

	entries, err := a.ReadDir(".")
	require.NoError(t, err)
	names := make(map[string]store.Kind)
	for _, e := range entries {
		names[e.Name] = e.Kind
	}
	assert.Equal(t, store.KindRegular, names["README.md"])
	assert.Equal(t, store.KindDir, names["books"])
}

func TestOpenPreadRelease(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &fixedProber{})

	fh, err := a.Open("README.md")
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := a.Pread(fh, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, a.Release(fh))
}
