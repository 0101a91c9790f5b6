package cachefserr

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToErrno(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"not found", ErrNotFound, syscall.ENOENT},
		{"disconnected", ErrDisconnected, syscall.EIO},
		{"store io error", ErrStoreIo, syscall.EIO},
		{"corrupt store", ErrCorruptStore, syscall.EIO},
		{"kind mismatch", ErrKindMismatch, syscall.EIO},
		{"invalid name", ErrInvalidName, syscall.EINVAL},
		{"backend with errno", NewBackend(syscall.ENOTDIR, "not a dir"), syscall.ENOTDIR},
		{"backend without errno", NewBackend(0, "unspecified"), syscall.EIO},
		{"unwrapped error", errors.New("boom"), syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ToErrno(tt.err))
		})
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	t.Parallel()

	wrapped := Wrap(NotFound, "lookup books", errors.New("inode 7 missing"))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrDisconnected))
}

func TestErrorUnwrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	wrapped := Wrap(StoreIoError, "commit failed", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "disk full")
}

func TestAsExtractsKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("while emplacing: %w", ErrKindMismatch)
	e, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, KindMismatch, e.Kind)
	assert.True(t, IsKind(err, KindMismatch))
	assert.False(t, IsKind(err, NotFound))
}
