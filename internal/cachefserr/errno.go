package cachefserr

import "syscall"

// ToErrno maps a taxonomy error to the syscall.Errno the coordinator must
// hand back to the kernel. Only the coordinator calls this — stores and
// adapters never produce a syscall.Errno directly.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	e, ok := As(err)
	if !ok {
		return syscall.EIO
	}
	switch e.Kind {
	case NotFound:
		return syscall.ENOENT
	case Disconnected, StoreIoError:
		return syscall.EIO
	case Backend:
		if e.Errno != 0 {
			return e.Errno
		}
		return syscall.EIO
	case InvalidName:
		return syscall.EINVAL
	case KindMismatch:
		// Handled internally by re-allocating the inode; a KindMismatch
		// reaching the coordinator boundary is a bug in the store layer.
		return syscall.EIO
	case CorruptStore:
		// Fatal: callers abort the mount rather than reply to the kernel.
		return syscall.EIO
	default:
		return syscall.EIO
	}
}
