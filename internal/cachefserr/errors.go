// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cachefserr defines the internal error taxonomy shared by the
// store, cache, and backend layers. Errno translation happens exactly once,
// at the coordinator boundary; nothing below that line returns a
// syscall.Errno.
package cachefserr

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind identifies which row of the error taxonomy an error belongs to.
type Kind int

const (
	// NotFound is returned for a missing inode or directory entry.
	NotFound Kind = iota
	// Disconnected is returned when the backend is unreachable and the
	// cache cannot satisfy the request on its own.
	Disconnected
	// StoreIoError is returned when the persistent store fails to read or
	// commit.
	StoreIoError
	// CorruptStore is returned when store contents violate an invariant.
	// Callers treat this as fatal.
	CorruptStore
	// KindMismatch is returned internally when a refresh observes a type
	// change for an existing (parent, name). Never surfaced past the store.
	KindMismatch
	// Backend wraps a specific errno returned by the backend driver.
	Backend
	// InvalidName is returned when an entry name violates the name
	// constraints (empty, too long, contains '/' or NUL, or is "." / "..").
	InvalidName
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Disconnected:
		return "disconnected"
	case StoreIoError:
		return "store_io_error"
	case CorruptStore:
		return "corrupt_store"
	case KindMismatch:
		return "kind_mismatch"
	case Backend:
		return "backend"
	case InvalidName:
		return "invalid_name"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-classified error. Backend errors additionally carry
// the errno the backend driver reported.
type Error struct {
	Kind  Kind
	Errno syscall.Errno
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.msg != "" {
		if e.cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, cachefserr.ErrNotFound) against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons. Each carries no message or cause;
// wrapped instances (via New/Wrap) still compare equal through Error.Is.
var (
	ErrNotFound     = &Error{Kind: NotFound}
	ErrDisconnected = &Error{Kind: Disconnected}
	ErrStoreIo      = &Error{Kind: StoreIoError}
	ErrCorruptStore = &Error{Kind: CorruptStore}
	ErrKindMismatch = &Error{Kind: KindMismatch}
	ErrInvalidName  = &Error{Kind: InvalidName}
)

// New creates a taxonomy error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap creates a taxonomy error of the given kind, chaining cause so
// errors.Unwrap/errors.Is continue to work against both the taxonomy kind
// and the original error.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

// NewBackend creates a Backend-kind error carrying the reported errno.
func NewBackend(errno syscall.Errno, msg string) *Error {
	return &Error{Kind: Backend, Errno: errno, msg: msg}
}

// As extracts the taxonomy Kind of err, if err is or wraps an *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is, or wraps, a taxonomy error of kind k.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}
