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

// Package store implements the persistent, transactional inode store: a
// mapping from inode number to inode record, plus a directory-entry index
// from (parent inode, name) to child inode. Everything here is agnostic of
// FUSE, the backend driver, and connectivity — it only knows how to persist
// and query the tree it is told about.
package store

import "time"

// Kind is the tagged variant distinguishing the three inode shapes this
// store knows about. Kind is immutable for a given inode number: a refresh
// that observes a different kind forces reallocation rather than an
// in-place update (see Invariant 2).
type Kind uint8

const (
	KindRegular Kind = 1
	KindDir     Kind = 2
	KindLink    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDir:
		return "directory"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// InodeID is the 64-bit stable identifier spec.md calls `ino`.
type InodeID = int64

// ROOT_INO and INVALID_INO per spec.md §3. Exported as the Go-idiomatic
// names; RootIno always exists after Store.Open, InvalidIno is never
// assigned to a real inode.
const (
	RootIno    InodeID = 1
	InvalidIno InodeID = 0
)

// Flag is a per-inode boolean attribute. Packed as bits on InodeRecord.Flags
// rather than a separate keyspace (see DESIGN.md's Open Question decision).
type Flag uint32

const (
	// FlagSynced asserts a directory's DirEntry set is authoritative as of
	// the last successful backend listing (spec.md Invariant 5).
	FlagSynced Flag = 1 << 0
)

// Timespec mirrors the wire shape of spec.md §6: seconds plus nanoseconds,
// independent of time.Time's internal representation so the persisted
// layout is stable regardless of how the Go runtime's clock type evolves.
type Timespec struct {
	Sec  int64
	Nsec uint32
}

// FromTime converts a time.Time to the persisted Timespec shape.
func FromTime(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: uint32(t.Nanosecond())}
}

// Time converts a persisted Timespec back to a time.Time.
func (ts Timespec) Time() time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

// InodeAttributes are the mutable fields of an inode record — everything
// except identity (Ino, Kind) and the LinkTarget, which Emplace does not
// write; a KindLink's target is set and overwritten with RwTxn.SetLinkTarget.
type InodeAttributes struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  int64
	Atime Timespec
	Mtime Timespec
	Ctime Timespec
}

// InodeRecord is the full persisted shape of spec.md §6's InodeRecord wire
// type.
type InodeRecord struct {
	Ino InodeID
	Kind
	InodeAttributes
	Flags      Flag
	LinkTarget string // only meaningful when Kind == KindLink
}

// HasFlag reports whether f is set on the record.
func (r *InodeRecord) HasFlag(f Flag) bool {
	return r.Flags&f != 0
}

// DirEntry is a single (parent, name) -> child binding, as returned by
// ReadDir alongside the iteration offset it was yielded at.
type DirEntry struct {
	Name   string
	Child  InodeID
	Offset int64
}
