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

// Package backend wraps a billy.Filesystem backend driver with the
// connectivity awareness spec.md §4.3 requires: is_connected, lstat,
// readdir, readlink, open/pread/release, each translated from billy's
// errors into the internal result shape.
package backend

import (
	"os"
	"time"

	"cachefs/internal/store"
)

// Stat is the internal result type backend operations translate os.FileInfo
// into, independent of billy's or the OS's representation.
type Stat struct {
	Name       string
	Kind       store.Kind
	Mode       uint32
	Size       int64
	Mtime      time.Time
	LinkTarget string // populated only when Kind == store.KindLink
}

func statFromFileInfo(fi os.FileInfo) Stat {
	s := Stat{
		Name:  fi.Name(),
		Size:  fi.Size(),
		Mtime: fi.ModTime(),
		Mode:  uint32(fi.Mode().Perm()),
	}
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		s.Kind = store.KindLink
	case fi.IsDir():
		s.Kind = store.KindDir
	default:
		s.Kind = store.KindRegular
	}
	return s
}

// InodeAttributesFrom converts a Stat into the attribute shape the store
// persists, filling in ctime/atime from mtime since billy's os.FileInfo
// carries only one timestamp.
func (s Stat) InodeAttributesFrom() store.InodeAttributes {
	ts := store.FromTime(s.Mtime)
	return store.InodeAttributes{
		Mode:  s.modeWithType(),
		Size:  s.Size,
		Atime: ts,
		Mtime: ts,
		Ctime: ts,
	}
}

func (s Stat) modeWithType() uint32 {
	switch s.Kind {
	case store.KindDir:
		return s.Mode | 0040000
	case store.KindLink:
		return s.Mode | 0120000
	default:
		return s.Mode | 0100000
	}
}
