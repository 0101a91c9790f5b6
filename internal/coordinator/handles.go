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

package coordinator

import (
	"sync"

	"cachefs/internal/backend"
	"cachefs/internal/store"
)

// FileHandle is the opaque handle the coordinator hands back on opendir and
// open, gating readdir/read until release.
type FileHandle uint64

type dirHandle struct {
	ino store.InodeID
}

type fileHandle struct {
	ino     store.InodeID
	backend backend.FileHandle
	hasBackend bool
}

// handleTable manages open directory and file handles. Adapted from the
// teacher's HandleManager: same allocate/get/release shape, narrowed to the
// two handle kinds this coordinator actually issues (no epoch pinning, no
// source-only fallback — this store has exactly one version of each inode).
type handleTable struct {
	mu       sync.RWMutex
	dirs     map[FileHandle]*dirHandle
	files    map[FileHandle]*fileHandle
	nextDir  FileHandle
	nextFile FileHandle
}

func newHandleTable() *handleTable {
	return &handleTable{
		dirs:  make(map[FileHandle]*dirHandle),
		files: make(map[FileHandle]*fileHandle),
	}
}

func (t *handleTable) allocateDir(ino store.InodeID) FileHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextDir++
	h := t.nextDir
	t.dirs[h] = &dirHandle{ino: ino}
	return h
}

func (t *handleTable) getDir(h FileHandle) (*dirHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.dirs[h]
	return d, ok
}

func (t *handleTable) releaseDir(h FileHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dirs, h)
}

func (t *handleTable) allocateFile(ino store.InodeID, bfh backend.FileHandle, hasBackend bool) FileHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextFile++
	h := t.nextFile
	t.files[h] = &fileHandle{ino: ino, backend: bfh, hasBackend: hasBackend}
	return h
}

func (t *handleTable) getFile(h FileHandle) (*fileHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.files[h]
	return f, ok
}

func (t *handleTable) releaseFile(h FileHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, h)
}
