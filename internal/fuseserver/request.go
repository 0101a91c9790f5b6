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

// Package fuseserver binds the coordinator's decision protocol to the
// kernel via hanwen/go-fuse/v2's low-level RawFileSystem interface, the
// same session-vocabulary surface (lookup/getattr/opendir/readdir/open/
// read/readlink, reply_entry/reply_attr/reply_open/reply_buf/reply_error)
// the coordinator package is written against.
package fuseserver

import (
	"sync"
	"syscall"
	"time"

	"cachefs/internal/coordinator"
	"cachefs/internal/store"
)

// syncRequest is a coordinator.Request that captures exactly one reply
// synchronously, for translation back into the go-fuse raw types once the
// coordinator call returns. The coordinator never defers work to another
// goroutine, so each kernel call allocates one and reads it back as soon as
// the coordinator returns.
type syncRequest struct {
	mu      sync.Mutex
	replied bool

	entryIno store.InodeID
	attr     *store.InodeRecord
	timeout  time.Duration
	fh       coordinator.FileHandle
	buf      []byte
	dirents  []coordinator.DirentReply
	errno    syscall.Errno
}

func (r *syncRequest) markReplied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replied && coordinator.StrictReplyChecks {
		panic("fuseserver: double reply to a single request")
	}
	r.replied = true
}

func (r *syncRequest) ReplyEntry(ino store.InodeID, attr *store.InodeRecord, timeout time.Duration) {
	r.markReplied()
	r.entryIno, r.attr, r.timeout = ino, attr, timeout
}

func (r *syncRequest) ReplyAttr(attr *store.InodeRecord, timeout time.Duration) {
	r.markReplied()
	r.attr, r.timeout = attr, timeout
}

func (r *syncRequest) ReplyOpen(fh coordinator.FileHandle) {
	r.markReplied()
	r.fh = fh
}

func (r *syncRequest) ReplyBuf(data []byte) {
	r.markReplied()
	r.buf = data
}

func (r *syncRequest) ReplyDirents(entries []coordinator.DirentReply) {
	r.markReplied()
	r.dirents = entries
}

func (r *syncRequest) ReplyError(errno syscall.Errno) {
	r.markReplied()
	r.errno = errno
}
