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
	"os"
	"sync"
	"syscall"
	"time"

	"cachefs/internal/store"
)

// StrictReplyChecks panics on a second Reply* call against the same
// Request instead of silently ignoring it. A double reply corrupts the
// kernel's request/reply bookkeeping in production, but the panic is
// disruptive enough that a deployment under heavy load may prefer to
// disable it. Set CACHEFS_STRICT_REPLY=0 to turn it off.
var StrictReplyChecks = os.Getenv("CACHEFS_STRICT_REPLY") != "0"

// DirentReply is one entry of a ReplyDirents call; the fuseserver binding is
// responsible for packing these into the kernel's dirent buffer format.
type DirentReply struct {
	Name   string
	Ino    store.InodeID
	Kind   store.Kind
	Offset int64
}

// Request is the kernel-facing reply sink. Exactly one Reply* method fires
// per request.
type Request interface {
	ReplyEntry(ino store.InodeID, attr *store.InodeRecord, timeout time.Duration)
	ReplyAttr(attr *store.InodeRecord, timeout time.Duration)
	ReplyOpen(fh FileHandle)
	ReplyBuf(data []byte)
	ReplyDirents(entries []DirentReply)
	ReplyError(errno syscall.Errno)
}

// onceGuard embeds into a Request implementation to enforce the
// single-reply contract without every fuseserver binding reimplementing the
// check.
type onceGuard struct {
	mu       sync.Mutex
	replied  bool
}

// markReplied panics (if StrictReplyChecks) on the second call.
func (g *onceGuard) markReplied() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.replied && StrictReplyChecks {
		panic("coordinator: double reply to a single request")
	}
	g.replied = true
}
