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
	"context"
	"syscall"

	log "github.com/sirupsen/logrus"

	"cachefs/internal/cachefserr"
	"cachefs/internal/store"
)

// Lookup implements spec.md §4.4's lookup(parent, name) decision protocol.
func (c *Coordinator) Lookup(ctx context.Context, req Request, parent store.InodeID, name string) {
	if !validEntryName(name) {
		req.ReplyError(syscall.EINVAL)
		return
	}

	if c.backend.IsConnected() {
		if rec, ok := c.lookupViaBackend(ctx, req, parent, name); ok {
			if rec != nil {
				req.ReplyEntry(rec.Ino, rec, AttrTimeout)
			}
			return
		}
	}

	rec, err := c.lookupCached(ctx, parent, name)
	if err == nil {
		log.Tracef("coordinator: lookup(%d,%q) degraded cache hit", parent, name)
		req.ReplyEntry(rec.Ino, rec, AttrTimeout)
		return
	}
	log.Tracef("coordinator: lookup(%d,%q) EIO (disconnected, no cache entry)", parent, name)
	req.ReplyError(syscall.EIO)
}

// lookupViaBackend performs the connected branch of the decision protocol.
// ok=false means the caller should fall through to the degraded cache path
// (a Disconnected/Backend(EIO) failure); ok=true means a reply has either
// already been sent (rec==nil) or should be sent by the caller with rec.
func (c *Coordinator) lookupViaBackend(ctx context.Context, req Request, parent store.InodeID, name string) (*store.InodeRecord, bool) {
	parentPath, err := c.pathOf(ctx, parent)
	if err != nil {
		req.ReplyError(cachefserr.ToErrno(err))
		return nil, true
	}

	st, err := c.backend.Lstat(joinPath(parentPath, name))
	if err == nil {
		rec, err := c.emplace(ctx, parent, name, st)
		if err != nil {
			log.Debugf("coordinator: lookup(%d,%q) emplace failed: %v", parent, name, err)
			req.ReplyError(syscall.EIO)
			return nil, true
		}
		return rec, true
	}

	if errno, ok := backendErrno(err); ok && errno == syscall.ENOENT {
		c.cleanupStaleIfSynced(ctx, parent, name)
		req.ReplyError(syscall.ENOENT)
		return nil, true
	}
	if shouldFallBackToCache(err) {
		return nil, false
	}
	// Any other backend errno is passed straight through.
	req.ReplyError(cachefserr.ToErrno(err))
	return nil, true
}

func validEntryName(name string) bool {
	if name == "" || len(name) > 255 || name == "." || name == ".." {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return false
		}
	}
	return true
}
