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

// Readlink implements spec.md §4.4's readlink(ino): same decision protocol,
// served against the backend's Readlink(path_of(ino)) and cached as the
// inode's link target.
func (c *Coordinator) Readlink(ctx context.Context, req Request, ino store.InodeID) {
	if c.backend.IsConnected() {
		if target, ok := c.readlinkViaBackend(ctx, req, ino); ok {
			if target != "" {
				req.ReplyBuf([]byte(target))
			}
			return
		}
	}

	target, err := c.readlinkCached(ctx, ino)
	if err == nil {
		log.Tracef("coordinator: readlink(%d) degraded cache hit", ino)
		req.ReplyBuf([]byte(target))
		return
	}
	req.ReplyError(syscall.EIO)
}

func (c *Coordinator) readlinkViaBackend(ctx context.Context, req Request, ino store.InodeID) (string, bool) {
	p, err := c.pathOf(ctx, ino)
	if err != nil {
		req.ReplyError(cachefserr.ToErrno(err))
		return "", true
	}

	target, err := c.backend.Readlink(p)
	if err == nil {
		txn, err := c.cache.BeginRW(ctx)
		if err != nil {
			req.ReplyError(syscall.EIO)
			return "", true
		}
		defer txn.Rollback()
		if err := txn.SetLinkTarget(ino, target); err != nil {
			req.ReplyError(cachefserr.ToErrno(err))
			return "", true
		}
		if err := txn.Commit(); err != nil {
			req.ReplyError(syscall.EIO)
			return "", true
		}
		return target, true
	}

	if errno, ok := backendErrno(err); ok && errno == syscall.ENOENT {
		req.ReplyError(syscall.ENOENT)
		return "", true
	}
	if shouldFallBackToCache(err) {
		return "", false
	}
	req.ReplyError(cachefserr.ToErrno(err))
	return "", true
}

func (c *Coordinator) readlinkCached(ctx context.Context, ino store.InodeID) (string, error) {
	txn, err := c.cache.BeginRO(ctx)
	if err != nil {
		return "", err
	}
	defer txn.Rollback()
	target, err := txn.Readlink(ino)
	if err != nil {
		return "", err
	}
	return target, txn.Commit()
}
