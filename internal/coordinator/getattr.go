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

	"cachefs/internal/backend"
	"cachefs/internal/cachefserr"
	"cachefs/internal/store"
)

// GetAttr implements spec.md §4.4's getattr(ino): same decision protocol as
// Lookup, against lstat(path_of(ino)) instead of lstat(parent_path/name).
func (c *Coordinator) GetAttr(ctx context.Context, req Request, ino store.InodeID) {
	if c.backend.IsConnected() {
		if rec, ok := c.getAttrViaBackend(ctx, req, ino); ok {
			if rec != nil {
				req.ReplyAttr(rec, AttrTimeout)
			}
			return
		}
	}

	rec, err := c.getAttr(ctx, ino)
	if err == nil {
		log.Tracef("coordinator: getattr(%d) degraded cache hit", ino)
		req.ReplyAttr(rec, AttrTimeout)
		return
	}
	log.Tracef("coordinator: getattr(%d) EIO (disconnected, no cache entry)", ino)
	req.ReplyError(syscall.EIO)
}

func (c *Coordinator) getAttrViaBackend(ctx context.Context, req Request, ino store.InodeID) (*store.InodeRecord, bool) {
	p, err := c.pathOf(ctx, ino)
	if err != nil {
		req.ReplyError(cachefserr.ToErrno(err))
		return nil, true
	}

	st, err := c.backend.Lstat(p)
	if err == nil {
		rec, eerr := c.refreshAttrOf(ctx, ino, st)
		if eerr != nil {
			log.Debugf("coordinator: getattr(%d) refresh failed: %v", ino, eerr)
			req.ReplyError(syscall.EIO)
			return nil, true
		}
		return rec, true
	}

	if errno, ok := backendErrno(err); ok && errno == syscall.ENOENT {
		req.ReplyError(syscall.ENOENT)
		return nil, true
	}
	if shouldFallBackToCache(err) {
		return nil, false
	}
	req.ReplyError(cachefserr.ToErrno(err))
	return nil, true
}

// refreshAttrOf writes a fresh backend.Stat back onto ino. ROOT_INO has no
// (parent, name) dirent binding to re-emplace (spec.md §3 Invariant 3), so
// its attributes are overwritten in place with SetAttr instead of routed
// through Emplace, which would otherwise try to bind an empty-name dirent
// under itself and fail with InvalidName.
func (c *Coordinator) refreshAttrOf(ctx context.Context, ino store.InodeID, st backend.Stat) (*store.InodeRecord, error) {
	if ino == store.RootIno {
		txn, err := c.cache.BeginRW(ctx)
		if err != nil {
			return nil, err
		}
		defer txn.Rollback()
		if err := txn.SetAttr(ino, st.InodeAttributesFrom()); err != nil {
			return nil, err
		}
		rec, err := txn.GetAttr(ino)
		if err != nil {
			return nil, err
		}
		if err := txn.Commit(); err != nil {
			return nil, err
		}
		return rec, nil
	}

	parent, name, err := c.parentAndName(ctx, ino)
	if err != nil {
		return nil, err
	}
	return c.emplace(ctx, parent, name, st)
}

// parentAndName resolves ino's (parent, name) binding for re-emplacement.
func (c *Coordinator) parentAndName(ctx context.Context, ino store.InodeID) (store.InodeID, string, error) {
	txn, err := c.cache.BeginRO(ctx)
	if err != nil {
		return store.InvalidIno, "", err
	}
	defer txn.Rollback()
	parent, name, err := txn.ParentOf(ino)
	if err != nil {
		return store.InvalidIno, "", err
	}
	return parent, name, txn.Commit()
}
