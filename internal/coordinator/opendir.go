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

// OpenDir implements spec.md §4.4's opendir(ino): requires ino to be a
// directory; on connect, streams the backend readdir, emplaces every
// observed child, reconciles stale entries away, and sets SYNCED — all
// before replying OPEN. On disconnect, opendir still succeeds (the handle
// only gates ReadDir).
func (c *Coordinator) OpenDir(ctx context.Context, req Request, ino store.InodeID) {
	rec, err := c.getAttr(ctx, ino)
	if err != nil {
		req.ReplyError(cachefserr.ToErrno(err))
		return
	}
	if rec.Kind != store.KindDir {
		req.ReplyError(syscall.ENOTDIR)
		return
	}

	if c.backend.IsConnected() {
		if err := c.reconcileDir(ctx, ino); err != nil {
			log.Debugf("coordinator: opendir(%d) reconciliation fell back to cache: %v", ino, err)
		}
	}

	req.ReplyOpen(c.handles.allocateDir(ino))
}

// reconcileDir lists ino's directory at the backend in full, emplaces every
// observed child, deletes any cached entry no longer observed, and marks
// ino SYNCED — all inside one RW transaction so a crash midway never leaves
// the SYNCED flag set over a half-applied reconciliation.
func (c *Coordinator) reconcileDir(ctx context.Context, ino store.InodeID) error {
	p, err := c.pathOf(ctx, ino)
	if err != nil {
		return err
	}
	listing, err := c.backend.ReadDir(p)
	if err != nil {
		return err
	}

	txn, err := c.cache.BeginRW(ctx)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	observed := make(map[string]struct{}, len(listing))
	for _, st := range listing {
		observed[st.Name] = struct{}{}
		childIno, err := txn.Emplace(ino, st.Name, st.Kind, st.InodeAttributesFrom())
		if err != nil {
			return err
		}
		if st.Kind == store.KindLink && st.LinkTarget != "" {
			if err := txn.SetLinkTarget(childIno, st.LinkTarget); err != nil {
				return err
			}
		}
	}
	if err := txn.RemoveEntryIfAbsentUnderSynced(ino, observed); err != nil {
		return err
	}
	if err := txn.SetFlag(ino, store.FlagSynced, true); err != nil {
		return err
	}
	return txn.Commit()
}

// ReleaseDir frees a handle opened by OpenDir.
func (c *Coordinator) ReleaseDir(req Request, fh FileHandle) {
	c.handles.releaseDir(fh)
	req.ReplyError(0)
}
