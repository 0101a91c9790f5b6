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

// Package coordinator is the Filesystem Coordinator of spec.md §4.4: it
// receives kernel-level requests, decides whether to serve from cache or
// backend per the decision protocol, updates the cache on a successful
// backend read, and fires exactly one Reply* on the given Request.
package coordinator

import (
	"context"
	"path"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"cachefs/internal/backend"
	"cachefs/internal/cache"
	"cachefs/internal/cachefserr"
	"cachefs/internal/store"
)

// AttrTimeout is the validity duration handed back with ReplyEntry/ReplyAttr.
// Since every attribute the kernel sees already passed through a
// transactional, possibly backend-refreshed read, there is no benefit to a
// long kernel-side cache; this just amortizes repeated GETATTRs within a
// single burst of lookups.
const AttrTimeout = 1 * time.Second

// Coordinator implements the decision protocol against a Cache and a
// backend Adapter.
type Coordinator struct {
	cache   *cache.Cache
	backend *backend.Adapter
	handles *handleTable
}

// New constructs a Coordinator over an already-open cache and backend.
func New(c *cache.Cache, b *backend.Adapter) *Coordinator {
	return &Coordinator{cache: c, backend: b, handles: newHandleTable()}
}

// BackendConnected reports the coordinator's current view of backend
// reachability.
func (c *Coordinator) BackendConnected() bool {
	return c.backend.IsConnected()
}

// pathOf reconstructs ino's backend-relative path using a fresh RO
// transaction.
func (c *Coordinator) pathOf(ctx context.Context, ino store.InodeID) (string, error) {
	txn, err := c.cache.BeginRO(ctx)
	if err != nil {
		return "", err
	}
	defer txn.Rollback()
	p, err := pathOf(txn, ino)
	if err != nil {
		return "", err
	}
	return p, txn.Commit()
}

// getAttr reads ino's current record from the cache.
func (c *Coordinator) getAttr(ctx context.Context, ino store.InodeID) (*store.InodeRecord, error) {
	txn, err := c.cache.BeginRO(ctx)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()
	rec, err := txn.GetAttr(ino)
	if err != nil {
		return nil, err
	}
	return rec, txn.Commit()
}

// lookupCached resolves (parent, name) from the cache only, returning the
// inode record on a hit.
func (c *Coordinator) lookupCached(ctx context.Context, parent store.InodeID, name string) (*store.InodeRecord, error) {
	txn, err := c.cache.BeginRO(ctx)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()
	ino, err := txn.Lookup(parent, name)
	if err != nil {
		return nil, err
	}
	rec, err := txn.GetAttr(ino)
	if err != nil {
		return nil, err
	}
	return rec, txn.Commit()
}

// emplace persists a fresh backend.Stat as a child of parent, inside its
// own short RW transaction — backend I/O must already be done by the time
// this is called (spec.md §5's "backend call first, then open a RW
// transaction" pattern; transactions never perform backend I/O while held).
func (c *Coordinator) emplace(ctx context.Context, parent store.InodeID, name string, st backend.Stat) (*store.InodeRecord, error) {
	txn, err := c.cache.BeginRW(ctx)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	attrs := st.InodeAttributesFrom()
	ino, err := txn.Emplace(parent, name, st.Kind, attrs)
	if err != nil {
		return nil, err
	}
	if st.Kind == store.KindLink && st.LinkTarget != "" {
		// Emplace does not carry the link target through InodeAttributes;
		// set it directly on the freshly written record.
		if err := txn.SetLinkTarget(ino, st.LinkTarget); err != nil {
			return nil, err
		}
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

// cleanupStaleIfSynced removes a (parent, name) binding the backend just
// reported missing, but only if parent is SYNCED — spec.md §4.4's lookup
// rule: "else leave the stale binding: we cannot distinguish 'deleted' from
// 'unreachable'" when SYNCED is not set.
func (c *Coordinator) cleanupStaleIfSynced(ctx context.Context, parent store.InodeID, name string) {
	txn, err := c.cache.BeginRW(ctx)
	if err != nil {
		return
	}
	defer txn.Rollback()
	synced, err := txn.TestFlag(parent, store.FlagSynced)
	if err != nil || !synced {
		return
	}
	if err := txn.RemoveEntry(parent, name); err != nil {
		log.Debugf("coordinator: cleanup of stale %q under %d failed: %v", name, parent, err)
		return
	}
	if err := txn.Commit(); err != nil {
		log.Debugf("coordinator: cleanup commit failed: %v", err)
	}
}

// backendErrno extracts the errno carried by a Backend-kind taxonomy
// error, or ok=false if err is not one.
func backendErrno(err error) (syscall.Errno, bool) {
	e, ok := cachefserr.As(err)
	if !ok || e.Kind != cachefserr.Backend {
		return 0, false
	}
	return e.Errno, true
}

// shouldFallBackToCache reports whether a backend failure is the kind the
// propagation policy says to recover from by consulting the cache:
// Disconnected, or a Backend(EIO). All other backend errnos are passed
// through untouched (spec.md §7).
func shouldFallBackToCache(err error) bool {
	if cachefserr.IsKind(err, cachefserr.Disconnected) {
		return true
	}
	if errno, ok := backendErrno(err); ok && errno == syscall.EIO {
		return true
	}
	return false
}

func joinPath(dir, name string) string {
	return path.Join(dir, name)
}
