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

// Package cache is the thin façade spec.md §4.2 describes: it owns the
// physical store handle, enforces RW exclusivity at the process level, and
// exposes the begin_ro/begin_rw transaction factories used by the
// coordinator. It holds no filesystem semantics of its own.
package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"cachefs/internal/store"
)

// Cache is single-process and expects exclusive access to its directory;
// concurrent processes opening the same directory is undefined behavior
// per spec.md §4.2, so Open fails fast instead of risking store corruption.
type Cache struct {
	dir   string
	store *store.Store
	lock  *flock.Flock

	// rwMu serializes RwTxns at the Go level. SQLite would eventually
	// serialize them anyway, but holding the lock here avoids busy-retry
	// churn for the common single-process case and gives RW the exclusivity
	// spec.md §3's Transaction entity requires (see DESIGN.md).
	rwMu sync.Mutex
}

// Options configure Open.
type Options struct {
	BusyTimeoutMS int
}

// Open opens the Inode Store rooted at dir (creating it if absent),
// guaranteeing ROOT_INO exists on return. dir must not already be open by
// another process.
func Open(dir string, opts Options) (*Cache, error) {
	lock := flock.New(filepath.Join(dir, ".cachefs.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cache: acquire lock on %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("cache: %s is already open by another process", dir)
	}

	s, err := store.Open(filepath.Join(dir, "cache.db"), store.Options{BusyTimeoutMS: opts.BusyTimeoutMS})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	log.Infof("cache: opened %s", dir)
	return &Cache{dir: dir, store: s, lock: lock}, nil
}

// Close releases the store handle and the exclusivity lock.
func (c *Cache) Close() error {
	err := c.store.Close()
	if unlockErr := c.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// BeginRO opens a read-only transaction. The store's database handle is
// limited to one open connection, which a transaction holds until it
// commits or rolls back, so RoTxns do not run concurrently: BeginRO waits
// until any open RoTxn or RwTxn has finished.
func (c *Cache) BeginRO(ctx context.Context) (*store.RoTxn, error) {
	return c.store.BeginRO(ctx)
}

// BeginRW blocks until any other in-flight RwTxn has committed or rolled
// back, then opens an exclusive read-write transaction. Callers must commit
// or roll back promptly: held RwTxns block all other writers.
func (c *Cache) BeginRW(ctx context.Context) (*RwTxn, error) {
	c.rwMu.Lock()
	txn, err := c.store.BeginRW(ctx)
	if err != nil {
		c.rwMu.Unlock()
		return nil, err
	}
	return &RwTxn{RwTxn: txn, release: c.rwMu.Unlock}, nil
}

// RwTxn wraps store.RwTxn to release the Cache's serialization lock exactly
// once, whichever of Commit/Rollback is called first.
type RwTxn struct {
	*store.RwTxn
	release func()
	done    bool
}

func (t *RwTxn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()
	if err := t.RwTxn.Commit(); err != nil {
		log.Debugf("cache: rw transaction commit failed: %v", err)
		return err
	}
	log.Debugf("cache: rw transaction committed")
	return nil
}

func (t *RwTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()
	return t.RwTxn.Rollback()
}
