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

	"cachefs/internal/cachefserr"
	"cachefs/internal/store"
)

// ReadDir implements spec.md §4.4's readdir(ino, offset): purely a cache
// read. Freshness is entirely opendir's responsibility (reconcileDir runs
// there, once per directory-listing session) — a paginated readdir never
// re-lists the backend, so every page it returns is a consistent snapshot
// of whatever opendir observed.
func (c *Coordinator) ReadDir(ctx context.Context, req Request, fh FileHandle, offset int64) {
	d, ok := c.handles.getDir(fh)
	if !ok {
		req.ReplyError(syscall.EBADF)
		return
	}

	synced, err := c.TestFlag(ctx, d.ino, store.FlagSynced)
	if err != nil {
		req.ReplyError(cachefserr.ToErrno(err))
		return
	}
	if !synced {
		// Never reconciled and nothing to fall back to: the cached entry
		// set, if any, is not known to be the full directory (spec.md §8
		// scenario 7 — degraded readdir on an un-SYNCED directory is EIO,
		// not a possibly-empty listing).
		req.ReplyError(syscall.EIO)
		return
	}

	entries, err := c.readDirCached(ctx, d.ino, offset)
	if err != nil {
		req.ReplyError(cachefserr.ToErrno(err))
		return
	}
	req.ReplyDirents(entries)
}

// TestFlag reports whether flag is set on ino, reading through a fresh RO
// transaction.
func (c *Coordinator) TestFlag(ctx context.Context, ino store.InodeID, flag store.Flag) (bool, error) {
	txn, err := c.cache.BeginRO(ctx)
	if err != nil {
		return false, err
	}
	defer txn.Rollback()
	ok, err := txn.TestFlag(ino, flag)
	if err != nil {
		return false, err
	}
	return ok, txn.Commit()
}

// dotOffset matches DESIGN.md's directory-offset decision: "." is the
// synthetic 0 position, ".." carries the parent's own inode number, and
// each real entry's offset is its own inode number (which is always greater
// than the inode numbers of its directory and that directory's parent,
// since a child is only ever created after its parent exists).
const dotOffset int64 = 0

// readDirCached synthesises "." and ".." (if offset covers them) and then
// serves real entries from the cache strictly after offset.
func (c *Coordinator) readDirCached(ctx context.Context, ino store.InodeID, offset int64) ([]DirentReply, error) {
	txn, err := c.cache.BeginRO(ctx)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	parentIno := ino
	if ino != store.RootIno {
		p, _, err := txn.ParentOf(ino)
		if err != nil {
			return nil, err
		}
		parentIno = p
	}

	var out []DirentReply
	if offset < dotOffset+1 {
		out = append(out, DirentReply{Name: ".", Ino: ino, Kind: store.KindDir, Offset: dotOffset})
	}
	if offset < int64(parentIno) {
		out = append(out, DirentReply{Name: "..", Ino: parentIno, Kind: store.KindDir, Offset: int64(parentIno)})
	}

	entries, err := txn.ReadDir(ino, offset)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		rec, err := txn.GetAttr(e.Child)
		if err != nil {
			return nil, err
		}
		out = append(out, DirentReply{Name: e.Name, Ino: e.Child, Kind: rec.Kind, Offset: e.Offset})
	}
	return out, txn.Commit()
}
