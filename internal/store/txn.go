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

package store

import (
	"context"
	"database/sql"
	"sort"

	"github.com/uptrace/bun"

	"cachefs/internal/cachefserr"
)

// RoTxn is a read-only transaction scope (spec.md §3's Transaction entity,
// mode RO). RoTxns are not concurrent: Open limits the database handle to
// one connection, held by a transaction until it ends. Callers must call Commit or
// Rollback exactly once; typical use is `defer txn.Rollback()` immediately
// followed, on the success path, by `txn.Commit()` — mirroring the
// block-scoped guard pattern spec.md §9 calls for, since Go has no
// destructors to release the transaction automatically.
type RoTxn struct {
	tx   bun.Tx
	ctx  context.Context
	done bool
}

// BeginRO opens a read-only transaction. It waits for the store's single
// connection, so it does not proceed while another RoTxn or an RwTxn is
// open.
func (s *Store) BeginRO(ctx context.Context) (*RoTxn, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, cachefserr.Wrap(cachefserr.StoreIoError, "begin ro transaction", err)
	}
	return &RoTxn{tx: tx, ctx: ctx}, nil
}

// Commit releases the transaction. For a RoTxn this never fails in
// practice (SQLite has nothing to flush for a read-only transaction) but
// the error is still surfaced so callers don't assume otherwise.
func (t *RoTxn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return cachefserr.Wrap(cachefserr.StoreIoError, "commit ro transaction", err)
	}
	return nil
}

// Rollback releases the transaction without requiring its reads to have
// succeeded. Safe to call after Commit; it is then a no-op.
func (t *RoTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// GetAttr returns the inode record for ino, or a NotFound taxonomy error.
func (t *RoTxn) GetAttr(ino InodeID) (*InodeRecord, error) {
	var row inodeRow
	err := t.tx.NewSelect().Model(&row).Where("ino = ?", ino).Scan(t.ctx)
	if err == sql.ErrNoRows {
		return nil, cachefserr.ErrNotFound
	}
	if err != nil {
		return nil, cachefserr.Wrap(cachefserr.StoreIoError, "getattr", err)
	}
	return row.toRecord(), nil
}

// Lookup resolves (parent, name) to a child inode number.
func (t *RoTxn) Lookup(parent InodeID, name string) (InodeID, error) {
	var row direntRow
	err := t.tx.NewSelect().Model(&row).
		Where("parent_ino = ?", parent).
		Where("name = ?", name).
		Scan(t.ctx)
	if err == sql.ErrNoRows {
		return InvalidIno, cachefserr.ErrNotFound
	}
	if err != nil {
		return InvalidIno, cachefserr.Wrap(cachefserr.StoreIoError, "lookup", err)
	}
	return row.ChildIno, nil
}

// ReadDir returns the real directory entries of parent whose offset is
// strictly greater than startOffset, ordered by offset ascending. Offsets
// are the child inode numbers (see DESIGN.md's directory-offset decision);
// synthetic "." and ".." entries are the coordinator's responsibility, not
// the store's (spec.md §4.4 draws that line at the coordinator).
func (t *RoTxn) ReadDir(parent InodeID, startOffset int64) ([]DirEntry, error) {
	var rows []direntRow
	err := t.tx.NewSelect().Model(&rows).
		Where("parent_ino = ?", parent).
		Where("child_ino > ?", startOffset).
		Scan(t.ctx)
	if err != nil {
		return nil, cachefserr.Wrap(cachefserr.StoreIoError, "readdir", err)
	}
	entries := make([]DirEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, DirEntry{Name: r.Name, Child: r.ChildIno, Offset: r.ChildIno})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })
	return entries, nil
}

// TestFlag reports whether flag is set on ino.
func (t *RoTxn) TestFlag(ino InodeID, flag Flag) (bool, error) {
	rec, err := t.GetAttr(ino)
	if err != nil {
		return false, err
	}
	return rec.HasFlag(flag), nil
}

// ParentOf returns the (parent, name) binding pointing at ino, used to
// reconstruct a path by walking parent links (spec.md §4.4: "the path for
// an ino is reconstructed by walking parent links in the store"). ROOT_INO
// has no parent entry per Invariant 3 and returns NotFound.
func (t *RoTxn) ParentOf(ino InodeID) (parent InodeID, name string, err error) {
	if ino == RootIno {
		return InvalidIno, "", cachefserr.ErrNotFound
	}
	var row direntRow
	dbErr := t.tx.NewSelect().Model(&row).Where("child_ino = ?", ino).Limit(1).Scan(t.ctx)
	if dbErr == sql.ErrNoRows {
		return InvalidIno, "", cachefserr.ErrNotFound
	}
	if dbErr != nil {
		return InvalidIno, "", cachefserr.Wrap(cachefserr.StoreIoError, "parent lookup", dbErr)
	}
	return row.ParentIno, row.Name, nil
}

// Readlink returns the link target of a KindLink inode, or a KindMismatch
// taxonomy error if ino is not a link.
func (t *RoTxn) Readlink(ino InodeID) (string, error) {
	rec, err := t.GetAttr(ino)
	if err != nil {
		return "", err
	}
	if rec.Kind != KindLink {
		return "", cachefserr.New(cachefserr.KindMismatch, "readlink on non-link inode")
	}
	return rec.LinkTarget, nil
}

// RwTxn is an exclusive read-write transaction scope. The Cache is
// responsible for serializing RwTxns at the process level (DESIGN.md); the
// store itself relies on SQLite's own single-writer semantics as a second
// line of defense.
type RwTxn struct {
	RoTxn
}

// BeginRW opens a read-write transaction.
func (s *Store) BeginRW(ctx context.Context) (*RwTxn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cachefserr.Wrap(cachefserr.StoreIoError, "begin rw transaction", err)
	}
	return &RwTxn{RoTxn: RoTxn{tx: tx, ctx: ctx}}, nil
}

// Commit persists all writes made in this transaction through
// commitWithRetry; a commit that fails, including with "database is
// locked", is returned as StoreIoError without a second commit attempt
// reaching SQLite.
func (t *RwTxn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := commitWithRetry(t.ctx, t.tx); err != nil {
		return cachefserr.Wrap(cachefserr.StoreIoError, "commit rw transaction", err)
	}
	return nil
}

// Emplace implements spec.md §4.1's inode-allocation algorithm: reuse the
// existing inode if (parent, name) already maps to one of the same kind
// (updating its attributes), otherwise discard any stale binding of a
// different kind and allocate a fresh inode.
func (t *RwTxn) Emplace(parent InodeID, name string, kind Kind, attrs InodeAttributes) (InodeID, error) {
	if !validateName(name) {
		return InvalidIno, cachefserr.ErrInvalidName
	}

	var existing direntRow
	err := t.tx.NewSelect().Model(&existing).
		Where("parent_ino = ?", parent).
		Where("name = ?", name).
		Scan(t.ctx)
	switch {
	case err == sql.ErrNoRows:
		return t.allocateAndBind(parent, name, kind, attrs)
	case err != nil:
		return InvalidIno, cachefserr.Wrap(cachefserr.StoreIoError, "emplace lookup", err)
	}

	existingInode, err := t.GetAttr(existing.ChildIno)
	if err != nil && !cachefserr.IsKind(err, cachefserr.NotFound) {
		return InvalidIno, err
	}
	if err == nil && existingInode.Kind == kind {
		rec := *existingInode
		rec.InodeAttributes = attrs
		if err := t.writeInode(&rec); err != nil {
			return InvalidIno, err
		}
		return existingInode.Ino, nil
	}

	// Either the inode vanished underneath a dangling dirent, or its kind
	// changed: discard the stale binding and allocate fresh (spec.md
	// Invariant 2, "kind stability").
	if err == nil {
		if err := t.removeSubtree(existingInode.Ino); err != nil {
			return InvalidIno, err
		}
	}
	return t.allocateAndBind(parent, name, kind, attrs)
}

func (t *RwTxn) allocateAndBind(parent InodeID, name string, kind Kind, attrs InodeAttributes) (InodeID, error) {
	ino, err := nextIno(t.ctx, t.tx)
	if err != nil {
		return InvalidIno, cachefserr.Wrap(cachefserr.StoreIoError, "allocate inode", err)
	}
	rec := &InodeRecord{Ino: ino, Kind: kind, InodeAttributes: attrs}
	if err := t.writeInode(rec); err != nil {
		return InvalidIno, err
	}
	if _, err := t.tx.NewInsert().
		Model(&direntRow{ParentIno: parent, Name: name, ChildIno: ino}).
		On("CONFLICT (parent_ino, name) DO UPDATE").
		Set("child_ino = EXCLUDED.child_ino").
		Exec(t.ctx); err != nil {
		return InvalidIno, cachefserr.Wrap(cachefserr.StoreIoError, "bind dirent", err)
	}
	return ino, nil
}

func (t *RwTxn) writeInode(rec *InodeRecord) error {
	row := rowFromRecord(rec)
	_, err := t.tx.NewInsert().
		Model(row).
		On("CONFLICT (ino) DO UPDATE").
		Set("kind = EXCLUDED.kind").
		Set("mode = EXCLUDED.mode").
		Set("uid = EXCLUDED.uid").
		Set("gid = EXCLUDED.gid").
		Set("size = EXCLUDED.size").
		Set("atime_sec = EXCLUDED.atime_sec").
		Set("atime_nsec = EXCLUDED.atime_nsec").
		Set("mtime_sec = EXCLUDED.mtime_sec").
		Set("mtime_nsec = EXCLUDED.mtime_nsec").
		Set("ctime_sec = EXCLUDED.ctime_sec").
		Set("ctime_nsec = EXCLUDED.ctime_nsec").
		Set("flags = EXCLUDED.flags").
		Set("link_target = EXCLUDED.link_target").
		Exec(t.ctx)
	if err != nil {
		return cachefserr.Wrap(cachefserr.StoreIoError, "write inode", err)
	}
	return nil
}

// removeSubtree deletes ino and, if it is a directory, recursively deletes
// everything still bound under it — spec.md §4.1's "the old inode's
// outgoing entries are recursively removed" on a kind mismatch.
func (t *RwTxn) removeSubtree(ino InodeID) error {
	var children []direntRow
	if err := t.tx.NewSelect().Model(&children).Where("parent_ino = ?", ino).Scan(t.ctx); err != nil {
		return cachefserr.Wrap(cachefserr.StoreIoError, "list subtree", err)
	}
	for _, c := range children {
		if err := t.removeSubtree(c.ChildIno); err != nil {
			return err
		}
	}
	if _, err := t.tx.NewDelete().Model((*direntRow)(nil)).Where("parent_ino = ?", ino).Exec(t.ctx); err != nil {
		return cachefserr.Wrap(cachefserr.StoreIoError, "delete subtree dirents", err)
	}
	if _, err := t.tx.NewDelete().Model((*inodeRow)(nil)).Where("ino = ?", ino).Exec(t.ctx); err != nil {
		return cachefserr.Wrap(cachefserr.StoreIoError, "delete subtree inode", err)
	}
	return nil
}

// SetAttr overwrites ino's mutable attributes.
func (t *RwTxn) SetAttr(ino InodeID, attrs InodeAttributes) error {
	rec, err := t.GetAttr(ino)
	if err != nil {
		return err
	}
	rec.InodeAttributes = attrs
	return t.writeInode(rec)
}

// SetLinkTarget overwrites the symlink target of a KindLink inode.
func (t *RwTxn) SetLinkTarget(ino InodeID, target string) error {
	rec, err := t.GetAttr(ino)
	if err != nil {
		return err
	}
	if rec.Kind != KindLink {
		return cachefserr.New(cachefserr.KindMismatch, "setlinktarget on non-link inode")
	}
	rec.LinkTarget = target
	return t.writeInode(rec)
}

// SetFlag sets or clears flag on ino.
func (t *RwTxn) SetFlag(ino InodeID, flag Flag, value bool) error {
	rec, err := t.GetAttr(ino)
	if err != nil {
		return err
	}
	if value {
		rec.Flags |= flag
	} else {
		rec.Flags &^= flag
	}
	return t.writeInode(rec)
}

// RemoveEntry deletes the (parent, name) binding. The child inode, if it
// has no other bindings, is left in place — spec.md never requires
// removing an inode just because its last dirent went away, only that the
// binding itself stop resolving.
func (t *RwTxn) RemoveEntry(parent InodeID, name string) error {
	_, err := t.tx.NewDelete().Model((*direntRow)(nil)).
		Where("parent_ino = ?", parent).
		Where("name = ?", name).
		Exec(t.ctx)
	if err != nil {
		return cachefserr.Wrap(cachefserr.StoreIoError, "remove entry", err)
	}
	return nil
}

// RemoveEntryIfAbsentUnderSynced deletes every (parent, name) binding whose
// name is not in observedNames — spec.md §4.1's reconciliation primitive,
// called by the coordinator only after a full, successful backend
// `readdir` (never on a partial listing: see spec.md §9).
func (t *RwTxn) RemoveEntryIfAbsentUnderSynced(parent InodeID, observedNames map[string]struct{}) error {
	var rows []direntRow
	if err := t.tx.NewSelect().Model(&rows).Where("parent_ino = ?", parent).Scan(t.ctx); err != nil {
		return cachefserr.Wrap(cachefserr.StoreIoError, "list entries for reconciliation", err)
	}
	for _, r := range rows {
		if _, ok := observedNames[r.Name]; ok {
			continue
		}
		if err := t.RemoveEntry(parent, r.Name); err != nil {
			return err
		}
	}
	return nil
}
