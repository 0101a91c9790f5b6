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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/tursodatabase/go-libsql"

	"cachefs/internal/cachefserr"
)

// Options configure Store.Open.
type Options struct {
	// BusyTimeoutMS is the SQLite busy_timeout. Zero uses DefaultBusyTimeoutMS.
	BusyTimeoutMS int
}

// Store is the persistent, transactional inode store (spec.md §4.1). It
// owns no in-memory state of its own beyond the open database handle: every
// read or write happens inside a RoTxn or RwTxn.
type Store struct {
	db   *bun.DB
	path string
}

// Open opens or creates a persistent store rooted at path. If the file does
// not yet exist, it is created with the schema below and ROOT_INO seeded
// per spec.md §4.1 ("mode 0755 | S_IFDIR, uid/gid of the current process,
// times = now"). If it exists, its schema_info is checked: CorruptStore is
// returned if the stored schema version differs from SchemaVersion or the
// root inode is not a directory; a failure to read schema_info or the root
// inode is returned as StoreIoError.
func Open(path string, opts Options) (*Store, error) {
	dsn := BuildDSN(path, opts.BusyTimeoutMS)
	sqlDB, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, cachefserr.Wrap(cachefserr.StoreIoError, "open sqlite handle", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	s := &Store{db: db, path: path}

	if err := s.init(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Debugf("store: opened %s", path)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	// The libsql driver runs only the first statement of a multi-statement
	// Exec, so the schema is applied one statement at a time.
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return cachefserr.Wrap(cachefserr.StoreIoError, "apply schema", err)
		}
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		version, err := getMeta(ctx, tx, metaKeySchemaVersion)
		if err != nil {
			return cachefserr.Wrap(cachefserr.StoreIoError, "read schema_info", err)
		}
		if version == "" {
			if err := setMeta(ctx, tx, metaKeySchemaVersion, SchemaVersion); err != nil {
				return cachefserr.Wrap(cachefserr.StoreIoError, "write schema_info", err)
			}
		} else if version != SchemaVersion {
			return cachefserr.New(cachefserr.CorruptStore,
				fmt.Sprintf("schema version %q on disk, this build expects %q", version, SchemaVersion))
		}

		nextIno, err := getMeta(ctx, tx, metaKeyNextIno)
		if err != nil {
			return cachefserr.Wrap(cachefserr.StoreIoError, "read next_ino", err)
		}
		if nextIno == "" {
			if err := setMeta(ctx, tx, metaKeyNextIno, strconv.FormatInt(int64(RootIno+1), 10)); err != nil {
				return cachefserr.Wrap(cachefserr.StoreIoError, "write next_ino", err)
			}
		}

		var root inodeRow
		err = tx.NewSelect().Model(&root).Where("ino = ?", RootIno).Scan(ctx)
		if err == sql.ErrNoRows {
			now := FromTime(time.Now())
			rootRec := &InodeRecord{
				Ino:  RootIno,
				Kind: KindDir,
				InodeAttributes: InodeAttributes{
					Mode:  0040755,
					UID:   uint32(os.Getuid()),
					GID:   uint32(os.Getgid()),
					Atime: now,
					Mtime: now,
					Ctime: now,
				},
			}
			row := rowFromRecord(rootRec)
			if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
				return cachefserr.Wrap(cachefserr.StoreIoError, "seed root inode", err)
			}
			return nil
		}
		if err != nil {
			return cachefserr.Wrap(cachefserr.StoreIoError, "read root inode", err)
		}
		if Kind(root.Kind) != KindDir {
			return cachefserr.New(cachefserr.CorruptStore, "root inode is not a directory")
		}
		return nil
	})
}

func getMeta(ctx context.Context, idb bun.IDB, key string) (string, error) {
	var row schemaInfoRow
	err := idb.NewSelect().Model(&row).Where("key = ?", key).Scan(ctx)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

func setMeta(ctx context.Context, idb bun.IDB, key, value string) error {
	_, err := idb.NewInsert().
		Model(&schemaInfoRow{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

// nextIno allocates and persists the next inode number. Must be called
// inside the caller's RW transaction so the allocation and whatever uses it
// commit or abort together.
func nextIno(ctx context.Context, idb bun.IDB) (InodeID, error) {
	current, err := getMeta(ctx, idb, metaKeyNextIno)
	if err != nil {
		return InvalidIno, err
	}
	n, err := strconv.ParseInt(current, 10, 64)
	if err != nil {
		return InvalidIno, fmt.Errorf("corrupt next_ino value %q: %w", current, err)
	}
	if err := setMeta(ctx, idb, metaKeyNextIno, strconv.FormatInt(n+1, 10)); err != nil {
		return InvalidIno, err
	}
	return n, nil
}
