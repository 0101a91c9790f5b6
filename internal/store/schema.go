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

import "fmt"

// SchemaVersion is recorded in schema_info on a freshly initialized store
// and checked on every open. Forward-compatible additions of new flag bits
// do not bump this; only changes to the table shapes below do.
const SchemaVersion = "1"

// DefaultBusyTimeoutMS is the SQLite busy_timeout, in milliseconds, used
// when a caller does not override it. High enough to absorb a concurrent
// RW transaction's commit without the RO reader giving up.
const DefaultBusyTimeoutMS = 30000

// BuildDSN builds the SQLite DSN for the store's data file, with WAL mode
// (so RO transactions are not blocked by an in-flight RW transaction) and
// the given busy_timeout.
func BuildDSN(path string, busyTimeoutMS int) string {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = DefaultBusyTimeoutMS
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, busyTimeoutMS)
}

const ddl = `
CREATE TABLE IF NOT EXISTS schema_info (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inodes (
	ino INTEGER PRIMARY KEY,
	kind INTEGER NOT NULL,
	mode INTEGER NOT NULL,
	uid INTEGER NOT NULL DEFAULT 0,
	gid INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	atime_sec INTEGER NOT NULL DEFAULT 0,
	atime_nsec INTEGER NOT NULL DEFAULT 0,
	mtime_sec INTEGER NOT NULL DEFAULT 0,
	mtime_nsec INTEGER NOT NULL DEFAULT 0,
	ctime_sec INTEGER NOT NULL DEFAULT 0,
	ctime_nsec INTEGER NOT NULL DEFAULT 0,
	flags INTEGER NOT NULL DEFAULT 0,
	link_target TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dirents (
	parent_ino INTEGER NOT NULL,
	name TEXT NOT NULL,
	child_ino INTEGER NOT NULL,
	PRIMARY KEY (parent_ino, name)
);

CREATE INDEX IF NOT EXISTS idx_dirents_parent ON dirents(parent_ino, child_ino);
CREATE INDEX IF NOT EXISTS idx_dirents_child ON dirents(child_ino);
`
