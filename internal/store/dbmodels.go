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

import "github.com/uptrace/bun"

// Bun ORM row models. These mirror the schema in schema.go and convert to
// and from the domain InodeRecord/DirEntry types used by RoTxn/RwTxn.

// schemaInfoRow is the schema_info table: key/value pairs, currently just
// the schema version and the next_ino counter (spec.md's `meta` keyspace).
type schemaInfoRow struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

const (
	metaKeySchemaVersion = "schema_version"
	metaKeyNextIno       = "next_ino"
)

// inodeRow is the inodes table (spec.md's `inode` keyspace, flags packed in).
type inodeRow struct {
	bun.BaseModel `bun:"table:inodes"`

	Ino        int64  `bun:"ino,pk"`
	Kind       uint8  `bun:"kind,notnull"`
	Mode       uint32 `bun:"mode,notnull"`
	UID        uint32 `bun:"uid,notnull"`
	GID        uint32 `bun:"gid,notnull"`
	Size       int64  `bun:"size,notnull"`
	AtimeSec   int64  `bun:"atime_sec,notnull"`
	AtimeNsec  uint32 `bun:"atime_nsec,notnull"`
	MtimeSec   int64  `bun:"mtime_sec,notnull"`
	MtimeNsec  uint32 `bun:"mtime_nsec,notnull"`
	CtimeSec   int64  `bun:"ctime_sec,notnull"`
	CtimeNsec  uint32 `bun:"ctime_nsec,notnull"`
	Flags      uint32 `bun:"flags,notnull"`
	LinkTarget string `bun:"link_target,notnull"`
}

func (r *inodeRow) toRecord() *InodeRecord {
	return &InodeRecord{
		Ino:  r.Ino,
		Kind: Kind(r.Kind),
		InodeAttributes: InodeAttributes{
			Mode:  r.Mode,
			UID:   r.UID,
			GID:   r.GID,
			Size:  r.Size,
			Atime: Timespec{Sec: r.AtimeSec, Nsec: r.AtimeNsec},
			Mtime: Timespec{Sec: r.MtimeSec, Nsec: r.MtimeNsec},
			Ctime: Timespec{Sec: r.CtimeSec, Nsec: r.CtimeNsec},
		},
		Flags:      Flag(r.Flags),
		LinkTarget: r.LinkTarget,
	}
}

func rowFromRecord(rec *InodeRecord) *inodeRow {
	return &inodeRow{
		Ino:        rec.Ino,
		Kind:       uint8(rec.Kind),
		Mode:       rec.Mode,
		UID:        rec.UID,
		GID:        rec.GID,
		Size:       rec.Size,
		AtimeSec:   rec.Atime.Sec,
		AtimeNsec:  rec.Atime.Nsec,
		MtimeSec:   rec.Mtime.Sec,
		MtimeNsec:  rec.Mtime.Nsec,
		CtimeSec:   rec.Ctime.Sec,
		CtimeNsec:  rec.Ctime.Nsec,
		Flags:      uint32(rec.Flags),
		LinkTarget: rec.LinkTarget,
	}
}

// direntRow is the dirents table (spec.md's `dirent` keyspace).
type direntRow struct {
	bun.BaseModel `bun:"table:dirents"`

	ParentIno int64  `bun:"parent_ino,pk"`
	Name      string `bun:"name,pk"`
	ChildIno  int64  `bun:"child_ino,notnull"`
}
