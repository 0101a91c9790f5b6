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

package fuseserver

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"cachefs/internal/coordinator"
	"cachefs/internal/store"
)

// Options configures Mount.
type Options struct {
	Mountpoint string
	FsName     string
	AllowOther bool
	Debug      bool
}

// Mount creates the mountpoint if needed and mounts the coordinator's
// filesystem there. Callers must call the returned server's Serve (it
// blocks) or run it in a goroutine, and Unmount when done.
func Mount(co *coordinator.Coordinator, opts Options) (*fuse.Server, error) {
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("fuseserver: mountpoint is required")
	}
	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("fuseserver: creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	name := opts.FsName
	if name == "" {
		name = "cachefs"
	}

	raw := &rawFS{RawFileSystem: fuse.NewDefaultRawFileSystem(), coordinator: co}
	srv, err := fuse.NewServer(raw, opts.Mountpoint, &fuse.MountOptions{
		FsName:     name,
		Name:       "cachefs",
		AllowOther: opts.AllowOther,
		Debug:      opts.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("fuseserver: mounting at %s: %w", opts.Mountpoint, err)
	}
	log.Infof("fuseserver: mounted at %s", opts.Mountpoint)
	return srv, nil
}

// rawFS adapts coordinator.Coordinator's synchronous Request-reply calls
// to go-fuse's RawFileSystem interface. Every method the coordinator
// doesn't implement a verb for falls through to the embedded default,
// which replies ENOSYS — this cache exposes a read-only view, so writes,
// xattrs, and link management are never wired.
type rawFS struct {
	fuse.RawFileSystem
	coordinator *coordinator.Coordinator
}

func statusOf(errno syscall.Errno) fuse.Status {
	return fuse.Status(errno)
}

func fillAttr(out *fuse.Attr, rec *store.InodeRecord) {
	out.Ino = uint64(rec.Ino)
	out.Size = uint64(rec.Size)
	out.Mode = rec.Mode
	out.Nlink = 1
	out.Atime = uint64(rec.Atime.Sec)
	out.Atimensec = rec.Atime.Nsec
	out.Mtime = uint64(rec.Mtime.Sec)
	out.Mtimensec = rec.Mtime.Nsec
	out.Ctime = uint64(rec.Ctime.Sec)
	out.Ctimensec = rec.Ctime.Nsec
	out.Owner = fuse.Owner{Uid: rec.UID, Gid: rec.GID}
}

func (r *rawFS) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	req := &syncRequest{}
	r.coordinator.Lookup(context.Background(), req, store.InodeID(header.NodeId), name)
	if req.errno != 0 {
		return statusOf(req.errno)
	}
	out.NodeId = uint64(req.entryIno)
	out.EntryValid = uint64(req.timeout / 1e9)
	out.EntryValidNsec = uint32(req.timeout % 1e9)
	out.AttrValid = out.EntryValid
	out.AttrValidNsec = out.EntryValidNsec
	fillAttr(&out.Attr, req.attr)
	return fuse.OK
}

func (r *rawFS) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	req := &syncRequest{}
	r.coordinator.GetAttr(context.Background(), req, store.InodeID(input.NodeId))
	if req.errno != 0 {
		return statusOf(req.errno)
	}
	out.AttrValid = uint64(req.timeout / 1e9)
	out.AttrValidNsec = uint32(req.timeout % 1e9)
	fillAttr(&out.Attr, req.attr)
	return fuse.OK
}

func (r *rawFS) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	req := &syncRequest{}
	r.coordinator.Readlink(context.Background(), req, store.InodeID(header.NodeId))
	if req.errno != 0 {
		return nil, statusOf(req.errno)
	}
	return req.buf, fuse.OK
}

func (r *rawFS) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	req := &syncRequest{}
	r.coordinator.OpenDir(context.Background(), req, store.InodeID(input.NodeId))
	if req.errno != 0 {
		return statusOf(req.errno)
	}
	out.Fh = uint64(req.fh)
	return fuse.OK
}

func (r *rawFS) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	req := &syncRequest{}
	r.coordinator.ReadDir(context.Background(), req, coordinator.FileHandle(input.Fh), int64(input.Offset))
	if req.errno != 0 {
		return statusOf(req.errno)
	}
	for _, e := range req.dirents {
		if !out.AddDirEntry(fuse.DirEntry{Name: e.Name, Ino: uint64(e.Ino), Mode: modeOf(e.Kind)}) {
			break
		}
	}
	return fuse.OK
}

func (r *rawFS) ReleaseDir(input *fuse.ReleaseIn) {
	req := &syncRequest{}
	r.coordinator.ReleaseDir(req, coordinator.FileHandle(input.Fh))
}

func (r *rawFS) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	req := &syncRequest{}
	r.coordinator.Open(context.Background(), req, store.InodeID(input.NodeId))
	if req.errno != 0 {
		return statusOf(req.errno)
	}
	out.Fh = uint64(req.fh)
	return fuse.OK
}

func (r *rawFS) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	req := &syncRequest{}
	r.coordinator.Read(req, coordinator.FileHandle(input.Fh), int64(input.Offset), int(input.Size))
	if req.errno != 0 {
		return nil, statusOf(req.errno)
	}
	n := copy(buf, req.buf)
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

func (r *rawFS) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	req := &syncRequest{}
	r.coordinator.Release(req, coordinator.FileHandle(input.Fh))
}

func modeOf(kind store.Kind) uint32 {
	switch kind {
	case store.KindDir:
		return syscall.S_IFDIR
	case store.KindLink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}
