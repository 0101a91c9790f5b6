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

// Open implements spec.md §4.4's open(ino): the cache only ever holds
// metadata, never file content, so a regular file can only be opened for
// reading while connected to the backend.
func (c *Coordinator) Open(ctx context.Context, req Request, ino store.InodeID) {
	rec, err := c.getAttr(ctx, ino)
	if err != nil {
		req.ReplyError(cachefserr.ToErrno(err))
		return
	}
	if rec.Kind != store.KindRegular {
		req.ReplyError(syscall.EISDIR)
		return
	}
	if !c.backend.IsConnected() {
		req.ReplyError(syscall.EIO)
		return
	}

	p, err := c.pathOf(ctx, ino)
	if err != nil {
		req.ReplyError(cachefserr.ToErrno(err))
		return
	}
	bfh, err := c.backend.Open(p)
	if err != nil {
		req.ReplyError(cachefserr.ToErrno(err))
		return
	}
	req.ReplyOpen(c.handles.allocateFile(ino, bfh, true))
}

// Read implements spec.md §4.4's read(fh, offset, size) against the
// backend handle opened by Open.
func (c *Coordinator) Read(req Request, fh FileHandle, offset int64, size int) {
	f, ok := c.handles.getFile(fh)
	if !ok {
		req.ReplyError(syscall.EBADF)
		return
	}
	if !f.hasBackend {
		req.ReplyError(syscall.EIO)
		return
	}
	if !c.backend.IsConnected() {
		req.ReplyError(syscall.EIO)
		return
	}

	buf := make([]byte, size)
	n, err := c.backend.Pread(f.backend, offset, buf)
	if err != nil {
		req.ReplyError(cachefserr.ToErrno(err))
		return
	}
	req.ReplyBuf(buf[:n])
}

// Release closes the backend file handle opened by Open.
func (c *Coordinator) Release(req Request, fh FileHandle) {
	f, ok := c.handles.getFile(fh)
	if ok && f.hasBackend {
		_ = c.backend.Release(f.backend)
	}
	c.handles.releaseFile(fh)
	req.ReplyError(0)
}
