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
	"path"

	"cachefs/internal/store"
)

// pathOf reconstructs the backend-relative path for ino by walking parent
// links in txn — spec.md §9's resolution to the cyclic parent-pointer
// problem: parents are inode numbers, not handles, so path reconstruction
// is a lookup sequence rather than a pointer walk.
func pathOf(txn *store.RoTxn, ino store.InodeID) (string, error) {
	if ino == store.RootIno {
		return "/", nil
	}
	var segments []string
	cur := ino
	for cur != store.RootIno {
		parent, name, err := txn.ParentOf(cur)
		if err != nil {
			return "", err
		}
		segments = append(segments, name)
		cur = parent
	}
	// segments were collected leaf-to-root; reverse into root-to-leaf order.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	joined := "/" + path.Join(segments...)
	return joined, nil
}
