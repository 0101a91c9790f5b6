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

package backend

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
)

// Prober is polled on a background goroutine to decide whether the backend
// is reachable. billy.Filesystem has no notion of connectivity, so the
// adapter layers this on top rather than extending the driver trait.
type Prober interface {
	Probe(ctx context.Context) error
}

// billyStatProber is the default Prober: a zero-byte Stat on the backend
// root. Production deployments with a driver-specific liveness signal (a
// TCP dial, a heartbeat RPC) can supply their own Prober instead.
type billyStatProber struct {
	fs billy.Filesystem
}

func (p billyStatProber) Probe(context.Context) error {
	_, err := p.fs.Stat(".")
	return err
}

// connectivityLoop polls prober on interval and updates connected, logging
// each transition at Info. Runs until ctx is cancelled. Unlike util.PollUntil
// (a one-shot wait for a condition with a timeout), this never stops polling
// on its own — connectivity can flap for the life of the mount, so there is
// no "done" state to time out toward.
func connectivityLoop(ctx context.Context, prober Prober, interval time.Duration, connected *atomic.Bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probeOnce(ctx, prober, connected)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeOnce(ctx, prober, connected)
		}
	}
}

func probeOnce(ctx context.Context, prober Prober, connected *atomic.Bool) {
	err := prober.Probe(ctx)
	now := err == nil
	if prev := connected.Swap(now); prev != now {
		if now {
			log.Infof("backend: connectivity restored")
		} else {
			log.Infof("backend: connectivity lost: %v", err)
		}
	}
}
