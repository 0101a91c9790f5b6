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

	"github.com/uptrace/bun"

	"cachefs/internal/util"
)

// commitWithRetry wraps tx.Commit in util.Retry with DatabaseRetryOptions.
// database/sql marks a transaction finished on its first Commit call, so a
// repeated call returns sql.ErrTxDone, which IsDatabaseLocked does not
// match: a commit that fails with "database is locked" (e.g. while an
// external `sqlite3` reader holds the file) reaches SQLite once, and its
// error is returned rather than retried.
func commitWithRetry(ctx context.Context, tx bun.Tx) error {
	return util.Retry(ctx, func() error { return tx.Commit() }, util.DatabaseRetryOptions(ctx)...)
}
