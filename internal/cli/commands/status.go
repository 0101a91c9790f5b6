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

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"cachefs/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status <mountpoint>",
	Short: "Show whether a mountpoint has a running cachefs daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	mountpoint, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving mountpoint: %w", err)
	}

	if !daemon.IsRunning(mountpoint) {
		fmt.Printf("%s: not mounted\n", mountpoint)
		return nil
	}

	pid, err := daemon.GetPID(mountpoint)
	if err != nil {
		return fmt.Errorf("reading pid for %s: %w", mountpoint, err)
	}
	fmt.Printf("%s: mounted (pid %d)\n", mountpoint, pid)
	return nil
}
