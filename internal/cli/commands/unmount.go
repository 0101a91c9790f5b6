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

var unmountCmd = &cobra.Command{
	Use:     "unmount <mountpoint>",
	Aliases: []string{"umount"},
	Short:   "Unmount a cachefs mount",
	Args:    cobra.ExactArgs(1),
	RunE:    runUnmount,
}

func init() {
	rootCmd.AddCommand(unmountCmd)
}

func runUnmount(cmd *cobra.Command, args []string) error {
	mountpoint, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving mountpoint: %w", err)
	}

	if !daemon.IsRunning(mountpoint) {
		return fmt.Errorf("%s is not mounted", mountpoint)
	}

	if err := daemon.Stop(mountpoint); err != nil {
		return fmt.Errorf("unmounting %s: %w", mountpoint, err)
	}

	fmt.Printf("unmounted %s\n", mountpoint)
	return nil
}
