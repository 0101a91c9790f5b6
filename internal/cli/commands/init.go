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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cachefs/internal/config"
)

var initBackendRoot string

var initCmd = &cobra.Command{
	Use:   "init [mount directory]",
	Short: "Write a default cachefs.yaml for a mount directory",
	Long: `Writes a cachefs.yaml into the target directory (current directory by
default) with --backend recorded as the backend root and the default
tunables filled in. A later 'cachefs mount' of that directory reads the
busy timeout, probe interval, log level and allow_other from the file; it
still requires --backend, and takes the backend root and cache directory
from its own flags rather than from the file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initBackendRoot, "backend", "", "path to the backend directory")
	initCmd.MarkFlagRequired("backend")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absDir, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", absDir, err)
	}

	backendRoot, err := filepath.Abs(initBackendRoot)
	if err != nil {
		return fmt.Errorf("resolving backend path: %w", err)
	}

	configPath := filepath.Join(absDir, "cachefs.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("cachefs.yaml already exists in %s (not modified)\n", absDir)
		return nil
	}

	mountCfg := &config.MountConfig{
		BackendRoot: backendRoot,
		CacheDir:    filepath.Join(absDir, ".cachefs-cache"),
		Mountpoint:  absDir,
	}
	mountCfg.ApplyDefaults()

	if err := mountCfg.Save(absDir); err != nil {
		return fmt.Errorf("writing cachefs.yaml: %w", err)
	}

	fmt.Printf("initialized %s (backend: %s)\n", configPath, backendRoot)
	return nil
}
