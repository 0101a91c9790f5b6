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

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"cachefs/internal/backend"
	"cachefs/internal/cache"
	"cachefs/internal/config"
	"cachefs/internal/coordinator"
	"cachefs/internal/daemon"
	"cachefs/internal/fuseserver"
	"cachefs/internal/util"
)

var (
	mountBackendRoot string
	mountCacheDir    string
	mountAllowOther  bool
	mountBackground  bool
)

var mountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mount a backend directory with a local cache overlay",
	Long: `Mounts <mountpoint> as a FUSE view of --backend, backed by a
persistent local cache at --cache-dir. While the backend is reachable,
every operation is served fresh from it and the metadata cached; while it
is unreachable, metadata operations (lookup, getattr, readdir, readlink)
fall back to whatever the cache already knows, and opening or reading a
file fails because file content is not cached.`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().StringVar(&mountBackendRoot, "backend", "", "path to the backend directory (required)")
	mountCmd.Flags().StringVar(&mountCacheDir, "cache-dir", "", "path to the cache directory (default: <mountpoint>.cache)")
	mountCmd.Flags().BoolVar(&mountAllowOther, "allow-other", false, "allow other users to access the mount")
	mountCmd.Flags().BoolVar(&mountBackground, "background", false, "detach and run the mount in the background")
	mountCmd.MarkFlagRequired("backend")
}

func runMount(cmd *cobra.Command, args []string) error {
	mountpoint, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving mountpoint: %w", err)
	}
	backendRoot, err := filepath.Abs(mountBackendRoot)
	if err != nil {
		return fmt.Errorf("resolving backend path: %w", err)
	}
	if _, err := os.Stat(backendRoot); err != nil {
		return fmt.Errorf("backend path %s: %w", backendRoot, err)
	}

	if daemon.IsRunning(mountpoint) {
		return fmt.Errorf("%s is already mounted", mountpoint)
	}

	cacheDir := mountCacheDir
	if cacheDir == "" {
		cacheDir = mountpoint + ".cache"
	}
	mountCfg, err := config.LoadMountConfig(mountpoint)
	if err != nil {
		return fmt.Errorf("loading mount config: %w", err)
	}
	mountCfg.BackendRoot, mountCfg.CacheDir, mountCfg.Mountpoint = backendRoot, cacheDir, mountpoint
	if mountAllowOther {
		mountCfg.AllowOther = true
	}

	if mountBackground {
		return startInBackground(cmd, mountpoint)
	}

	return runMountForeground(mountCfg)
}

func startInBackground(cmd *cobra.Command, mountpoint string) error {
	exe, err := util.GetExecutablePath()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}
	childArgs := []string{"mount", "--backend", mountBackendRoot, mountpoint}
	if mountCacheDir != "" {
		childArgs = append(childArgs, "--cache-dir", mountCacheDir)
	}
	if mountAllowOther {
		childArgs = append(childArgs, "--allow-other")
	}
	proc, err := util.StartBackgroundProcess(exe, childArgs, nil)
	if err != nil {
		return fmt.Errorf("starting background mount: %w", err)
	}
	fmt.Printf("mounted %s in background (pid %d)\n", mountpoint, proc.Pid)
	return nil
}

func runMountForeground(mountCfg *config.MountConfig) error {
	fs := osfs.New(mountCfg.BackendRoot)
	c, err := cache.Open(mountCfg.CacheDir, cache.Options{BusyTimeoutMS: mountCfg.BusyTimeoutMS})
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer c.Close()

	b := backend.New(fs, backend.Options{ProbeInterval: mountCfg.ProbeInterval})
	defer b.Close()

	co := coordinator.New(c, b)
	server, err := fuseserver.Mount(co, fuseserver.Options{
		Mountpoint: mountCfg.Mountpoint,
		AllowOther: mountCfg.AllowOther,
	})
	if err != nil {
		return fmt.Errorf("mounting: %w", err)
	}

	d := daemon.New(mountCfg.Mountpoint, server, mountCfg.LogLevel)
	fmt.Printf("mounted %s (session %s)\n", mountCfg.Mountpoint, d.SessionID)
	return d.Run()
}
