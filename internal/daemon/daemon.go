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

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"cachefs/internal/util"
)

// Daemon owns a single FUSE mount's process lifetime: the exclusivity
// lock, PID file, log file, and signal handling that bring the mount down
// cleanly on SIGINT/SIGTERM.
type Daemon struct {
	SessionID  string
	Mountpoint string
	LogLevel   string

	server  *fuse.Server
	lock    *flock.Flock
	logFile *os.File
}

// New constructs a Daemon for an already-mounted fuse.Server.
func New(mountpoint string, server *fuse.Server, logLevel string) *Daemon {
	return &Daemon{
		SessionID:  uuid.New().String(),
		Mountpoint: mountpoint,
		LogLevel:   logLevel,
		server:     server,
	}
}

// Run blocks until the mount is unmounted or a termination signal arrives,
// then performs an orderly unmount. Callers typically run this in the
// foreground process that called fuseserver.Mount.
func (d *Daemon) Run() error {
	if err := EnsureRunDir(); err != nil {
		return err
	}

	d.lock = flock.New(LockPath(d.Mountpoint))
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("daemon: acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon: %s is already managed by another process", d.Mountpoint)
	}
	defer d.lock.Unlock()

	d.setupLogging()

	if err := d.writePidFile(); err != nil {
		return err
	}
	defer d.removePidFile()

	log.Infof("daemon: session %s started for %s (pid %d)", d.SessionID, d.Mountpoint, os.Getpid())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Infof("daemon: received %v, unmounting %s", sig, d.Mountpoint)
		if err := d.server.Unmount(); err != nil {
			log.Warnf("daemon: unmount failed: %v", err)
		}
	}()

	go d.server.Serve()

	// Wait blocks until the kernel reports the filesystem unmounted, either
	// because the signal handler above requested it or because something
	// else (fusermount -u, a lazy unmount) did.
	d.server.Wait()
	log.Infof("daemon: session %s stopped", d.SessionID)
	return nil
}

func (d *Daemon) setupLogging() {
	level := strings.ToLower(d.LogLevel)
	if level == "" || level == "none" || level == "off" {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.FatalLevel + 1)
		return
	}

	logFile, err := os.OpenFile(LogPath(d.Mountpoint), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err == nil {
		d.logFile = logFile
		log.SetOutput(logFile)
	}

	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

func (d *Daemon) writePidFile() error {
	return os.WriteFile(PidPath(d.Mountpoint), []byte(strconv.Itoa(os.Getpid())), 0600)
}

func (d *Daemon) removePidFile() {
	_ = os.Remove(PidPath(d.Mountpoint))
}

// GetPID reads the PID file for mountpoint's daemon, if any.
func GetPID(mountpoint string) (int, error) {
	data, err := os.ReadFile(PidPath(mountpoint))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// IsRunning reports whether mountpoint has a live daemon process.
func IsRunning(mountpoint string) bool {
	pid, err := GetPID(mountpoint)
	if err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Stop sends SIGTERM to mountpoint's daemon process, requesting an orderly
// unmount, and waits for it to exit before force-killing it.
func Stop(mountpoint string) error {
	pid, err := GetPID(mountpoint)
	if err != nil {
		return fmt.Errorf("daemon: no running process recorded for %s: %w", mountpoint, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return util.StopProcess(context.Background(), pid, util.ProcessConfig{},
		func() error { return proc.Signal(syscall.SIGTERM) },
		func() bool { return IsRunning(mountpoint) },
	)
}
