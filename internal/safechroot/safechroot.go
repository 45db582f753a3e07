// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

// Package safechroot manages an isolated chroot session: ordered mount
// setup, execution inside the session root, and guaranteed reverse-order
// teardown on every exit path.
package safechroot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/moby/sys/mountinfo"
	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/internal/safemount"
	"golang.org/x/sys/unix"
)

// SessionState tracks the lifecycle of a chroot session.
type SessionState int

const (
	SessionStateUnmounted SessionState = iota
	SessionStateMounting
	SessionStateActive
	SessionStateUnmounting
	SessionStateClosed
	SessionStateFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateUnmounted:
		return "unmounted"
	case SessionStateMounting:
		return "mounting"
	case SessionStateActive:
		return "active"
	case SessionStateUnmounting:
		return "unmounting"
	case SessionStateClosed:
		return "closed"
	case SessionStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MountPoint describes a mount to establish inside the session root.
// Target is relative to the session root.
type MountPoint struct {
	Source string
	Target string
	FSType string
	Flags  uintptr
	Data   string
}

func NewMountPoint(source, target, fstype string, flags uintptr, data string) *MountPoint {
	return &MountPoint{
		Source: source,
		Target: target,
		FSType: fstype,
		Flags:  flags,
		Data:   data,
	}
}

// FileToCopy describes a file to place inside a directory tree. Either Src
// or Content must be set.
type FileToCopy struct {
	Src         string
	Content     *string
	Dest        string
	Permissions *fs.FileMode
}

// sessionMount is the mount surface the teardown path relies on. Satisfied
// by safemount.Mount.
type sessionMount interface {
	Target() string
	CleanClose() error
}

// Chroot is an isolated execution environment rooted at a directory.
// It is not safe for concurrent use; only one session may be active per
// working directory.
type Chroot struct {
	rootDir   string
	sessionID string
	state     SessionState
	mounts    []sessionMount
}

// defaultMountPoints returns the host runtime filesystems a Debian chroot
// needs, in mount order.
func defaultMountPoints() []*MountPoint {
	return []*MountPoint{
		NewMountPoint("/dev", "dev", "", unix.MS_BIND, ""),
		NewMountPoint("devpts", "dev/pts", "devpts", 0, "gid=5,mode=620"),
		NewMountPoint("proc", "proc", "proc", 0, ""),
		NewMountPoint("sysfs", "sys", "sysfs", 0, ""),
		NewMountPoint("/run", "run", "", unix.MS_BIND, ""),
	}
}

// NewChroot creates an inactive session for rootDir. Initialize establishes
// the mounts.
func NewChroot(rootDir string) *Chroot {
	return &Chroot{
		rootDir:   rootDir,
		sessionID: uuid.New().String(),
		state:     SessionStateUnmounted,
	}
}

func (c *Chroot) RootDir() string {
	return c.rootDir
}

func (c *Chroot) SessionID() string {
	return c.sessionID
}

func (c *Chroot) State() SessionState {
	return c.state
}

// Initialize mounts the session's filesystems: the default host runtime
// mounts (when requested) followed by any extra mount points, in order.
// On failure, any mounts already established are torn down.
func (c *Chroot) Initialize(extraMountPoints []*MountPoint, includeDefaultMounts bool) (err error) {
	if c.state != SessionStateUnmounted {
		return fmt.Errorf("chroot session (%s) already initialized (state: %s)", c.sessionID, c.state)
	}

	exists, err := file.DirExists(c.rootDir)
	if err != nil {
		return fmt.Errorf("failed to check session root (%s):\n%w", c.rootDir, err)
	}
	if !exists {
		return fmt.Errorf("session root (%s) does not exist", c.rootDir)
	}

	logger.Log.Debugf("Initializing chroot session (%s) at (%s)", c.sessionID, c.rootDir)
	c.state = SessionStateMounting

	mountPoints := []*MountPoint(nil)
	if includeDefaultMounts {
		mountPoints = append(mountPoints, defaultMountPoints()...)
	}
	mountPoints = append(mountPoints, extraMountPoints...)

	for _, mountPoint := range mountPoints {
		target := filepath.Join(c.rootDir, mountPoint.Target)

		mount, mountErr := safemount.NewMount(mountPoint.Source, target, mountPoint.FSType,
			mountPoint.Flags, mountPoint.Data, true /*makeAndDeleteDir*/)
		if mountErr != nil {
			c.state = SessionStateFailed
			closeErr := c.Close(true /*leaveOnDisk*/)
			if closeErr != nil {
				logger.Log.Warnf("Failed to tear down partially mounted session: %v", closeErr)
			}
			return fmt.Errorf("failed to establish session mount (%s):\n%w", mountPoint.Target, mountErr)
		}

		c.mounts = append(c.mounts, mount)
	}

	c.state = SessionStateActive
	return nil
}

// AddFiles copies files into the session root.
func (c *Chroot) AddFiles(filesToCopy ...FileToCopy) error {
	return AddFilesToDestination(c.rootDir, filesToCopy...)
}

// AddFilesToDestination copies files into a directory tree.
func AddFilesToDestination(destDir string, filesToCopy ...FileToCopy) error {
	for _, f := range filesToCopy {
		dest := filepath.Join(destDir, f.Dest)

		switch {
		case f.Content != nil:
			perms := fs.FileMode(0o644)
			if f.Permissions != nil {
				perms = *f.Permissions
			}
			err := file.WriteWithPerm(*f.Content, dest, perms)
			if err != nil {
				return fmt.Errorf("failed to write file (%s):\n%w", dest, err)
			}

		case f.Src != "":
			copyBuilder := file.NewFileCopyBuilder(f.Src, dest)
			if f.Permissions != nil {
				copyBuilder = copyBuilder.SetFileMode(*f.Permissions)
			}
			err := copyBuilder.Run()
			if err != nil {
				return fmt.Errorf("failed to copy file (%s) to (%s):\n%w", f.Src, dest, err)
			}

		default:
			return fmt.Errorf("file to copy has neither source nor content (dest: %s)", f.Dest)
		}
	}

	return nil
}

// UnsafeRun calls toRun with the process chrooted into the session root.
// The calling goroutine is pinned to its OS thread for the duration; the
// previous root is always restored, even if toRun fails.
func (c *Chroot) UnsafeRun(toRun func() error) (err error) {
	if c.state != SessionStateActive {
		return fmt.Errorf("chroot session (%s) is not active (state: %s)", c.sessionID, c.state)
	}

	originalRoot, err := os.Open("/")
	if err != nil {
		return fmt.Errorf("failed to open original root:\n%w", err)
	}
	defer originalRoot.Close()

	originalWd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to read working directory:\n%w", err)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err = unix.Chroot(c.rootDir)
	if err != nil {
		return fmt.Errorf("failed to chroot into (%s):\n%w", c.rootDir, err)
	}

	defer func() {
		escapeErr := escapeChroot(originalRoot, originalWd)
		if escapeErr != nil {
			// The process root is in an unknown state; nothing sensible can
			// continue from here.
			logger.Log.Panicf("Failed to restore original root: %v", escapeErr)
		}
	}()

	err = os.Chdir("/")
	if err != nil {
		return fmt.Errorf("failed to chdir into session root:\n%w", err)
	}

	return toRun()
}

func escapeChroot(originalRoot *os.File, originalWd string) error {
	err := originalRoot.Chdir()
	if err != nil {
		return fmt.Errorf("failed to chdir to original root:\n%w", err)
	}

	err = unix.Chroot(".")
	if err != nil {
		return fmt.Errorf("failed to chroot to original root:\n%w", err)
	}

	err = os.Chdir(originalWd)
	if err != nil {
		return fmt.Errorf("failed to restore working directory:\n%w", err)
	}

	return nil
}

// Close tears the session down: every recorded mount is unmounted in strict
// reverse order, attempting all of them even if one fails. Already-absent
// mounts are tolerated, and calling Close again is a no-op, so Close also
// serves as the crash-recovery path. When leaveOnDisk is false, the session
// root directory is removed as well.
func (c *Chroot) Close(leaveOnDisk bool) error {
	if c.state == SessionStateClosed {
		return nil
	}

	logger.Log.Debugf("Tearing down chroot session (%s)", c.sessionID)
	c.state = SessionStateUnmounting

	errs := []error(nil)
	for i := len(c.mounts) - 1; i >= 0; i-- {
		err := c.mounts[i].CleanClose()
		if err != nil {
			errs = append(errs, err)
		}
	}
	c.mounts = nil

	if len(errs) > 0 {
		c.state = SessionStateFailed
		return fmt.Errorf("failed to tear down chroot session (%s):\n%w", c.sessionID, errors.Join(errs...))
	}

	if !leaveOnDisk {
		err := os.RemoveAll(c.rootDir)
		if err != nil {
			c.state = SessionStateFailed
			return fmt.Errorf("failed to remove session root (%s):\n%w", c.rootDir, err)
		}
	}

	c.state = SessionStateClosed
	return nil
}

// CleanStaleMounts unmounts anything mounted under rootDir, deepest paths
// first. Used to recover a working directory left behind by an abnormally
// terminated build.
func CleanStaleMounts(rootDir string) error {
	rootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return fmt.Errorf("failed to resolve (%s):\n%w", rootDir, err)
	}

	mounts, err := mountinfo.GetMounts(mountinfo.PrefixFilter(rootDir))
	if err != nil {
		return fmt.Errorf("failed to read mount table:\n%w", err)
	}

	sort.Slice(mounts, func(i, j int) bool {
		return strings.Count(mounts[i].Mountpoint, "/") > strings.Count(mounts[j].Mountpoint, "/")
	})

	for _, mount := range mounts {
		logger.Log.Warnf("Detaching stale mount (%s)", mount.Mountpoint)
		err = safemount.Unmount(mount.Mountpoint)
		if err != nil {
			return fmt.Errorf("failed to detach stale mount (%s):\n%w", mount.Mountpoint, err)
		}
	}

	return nil
}
