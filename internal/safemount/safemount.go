// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

// Package safemount wraps a single mount point with guaranteed, idempotent
// teardown.
package safemount

import (
	"errors"
	"fmt"
	"os"

	"github.com/moby/sys/mountinfo"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"golang.org/x/sys/unix"
)

type Mount struct {
	source     string
	target     string
	fstype     string
	flags      uintptr
	data       string
	isMounted  bool
	removeDir  bool
}

// NewMount creates the target directory (optionally) and mounts it.
// The caller must arrange for Close to run on every exit path.
func NewMount(source, target, fstype string, flags uintptr, data string, makeAndDeleteDir bool) (*Mount, error) {
	mount := &Mount{
		source:    source,
		target:    target,
		fstype:    fstype,
		flags:     flags,
		data:      data,
		removeDir: makeAndDeleteDir,
	}

	if makeAndDeleteDir {
		err := os.MkdirAll(target, os.ModePerm)
		if err != nil {
			return nil, fmt.Errorf("failed to create mount directory (%s):\n%w", target, err)
		}
	}

	logger.Log.Debugf("Mounting (%s) at (%s) type (%s)", source, target, fstype)

	err := unix.Mount(source, target, fstype, flags, data)
	if err != nil {
		return nil, fmt.Errorf("failed to mount (%s) at (%s):\n%w", source, target, err)
	}
	mount.isMounted = true

	return mount, nil
}

func (m *Mount) Source() string {
	return m.source
}

func (m *Mount) Target() string {
	return m.target
}

// CleanClose unmounts and reports any failure to do so.
func (m *Mount) CleanClose() error {
	return m.close(false)
}

// Close unmounts on a best-effort basis. Safe to call multiple times and
// safe to call after CleanClose.
func (m *Mount) Close() {
	err := m.close(true)
	if err != nil {
		logger.Log.Warnf("Failed to unmount (%s): %v", m.target, err)
	}
}

func (m *Mount) close(async bool) error {
	if !m.isMounted {
		return nil
	}

	err := Unmount(m.target)
	if err != nil {
		return err
	}
	m.isMounted = false

	if m.removeDir {
		err = os.Remove(m.target)
		if err != nil && !os.IsNotExist(err) {
			if async {
				logger.Log.Debugf("Failed to remove mount directory (%s): %v", m.target, err)
			} else {
				return fmt.Errorf("failed to remove mount directory (%s):\n%w", m.target, err)
			}
		}
	}

	return nil
}

// Unmount unmounts a path, treating an already-absent mount as a non-event.
func Unmount(target string) error {
	mounted, err := mountinfo.Mounted(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to query mount state of (%s):\n%w", target, err)
	}
	if !mounted {
		return nil
	}

	logger.Log.Debugf("Unmounting (%s)", target)

	err = unix.Unmount(target, 0)
	if err != nil {
		// EINVAL means the target is not a mount point; something else
		// unmounted it between the check and the call.
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("failed to unmount (%s):\n%w", target, err)
	}

	return nil
}
