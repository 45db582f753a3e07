// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/internal/safechroot"
)

type resolvConfType int

const (
	resolvConfTypeNone resolvConfType = iota
	resolvConfTypeSymlink
	resolvConfTypeFile
)

type resolvConfInfo struct {
	existingType resolvConfType
	fileContents string
	filePerms    os.FileMode
	symlinkPath  string
}

const (
	resolvConfPath = "/etc/resolv.conf"

	// Used when the build host has no resolv.conf of its own.
	fallbackResolvConf = "nameserver 1.1.1.1\n"
)

// overrideResolvConf makes DNS resolution work for processes inside the
// session: the host's resolv.conf is copied in, or a default is synthesized.
// The previous state is returned so it can be restored before compression.
func overrideResolvConf(chroot *safechroot.Chroot) (resolvConfInfo, error) {
	logger.Log.Debug("Overriding session resolv.conf")

	sessionResolvConfPath := filepath.Join(chroot.RootDir(), resolvConfPath)

	existing := resolvConfInfo{}

	stat, err := os.Lstat(sessionResolvConfPath)
	switch {
	case err != nil && os.IsNotExist(err):
		existing.existingType = resolvConfTypeNone

	case err != nil:
		return resolvConfInfo{}, fmt.Errorf("failed to stat session resolv.conf:\n%w", err)

	case stat.Mode()&os.ModeSymlink != 0:
		symlinkPath, err := os.Readlink(sessionResolvConfPath)
		if err != nil {
			return resolvConfInfo{}, fmt.Errorf("failed to read session resolv.conf symlink:\n%w", err)
		}
		existing.existingType = resolvConfTypeSymlink
		existing.symlinkPath = symlinkPath

	default:
		fileContents, err := file.Read(sessionResolvConfPath)
		if err != nil {
			return resolvConfInfo{}, fmt.Errorf("failed to read session resolv.conf:\n%w", err)
		}
		existing.existingType = resolvConfTypeFile
		existing.fileContents = fileContents
		existing.filePerms = stat.Mode().Perm()
	}

	err = os.RemoveAll(sessionResolvConfPath)
	if err != nil {
		return resolvConfInfo{}, fmt.Errorf("failed to delete session resolv.conf:\n%w", err)
	}

	hostResolvConfExists, err := file.PathExists(resolvConfPath)
	if err != nil {
		return resolvConfInfo{}, fmt.Errorf("failed to check host resolv.conf:\n%w", err)
	}

	if hostResolvConfExists {
		err = file.Copy(resolvConfPath, sessionResolvConfPath)
	} else {
		logger.Log.Warn("Build host has no resolv.conf, synthesizing a default for the session")
		err = file.Write(fallbackResolvConf, sessionResolvConfPath)
	}
	if err != nil {
		return resolvConfInfo{}, fmt.Errorf("failed to override session resolv.conf:\n%w", err)
	}

	return existing, nil
}

// restoreResolvConf puts the session's resolv.conf back in its original
// state so the override does not leak into the compressed image.
func restoreResolvConf(existing resolvConfInfo, chroot *safechroot.Chroot) error {
	logger.Log.Debug("Restoring session resolv.conf")

	sessionResolvConfPath := filepath.Join(chroot.RootDir(), resolvConfPath)

	err := os.RemoveAll(sessionResolvConfPath)
	if err != nil {
		return fmt.Errorf("failed to delete overridden resolv.conf:\n%w", err)
	}

	switch existing.existingType {
	case resolvConfTypeNone:
		// Nothing to restore; first boot recreates it.

	case resolvConfTypeFile:
		err = file.WriteWithPerm(existing.fileContents, sessionResolvConfPath, existing.filePerms)
		if err != nil {
			return fmt.Errorf("failed to restore resolv.conf file:\n%w", err)
		}

	case resolvConfTypeSymlink:
		err = os.Symlink(existing.symlinkPath, sessionResolvConfPath)
		if err != nil {
			return fmt.Errorf("failed to restore resolv.conf symlink:\n%w", err)
		}

	default:
		return fmt.Errorf("unknown resolvConfType value (%v)", existing.existingType)
	}

	return nil
}
