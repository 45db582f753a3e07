// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

// Package osinfo reads os-release metadata, for both the build host and a
// session root.
package osinfo

import (
	"fmt"
	"path/filepath"
	"runtime"

	"gopkg.in/ini.v1"
)

const osReleasePath = "/etc/os-release"

// OsRelease holds the fields of an os-release file that this repo consumes.
type OsRelease struct {
	ID         string
	Name       string
	VersionID  string
	PrettyName string
}

// ReadOsRelease parses the os-release file of the filesystem tree rooted at
// rootDir.
func ReadOsRelease(rootDir string) (OsRelease, error) {
	path := filepath.Join(rootDir, osReleasePath)

	// os-release is a flat KEY=value file; the ini parser handles the
	// optional quoting.
	cfg, err := ini.Load(path)
	if err != nil {
		return OsRelease{}, fmt.Errorf("failed to parse os-release file (%s):\n%w", path, err)
	}

	section := cfg.Section("")
	osRelease := OsRelease{
		ID:         section.Key("ID").String(),
		Name:       section.Key("NAME").String(),
		VersionID:  section.Key("VERSION_ID").String(),
		PrettyName: section.Key("PRETTY_NAME").String(),
	}

	return osRelease, nil
}

// GetDistroAndVersion describes the build host, for trace attribution.
func GetDistroAndVersion() (string, string) {
	osRelease, err := ReadOsRelease("/")
	if err != nil {
		return runtime.GOOS, "unknown"
	}

	distro := osRelease.ID
	if distro == "" {
		distro = runtime.GOOS
	}

	osVersion := osRelease.VersionID
	if osVersion == "" {
		osVersion = "unknown"
	}

	return distro, osVersion
}
