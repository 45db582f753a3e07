// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

// Package kernelartifact selects the kernel/initrd pair to ship from a
// populated session root.
package kernelartifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/internal/version"
)

// Artifact is a resolved kernel/initrd pair inside a session root.
type Artifact struct {
	// Version string as it appears in the image file name,
	// e.g. "6.8.0-99-generic".
	Version string
	// Absolute path of the kernel image.
	KernelPath string
	// Absolute path of the matching initial ramdisk.
	InitrdPath string
}

// matcher is one strategy in the ordered fallback list. It either selects a
// candidate set from the boot directory entries or yields nothing, in which
// case the next strategy runs.
type matcher struct {
	name  string
	match func(fileName string) (kernelVersion string, ok bool)
}

var (
	genericKernelRegex = regexp.MustCompile(`^vmlinuz-(.+-generic)$`)
	anyKernelRegex     = regexp.MustCompile(`^vmlinu[xz]-(.+)$`)
)

// matchers is consulted in order; the first strategy that yields any
// candidate wins.
var matchers = []matcher{
	{
		name: "generic-flavor kernels",
		match: func(fileName string) (string, bool) {
			m := genericKernelRegex.FindStringSubmatch(fileName)
			if m == nil {
				return "", false
			}
			return m[1], true
		},
	},
	{
		name: "any non-rescue kernels",
		match: func(fileName string) (string, bool) {
			m := anyKernelRegex.FindStringSubmatch(fileName)
			if m == nil {
				return "", false
			}
			if strings.Contains(m[1], "rescue") {
				return "", false
			}
			return m[1], true
		},
	},
}

// Locate picks exactly one kernel/initrd pair from the session root's boot
// directory. The matching initrd must exist for the chosen kernel version.
func Locate(sessionRootDir string) (Artifact, error) {
	bootDir := filepath.Join(sessionRootDir, "boot")

	entries, err := os.ReadDir(bootDir)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to read boot directory (%s):\n%w", bootDir, err)
	}

	fileNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			fileNames = append(fileNames, entry.Name())
		}
	}

	for _, m := range matchers {
		kernelVersion, found := selectHighest(fileNames, m.match)
		if !found {
			continue
		}

		logger.Log.Debugf("Selected kernel (%s) via strategy (%s)", kernelVersion, m.name)

		artifact := Artifact{
			Version:    kernelVersion,
			KernelPath: filepath.Join(bootDir, "vmlinuz-"+kernelVersion),
			InitrdPath: filepath.Join(bootDir, "initrd.img-"+kernelVersion),
		}

		// A few arches name the uncompressed image vmlinux-<ver>.
		if _, err := os.Stat(artifact.KernelPath); err != nil {
			artifact.KernelPath = filepath.Join(bootDir, "vmlinux-"+kernelVersion)
		}

		if _, err := os.Stat(artifact.InitrdPath); err != nil {
			return Artifact{}, fmt.Errorf(
				"kernel (%s) has no matching initrd (initrd.img-%s) in boot directory:\n%s",
				kernelVersion, kernelVersion, directoryListing(fileNames))
		}

		return artifact, nil
	}

	return Artifact{}, fmt.Errorf("no kernel image found in boot directory (%s):\n%s",
		bootDir, directoryListing(fileNames))
}

// selectHighest returns the version-wise highest candidate produced by the
// match function, if any.
func selectHighest(fileNames []string, match func(string) (string, bool)) (string, bool) {
	best := ""
	var bestVersion version.Version

	for _, fileName := range fileNames {
		kernelVersion, ok := match(fileName)
		if !ok {
			continue
		}

		parsed, err := version.Parse(kernelVersion)
		if err != nil {
			logger.Log.Debugf("Skipping kernel with unparsable version (%s): %v", fileName, err)
			continue
		}

		if best == "" || parsed.Gt(bestVersion) {
			best = kernelVersion
			bestVersion = parsed
		}
	}

	return best, best != ""
}

func directoryListing(fileNames []string) string {
	if len(fileNames) == 0 {
		return "(empty)"
	}
	return strings.Join(fileNames, "\n")
}
