// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package kernelartifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createBootFiles(t *testing.T, fileNames ...string) string {
	sessionRootDir := t.TempDir()

	bootDir := filepath.Join(sessionRootDir, "boot")
	err := os.MkdirAll(bootDir, os.ModePerm)
	require.NoError(t, err)

	for _, fileName := range fileNames {
		err = os.WriteFile(filepath.Join(bootDir, fileName), []byte("stub"), 0o644)
		require.NoError(t, err)
	}

	return sessionRootDir
}

func TestLocatePicksHighestGenericKernel(t *testing.T) {
	sessionRootDir := createBootFiles(t,
		"vmlinuz-5.15.0-generic",
		"initrd.img-5.15.0-generic",
		"vmlinuz-6.8.0-99-generic",
		"initrd.img-6.8.0-99-generic",
	)

	artifact, err := Locate(sessionRootDir)
	assert.NoError(t, err)
	assert.Equal(t, "6.8.0-99-generic", artifact.Version)
	assert.Equal(t, filepath.Join(sessionRootDir, "boot", "vmlinuz-6.8.0-99-generic"), artifact.KernelPath)
	assert.Equal(t, filepath.Join(sessionRootDir, "boot", "initrd.img-6.8.0-99-generic"), artifact.InitrdPath)
}

func TestLocatePrefersGenericOverHigherNonGeneric(t *testing.T) {
	sessionRootDir := createBootFiles(t,
		"vmlinuz-5.15.0-generic",
		"initrd.img-5.15.0-generic",
		"vmlinuz-6.9.0-cloud",
		"initrd.img-6.9.0-cloud",
	)

	artifact, err := Locate(sessionRootDir)
	assert.NoError(t, err)
	assert.Equal(t, "5.15.0-generic", artifact.Version)
}

func TestLocateFallsBackToNonGenericKernel(t *testing.T) {
	sessionRootDir := createBootFiles(t,
		"vmlinuz-6.1.0-custom",
		"initrd.img-6.1.0-custom",
	)

	artifact, err := Locate(sessionRootDir)
	assert.NoError(t, err)
	assert.Equal(t, "6.1.0-custom", artifact.Version)
}

func TestLocateExcludesRescueKernels(t *testing.T) {
	sessionRootDir := createBootFiles(t,
		"vmlinuz-0-rescue-f00",
		"vmlinuz-6.1.0-custom",
		"initrd.img-6.1.0-custom",
	)

	artifact, err := Locate(sessionRootDir)
	assert.NoError(t, err)
	assert.Equal(t, "6.1.0-custom", artifact.Version)
}

func TestLocateNoKernelListsBootDir(t *testing.T) {
	sessionRootDir := createBootFiles(t, "grub", "config-6.8.0")

	_, err := Locate(sessionRootDir)
	assert.Error(t, err)
	assert.ErrorContains(t, err, "no kernel image found")
	assert.ErrorContains(t, err, "config-6.8.0")
}

func TestLocateMissingInitrdFails(t *testing.T) {
	sessionRootDir := createBootFiles(t, "vmlinuz-6.8.0-generic")

	_, err := Locate(sessionRootDir)
	assert.Error(t, err)
	assert.ErrorContains(t, err, "no matching initrd")
	assert.ErrorContains(t, err, "vmlinuz-6.8.0-generic")
}
