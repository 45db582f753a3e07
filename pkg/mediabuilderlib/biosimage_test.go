// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBiosImageSkippedOnArm64(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{Architecture: mediabuilderapi.ArchitectureArm64}

	image, err := buildBiosImage(config, BuildEpoch{}, t.TempDir())
	assert.NoError(t, err)
	assert.Nil(t, image)
}

func TestPrependCdBootSector(t *testing.T) {
	dir := t.TempDir()

	cdBootPath := filepath.Join(dir, "cdboot.img")
	corePath := filepath.Join(dir, "core.img")
	outputPath := filepath.Join(dir, "eltorito.img")

	require.NoError(t, os.WriteFile(cdBootPath, []byte("BOOT"), 0o644))
	require.NoError(t, os.WriteFile(corePath, []byte("CORE"), 0o644))

	err := prependCdBootSector(cdBootPath, corePath, outputPath)
	assert.NoError(t, err)

	contents, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "BOOTCORE", string(contents))
}

func TestValidateBootImageRejectsSectorOnly(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "eltorito.img")
	require.NoError(t, os.WriteFile(imagePath, make([]byte, biosBootSectorSize), 0o644))

	err := validateBootImage(imagePath)
	assert.ErrorContains(t, err, "no core image")
}

func TestValidateBootImageRejectsEmptySector(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "eltorito.img")
	require.NoError(t, os.WriteFile(imagePath, make([]byte, 2*biosBootSectorSize), 0o644))

	err := validateBootImage(imagePath)
	assert.ErrorContains(t, err, "boot sector")
	assert.ErrorContains(t, err, "empty")
}

func TestValidateBootImageAcceptsBootCode(t *testing.T) {
	image := make([]byte, 2*biosBootSectorSize)
	image[0] = 0xeb // x86 short jump, typical first byte of boot code
	image[1] = 0x3c

	imagePath := filepath.Join(t.TempDir(), "eltorito.img")
	require.NoError(t, os.WriteFile(imagePath, image, 0o644))

	err := validateBootImage(imagePath)
	assert.NoError(t, err)
}

func TestHasMbrBootSignature(t *testing.T) {
	sector := make([]byte, biosBootSectorSize)
	assert.False(t, hasMbrBootSignature(sector))

	sector[510] = 0x55
	sector[511] = 0xaa
	assert.True(t, hasMbrBootSignature(sector))

	assert.False(t, hasMbrBootSignature(sector[:100]))
}
