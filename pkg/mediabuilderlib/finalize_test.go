// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputIsoName(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{
		Architecture: mediabuilderapi.ArchitectureAmd64,
		Name:         "examplelinux",
		Version:      "1.0",
		Variant:      "desktop",
	}
	epoch := BuildEpoch{Time: time.Unix(1700000000, 0).UTC(), Reproducible: true}

	assert.Equal(t, "examplelinux-1.0-desktop-amd64-20231114.iso", outputIsoName(config, epoch))
}

func TestOutputIsoNameNoVariant(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{
		Architecture: mediabuilderapi.ArchitectureArm64,
		Name:         "examplelinux",
		Version:      "1.0",
	}
	epoch := BuildEpoch{Time: time.Unix(1700000000, 0).UTC(), Reproducible: true}

	assert.Equal(t, "examplelinux-1.0-arm64-20231114.iso", outputIsoName(config, epoch))
}

func TestReadVolumeID(t *testing.T) {
	isoPath := filepath.Join(t.TempDir(), "media.iso")

	image := make([]byte, isoPvdOffset+2048)
	volumeID := "EXAMPLELINUX"
	copy(image[isoPvdOffset+isoVolumeIDOffset:], fmt.Sprintf("%-32s", volumeID))
	require.NoError(t, os.WriteFile(isoPath, image, 0o644))

	isoFile, err := os.Open(isoPath)
	require.NoError(t, err)
	defer isoFile.Close()

	readID, err := readVolumeID(isoFile)
	assert.NoError(t, err)
	assert.Equal(t, volumeID, readID)
}

func TestVerifyMediumRejectsGarbage(t *testing.T) {
	isoPath := filepath.Join(t.TempDir(), "media.iso")
	require.NoError(t, os.WriteFile(isoPath, []byte("not an iso"), 0o644))

	err := verifyMedium(isoPath, "EXAMPLELINUX")
	assert.Error(t, err)
}

func TestWriteDetachedDigest(t *testing.T) {
	dir := t.TempDir()
	isoPath := filepath.Join(dir, "media.iso")
	digestPath := isoPath + ".sha256"

	contents := []byte("medium bytes")
	require.NoError(t, os.WriteFile(isoPath, contents, 0o644))

	err := writeDetachedDigest(isoPath, digestPath)
	assert.NoError(t, err)

	digest, err := os.ReadFile(digestPath)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%x  media.iso\n", sha256.Sum256(contents)), string(digest))
}
