// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"
	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
)

const (
	// Byte offset of the primary volume descriptor in an ISO9660 image.
	isoPvdOffset = 32768
	// Offset of the volume identifier field within the descriptor.
	isoVolumeIDOffset = 40
	isoVolumeIDLength = 32
)

// FinalizedArtifact is the build's output set.
type FinalizedArtifact struct {
	IsoPath    string
	DigestPath string
	VolumeID   string
}

// finalizeArtifact verifies the composed medium, moves it to its qualified
// output name and writes the detached digest.
func finalizeArtifact(config *mediabuilderapi.BuildConfig, epoch BuildEpoch,
	artifact IsoArtifact, outputDir string,
) (FinalizedArtifact, error) {
	err := verifyMedium(artifact.Path, artifact.VolumeID)
	if err != nil {
		return FinalizedArtifact{}, NewMediaBuilderErrorWithCause(VerificationError, ErrMediumVerify.Message, err)
	}

	err = epoch.ApplyToFile(artifact.Path)
	if err != nil {
		return FinalizedArtifact{}, err
	}

	err = os.MkdirAll(outputDir, os.ModePerm)
	if err != nil {
		return FinalizedArtifact{}, fmt.Errorf("failed to create output directory (%s):\n%w", outputDir, err)
	}

	finalized := FinalizedArtifact{
		IsoPath:  filepath.Join(outputDir, outputIsoName(config, epoch)),
		VolumeID: artifact.VolumeID,
	}
	finalized.DigestPath = finalized.IsoPath + ".sha256"

	err = file.Move(artifact.Path, finalized.IsoPath)
	if err != nil {
		return FinalizedArtifact{}, fmt.Errorf("failed to place medium:\n%w", err)
	}

	err = epoch.ApplyToFile(finalized.IsoPath)
	if err != nil {
		return FinalizedArtifact{}, err
	}

	err = writeDetachedDigest(finalized.IsoPath, finalized.DigestPath)
	if err != nil {
		return FinalizedArtifact{}, fmt.Errorf("failed to write digest:\n%w", err)
	}

	err = epoch.ApplyToFile(finalized.DigestPath)
	if err != nil {
		return FinalizedArtifact{}, err
	}

	logger.Log.Infof("Medium ready (%s)", finalized.IsoPath)
	return finalized, nil
}

// outputIsoName builds the timestamped, architecture- and variant-qualified
// output file name.
func outputIsoName(config *mediabuilderapi.BuildConfig, epoch BuildEpoch) string {
	parts := []string{config.Name, config.Version}
	if config.Variant != "" {
		parts = append(parts, config.Variant)
	}
	parts = append(parts, string(config.Architecture), epoch.DateStamp())

	return strings.Join(parts, "-") + ".iso"
}

// writeDetachedDigest writes the medium's sha256 in coreutils format so
// `sha256sum -c` can verify it next to the file.
func writeDetachedDigest(isoPath string, digestPath string) error {
	isoFile, err := os.Open(isoPath)
	if err != nil {
		return fmt.Errorf("failed to open medium:\n%w", err)
	}
	defer isoFile.Close()

	hasher := sha256.New()
	_, err = io.Copy(hasher, isoFile)
	if err != nil {
		return fmt.Errorf("failed to hash medium:\n%w", err)
	}

	digestLine := fmt.Sprintf("%x  %s\n", hasher.Sum(nil), filepath.Base(isoPath))
	return file.Write(digestLine, digestPath)
}

// verifyMedium reopens the composed medium, checks the ISO9660 directory
// tree parses and the primary volume descriptor carries the expected volume
// identifier.
func verifyMedium(isoPath string, wantVolumeID string) error {
	isoFile, err := os.Open(isoPath)
	if err != nil {
		return fmt.Errorf("failed to open medium (%s):\n%w", isoPath, err)
	}
	defer isoFile.Close()

	image, err := iso9660.OpenImage(isoFile)
	if err != nil {
		return fmt.Errorf("medium (%s) has no readable ISO9660 structure:\n%w", isoPath, err)
	}

	rootDir, err := image.RootDir()
	if err != nil {
		return fmt.Errorf("medium (%s) has no readable root directory:\n%w", isoPath, err)
	}
	if !rootDir.IsDir() {
		return fmt.Errorf("medium (%s) root descriptor is not a directory", isoPath)
	}

	volumeID, err := readVolumeID(isoFile)
	if err != nil {
		return err
	}
	if volumeID != wantVolumeID {
		return fmt.Errorf("medium volume identifier is (%s), expected (%s)", volumeID, wantVolumeID)
	}

	return nil
}

// readVolumeID reads the volume identifier straight out of the primary
// volume descriptor.
func readVolumeID(isoFile *os.File) (string, error) {
	volumeIDBytes := make([]byte, isoVolumeIDLength)
	_, err := isoFile.ReadAt(volumeIDBytes, isoPvdOffset+isoVolumeIDOffset)
	if err != nil {
		return "", fmt.Errorf("failed to read volume descriptor:\n%w", err)
	}

	return strings.TrimRight(string(volumeIDBytes), " "), nil
}
