// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/internal/shell"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
)

const (
	biosGrubModulesDir = "/usr/lib/grub/i386-pc"
	biosBootSectorSize = 512
)

// Modules compiled into the legacy core image: read the medium, find it by
// label, interpret the text configuration. No locale or font data.
var biosCoreModules = []string{
	"biosdisk",
	"iso9660",
	"search",
	"search_label",
	"configfile",
	"normal",
}

// BiosImage is the legacy-BIOS boot image pair: the El Torito boot image and
// the hybrid MBR template embedded when the medium doubles as a raw USB
// image.
type BiosImage struct {
	Path          string
	HybridMbrPath string
}

// buildBiosImage produces the legacy boot image for amd64. Other
// architectures have no legacy boot path; the result is nil for them.
func buildBiosImage(config *mediabuilderapi.BuildConfig, epoch BuildEpoch, workDir string,
) (*BiosImage, error) {
	if !config.Architecture.SupportsBiosBoot() {
		logger.Log.Debugf("Architecture (%s) has no legacy BIOS boot path, skipping", config.Architecture)
		return nil, nil
	}

	logger.Log.Info("Building legacy BIOS boot image")

	corePath := filepath.Join(workDir, "core.img")

	args := []string{
		"--format", "i386-pc",
		"--directory", biosGrubModulesDir,
		"--prefix", "/boot/grub",
		"--output", corePath,
	}
	args = append(args, biosCoreModules...)

	err := shell.ExecuteLiveWithEnv(true /*squashErrors*/, epoch.Env(), "grub-mkimage", args...)
	if err != nil {
		return nil, fmt.Errorf("grub-mkimage failed:\n%w", err)
	}

	image := &BiosImage{
		Path:          filepath.Join(workDir, "eltorito.img"),
		HybridMbrPath: filepath.Join(biosGrubModulesDir, "boot_hybrid.img"),
	}

	err = prependCdBootSector(filepath.Join(biosGrubModulesDir, "cdboot.img"), corePath, image.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to prepend CD boot sector:\n%w", err)
	}

	hybridMbrExists, err := file.PathExists(image.HybridMbrPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check hybrid MBR template:\n%w", err)
	}
	if !hybridMbrExists {
		return nil, NewMediaBuilderErrorWithCause(PreconditionError, ErrMissingTool.Message,
			fmt.Errorf("hybrid MBR template (%s) not found", image.HybridMbrPath))
	}

	err = validateBootImage(image.Path)
	if err != nil {
		return nil, NewMediaBuilderErrorWithCause(VerificationError, ErrBootSectorInvalid.Message, err)
	}

	err = epoch.ApplyToFile(image.Path)
	if err != nil {
		return nil, err
	}

	return image, nil
}

// prependCdBootSector concatenates the standard CD boot sector and the core
// image into a single file usable both as an El Torito boot image and as the
// loader an MBR-embedded hybrid jumps into.
func prependCdBootSector(cdBootPath string, corePath string, outputPath string) error {
	outputFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create (%s):\n%w", outputPath, err)
	}
	defer outputFile.Close()

	for _, inputPath := range []string{cdBootPath, corePath} {
		inputFile, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("failed to open (%s):\n%w", inputPath, err)
		}

		_, err = io.Copy(outputFile, inputFile)
		inputFile.Close()
		if err != nil {
			return fmt.Errorf("failed to append (%s):\n%w", inputPath, err)
		}
	}

	return outputFile.Close()
}

// validateBootImage checks the produced file starts with a plausible boot
// sector: a full first sector of non-zero code beyond the CD boot stub
// alone.
func validateBootImage(imagePath string) error {
	imageFile, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("failed to open boot image (%s):\n%w", imagePath, err)
	}
	defer imageFile.Close()

	stat, err := imageFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat boot image (%s):\n%w", imagePath, err)
	}
	if stat.Size() <= biosBootSectorSize {
		return fmt.Errorf("boot image (%s) holds no core image beyond the boot sector (%d bytes)",
			imagePath, stat.Size())
	}

	sector := make([]byte, biosBootSectorSize)
	_, err = io.ReadFull(imageFile, sector)
	if err != nil {
		return fmt.Errorf("failed to read boot sector of (%s):\n%w", imagePath, err)
	}

	allZero := true
	for _, b := range sector {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return fmt.Errorf("boot sector of (%s) is empty", imagePath)
	}

	return nil
}

// hasMbrBootSignature reports whether a sector carries the 0x55AA MBR boot
// signature. El Torito CD boot sectors do not need it; the hybrid MBR
// written into the final medium does.
func hasMbrBootSignature(sector []byte) bool {
	return len(sector) >= biosBootSectorSize &&
		sector[biosBootSectorSize-2] == 0x55 && sector[biosBootSectorSize-1] == 0xaa
}
