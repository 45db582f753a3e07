// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/internal/shell"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
)

const (
	fatLogicalSectorSize = 512
	fatSectorsPerCluster = 4
	fatClusterSize       = fatLogicalSectorSize * fatSectorsPerCluster

	// FAT metadata cost charged per directory when sizing the image.
	fatDirOverheadBytes = 32 * 1024

	// mkfs.fat cannot make a usable FAT volume much below this.
	efiImageMinSizeBytes = 4 * 1024 * 1024

	grubHostModulesRoot = "/usr/lib/grub"

	efiBootDirInImage  = "EFI/BOOT"
	grubBootDirInImage = "boot/grub"
)

// Modules embedded into the standalone loader: enough to find the medium by
// volume label and hand over to the full configuration, nothing more. The
// platform's part_* modules are appended at build time.
var standaloneLoaderModules = []string{
	"search",
	"search_label",
	"configfile",
	"normal",
	"memdisk",
	"tar",
	"iso9660",
	"fat",
}

// EfiImage is the built EFI system-partition image plus what the composer
// needs to graft alongside it.
type EfiImage struct {
	Path       string
	SecureBoot mediabuilderapi.SecureBootMode
	// Host directory holding the full grub module set for the platform,
	// grafted onto the medium's filesystem tree rather than duplicated
	// inside the FAT image.
	ModulesDir string
}

// fatFilePlacement maps a build-local source file to its path inside the
// FAT image.
type fatFilePlacement struct {
	src  string
	dest string
}

// buildEfiImage constructs the EFI system-partition image in two phases:
// first a minimal FAT image holding only a generated standalone loader, then
// the final image assembled from the extracted loader and whichever Secure
// Boot artifacts the host can supply.
func buildEfiImage(config *mediabuilderapi.BuildConfig, epoch BuildEpoch,
	artifacts SecureBootArtifacts, workDir string,
) (EfiImage, error) {
	platform := config.Architecture.GrubEfiPlatform()
	modulesDir := filepath.Join(grubHostModulesRoot, platform)

	loaderPath, err := buildStandaloneLoader(config, epoch, workDir, modulesDir)
	if err != nil {
		return EfiImage{}, fmt.Errorf("failed to build standalone loader:\n%w", err)
	}

	phase1ImagePath := filepath.Join(workDir, "efiboot-minimal.img")
	err = buildMinimalLoaderImage(config, epoch, loaderPath, phase1ImagePath)
	if err != nil {
		return EfiImage{}, fmt.Errorf("failed to build minimal loader image:\n%w", err)
	}

	extractedLoaderPath := filepath.Join(workDir, "bootloader-extracted.efi")
	err = extractLoader(config, epoch, phase1ImagePath, extractedLoaderPath)
	if err != nil {
		return EfiImage{}, fmt.Errorf("failed to extract loader from minimal image:\n%w", err)
	}

	secureBootMode, err := selectSecureBootMode(config.ResolvedSecureBoot(), artifacts)
	if err != nil {
		return EfiImage{}, err
	}

	logger.Log.Infof("Building EFI image (Secure Boot: %s)", secureBootMode)

	image := EfiImage{
		Path:       filepath.Join(workDir, "efiboot.img"),
		SecureBoot: secureBootMode,
		ModulesDir: modulesDir,
	}

	err = assembleFinalEfiImage(config, epoch, secureBootMode, artifacts, extractedLoaderPath, workDir, image.Path)
	if err != nil {
		return EfiImage{}, fmt.Errorf("failed to assemble EFI image:\n%w", err)
	}

	err = epoch.ApplyToFile(image.Path)
	if err != nil {
		return EfiImage{}, err
	}

	return image, nil
}

// relocationGrubCfg is the bootstrap configuration both the memdisk and the
// image's boot/grub directory carry: find the medium by volume label, then
// hand over to the real configuration on it. Searching by label rather than
// an embedded absolute path keeps the loader reusable across differently
// labeled media.
func relocationGrubCfg(volumeID string) string {
	return fmt.Sprintf(`search --set=root --label %s
set prefix=($root)/boot/grub
configfile $prefix/grub.cfg
`, volumeID)
}

// buildStandaloneLoader generates the platform EFI loader with the bootstrap
// configuration and minimal module set embedded via a memory-disk archive.
// The embedded config's mtime lands in the memdisk archive and the loader
// binary's mtime lands in FAT directory entries; both are pinned to the
// epoch.
func buildStandaloneLoader(config *mediabuilderapi.BuildConfig, epoch BuildEpoch,
	workDir string, modulesDir string,
) (string, error) {
	embeddedCfgPath := filepath.Join(workDir, "grub-embedded.cfg")
	err := file.Write(relocationGrubCfg(config.VolumeID()), embeddedCfgPath)
	if err != nil {
		return "", fmt.Errorf("failed to write embedded loader config:\n%w", err)
	}

	err = epoch.ApplyToFile(embeddedCfgPath)
	if err != nil {
		return "", err
	}

	modules := make([]string, len(standaloneLoaderModules))
	copy(modules, standaloneLoaderModules)

	partitionModules, err := discoverPartitionModules(modulesDir)
	if err != nil {
		return "", err
	}
	modules = append(modules, partitionModules...)

	loaderPath := filepath.Join(workDir, "bootloader.efi")

	err = shell.ExecuteLiveWithEnv(true /*squashErrors*/, epoch.Env(), "grub-mkstandalone",
		"--format", config.Architecture.GrubEfiPlatform(),
		"--output", loaderPath,
		"--modules", strings.Join(modules, " "),
		"--locales", "",
		"--fonts", "",
		"boot/grub/grub.cfg="+embeddedCfgPath,
	)
	if err != nil {
		return "", fmt.Errorf("grub-mkstandalone failed:\n%w", err)
	}

	err = epoch.ApplyToFile(loaderPath)
	if err != nil {
		return "", err
	}

	return loaderPath, nil
}

// discoverPartitionModules lists all partition-table modules the platform
// ships, so the loader can find the medium regardless of how it is
// partitioned.
func discoverPartitionModules(modulesDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(modulesDir, "part_*.mod"))
	if err != nil {
		return nil, fmt.Errorf("failed to list partition modules in (%s):\n%w", modulesDir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no partition-table modules found in (%s)", modulesDir)
	}

	modules := make([]string, 0, len(matches))
	for _, match := range matches {
		modules = append(modules, strings.TrimSuffix(filepath.Base(match), ".mod"))
	}

	return modules, nil
}

// buildMinimalLoaderImage makes the phase 1 FAT image: the standalone loader
// alone, sized from the loader binary.
func buildMinimalLoaderImage(config *mediabuilderapi.BuildConfig, epoch BuildEpoch,
	loaderPath string, imagePath string,
) error {
	placements := []fatFilePlacement{
		{src: loaderPath, dest: efiBootDirInImage + "/" + config.Architecture.EfiBootFileName()},
	}
	directories := []string{"EFI", efiBootDirInImage}

	return createFatImage(epoch, imagePath, directories, placements)
}

// extractLoader pulls the loader binary back out of the phase 1 image. Going
// through the image rather than reusing the raw loader proves the FAT volume
// is navigable by an ordinary FAT driver.
func extractLoader(config *mediabuilderapi.BuildConfig, epoch BuildEpoch,
	imagePath string, extractedPath string,
) error {
	_, stderr, err := shell.Execute("mcopy", "-n", "-i", imagePath,
		"::/"+efiBootDirInImage+"/"+config.Architecture.EfiBootFileName(), extractedPath)
	if err != nil {
		return fmt.Errorf("mcopy extraction failed:\n%v\n(%s)", err, stderr)
	}

	return epoch.ApplyToFile(extractedPath)
}

// chainedLoaderFileName is the name shim chain-loads for the architecture.
func chainedLoaderFileName(arch mediabuilderapi.Architecture) string {
	if arch == mediabuilderapi.ArchitectureArm64 {
		return "grubaa64.efi"
	}
	return "grubx64.efi"
}

func enrollmentHelperFileName(arch mediabuilderapi.Architecture) string {
	if arch == mediabuilderapi.ArchitectureArm64 {
		return "mmaa64.efi"
	}
	return "mmx64.efi"
}

// assembleFinalEfiImage builds the phase 2 image: boot binaries per the
// resolved Secure Boot mode under EFI/BOOT, and the relocation configuration
// under boot/grub.
func assembleFinalEfiImage(config *mediabuilderapi.BuildConfig, epoch BuildEpoch,
	secureBootMode mediabuilderapi.SecureBootMode, artifacts SecureBootArtifacts,
	unsignedLoaderPath string, workDir string, imagePath string,
) error {
	bootFileName := config.Architecture.EfiBootFileName()
	chainedName := chainedLoaderFileName(config.Architecture)

	placements := []fatFilePlacement(nil)

	switch secureBootMode {
	case mediabuilderapi.SecureBootModeSignedGrub:
		placements = append(placements,
			fatFilePlacement{src: artifacts.SignedShim, dest: efiBootDirInImage + "/" + bootFileName},
			fatFilePlacement{src: artifacts.SignedGrub, dest: efiBootDirInImage + "/" + chainedName},
		)

	case mediabuilderapi.SecureBootModeShimOnly:
		placements = append(placements,
			fatFilePlacement{src: artifacts.SignedShim, dest: efiBootDirInImage + "/" + bootFileName},
			fatFilePlacement{src: unsignedLoaderPath, dest: efiBootDirInImage + "/" + chainedName},
		)
		if artifacts.EnrollmentHelper != "" {
			placements = append(placements, fatFilePlacement{
				src:  artifacts.EnrollmentHelper,
				dest: efiBootDirInImage + "/" + enrollmentHelperFileName(config.Architecture),
			})
		}

	default: // disabled
		placements = append(placements,
			fatFilePlacement{src: unsignedLoaderPath, dest: efiBootDirInImage + "/" + bootFileName},
		)
	}

	relocationCfgPath := filepath.Join(workDir, "grub-relocation.cfg")
	err := file.Write(relocationGrubCfg(config.VolumeID()), relocationCfgPath)
	if err != nil {
		return fmt.Errorf("failed to write relocation config:\n%w", err)
	}
	placements = append(placements, fatFilePlacement{src: relocationCfgPath, dest: grubBootDirInImage + "/grub.cfg"})

	directories := []string{"EFI", efiBootDirInImage, "boot", grubBootDirInImage}

	return createFatImage(epoch, imagePath, directories, placements)
}

// stageFatFiles copies every placement source into a staging tree mirroring
// the in-image layout and pins the tree to the epoch. mcopy preserves source
// mtimes in FAT directory entries; staged copies carry the epoch where the
// originals (host-installed shim and grub binaries included) carry arbitrary
// host timestamps.
func stageFatFiles(epoch BuildEpoch, stagingDir string, placements []fatFilePlacement,
) ([]fatFilePlacement, error) {
	err := os.RemoveAll(stagingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to remove stale staging tree (%s):\n%w", stagingDir, err)
	}

	staged := make([]fatFilePlacement, 0, len(placements))
	for _, placement := range placements {
		stagedSrc := filepath.Join(stagingDir, placement.dest)
		err := file.Copy(placement.src, stagedSrc)
		if err != nil {
			return nil, fmt.Errorf("failed to stage (%s):\n%w", placement.src, err)
		}
		staged = append(staged, fatFilePlacement{src: stagedSrc, dest: placement.dest})
	}

	err = epoch.ApplyToTree(stagingDir)
	if err != nil {
		return nil, err
	}

	return staged, nil
}

// createFatImage sizes, formats and populates a FAT image. The size is the
// sum of the placed file sizes plus fixed per-directory overhead, rounded up
// to a whole cluster and held to the minimum usable volume size.
func createFatImage(epoch BuildEpoch, imagePath string, directories []string,
	placements []fatFilePlacement,
) error {
	stagingDir := imagePath + ".staging"
	placements, err := stageFatFiles(epoch, stagingDir, placements)
	if err != nil {
		return err
	}
	defer os.RemoveAll(stagingDir)

	sizeBytes := int64(len(directories)) * fatDirOverheadBytes
	for _, placement := range placements {
		stat, err := os.Stat(placement.src)
		if err != nil {
			return fmt.Errorf("failed to stat (%s):\n%w", placement.src, err)
		}
		sizeBytes += roundUpToCluster(stat.Size())
	}

	sizeBytes = roundUpToCluster(sizeBytes)
	if sizeBytes < efiImageMinSizeBytes {
		sizeBytes = efiImageMinSizeBytes
	}

	err = os.RemoveAll(imagePath)
	if err != nil {
		return fmt.Errorf("failed to remove stale image (%s):\n%w", imagePath, err)
	}

	sizeKiB := sizeBytes / 1024

	_, stderr, err := shell.Execute("mkfs.fat",
		"-C",
		"-S", strconv.Itoa(fatLogicalSectorSize),
		"-s", strconv.Itoa(fatSectorsPerCluster),
		"-i", epoch.FatVolumeSerial(),
		"-n", "ESP",
		imagePath,
		strconv.FormatInt(sizeKiB, 10),
	)
	if err != nil {
		return fmt.Errorf("mkfs.fat failed:\n%v\n(%s)", err, stderr)
	}

	for _, dir := range directories {
		_, stderr, err = shell.Execute("mmd", "-i", imagePath, "::/"+dir)
		if err != nil {
			return fmt.Errorf("mmd (%s) failed:\n%v\n(%s)", dir, err, stderr)
		}
	}

	for _, placement := range placements {
		_, stderr, err = shell.Execute("mcopy", "-i", imagePath, placement.src, "::/"+placement.dest)
		if err != nil {
			return fmt.Errorf("mcopy (%s) failed:\n%v\n(%s)", placement.dest, err, stderr)
		}
	}

	return nil
}

func roundUpToCluster(sizeBytes int64) int64 {
	return (sizeBytes + fatClusterSize - 1) / fatClusterSize * fatClusterSize
}
