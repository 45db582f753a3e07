// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/internal/osinfo"
	"github.com/osbuilders/debian-media-tools/internal/shell"
	"github.com/osbuilders/debian-media-tools/internal/sliceutils"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
)

const (
	manifestFileName        = "filesystem.manifest"
	trimmedManifestFileName = "filesystem.manifest-minimal-remove"

	checksumLedgerFileName = "md5sum.txt"

	isoFileName = "media.iso"

	eltoritoPathOnMedium = "boot/grub/eltorito.img"
	efiImagePathOnMedium = "boot/grub/efi.img"
)

// IsoArtifact is the composed (not yet finalized) medium.
type IsoArtifact struct {
	Path     string
	VolumeID string
}

// composeIso assembles the final hybrid medium from the verified compressed
// image and the boot images. Medium layout is defined entirely by explicit
// graft points; the staging layout never leaks onto the medium.
func composeIso(config *mediabuilderapi.BuildConfig, epoch BuildEpoch, sessionRootDir string,
	stagingDir string, workDir string, squashfs SquashfsImage, efi EfiImage, bios *BiosImage,
) (IsoArtifact, error) {
	if !squashfs.Verified() {
		return IsoArtifact{}, NewMediaBuilderErrorWithCause(VerificationError, ErrSquashfsVerify.Message,
			fmt.Errorf("refusing to compose from an unverified compressed image"))
	}

	if config.Architecture.SupportsBiosBoot() && bios == nil {
		return IsoArtifact{}, fmt.Errorf("architecture (%s) requires a BIOS boot image and none was built",
			config.Architecture)
	}

	err := writeManifests(config, sessionRootDir, stagingDir)
	if err != nil {
		return IsoArtifact{}, fmt.Errorf("failed to write component manifests:\n%w", err)
	}

	err = writeDiskMetadata(config, epoch, sessionRootDir, stagingDir)
	if err != nil {
		return IsoArtifact{}, fmt.Errorf("failed to write disk metadata:\n%w", err)
	}

	err = stageGrubModules(efi, stagingDir)
	if err != nil {
		return IsoArtifact{}, err
	}

	err = writeChecksumLedger(stagingDir)
	if err != nil {
		return IsoArtifact{}, fmt.Errorf("failed to write checksum ledger:\n%w", err)
	}

	err = epoch.ApplyToTree(stagingDir)
	if err != nil {
		return IsoArtifact{}, err
	}

	artifact := IsoArtifact{
		Path:     filepath.Join(workDir, isoFileName),
		VolumeID: config.VolumeID(),
	}

	err = runXorriso(config, epoch, stagingDir, workDir, artifact, efi, bios)
	if err != nil {
		return IsoArtifact{}, fmt.Errorf("failed to author medium:\n%w", err)
	}

	return artifact, nil
}

// writeManifests produces the full installed-component manifest and the
// denylist-trimmed variant from the session root's package database.
func writeManifests(config *mediabuilderapi.BuildConfig, sessionRootDir string, stagingDir string) error {
	stdout, stderr, err := shell.Execute("dpkg-query",
		"--admindir", filepath.Join(sessionRootDir, "var/lib/dpkg"),
		"-W", "-f", "${Package} ${Version}\n")
	if err != nil {
		return fmt.Errorf("dpkg-query failed:\n%v\n(%s)", err, stderr)
	}

	manifestPath := filepath.Join(stagingDir, liveDirName, manifestFileName)
	err = file.Write(stdout, manifestPath)
	if err != nil {
		return fmt.Errorf("failed to write manifest:\n%w", err)
	}

	trimmedPath := filepath.Join(stagingDir, liveDirName, trimmedManifestFileName)
	err = file.Write(trimManifest(stdout, config.PackageDenylist), trimmedPath)
	if err != nil {
		return fmt.Errorf("failed to write trimmed manifest:\n%w", err)
	}

	return nil
}

// trimManifest drops denylisted packages from a "package version" manifest.
func trimManifest(manifest string, denylist []string) string {
	trimmedLines := []string(nil)
	for _, line := range strings.Split(strings.TrimSpace(manifest), "\n") {
		packageName, _, _ := strings.Cut(line, " ")
		if sliceutils.ContainsValue(denylist, packageName) {
			continue
		}
		trimmedLines = append(trimmedLines, line)
	}

	return strings.Join(trimmedLines, "\n") + "\n"
}

// writeDiskMetadata produces the .disk identification files and the
// informational readme.
func writeDiskMetadata(config *mediabuilderapi.BuildConfig, epoch BuildEpoch,
	sessionRootDir string, stagingDir string,
) error {
	productLine := config.Name
	osRelease, err := osinfo.ReadOsRelease(sessionRootDir)
	if err != nil {
		logger.Log.Debugf("Session root has no readable os-release, using configured product name: %v", err)
	} else if osRelease.PrettyName != "" {
		productLine = osRelease.PrettyName
	}

	branch := config.Branch
	if branch == "" {
		branch = config.Distro
	}

	diskInfo := fmt.Sprintf("%s %s \"%s\" - %s (%s)\n",
		productLine, config.Version, branch, config.Architecture, epoch.DateStamp())

	diskDefines := fmt.Sprintf(`#define DISKNAME  %s %s "%s" - %s
#define TYPE  binary
#define TYPEbinary  1
#define ARCH  %s
#define ARCH%s  1
#define DISKNUM  1
#define DISKNUM1  1
#define TOTALNUM  0
#define TOTALNUM0  1
`, config.Name, config.Version, branch, config.Architecture, config.Architecture, config.Architecture)

	files := map[string]string{
		filepath.Join(stagingDir, ".disk", "info"):      diskInfo,
		filepath.Join(stagingDir, ".disk", "cd_type"):   "full_cd/single\n",
		filepath.Join(stagingDir, "README.diskdefines"): diskDefines,
	}

	for path, contents := range files {
		err := file.Write(contents, path)
		if err != nil {
			return fmt.Errorf("failed to write (%s):\n%w", path, err)
		}
	}

	return nil
}

// writeChecksumLedger hashes every file in the staging tree except the
// ledger itself. The boot images live outside the staging tree and are
// excluded by construction; they are rewritten by the authoring step and
// could never match.
func writeChecksumLedger(stagingDir string) error {
	ledger := strings.Builder{}

	err := filepath.WalkDir(stagingDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || entry.Name() == checksumLedgerFileName {
			return nil
		}

		relPath, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}

		contentFile, err := os.Open(path)
		if err != nil {
			return err
		}
		defer contentFile.Close()

		hasher := md5.New()
		_, err = io.Copy(hasher, contentFile)
		if err != nil {
			return err
		}

		fmt.Fprintf(&ledger, "%x  ./%s\n", hasher.Sum(nil), relPath)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to hash staging tree:\n%w", err)
	}

	return file.Write(ledger.String(), filepath.Join(stagingDir, checksumLedgerFileName))
}

// mainGrubCfg is the real boot configuration the relocation stub hands over
// to on the medium.
func mainGrubCfg(config *mediabuilderapi.BuildConfig) string {
	return fmt.Sprintf(`set default=0
set timeout=5

menuentry "%s %s" {
	linux	/casper/vmlinuz boot=casper quiet splash ---
	initrd	/casper/initrd
}

menuentry "%s %s (safe graphics)" {
	linux	/casper/vmlinuz boot=casper nomodeset ---
	initrd	/casper/initrd
}
`, config.Name, config.Version, config.Name, config.Version)
}

// stageGrubModules copies the platform's grub module set into the staging
// tree, so the checksum ledger covers it and the epoch normalization reaches
// it before the modules land on the medium. Grafting the host directory
// directly would leak host mtimes into the medium's directory records.
func stageGrubModules(efi EfiImage, stagingDir string) error {
	dest := filepath.Join(stagingDir, grubModulesGraftDir(efi))
	err := file.NewDirCopyBuilder(efi.ModulesDir, dest).Run()
	if err != nil {
		return fmt.Errorf("failed to stage grub modules from (%s):\n%w", efi.ModulesDir, err)
	}

	return nil
}

// grubModulesGraftDir is the medium path the platform module set lives at.
func grubModulesGraftDir(efi EfiImage) string {
	return "boot/grub/" + filepath.Base(efi.ModulesDir)
}

// writeMainBootConfig writes the boot configuration grafted onto the medium,
// pinned to the epoch since its mtime lands in the medium's directory record.
func writeMainBootConfig(config *mediabuilderapi.BuildConfig, epoch BuildEpoch, workDir string) (string, error) {
	mainCfgPath := filepath.Join(workDir, "grub-main.cfg")
	err := file.Write(mainGrubCfg(config), mainCfgPath)
	if err != nil {
		return "", fmt.Errorf("failed to write boot configuration:\n%w", err)
	}

	err = epoch.ApplyToFile(mainCfgPath)
	if err != nil {
		return "", err
	}

	return mainCfgPath, nil
}

// runXorriso authors the medium with an architecture-conditional boot
// catalog: amd64 gets legacy plus EFI El Torito entries and hybrid
// MBR/GPT/APM attributes; arm64 gets a single EFI entry referencing an
// appended partition.
func runXorriso(config *mediabuilderapi.BuildConfig, epoch BuildEpoch, stagingDir string,
	workDir string, artifact IsoArtifact, efi EfiImage, bios *BiosImage,
) error {
	mainCfgPath, err := writeMainBootConfig(config, epoch, workDir)
	if err != nil {
		return err
	}

	args := xorrisoArgs(config, epoch, stagingDir, mainCfgPath, artifact, efi, bios)

	logger.Log.Infof("Authoring medium (%s)", artifact.Path)

	err = shell.ExecuteLiveWithEnv(true /*squashErrors*/, epoch.Env(), "xorriso", args...)
	if err != nil {
		return fmt.Errorf("xorriso failed:\n%w", err)
	}

	return nil
}

// xorrisoArgs assembles the full xorriso invocation, graft points included.
func xorrisoArgs(config *mediabuilderapi.BuildConfig, epoch BuildEpoch, stagingDir string,
	mainCfgPath string, artifact IsoArtifact, efi EfiImage, bios *BiosImage,
) []string {
	args := []string{
		"-as", "mkisofs",
		"-r", "-J", "-joliet-long", "-l",
		"-iso-level", "3",
		"-V", artifact.VolumeID,
		"-o", artifact.Path,
	}

	if epoch.Reproducible {
		args = append(args, "--modification-date="+epoch.XorrisoDate())
	}

	if config.Architecture.SupportsBiosBoot() {
		args = append(args,
			"--grub2-mbr", bios.HybridMbrPath,
			"-partition_offset", "16",
			"--mbr-force-bootable",
			"-b", eltoritoPathOnMedium,
			"-no-emul-boot", "-boot-load-size", "4", "-boot-info-table", "--grub2-boot-info",
			"-eltorito-alt-boot",
			"-e", efiImagePathOnMedium,
			"-no-emul-boot",
			"-isohybrid-gpt-basdat", "-isohybrid-apm-hfsplus",
		)
	} else {
		args = append(args,
			"-append_partition", "2", "0xef", efi.Path,
			"-e", "--interval:appended_partition_2:all::",
			"-no-emul-boot",
		)
	}

	grafts := []string{
		"-graft-points",
		liveDirName + "=" + filepath.Join(stagingDir, liveDirName),
		".disk=" + filepath.Join(stagingDir, ".disk"),
		checksumLedgerFileName + "=" + filepath.Join(stagingDir, checksumLedgerFileName),
		"README.diskdefines=" + filepath.Join(stagingDir, "README.diskdefines"),
		"boot/grub/grub.cfg=" + mainCfgPath,
		grubModulesGraftDir(efi) + "=" + filepath.Join(stagingDir, grubModulesGraftDir(efi)),
	}

	if config.Architecture.SupportsBiosBoot() {
		grafts = append(grafts,
			eltoritoPathOnMedium+"="+bios.Path,
			efiImagePathOnMedium+"="+efi.Path,
		)
	}

	args = append(args, grafts...)

	return args
}
