// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimManifestDropsDenylistedPackages(t *testing.T) {
	manifest := "bash 5.2.15\ngparted 1.3.1\nlibc6 2.36\n"

	trimmed := trimManifest(manifest, []string{"gparted"})

	assert.Equal(t, "bash 5.2.15\nlibc6 2.36\n", trimmed)
}

func TestTrimManifestEmptyDenylistKeepsAll(t *testing.T) {
	manifest := "bash 5.2.15\nlibc6 2.36\n"

	trimmed := trimManifest(manifest, nil)

	assert.Equal(t, manifest, trimmed)
}

func TestWriteChecksumLedgerExcludesItself(t *testing.T) {
	stagingDir := t.TempDir()

	contents := []byte("squashfs bytes")
	require.NoError(t, os.MkdirAll(filepath.Join(stagingDir, "casper"), os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "casper", "filesystem.squashfs"), contents, 0o644))

	err := writeChecksumLedger(stagingDir)
	assert.NoError(t, err)

	ledger, err := os.ReadFile(filepath.Join(stagingDir, checksumLedgerFileName))
	require.NoError(t, err)

	expectedLine := fmt.Sprintf("%x  ./casper/filesystem.squashfs\n", md5.Sum(contents))
	assert.Equal(t, expectedLine, string(ledger))
	assert.NotContains(t, string(ledger), checksumLedgerFileName)
}

func TestWriteDiskMetadata(t *testing.T) {
	sessionRootDir := t.TempDir()
	stagingDir := t.TempDir()

	osRelease := `PRETTY_NAME="Example Linux 1.0"
ID=examplelinux
`
	require.NoError(t, os.MkdirAll(filepath.Join(sessionRootDir, "etc"), os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(sessionRootDir, "etc", "os-release"), []byte(osRelease), 0o644))

	config := &mediabuilderapi.BuildConfig{
		Architecture: mediabuilderapi.ArchitectureAmd64,
		Distro:       "bookworm",
		Name:         "examplelinux",
		Version:      "1.0",
	}
	epoch := BuildEpoch{Time: time.Unix(1700000000, 0).UTC(), Reproducible: true}

	err := writeDiskMetadata(config, epoch, sessionRootDir, stagingDir)
	assert.NoError(t, err)

	info, err := os.ReadFile(filepath.Join(stagingDir, ".disk", "info"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "Example Linux 1.0")
	assert.Contains(t, string(info), "amd64")
	assert.Contains(t, string(info), "20231114")

	cdType, err := os.ReadFile(filepath.Join(stagingDir, ".disk", "cd_type"))
	require.NoError(t, err)
	assert.Equal(t, "full_cd/single\n", string(cdType))

	diskDefines, err := os.ReadFile(filepath.Join(stagingDir, "README.diskdefines"))
	require.NoError(t, err)
	assert.Contains(t, string(diskDefines), "#define DISKNAME")
	assert.Contains(t, string(diskDefines), "#define ARCH  amd64")
}

func TestMainGrubCfgBootsLiveSystem(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{
		Name:    "examplelinux",
		Version: "1.0",
	}

	cfg := mainGrubCfg(config)

	assert.Contains(t, cfg, "/casper/vmlinuz")
	assert.Contains(t, cfg, "/casper/initrd")
	assert.Contains(t, cfg, "examplelinux 1.0")
}

func TestComposeIsoRefusesUnverifiedImage(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{
		Architecture: mediabuilderapi.ArchitectureAmd64,
		Distro:       "bookworm",
		Name:         "examplelinux",
		Version:      "1.0",
	}

	unverified := SquashfsImage{Path: "/nonexistent/filesystem.squashfs"}

	_, err := composeIso(config, BuildEpoch{}, t.TempDir(), t.TempDir(), t.TempDir(),
		unverified, EfiImage{}, &BiosImage{})
	assert.ErrorIs(t, err, VerificationError)
}

func TestComposeIsoRequiresBiosImageOnAmd64(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{
		Architecture: mediabuilderapi.ArchitectureAmd64,
		Distro:       "bookworm",
		Name:         "examplelinux",
		Version:      "1.0",
	}

	verified := SquashfsImage{Path: "/nonexistent/filesystem.squashfs", verified: true}

	_, err := composeIso(config, BuildEpoch{}, t.TempDir(), t.TempDir(), t.TempDir(),
		verified, EfiImage{}, nil)
	assert.ErrorContains(t, err, "BIOS boot image")
}

func TestXorrisoArgsAmd64HybridCatalog(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{
		Architecture: mediabuilderapi.ArchitectureAmd64,
		Name:         "examplelinux",
	}
	epoch := BuildEpoch{Time: time.Unix(1700000000, 0).UTC(), Reproducible: true}
	artifact := IsoArtifact{Path: "/build/media.iso", VolumeID: "EXAMPLELINUX"}
	efi := EfiImage{Path: "/build/efiboot.img", ModulesDir: "/usr/lib/grub/x86_64-efi"}
	bios := &BiosImage{Path: "/build/eltorito.img", HybridMbrPath: "/usr/lib/grub/i386-pc/boot_hybrid.img"}

	args := xorrisoArgs(config, epoch, "/build/staging", "/build/grub-main.cfg", artifact, efi, bios)

	assert.Contains(t, args, "--grub2-mbr")
	assert.Contains(t, args, "-b")
	assert.Contains(t, args, "-eltorito-alt-boot")
	assert.Contains(t, args, "-isohybrid-gpt-basdat")
	assert.Contains(t, args, "--modification-date="+epoch.XorrisoDate())
	assert.Contains(t, args, eltoritoPathOnMedium+"="+bios.Path)
	assert.Contains(t, args, efiImagePathOnMedium+"="+efi.Path)
	assert.NotContains(t, args, "-append_partition")

	// Modules are grafted from the timestamp-normalized staging copy, never
	// from the host directory.
	assert.Contains(t, args, "boot/grub/x86_64-efi=/build/staging/boot/grub/x86_64-efi")
	assert.NotContains(t, args, "boot/grub/x86_64-efi="+efi.ModulesDir)
}

func TestXorrisoArgsArm64AppendedPartition(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{
		Architecture: mediabuilderapi.ArchitectureArm64,
		Name:         "examplelinux",
	}
	artifact := IsoArtifact{Path: "/build/media.iso", VolumeID: "EXAMPLELINUX"}
	efi := EfiImage{Path: "/build/efiboot.img", ModulesDir: "/usr/lib/grub/arm64-efi"}

	args := xorrisoArgs(config, BuildEpoch{}, "/build/staging", "/build/grub-main.cfg", artifact, efi, nil)

	assert.Contains(t, args, "-append_partition")
	assert.Contains(t, args, "--interval:appended_partition_2:all::")
	assert.NotContains(t, args, "-b")
	assert.NotContains(t, args, "--grub2-mbr")
	assert.NotContains(t, args, eltoritoPathOnMedium+"="+"/build/eltorito.img")

	// Non-reproducible builds carry no modification-date pin.
	for _, arg := range args {
		assert.NotContains(t, arg, "--modification-date")
	}
}

func TestEltoritoPathsStayUnderBootGrub(t *testing.T) {
	assert.True(t, strings.HasPrefix(eltoritoPathOnMedium, "boot/grub/"))
	assert.True(t, strings.HasPrefix(efiImagePathOnMedium, "boot/grub/"))
}

func TestWriteMainBootConfigPinsTimestamp(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{
		Name:    "examplelinux",
		Version: "1.0",
	}
	epoch := BuildEpoch{Time: time.Unix(1700000000, 0).UTC(), Reproducible: true}

	workDir := t.TempDir()
	mainCfgPath, err := writeMainBootConfig(config, epoch, workDir)
	assert.NoError(t, err)

	// The file is grafted onto the medium; a wall-clock mtime here would
	// land in the directory record and break byte-identical rebuilds.
	stat, err := os.Stat(mainCfgPath)
	require.NoError(t, err)
	assert.Equal(t, epoch.Time, stat.ModTime().UTC())

	contents, err := os.ReadFile(mainCfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "/casper/vmlinuz")
}

func TestStageGrubModulesCopiesIntoStagingTree(t *testing.T) {
	modulesDir := filepath.Join(t.TempDir(), "x86_64-efi")
	require.NoError(t, os.MkdirAll(modulesDir, os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(modulesDir, "part_gpt.mod"), []byte("mod"), 0o644))

	stagingDir := t.TempDir()
	efi := EfiImage{ModulesDir: modulesDir}

	err := stageGrubModules(efi, stagingDir)
	assert.NoError(t, err)

	staged, err := os.ReadFile(filepath.Join(stagingDir, "boot", "grub", "x86_64-efi", "part_gpt.mod"))
	require.NoError(t, err)
	assert.Equal(t, "mod", string(staged))
}
