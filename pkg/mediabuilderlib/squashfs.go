// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	cpio "github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/compress/zstd"
	pgzip "github.com/klauspost/pgzip"
	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/kernelartifact"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/internal/shell"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
)

const (
	liveDirName          = "casper"
	liveKernelFileName   = "vmlinuz"
	liveInitrdFileName   = "initrd"
	liveSquashfsFileName = "filesystem.squashfs"

	squashfsBlockSize = "1048576"
)

// Session-root paths whose contents never ship in the compressed image. The
// wildcard forms exclude contents only, keeping the mountpoint directories
// themselves present so the live system can mount over them.
var squashfsExcludePaths = []string{
	"proc/*",
	"sys/*",
	"dev/*",
	"run/*",
	"tmp/*",
	"var/cache/apt/archives/*",
	strings.TrimPrefix(populatorDirInSession, "/"),
}

// SquashfsImage is a compressed root filesystem image. Verified reports
// whether the post-build self-check succeeded; composition refuses an
// unverified image.
type SquashfsImage struct {
	Path     string
	verified bool
}

func (s *SquashfsImage) Verified() bool {
	return s.verified
}

// compressRootFilesystem stages the kernel/initrd pair under well-known
// names, compresses the session root and self-checks the result.
func compressRootFilesystem(config *mediabuilderapi.BuildConfig, epoch BuildEpoch,
	sessionRootDir string, stagingDir string,
) (SquashfsImage, kernelartifact.Artifact, error) {
	kernel, err := kernelartifact.Locate(sessionRootDir)
	if err != nil {
		return SquashfsImage{}, kernelartifact.Artifact{},
			NewMediaBuilderErrorWithCause(PreconditionError, ErrNoKernel.Message, err)
	}

	logger.Log.Infof("Shipping kernel (%s)", kernel.Version)

	err = verifyInitrdArchive(kernel.InitrdPath)
	if err != nil {
		return SquashfsImage{}, kernelartifact.Artifact{},
			NewMediaBuilderErrorWithCause(VerificationError, ErrInitrdUnreadable.Message, err)
	}

	liveDir := filepath.Join(stagingDir, liveDirName)

	err = file.Copy(kernel.KernelPath, filepath.Join(liveDir, liveKernelFileName))
	if err != nil {
		return SquashfsImage{}, kernelartifact.Artifact{},
			fmt.Errorf("failed to stage kernel image:\n%w", err)
	}

	err = file.Copy(kernel.InitrdPath, filepath.Join(liveDir, liveInitrdFileName))
	if err != nil {
		return SquashfsImage{}, kernelartifact.Artifact{},
			fmt.Errorf("failed to stage initial ramdisk:\n%w", err)
	}

	image := SquashfsImage{
		Path: filepath.Join(liveDir, liveSquashfsFileName),
	}

	err = runMksquashfs(config, epoch, sessionRootDir, image.Path)
	if err != nil {
		return SquashfsImage{}, kernelartifact.Artifact{},
			fmt.Errorf("failed to compress session root:\n%w", err)
	}

	err = verifySquashfs(image.Path)
	if err != nil {
		return SquashfsImage{}, kernelartifact.Artifact{},
			NewMediaBuilderErrorWithCause(VerificationError, ErrSquashfsVerify.Message, err)
	}
	image.verified = true

	return image, kernel, nil
}

func runMksquashfs(config *mediabuilderapi.BuildConfig, epoch BuildEpoch,
	sessionRootDir string, imagePath string,
) error {
	logger.Log.Infof("Compressing root filesystem (effort: %s)", config.ResolvedCompressionEffort())

	err := shell.ExecuteLiveWithEnv(true /*squashErrors*/, epoch.Env(), "mksquashfs",
		mksquashfsArgs(config, epoch, sessionRootDir, imagePath)...)
	if err != nil {
		return fmt.Errorf("mksquashfs failed:\n%w", err)
	}

	return nil
}

// mksquashfsArgs assembles the full mksquashfs invocation. The -wildcards
// flag makes the contents-only exclude patterns effective.
func mksquashfsArgs(config *mediabuilderapi.BuildConfig, epoch BuildEpoch,
	sessionRootDir string, imagePath string,
) []string {
	compressionLevel := "3"
	if config.ResolvedCompressionEffort() == mediabuilderapi.CompressionEffortRelease {
		compressionLevel = "19"
	}

	args := []string{
		sessionRootDir, imagePath,
		"-noappend",
		"-comp", "zstd",
		"-Xcompression-level", compressionLevel,
		"-b", squashfsBlockSize,
	}

	if epoch.Reproducible {
		args = append(args,
			"-mkfs-time", epoch.UnixString(),
			"-all-time", epoch.UnixString(),
		)
	}

	args = append(args, "-wildcards", "-e")
	args = append(args, squashfsExcludePaths...)

	return args
}

// verifySquashfs reopens the produced image and checks its internal
// consistency before any downstream stage may read it.
func verifySquashfs(imagePath string) error {
	stdout, stderr, err := shell.Execute("unsquashfs", "-stat", imagePath)
	if err != nil {
		return fmt.Errorf("unsquashfs rejected the image:\n%v\n(%s)", err, stderr)
	}

	logger.Log.Debugf("Compressed image self-check:\n%s", stdout)
	return nil
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// verifyInitrdArchive checks the initial ramdisk is a readable cpio archive,
// decompressing gzip or zstd wrapping first. A truncated or corrupt initrd
// would only surface at boot otherwise.
func verifyInitrdArchive(initrdPath string) error {
	initrdFile, err := os.Open(initrdPath)
	if err != nil {
		return fmt.Errorf("failed to open initrd (%s):\n%w", initrdPath, err)
	}
	defer initrdFile.Close()

	magic := make([]byte, 4)
	_, err = io.ReadFull(initrdFile, magic)
	if err != nil {
		return fmt.Errorf("failed to read initrd header (%s):\n%w", initrdPath, err)
	}

	_, err = initrdFile.Seek(0, io.SeekStart)
	if err != nil {
		return fmt.Errorf("failed to rewind initrd (%s):\n%w", initrdPath, err)
	}

	var archiveReader io.Reader
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gzipReader, err := pgzip.NewReader(initrdFile)
		if err != nil {
			return fmt.Errorf("failed to open gzip initrd (%s):\n%w", initrdPath, err)
		}
		defer gzipReader.Close()
		archiveReader = gzipReader

	case bytes.HasPrefix(magic, zstdMagic):
		zstdReader, err := zstd.NewReader(initrdFile)
		if err != nil {
			return fmt.Errorf("failed to open zstd initrd (%s):\n%w", initrdPath, err)
		}
		defer zstdReader.Close()
		archiveReader = zstdReader

	default:
		// Early-microcode initrds start with an uncompressed cpio segment.
		archiveReader = initrdFile
	}

	cpioReader := cpio.NewReader(archiveReader)
	_, err = cpioReader.Next()
	if err != nil {
		return fmt.Errorf("initrd (%s) is not a readable cpio archive:\n%w", initrdPath, err)
	}

	return nil
}
