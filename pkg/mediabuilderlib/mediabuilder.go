// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

// Package mediabuilderlib builds a bootable installation medium for a
// Debian-derived operating system: a customized root filesystem is
// compressed and composed, together with freshly built EFI and legacy boot
// images, into a single hybrid disk image plus verification artifacts.
package mediabuilderlib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/internal/safechroot"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
	"go.opentelemetry.io/otel"
)

const (
	stagingDirName = "staging"
	lockFileName   = ".mediabuilder.lock"
)

// BuildOptions are the per-invocation paths, as opposed to the product
// description in the BuildConfig.
type BuildOptions struct {
	// Working directory for intermediate artifacts. Exclusive per build.
	BuildDir string
	// Directory the finalized medium and digest are placed in.
	OutputDir string
	// Root filesystem tree the populator customizes and the medium ships.
	SessionRootDir string
	// Customization program executed inside the session root.
	PopulatorProgram string
	// Optional configuration directory staged next to the program.
	PopulatorConfigDir string
}

func (o *BuildOptions) IsValid() error {
	if o.BuildDir == "" {
		return fmt.Errorf("build directory must be specified")
	}
	if o.OutputDir == "" {
		return fmt.Errorf("output directory must be specified")
	}
	if o.SessionRootDir == "" {
		return fmt.Errorf("session root directory must be specified")
	}
	if o.PopulatorProgram == "" {
		return fmt.Errorf("populator program must be specified")
	}
	return nil
}

// Tools every build invokes. grub-mkimage is appended on architectures with
// a legacy boot path.
var requiredTools = []string{
	"mksquashfs",
	"unsquashfs",
	"grub-mkstandalone",
	"mkfs.fat",
	"mmd",
	"mcopy",
	"xorriso",
	"dpkg-query",
}

// Build runs the whole pipeline: populate, compress, build boot images,
// compose, finalize. Stages run strictly in sequence; the first failure
// aborts the build naming the failed stage, and partial artifacts are left
// in the build directory for inspection.
func Build(ctx context.Context, config *mediabuilderapi.BuildConfig, options *BuildOptions,
) (FinalizedArtifact, error) {
	err := config.IsValid()
	if err != nil {
		return FinalizedArtifact{}, fmt.Errorf("invalid build config:\n%w", err)
	}

	err = options.IsValid()
	if err != nil {
		return FinalizedArtifact{}, fmt.Errorf("invalid build options:\n%w", err)
	}

	err = checkRequiredTools(config)
	if err != nil {
		return FinalizedArtifact{}, err
	}

	err = os.MkdirAll(options.BuildDir, os.ModePerm)
	if err != nil {
		return FinalizedArtifact{}, fmt.Errorf("failed to create build directory:\n%w", err)
	}

	unlock, err := lockBuildDir(options.BuildDir)
	if err != nil {
		return FinalizedArtifact{}, err
	}
	defer unlock()

	// A prior abnormal termination may have left session mounts behind.
	err = safechroot.CleanStaleMounts(options.SessionRootDir)
	if err != nil {
		return FinalizedArtifact{}, fmt.Errorf("failed to recover stale session mounts:\n%w", err)
	}

	epoch, err := ResolveEpoch(config)
	if err != nil {
		return FinalizedArtifact{}, err
	}

	secureBootArtifacts, err := ResolveSecureBootArtifacts(config)
	if err != nil {
		return FinalizedArtifact{}, err
	}

	stagingDir := filepath.Join(options.BuildDir, stagingDirName)
	err = os.MkdirAll(stagingDir, os.ModePerm)
	if err != nil {
		return FinalizedArtifact{}, fmt.Errorf("failed to create staging directory:\n%w", err)
	}

	err = runStage(ctx, "populate", func() error {
		return runPopulateStage(config, options)
	})
	if err != nil {
		return FinalizedArtifact{}, err
	}

	var squashfs SquashfsImage
	err = runStage(ctx, "compress", func() error {
		var stageErr error
		squashfs, _, stageErr = compressRootFilesystem(config, epoch, options.SessionRootDir, stagingDir)
		return stageErr
	})
	if err != nil {
		return FinalizedArtifact{}, err
	}

	var efi EfiImage
	err = runStage(ctx, "efi-image", func() error {
		var stageErr error
		efi, stageErr = buildEfiImage(config, epoch, secureBootArtifacts, options.BuildDir)
		return stageErr
	})
	if err != nil {
		return FinalizedArtifact{}, err
	}

	var bios *BiosImage
	err = runStage(ctx, "bios-image", func() error {
		var stageErr error
		bios, stageErr = buildBiosImage(config, epoch, options.BuildDir)
		return stageErr
	})
	if err != nil {
		return FinalizedArtifact{}, err
	}

	var iso IsoArtifact
	err = runStage(ctx, "compose", func() error {
		var stageErr error
		iso, stageErr = composeIso(config, epoch, options.SessionRootDir, stagingDir,
			options.BuildDir, squashfs, efi, bios)
		return stageErr
	})
	if err != nil {
		return FinalizedArtifact{}, err
	}

	var finalized FinalizedArtifact
	err = runStage(ctx, "finalize", func() error {
		var stageErr error
		finalized, stageErr = finalizeArtifact(config, epoch, iso, options.OutputDir)
		return stageErr
	})
	if err != nil {
		return FinalizedArtifact{}, err
	}

	return finalized, nil
}

// runPopulateStage owns the chroot session: it is released on every exit
// path, so the session never outlives the stage.
func runPopulateStage(config *mediabuilderapi.BuildConfig, options *BuildOptions) (err error) {
	chroot := safechroot.NewChroot(options.SessionRootDir)

	err = chroot.Initialize(nil, true /*includeDefaultMounts*/)
	if err != nil {
		return fmt.Errorf("failed to activate session:\n%w", err)
	}

	logger.Log.Infof("Session (%s) active at (%s)", chroot.SessionID(), chroot.RootDir())

	defer func() {
		closeErr := chroot.Close(true /*leaveOnDisk*/)
		if closeErr != nil {
			if err == nil {
				err = closeErr
			} else {
				logger.Log.Errorf("Failed to tear down session: %v", closeErr)
			}
		}
	}()

	return populateRootFilesystem(config, chroot, options.PopulatorProgram, options.PopulatorConfigDir)
}

// Clean removes the build directory, detaching any stale session mounts a
// prior abnormal termination left behind first.
func Clean(options *BuildOptions) error {
	err := safechroot.CleanStaleMounts(options.SessionRootDir)
	if err != nil {
		return fmt.Errorf("failed to detach stale session mounts:\n%w", err)
	}

	err = os.RemoveAll(options.BuildDir)
	if err != nil {
		return fmt.Errorf("failed to remove build directory:\n%w", err)
	}

	logger.Log.Infof("Removed build directory (%s)", options.BuildDir)
	return nil
}

// runStage wraps one pipeline stage with a trace span and failure naming.
func runStage(ctx context.Context, name string, stage func() error) error {
	_, span := otel.GetTracerProvider().Tracer("mediabuilder").Start(ctx, name)
	defer span.End()

	logger.Log.Debugf("Running stage (%s)", name)

	err := stage()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("stage (%s) failed:\n%w", name, err)
	}

	return nil
}

// checkRequiredTools reports every missing external tool by name before any
// work starts.
func checkRequiredTools(config *mediabuilderapi.BuildConfig) error {
	tools := requiredTools
	if config.Architecture.SupportsBiosBoot() {
		tools = append(tools[:len(tools):len(tools)], "grub-mkimage")
	}

	for _, tool := range tools {
		exists, err := file.CommandExists(tool)
		if err != nil {
			return fmt.Errorf("failed to look up tool (%s):\n%w", tool, err)
		}
		if !exists {
			return NewMediaBuilderErrorWithCause(PreconditionError, ErrMissingTool.Message,
				fmt.Errorf("tool (%s) not found in PATH", tool))
		}
	}

	return nil
}

// lockBuildDir takes the build directory's exclusive lock. Only one build
// may run against a working directory at a time.
func lockBuildDir(buildDir string) (unlock func(), err error) {
	lockPath := filepath.Join(buildDir, lockFileName)

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, NewMediaBuilderErrorWithCause(PreconditionError, ErrWorkDirBusy.Message,
				fmt.Errorf("lock file (%s) exists; remove it if no other build is running", lockPath))
		}
		return nil, fmt.Errorf("failed to take build directory lock:\n%w", err)
	}
	lockFile.Close()

	return func() {
		removeErr := os.Remove(lockPath)
		if removeErr != nil {
			logger.Log.Warnf("Failed to release build directory lock: %v", removeErr)
		}
	}, nil
}
