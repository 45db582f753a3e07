// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/internal/network"
	"github.com/osbuilders/debian-media-tools/internal/safechroot"
	"github.com/osbuilders/debian-media-tools/internal/shell"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
)

const (
	populatorDirInSession = "/tmp/media-populator"
	populatorProgramName  = "populate.sh"

	aptProxySnippetPath = "/etc/apt/apt.conf.d/01media-builder-proxy"
)

// populateRootFilesystem runs the customization program inside the session
// root. The program is copied in, executed chrooted with the product
// environment, and removed again; the session's resolv.conf is overridden
// for the duration and restored before the function returns.
func populateRootFilesystem(config *mediabuilderapi.BuildConfig, chroot *safechroot.Chroot,
	populatorProgram string, populatorConfigDir string,
) error {
	logger.Log.Infof("Populating root filesystem (program: %s)", populatorProgram)

	resolvConf, err := overrideResolvConf(chroot)
	if err != nil {
		return fmt.Errorf("failed to override session resolv.conf:\n%w", err)
	}

	defer func() {
		restoreErr := restoreResolvConf(resolvConf, chroot)
		if restoreErr != nil {
			logger.Log.Warnf("Failed to restore session resolv.conf: %v", restoreErr)
		}
	}()

	cacheReachable := network.ProbeCache(config.PackageCacheURL)

	err = stagePopulator(config, chroot, populatorProgram, populatorConfigDir, cacheReachable)
	if err != nil {
		return err
	}

	defer func() {
		removeErr := removePopulator(chroot)
		if removeErr != nil {
			logger.Log.Warnf("Failed to remove populator staging from session: %v", removeErr)
		}
	}()

	err = runPopulator(config, chroot)
	if err != nil {
		return NewMediaBuilderErrorWithCause(ToolInvocationError, ErrCustomizationFatal.Message, err)
	}

	return nil
}

func stagePopulator(config *mediabuilderapi.BuildConfig, chroot *safechroot.Chroot,
	populatorProgram string, populatorConfigDir string, cacheReachable bool,
) error {
	executableMode := fs.FileMode(0o755)

	filesToCopy := []safechroot.FileToCopy{
		{
			Src:         populatorProgram,
			Dest:        filepath.Join(populatorDirInSession, populatorProgramName),
			Permissions: &executableMode,
		},
	}

	if cacheReachable {
		proxySnippet := fmt.Sprintf("Acquire::http::Proxy \"%s\";\n", config.PackageCacheURL)
		filesToCopy = append(filesToCopy, safechroot.FileToCopy{
			Content: &proxySnippet,
			Dest:    aptProxySnippetPath,
		})
	}

	err := chroot.AddFiles(filesToCopy...)
	if err != nil {
		return fmt.Errorf("failed to stage populator into session:\n%w", err)
	}

	if populatorConfigDir != "" {
		err = copyPopulatorConfig(chroot, populatorConfigDir)
		if err != nil {
			return fmt.Errorf("failed to stage populator config into session:\n%w", err)
		}
	}

	return nil
}

func copyPopulatorConfig(chroot *safechroot.Chroot, populatorConfigDir string) error {
	configDirInSession := filepath.Join(chroot.RootDir(), populatorDirInSession, "config")
	return file.NewDirCopyBuilder(populatorConfigDir, configDirInSession).Run()
}

func runPopulator(config *mediabuilderapi.BuildConfig, chroot *safechroot.Chroot) error {
	populatorEnv := []string(nil)
	if !config.Interactive {
		populatorEnv = append(populatorEnv, "DEBIAN_FRONTEND=noninteractive")
	}
	populatorEnv = append(populatorEnv,
		fmt.Sprintf("MEDIA_ARCH=%s", config.Architecture),
		fmt.Sprintf("MEDIA_DISTRO=%s", config.Distro),
		fmt.Sprintf("MEDIA_MIRROR=%s", config.MirrorURL),
		fmt.Sprintf("MEDIA_NAME=%s", config.Name),
		fmt.Sprintf("MEDIA_VERSION=%s", config.Version),
		fmt.Sprintf("MEDIA_BRANCH=%s", config.Branch),
		fmt.Sprintf("MEDIA_LANGUAGE_MODE=%s", config.LanguageMode),
	)

	programPath := filepath.Join(populatorDirInSession, populatorProgramName)

	return chroot.UnsafeRun(func() error {
		if config.Interactive {
			return shell.ExecuteInteractive(populatorEnv, programPath)
		}
		return shell.ExecuteLiveWithEnv(false /*squashErrors*/, populatorEnv, programPath)
	})
}

func removePopulator(chroot *safechroot.Chroot) error {
	err := os.RemoveAll(filepath.Join(chroot.RootDir(), populatorDirInSession))
	if err != nil {
		return err
	}

	// The proxy snippet must not leak into the shipped filesystem.
	err = os.RemoveAll(filepath.Join(chroot.RootDir(), aptProxySnippetPath))
	if err != nil {
		return err
	}

	return nil
}
