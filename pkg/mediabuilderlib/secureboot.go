// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"fmt"

	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
)

// SecureBootArtifacts is the set of signed boot binaries installed on the
// build host. Which of them exist determines the Secure Boot mode that can
// actually be delivered; the set is resolved once at build start and passed
// in rather than probed from inside the EFI builder.
type SecureBootArtifacts struct {
	// Vendor-signed shim (e.g. shim-signed's shimx64.efi.signed).
	SignedShim string
	// Distro-signed grub EFI binary.
	SignedGrub string
	// MokManager-style enrollment helper shipped next to the shim.
	EnrollmentHelper string
}

func defaultSecureBootPaths(arch mediabuilderapi.Architecture) SecureBootArtifacts {
	switch arch {
	case mediabuilderapi.ArchitectureArm64:
		return SecureBootArtifacts{
			SignedShim:       "/usr/lib/shim/shimaa64.efi.signed",
			SignedGrub:       "/usr/lib/grub/arm64-efi-signed/grubaa64.efi.signed",
			EnrollmentHelper: "/usr/lib/shim/mmaa64.efi.signed",
		}
	default:
		return SecureBootArtifacts{
			SignedShim:       "/usr/lib/shim/shimx64.efi.signed",
			SignedGrub:       "/usr/lib/grub/x86_64-efi-signed/grubx64.efi.signed",
			EnrollmentHelper: "/usr/lib/shim/mmx64.efi.signed",
		}
	}
}

// ResolveSecureBootArtifacts scans the build host for signed boot binaries,
// honoring config overrides. A missing artifact resolves to an empty path.
func ResolveSecureBootArtifacts(config *mediabuilderapi.BuildConfig) (SecureBootArtifacts, error) {
	artifacts := defaultSecureBootPaths(config.Architecture)

	if config.SignedShimPath != "" {
		artifacts.SignedShim = config.SignedShimPath
	}
	if config.SignedGrubPath != "" {
		artifacts.SignedGrub = config.SignedGrubPath
	}
	if config.EnrollmentHelperPath != "" {
		artifacts.EnrollmentHelper = config.EnrollmentHelperPath
	}

	for _, path := range []*string{&artifacts.SignedShim, &artifacts.SignedGrub, &artifacts.EnrollmentHelper} {
		exists, err := file.PathExists(*path)
		if err != nil {
			return SecureBootArtifacts{}, fmt.Errorf("failed to check Secure Boot artifact (%s):\n%w", *path, err)
		}
		if !exists {
			*path = ""
		}
	}

	return artifacts, nil
}

// selectSecureBootMode resolves the effective Secure Boot mode from the
// requested mode and the artifacts actually present.
//
// An explicitly requested mode takes precedence over what the artifacts
// would allow: shim-only stays shim-only even when a signed loader exists,
// so a medium can ship the unsigned loader for manual enrollment on purpose.
// Only auto picks the strongest chain the host can supply:
//   - signed shim + signed loader available: boot shim, chain to the signed
//     loader;
//   - only a signed shim available: shim-only fallback, the user enrolls the
//     unsigned loader manually;
//   - otherwise: the unsigned loader boots directly.
func selectSecureBootMode(requested mediabuilderapi.SecureBootMode, artifacts SecureBootArtifacts,
) (mediabuilderapi.SecureBootMode, error) {
	haveShim := artifacts.SignedShim != ""
	haveSignedGrub := artifacts.SignedGrub != ""

	switch requested {
	case mediabuilderapi.SecureBootModeDisabled:
		return mediabuilderapi.SecureBootModeDisabled, nil

	case mediabuilderapi.SecureBootModeSignedGrub:
		if !haveShim || !haveSignedGrub {
			return "", fmt.Errorf("%w:\nsigned-grub mode requires a signed shim and a signed loader on the build host",
				PreconditionError)
		}
		return mediabuilderapi.SecureBootModeSignedGrub, nil

	case mediabuilderapi.SecureBootModeShimOnly:
		if !haveShim {
			return "", fmt.Errorf("%w:\nshim-only mode requires a signed shim on the build host", PreconditionError)
		}
		return mediabuilderapi.SecureBootModeShimOnly, nil

	default: // auto
		switch {
		case haveShim && haveSignedGrub:
			return mediabuilderapi.SecureBootModeSignedGrub, nil
		case haveShim:
			logger.Log.Info("No signed loader found, falling back to shim-only Secure Boot")
			return mediabuilderapi.SecureBootModeShimOnly, nil
		default:
			logger.Log.Info("No signed shim found, Secure Boot will be unavailable on the medium")
			return mediabuilderapi.SecureBootModeDisabled, nil
		}
	}
}
