// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderapi

import (
	"fmt"
)

// Architecture is the target CPU architecture of the medium.
type Architecture string

const (
	ArchitectureAmd64 Architecture = "amd64"
	ArchitectureArm64 Architecture = "arm64"
)

func SupportedArchitectures() []Architecture {
	return []Architecture{ArchitectureAmd64, ArchitectureArm64}
}

func (a Architecture) IsValid() error {
	switch a {
	case ArchitectureAmd64, ArchitectureArm64:
		return nil
	default:
		return fmt.Errorf("invalid architecture value (%s)", a)
	}
}

// EfiBootFileName is the removable-media default boot file name for the
// architecture, as defined by the UEFI specification.
func (a Architecture) EfiBootFileName() string {
	switch a {
	case ArchitectureArm64:
		return "BOOTAA64.EFI"
	default:
		return "BOOTX64.EFI"
	}
}

// GrubEfiPlatform is the grub platform directory name for the architecture.
func (a Architecture) GrubEfiPlatform() string {
	switch a {
	case ArchitectureArm64:
		return "arm64-efi"
	default:
		return "x86_64-efi"
	}
}

// SupportsBiosBoot reports whether a legacy BIOS boot path exists for the
// architecture.
func (a Architecture) SupportsBiosBoot() bool {
	return a == ArchitectureAmd64
}
