// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderapi

import (
	"fmt"
)

// SecureBootMode selects how the EFI image handles Secure Boot.
type SecureBootMode string

const (
	// Resolve to one of the other modes based on which signed artifacts are
	// installed on the build host.
	SecureBootModeAuto SecureBootMode = "auto"
	// Boot the unsigned loader directly; Secure Boot must be off on the
	// target machine.
	SecureBootModeDisabled SecureBootMode = "disabled"
	// Boot through the vendor-signed shim with an unsigned loader; the user
	// enrolls the loader hash on first boot.
	SecureBootModeShimOnly SecureBootMode = "shim-only"
	// Boot through the vendor-signed shim chained to a signed loader.
	SecureBootModeSignedGrub SecureBootMode = "signed-grub"

	// Empty value defaults to auto.
	SecureBootModeDefault SecureBootMode = ""
)

func (m SecureBootMode) IsValid() error {
	switch m {
	case SecureBootModeDefault, SecureBootModeAuto, SecureBootModeDisabled, SecureBootModeShimOnly,
		SecureBootModeSignedGrub:
		return nil
	default:
		return fmt.Errorf("invalid secureBoot value (%s)", m)
	}
}
