// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderapi

import (
	"fmt"
)

// CompressionEffort trades squashfs build time against image size. It does
// not change any correctness contract.
type CompressionEffort string

const (
	// Fast, low-effort compression for iterative builds.
	CompressionEffortFast CompressionEffort = "fast"
	// Slow, high-effort compression for release builds.
	CompressionEffortRelease CompressionEffort = "release"

	// Empty value defaults to fast.
	CompressionEffortDefault CompressionEffort = ""
)

func (e CompressionEffort) IsValid() error {
	switch e {
	case CompressionEffortDefault, CompressionEffortFast, CompressionEffortRelease:
		return nil
	default:
		return fmt.Errorf("invalid compressionEffort value (%s)", e)
	}
}
