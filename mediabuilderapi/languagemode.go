// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderapi

import (
	"fmt"
)

// LanguageMode selects how much locale data the customization program leaves
// in the root filesystem.
type LanguageMode string

const (
	// Ship only the English locale.
	LanguageModeMinimal LanguageMode = "minimal"
	// Ship the full locale set.
	LanguageModeFull LanguageMode = "full"

	// Empty value defaults to minimal.
	LanguageModeDefault LanguageMode = ""
)

func (m LanguageMode) IsValid() error {
	switch m {
	case LanguageModeDefault, LanguageModeMinimal, LanguageModeFull:
		return nil
	default:
		return fmt.Errorf("invalid languageMode value (%s)", m)
	}
}
