// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderapi

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
)

// BuildConfig describes one media build. It is constructed once at build
// start and never mutated; every pipeline component receives it explicitly.
type BuildConfig struct {
	// Target CPU architecture of the medium.
	Architecture Architecture `yaml:"architecture" json:"architecture" jsonschema:"required"`
	// Debian-derivative codename the root filesystem is built from
	// (e.g. bookworm).
	Distro string `yaml:"distro" json:"distro" jsonschema:"required"`
	// Package mirror used by the customization program.
	MirrorURL string `yaml:"mirrorUrl" json:"mirrorUrl,omitempty"`
	// Optional package cache; probed at build start and used only if
	// reachable.
	PackageCacheURL string `yaml:"packageCacheUrl" json:"packageCacheUrl,omitempty"`

	// Product identity, used for volume id, disk metadata and output naming.
	Name    string `yaml:"name" json:"name" jsonschema:"required"`
	Version string `yaml:"version" json:"version" jsonschema:"required"`
	Branch  string `yaml:"branch" json:"branch,omitempty"`
	// Variant qualifier in the output file name (e.g. desktop, minimal).
	Variant string `yaml:"variant" json:"variant,omitempty"`

	// Packages excluded from the trimmed manifest variant.
	PackageDenylist []string `yaml:"packageDenylist" json:"packageDenylist,omitempty"`

	LanguageMode      LanguageMode      `yaml:"languageMode" json:"languageMode,omitempty"`
	SecureBoot        SecureBootMode    `yaml:"secureBoot" json:"secureBoot,omitempty"`
	CompressionEffort CompressionEffort `yaml:"compressionEffort" json:"compressionEffort,omitempty"`

	// Unix timestamp applied to all generated files. When zero and
	// reproducible is set, SOURCE_DATE_EPOCH is consulted.
	Reproducible bool  `yaml:"reproducible" json:"reproducible,omitempty"`
	Epoch        int64 `yaml:"epoch" json:"epoch,omitempty"`

	// Overrides for the Secure Boot artifacts installed on the build host.
	// Empty values fall back to the well-known distro paths.
	SignedShimPath        string `yaml:"signedShimPath" json:"signedShimPath,omitempty"`
	SignedGrubPath        string `yaml:"signedGrubPath" json:"signedGrubPath,omitempty"`
	EnrollmentHelperPath  string `yaml:"enrollmentHelperPath" json:"enrollmentHelperPath,omitempty"`

	// Interactive customization: the populator program inherits the
	// caller's terminal.
	Interactive bool `yaml:"interactive" json:"interactive,omitempty"`
}

func (c *BuildConfig) IsValid() error {
	err := c.Architecture.IsValid()
	if err != nil {
		return err
	}

	if c.Distro == "" {
		return fmt.Errorf("distro must be specified")
	}

	if c.Name == "" {
		return fmt.Errorf("name must be specified")
	}

	if c.Version == "" {
		return fmt.Errorf("version must be specified")
	}

	if c.MirrorURL != "" && !govalidator.IsURL(c.MirrorURL) {
		return fmt.Errorf("invalid mirrorUrl value (%s)", c.MirrorURL)
	}

	if c.PackageCacheURL != "" && !govalidator.IsURL(c.PackageCacheURL) {
		return fmt.Errorf("invalid packageCacheUrl value (%s)", c.PackageCacheURL)
	}

	err = c.LanguageMode.IsValid()
	if err != nil {
		return err
	}

	err = c.SecureBoot.IsValid()
	if err != nil {
		return err
	}

	err = c.CompressionEffort.IsValid()
	if err != nil {
		return err
	}

	if c.Epoch < 0 {
		return fmt.Errorf("invalid epoch value (%d)", c.Epoch)
	}

	return nil
}

// VolumeID is the ISO9660 volume identifier of the medium: the product name
// upper-cased.
func (c *BuildConfig) VolumeID() string {
	return strings.ToUpper(c.Name)
}

// ResolvedSecureBoot maps the default (empty) mode to auto.
func (c *BuildConfig) ResolvedSecureBoot() SecureBootMode {
	if c.SecureBoot == SecureBootModeDefault {
		return SecureBootModeAuto
	}
	return c.SecureBoot
}

// ResolvedCompressionEffort maps the default (empty) effort to fast.
func (c *BuildConfig) ResolvedCompressionEffort() CompressionEffort {
	if c.CompressionEffort == CompressionEffortDefault {
		return CompressionEffortFast
	}
	return c.CompressionEffort
}
