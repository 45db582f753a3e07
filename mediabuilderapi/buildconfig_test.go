// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validBuildConfig() *BuildConfig {
	return &BuildConfig{
		Architecture: ArchitectureAmd64,
		Distro:       "bookworm",
		Name:         "examplelinux",
		Version:      "1.0",
	}
}

func TestBuildConfigIsValid(t *testing.T) {
	config := validBuildConfig()

	err := config.IsValid()
	assert.NoError(t, err)
}

func TestBuildConfigInvalidArchitecture(t *testing.T) {
	config := validBuildConfig()
	config.Architecture = "riscv64"

	err := config.IsValid()
	assert.ErrorContains(t, err, "invalid architecture value")
}

func TestBuildConfigMissingName(t *testing.T) {
	config := validBuildConfig()
	config.Name = ""

	err := config.IsValid()
	assert.ErrorContains(t, err, "name must be specified")
}

func TestBuildConfigInvalidMirrorUrl(t *testing.T) {
	config := validBuildConfig()
	config.MirrorURL = "not a url"

	err := config.IsValid()
	assert.ErrorContains(t, err, "invalid mirrorUrl value")
}

func TestBuildConfigInvalidSecureBootMode(t *testing.T) {
	config := validBuildConfig()
	config.SecureBoot = "maybe"

	err := config.IsValid()
	assert.ErrorContains(t, err, "invalid secureBoot value")
}

func TestBuildConfigNegativeEpoch(t *testing.T) {
	config := validBuildConfig()
	config.Epoch = -1

	err := config.IsValid()
	assert.ErrorContains(t, err, "invalid epoch value")
}

func TestBuildConfigVolumeID(t *testing.T) {
	config := validBuildConfig()
	assert.Equal(t, "EXAMPLELINUX", config.VolumeID())
}

func TestBuildConfigResolvedDefaults(t *testing.T) {
	config := validBuildConfig()
	assert.Equal(t, SecureBootModeAuto, config.ResolvedSecureBoot())
	assert.Equal(t, CompressionEffortFast, config.ResolvedCompressionEffort())
}

func TestUnmarshalRejectsUnknownFields(t *testing.T) {
	yaml := `
architecture: amd64
distro: bookworm
name: examplelinux
version: "1.0"
bogusField: true
`

	config := &BuildConfig{}
	err := UnmarshalAndValidateYaml([]byte(yaml), config)
	assert.ErrorContains(t, err, "bogusField")
}

func TestUnmarshalValidConfig(t *testing.T) {
	yaml := `
architecture: arm64
distro: bookworm
name: examplelinux
version: "1.0"
secureBoot: shim-only
compressionEffort: release
packageDenylist:
  - gparted
`

	config := &BuildConfig{}
	err := UnmarshalAndValidateYaml([]byte(yaml), config)
	assert.NoError(t, err)
	assert.Equal(t, ArchitectureArm64, config.Architecture)
	assert.Equal(t, SecureBootModeShimOnly, config.SecureBoot)
	assert.Equal(t, CompressionEffortRelease, config.CompressionEffort)
	assert.Equal(t, []string{"gparted"}, config.PackageDenylist)
}
