// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"context"
	"testing"

	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOptionsIsValid(t *testing.T) {
	options := &BuildOptions{
		BuildDir:         "/tmp/build",
		OutputDir:        "/tmp/out",
		SessionRootDir:   "/tmp/root",
		PopulatorProgram: "/tmp/populate.sh",
	}

	err := options.IsValid()
	assert.NoError(t, err)
}

func TestBuildOptionsMissingFields(t *testing.T) {
	err := (&BuildOptions{}).IsValid()
	assert.ErrorContains(t, err, "build directory")

	err = (&BuildOptions{BuildDir: "/tmp/build"}).IsValid()
	assert.ErrorContains(t, err, "output directory")

	err = (&BuildOptions{BuildDir: "/tmp/build", OutputDir: "/tmp/out"}).IsValid()
	assert.ErrorContains(t, err, "session root")

	err = (&BuildOptions{BuildDir: "/tmp/build", OutputDir: "/tmp/out", SessionRootDir: "/tmp/root"}).IsValid()
	assert.ErrorContains(t, err, "populator program")
}

func TestLockBuildDirIsExclusive(t *testing.T) {
	buildDir := t.TempDir()

	unlock, err := lockBuildDir(buildDir)
	require.NoError(t, err)

	_, err = lockBuildDir(buildDir)
	assert.ErrorIs(t, err, PreconditionError)

	unlock()

	unlock, err = lockBuildDir(buildDir)
	assert.NoError(t, err)
	unlock()
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{}
	options := &BuildOptions{
		BuildDir:         t.TempDir(),
		OutputDir:        t.TempDir(),
		SessionRootDir:   t.TempDir(),
		PopulatorProgram: "/tmp/populate.sh",
	}

	_, err := Build(context.Background(), config, options)
	assert.ErrorContains(t, err, "invalid build config")
}

func TestBuildRejectsInvalidOptions(t *testing.T) {
	config := &mediabuilderapi.BuildConfig{
		Architecture: mediabuilderapi.ArchitectureAmd64,
		Distro:       "bookworm",
		Name:         "examplelinux",
		Version:      "1.0",
	}

	_, err := Build(context.Background(), config, &BuildOptions{})
	assert.ErrorContains(t, err, "invalid build options")
}

func TestMediaBuilderErrorCategories(t *testing.T) {
	assert.ErrorIs(t, ErrMissingTool, PreconditionError)
	assert.ErrorIs(t, ErrSquashfsVerify, VerificationError)
	assert.ErrorIs(t, ErrCustomizationFatal, ToolInvocationError)
	assert.NotErrorIs(t, ErrMissingTool, VerificationError)
}
