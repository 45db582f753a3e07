// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKernelVersion(t *testing.T) {
	version, err := Parse("6.8.0-99-generic")
	assert.NoError(t, err)
	assert.Equal(t, []int{6, 8, 0, 99}, version.components)
	assert.Equal(t, "-generic", version.suffix)
}

func TestParseSimpleVersion(t *testing.T) {
	version, err := Parse("5.15.0")
	assert.NoError(t, err)
	assert.Equal(t, []int{5, 15, 0}, version.components)
	assert.Empty(t, version.suffix)
}

func TestParseNoDigits(t *testing.T) {
	_, err := Parse("generic")
	assert.Error(t, err)
}

func TestCmpOrdering(t *testing.T) {
	v515, err := Parse("5.15.0-generic")
	assert.NoError(t, err)

	v680, err := Parse("6.8.0-99-generic")
	assert.NoError(t, err)

	assert.True(t, v680.Gt(v515))
	assert.True(t, v515.Lt(v680))
	assert.False(t, v515.Eq(v680))
}

func TestCmpMissingComponentsAreZero(t *testing.T) {
	v68, err := Parse("6.8")
	assert.NoError(t, err)

	v680, err := Parse("6.8.0")
	assert.NoError(t, err)

	assert.True(t, v68.Eq(v680))
	assert.True(t, v68.Ge(v680))
	assert.True(t, v68.Le(v680))
}

func TestCmpSuffixBreaksNumericTies(t *testing.T) {
	generic, err := Parse("6.8.0-99-generic")
	assert.NoError(t, err)

	cloud, err := Parse("6.8.0-99-cloud")
	assert.NoError(t, err)

	assert.True(t, generic.Gt(cloud))
	assert.True(t, cloud.Lt(generic))
	assert.False(t, generic.Eq(cloud))
}

func TestString(t *testing.T) {
	version, err := Parse("6.8.0-generic")
	assert.NoError(t, err)
	assert.Equal(t, "6.8.0-generic", version.String())
}
