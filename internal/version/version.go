// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed version string: numeric components compared first,
// with the non-numeric tail breaking ties lexicographically. Missing
// components compare as 0, so 6.8 == 6.8.0.
type Version struct {
	components []int
	suffix     string
}

// Parse extracts the numeric components from a version string such as
// "6.8.0-99-generic", yielding [6 8 0 99] with suffix "-generic". The suffix
// is everything after the last numeric component.
func Parse(versionString string) (Version, error) {
	version := Version{}
	numericEnd := 0

	for i := 0; i < len(versionString); {
		if versionString[i] < '0' || versionString[i] > '9' {
			i++
			continue
		}

		j := i
		for j < len(versionString) && versionString[j] >= '0' && versionString[j] <= '9' {
			j++
		}

		component, err := strconv.Atoi(versionString[i:j])
		if err != nil {
			return Version{}, fmt.Errorf("failed to parse version component (%s):\n%w", versionString[i:j], err)
		}

		version.components = append(version.components, component)
		numericEnd = j
		i = j
	}

	if len(version.components) == 0 {
		return Version{}, fmt.Errorf("no numeric components in version string (%s)", versionString)
	}

	version.suffix = versionString[numericEnd:]
	return version, nil
}

func (v Version) Cmp(other Version) int {
	count := len(v.components)
	if len(other.components) > count {
		count = len(other.components)
	}

	for i := 0; i < count; i++ {
		c1 := 0
		if i < len(v.components) {
			c1 = v.components[i]
		}

		c2 := 0
		if i < len(other.components) {
			c2 = other.components[i]
		}

		if c1 > c2 {
			return 1
		} else if c1 < c2 {
			return -1
		}
	}

	return strings.Compare(v.suffix, other.suffix)
}

func (v Version) Gt(other Version) bool {
	return v.Cmp(other) > 0
}

func (v Version) Ge(other Version) bool {
	return v.Cmp(other) >= 0
}

func (v Version) Lt(other Version) bool {
	return v.Cmp(other) < 0
}

func (v Version) Le(other Version) bool {
	return v.Cmp(other) <= 0
}

func (v Version) Eq(other Version) bool {
	return v.Cmp(other) == 0
}

func (v Version) String() string {
	builder := strings.Builder{}
	for i, p := range v.components {
		if i != 0 {
			builder.WriteString(".")
		}
		builder.WriteString(strconv.Itoa(p))
	}
	builder.WriteString(v.suffix)
	return builder.String()
}
