// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package sliceutils

func ContainsValue[T comparable](values []T, value T) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
