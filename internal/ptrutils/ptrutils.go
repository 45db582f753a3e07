// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package ptrutils

func PtrTo[T any](value T) *T {
	return &value
}
