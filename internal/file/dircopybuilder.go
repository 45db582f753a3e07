// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package file

import (
	"fmt"
	"os"
	"path/filepath"
)

type DirCopyBuilder struct {
	// Source directory
	Src string
	// Destination directory
	Dst string
	// Copy symlinks as symlinks instead of following them.
	NoDereference bool
}

func NewDirCopyBuilder(src string, dst string) DirCopyBuilder {
	return DirCopyBuilder{
		Src:           src,
		Dst:           dst,
		NoDereference: true,
	}
}

func (b DirCopyBuilder) Run() error {
	srcInfo, err := os.Stat(b.Src)
	if err != nil {
		return fmt.Errorf("failed to read source directory info (%s):\n%w", b.Src, err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("source (%s) is not a directory", b.Src)
	}

	err = os.MkdirAll(b.Dst, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination directory (%s):\n%w", b.Dst, err)
	}

	entries, err := os.ReadDir(b.Src)
	if err != nil {
		return fmt.Errorf("failed to read source directory (%s):\n%w", b.Src, err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(b.Src, entry.Name())
		dstPath := filepath.Join(b.Dst, entry.Name())

		switch {
		case entry.IsDir():
			subBuilder := b
			subBuilder.Src = srcPath
			subBuilder.Dst = dstPath
			err = subBuilder.Run()

		default:
			copyBuilder := NewFileCopyBuilder(srcPath, dstPath)
			if b.NoDereference {
				copyBuilder = copyBuilder.SetNoDereference()
			}
			err = copyBuilder.Run()
		}
		if err != nil {
			return err
		}
	}

	return nil
}
