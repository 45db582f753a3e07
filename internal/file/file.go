// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

// Package file provides small file-system helpers shared across the build
// pipeline.
package file

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Read returns the contents of the file at path as a string.
func Read(path string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file (%s):\n%w", path, err)
	}
	return string(contents), nil
}

// Write writes contents to path with default permissions, creating parent
// directories as needed.
func Write(contents string, path string) error {
	return WriteWithPerm(contents, path, 0o644)
}

func WriteWithPerm(contents string, path string, perm os.FileMode) error {
	err := CreateDestinationDir(path, os.ModePerm)
	if err != nil {
		return err
	}

	err = os.WriteFile(path, []byte(contents), perm)
	if err != nil {
		return fmt.Errorf("failed to write file (%s):\n%w", path, err)
	}

	// WriteFile's permissions are subject to umask; chmod to the exact mode.
	err = os.Chmod(path, perm)
	if err != nil {
		return fmt.Errorf("failed to set file permissions (%s):\n%w", path, err)
	}

	return nil
}

// Copy copies a single file, creating the destination directory if needed.
func Copy(src string, dst string) error {
	return NewFileCopyBuilder(src, dst).Run()
}

// Move moves a file across filesystems by copy-then-delete when a plain
// rename fails.
func Move(src string, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	err = Copy(src, dst)
	if err != nil {
		return fmt.Errorf("failed to move file (%s) to (%s):\n%w", src, dst, err)
	}

	err = os.Remove(src)
	if err != nil {
		return fmt.Errorf("failed to remove source file after move (%s):\n%w", src, err)
	}

	return nil
}

func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// CommandExists reports whether an external command can be found on PATH.
func CommandExists(command string) (bool, error) {
	_, err := exec.LookPath(command)
	if err != nil {
		if _, ok := err.(*exec.Error); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateDestinationDir creates the parent directory of filePath.
func CreateDestinationDir(filePath string, perm os.FileMode) error {
	dir := filepath.Dir(filePath)
	err := os.MkdirAll(dir, perm)
	if err != nil {
		return fmt.Errorf("failed to create directory (%s):\n%w", dir, err)
	}
	return nil
}

// GetAbsPathWithBase resolves relPath against baseDirPath unless it is
// already absolute.
func GetAbsPathWithBase(baseDirPath string, relPath string) string {
	if filepath.IsAbs(relPath) {
		return relPath
	}
	return filepath.Join(baseDirPath, relPath)
}
