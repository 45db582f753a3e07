// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package safechroot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSessionMount records teardown order without touching the mount table.
type fakeSessionMount struct {
	target   string
	fail     bool
	teardown *[]string
}

func (m *fakeSessionMount) Target() string {
	return m.target
}

func (m *fakeSessionMount) CleanClose() error {
	*m.teardown = append(*m.teardown, m.target)
	if m.fail {
		return fmt.Errorf("unmount (%s) failed", m.target)
	}
	return nil
}

func TestNewChrootStartsUnmounted(t *testing.T) {
	chroot := NewChroot(t.TempDir())

	assert.Equal(t, SessionStateUnmounted, chroot.State())
	assert.NotEmpty(t, chroot.SessionID())
}

func TestInitializeMissingRootFails(t *testing.T) {
	chroot := NewChroot(filepath.Join(t.TempDir(), "does-not-exist"))

	err := chroot.Initialize(nil, false)
	assert.ErrorContains(t, err, "does not exist")
}

func TestCloseIsIdempotent(t *testing.T) {
	chroot := NewChroot(t.TempDir())

	err := chroot.Initialize(nil, false)
	require.NoError(t, err)
	assert.Equal(t, SessionStateActive, chroot.State())

	err = chroot.Close(true)
	assert.NoError(t, err)
	assert.Equal(t, SessionStateClosed, chroot.State())

	err = chroot.Close(true)
	assert.NoError(t, err)
}

func TestInitializeTwiceFails(t *testing.T) {
	chroot := NewChroot(t.TempDir())

	err := chroot.Initialize(nil, false)
	require.NoError(t, err)
	defer chroot.Close(true)

	err = chroot.Initialize(nil, false)
	assert.ErrorContains(t, err, "already initialized")
}

func TestCloseRemovesRootWhenRequested(t *testing.T) {
	rootDir := t.TempDir()
	chroot := NewChroot(rootDir)

	err := chroot.Initialize(nil, false)
	require.NoError(t, err)

	err = chroot.Close(false)
	assert.NoError(t, err)

	_, err = os.Stat(rootDir)
	assert.True(t, os.IsNotExist(err))
}

func TestUnsafeRunRequiresActiveSession(t *testing.T) {
	chroot := NewChroot(t.TempDir())

	err := chroot.UnsafeRun(func() error { return nil })
	assert.ErrorContains(t, err, "not active")
}

func TestAddFilesWritesContentWithPermissions(t *testing.T) {
	rootDir := t.TempDir()
	chroot := NewChroot(rootDir)

	content := "#!/bin/sh\necho hello\n"
	perms := fs.FileMode(0o755)

	err := chroot.AddFiles(FileToCopy{
		Content:     &content,
		Dest:        "/tmp/populate.sh",
		Permissions: &perms,
	})
	assert.NoError(t, err)

	dest := filepath.Join(rootDir, "tmp/populate.sh")
	stat, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, perms, stat.Mode().Perm())

	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(written))
}

func TestAddFilesCopiesSource(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "source.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("payload"), 0o644))

	rootDir := t.TempDir()
	chroot := NewChroot(rootDir)

	err := chroot.AddFiles(FileToCopy{
		Src:  srcPath,
		Dest: "/etc/payload.txt",
	})
	assert.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(rootDir, "etc/payload.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(written))
}

func TestAddFilesRejectsEmptySpec(t *testing.T) {
	chroot := NewChroot(t.TempDir())

	err := chroot.AddFiles(FileToCopy{Dest: "/etc/empty"})
	assert.ErrorContains(t, err, "neither source nor content")
}

func TestDefaultMountPointsOrder(t *testing.T) {
	mountPoints := defaultMountPoints()

	targets := make([]string, 0, len(mountPoints))
	for _, mountPoint := range mountPoints {
		targets = append(targets, mountPoint.Target)
	}

	// dev must precede dev/pts, or the nested mount has no parent.
	assert.Equal(t, []string{"dev", "dev/pts", "proc", "sys", "run"}, targets)
}

func TestCloseUnmountsInReverseOrder(t *testing.T) {
	teardown := []string(nil)

	chroot := NewChroot(t.TempDir())
	chroot.state = SessionStateActive
	chroot.mounts = []sessionMount{
		&fakeSessionMount{target: "dev", teardown: &teardown},
		&fakeSessionMount{target: "dev/pts", teardown: &teardown},
		&fakeSessionMount{target: "proc", teardown: &teardown},
	}

	err := chroot.Close(true)
	assert.NoError(t, err)
	assert.Equal(t, []string{"proc", "dev/pts", "dev"}, teardown)
	assert.Equal(t, SessionStateClosed, chroot.State())
}

func TestCloseAttemptsEveryUnmountOnFailure(t *testing.T) {
	teardown := []string(nil)

	chroot := NewChroot(t.TempDir())
	chroot.state = SessionStateActive
	chroot.mounts = []sessionMount{
		&fakeSessionMount{target: "dev", teardown: &teardown},
		&fakeSessionMount{target: "proc", fail: true, teardown: &teardown},
		&fakeSessionMount{target: "sys", teardown: &teardown},
	}

	err := chroot.Close(true)
	assert.ErrorContains(t, err, "proc")

	// A failed unmount must not stop the earlier mounts from being attempted.
	assert.Equal(t, []string{"sys", "proc", "dev"}, teardown)
	assert.Equal(t, SessionStateFailed, chroot.State())
}

func TestSessionMounts(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("Test must be run as root because it mounts filesystems")
	}

	rootDir := t.TempDir()
	for _, dir := range []string{"dev", "proc", "sys", "run"} {
		require.NoError(t, os.MkdirAll(filepath.Join(rootDir, dir), os.ModePerm))
	}

	chroot := NewChroot(rootDir)

	err := chroot.Initialize(nil, true)
	require.NoError(t, err)
	assert.Equal(t, SessionStateActive, chroot.State())

	err = chroot.Close(true)
	assert.NoError(t, err)

	err = chroot.Close(true)
	assert.NoError(t, err)
}
