// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
)

// BuildEpoch is the single timestamp applied to every file a build creates.
// When the build is not reproducible it is simply the wall-clock time at
// build start, so output naming and disk metadata stay consistent across
// stages either way.
type BuildEpoch struct {
	Time         time.Time
	Reproducible bool
}

// ResolveEpoch determines the build epoch once, at build start: a configured
// epoch wins, then SOURCE_DATE_EPOCH, then wall-clock time (which makes the
// build non-reproducible).
func ResolveEpoch(config *mediabuilderapi.BuildConfig) (BuildEpoch, error) {
	if config.Epoch != 0 {
		return BuildEpoch{Time: time.Unix(config.Epoch, 0).UTC(), Reproducible: true}, nil
	}

	if sourceDateEpoch := os.Getenv("SOURCE_DATE_EPOCH"); sourceDateEpoch != "" {
		seconds, err := strconv.ParseInt(sourceDateEpoch, 10, 64)
		if err != nil {
			return BuildEpoch{}, fmt.Errorf("failed to parse SOURCE_DATE_EPOCH (%s):\n%w", sourceDateEpoch, err)
		}
		return BuildEpoch{Time: time.Unix(seconds, 0).UTC(), Reproducible: true}, nil
	}

	if config.Reproducible {
		return BuildEpoch{}, fmt.Errorf("reproducible build requested but no epoch configured and SOURCE_DATE_EPOCH is unset")
	}

	logger.Log.Debug("No reproducibility epoch configured, using wall-clock time")
	return BuildEpoch{Time: time.Now().UTC(), Reproducible: false}, nil
}

// Unix returns the epoch in seconds, as passed to external tools.
func (e BuildEpoch) Unix() int64 {
	return e.Time.Unix()
}

func (e BuildEpoch) UnixString() string {
	return strconv.FormatInt(e.Time.Unix(), 10)
}

// Env returns the SOURCE_DATE_EPOCH override for external tools that embed
// timestamps of their own (mksquashfs, grub-mkstandalone, xorriso). Empty
// when the build is not reproducible.
func (e BuildEpoch) Env() []string {
	if !e.Reproducible {
		return nil
	}
	return []string{"SOURCE_DATE_EPOCH=" + e.UnixString()}
}

// FatVolumeSerial derives a deterministic FAT volume serial from the epoch.
func (e BuildEpoch) FatVolumeSerial() string {
	return fmt.Sprintf("%08x", uint32(e.Time.Unix()))
}

// XorrisoDate formats the epoch as xorriso's --modification-date argument
// (YYYYMMDDhhmmsscc).
func (e BuildEpoch) XorrisoDate() string {
	return e.Time.Format("2006010215040500")
}

// DateStamp formats the epoch for output file naming.
func (e BuildEpoch) DateStamp() string {
	return e.Time.Format("20060102")
}

// ApplyToTree sets the modification time of every file and directory under
// root to the epoch. Only meaningful for reproducible builds; a no-op
// otherwise.
func (e BuildEpoch) ApplyToTree(root string) error {
	if !e.Reproducible {
		return nil
	}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			// Chtimes follows symlinks; the target gets its own visit.
			return nil
		}

		return os.Chtimes(path, e.Time, e.Time)
	})
	if err != nil {
		return fmt.Errorf("failed to normalize timestamps under (%s):\n%w", root, err)
	}

	return nil
}

// ApplyToFile sets a single file's modification time to the epoch when the
// build is reproducible.
func (e BuildEpoch) ApplyToFile(path string) error {
	if !e.Reproducible {
		return nil
	}

	err := os.Chtimes(path, e.Time, e.Time)
	if err != nil {
		return fmt.Errorf("failed to set timestamp of (%s):\n%w", path, err)
	}

	return nil
}
