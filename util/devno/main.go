// Package devno models the kernel block device numbering, a
// major:minor pair packed in a single integer like the kernel rdev.
package devno

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

type (
	T uint64
)

var (
	ErrNotFound = fmt.Errorf("devno: no device node found")
)

// New packs a major:minor pair the way the glibc makedev macro does:
// the minor split around the 12 low major bits, the remaining major
// bits above bit 32.
func New(major, minor uint64) T {
	return T((minor & 0xff) | ((major & 0xfff) << 8) | ((minor &^ 0xff) << 12) | ((major &^ 0xfff) << 32))
}

func (t T) Major() uint64 {
	return ((uint64(t) >> 8) & 0xfff) | ((uint64(t) >> 32) &^ 0xfff)
}

func (t T) Minor() uint64 {
	return (uint64(t) & 0xff) | ((uint64(t) >> 12) & 0xffffff00)
}

func (t T) IsZero() bool {
	return t == 0
}

func (t T) String() string {
	return fmt.Sprintf("%d:%d", t.Major(), t.Minor())
}

// FromPath returns the device number of the block device node at path.
// Non-block nodes return ErrNotFound.
func FromPath(path string) (T, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	dev, ok := rdev(info)
	if !ok {
		return 0, ErrNotFound
	}
	return dev, nil
}

// ToDevname searches the dirs trees for a block device node whose
// rdev equals dev. It is the exhaustive last resort of the device
// name resolution, only called when the conventional <dir>/<name>
// candidates all failed.
func ToDevname(dev T, dirs []string) (string, error) {
	for _, dir := range dirs {
		found := ""
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if found != "" {
				return filepath.SkipAll
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if other, ok := rdev(info); ok && other == dev {
				found = path
				return filepath.SkipAll
			}
			return nil
		})
		if found != "" {
			return found, nil
		}
	}
	return "", ErrNotFound
}

// rdev returns the packed device number of a block device file info.
func rdev(info os.FileInfo) (T, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	if st.Mode&syscall.S_IFMT != syscall.S_IFBLK {
		return 0, false
	}
	return T(st.Rdev), true
}
