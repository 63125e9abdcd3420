// Package lvmproc walks the legacy volume manager metadata tree
// (/proc/lvm/VGs) where each volume group directory holds a LVs
// subdirectory with one metadata file per logical volume.
package lvmproc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensvc/blkcache/util/devno"
)

// Entry is one logical volume found in the metadata tree.
type Entry struct {
	// Name is the <vg>/<lv> relative device name.
	Name string

	// Devno is zero when the metadata file carries no device line,
	// in which case there is nothing to probe.
	Devno devno.T
}

// Walk feeds fn with every logical volume of every volume group under
// root. A missing root directory contributes zero volumes and no error.
func Walk(root string, fn func(Entry)) error {
	vgs, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	for _, vg := range vgs {
		lvs, err := os.ReadDir(filepath.Join(root, vg.Name(), "LVs"))
		if err != nil {
			continue
		}
		for _, lv := range lvs {
			dev := devnoOf(filepath.Join(root, vg.Name(), "LVs", lv.Name()))
			fn(Entry{
				Name:  vg.Name() + "/" + lv.Name(),
				Devno: dev,
			})
		}
	}
	return nil
}

// devnoOf scans a logical volume metadata file for the first
// "device: <major>:<minor>" line. No match yields devno zero.
func devnoOf(path string) devno.T {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var major, minor uint64
		if n, _ := fmt.Sscanf(scanner.Text(), "device: %d:%d", &major, &minor); n == 2 {
			return devno.New(major, minor)
		}
	}
	return 0
}
