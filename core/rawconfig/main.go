// Package rawconfig centralizes the paths and tunables of the device
// cache file organisation.
package rawconfig

import (
	"path/filepath"
	"time"

	"github.com/danwakefield/fnmatch"
	"github.com/spf13/viper"
)

type (
	// Tunables abstracts all paths and knobs of the probing passes.
	Tunables struct {
		Var             string        `mapstructure:"var"`
		CacheFile       string        `mapstructure:"cache_file"`
		FreshnessWindow time.Duration `mapstructure:"freshness_window"`
		DevDirs         []string      `mapstructure:"dev_dirs"`
		ProcPartitions  string        `mapstructure:"proc_partitions"`
		ProcLvmVGs      string        `mapstructure:"proc_lvm_vgs"`
		ProcEvmsVolumes string        `mapstructure:"proc_evms_volumes"`
		Exclude         []string      `mapstructure:"exclude"`
	}
)

var (
	Config = DefaultTunables()
)

func DefaultTunables() Tunables {
	return Tunables{
		Var:             "/var/lib/blkcache",
		CacheFile:       "/var/lib/blkcache/cache.json",
		FreshnessWindow: 120 * time.Second,
		DevDirs:         []string{"/dev", "/devfs", "/devices"},
		ProcPartitions:  "/proc/partitions",
		ProcLvmVGs:      "/proc/lvm/VGs",
		ProcEvmsVolumes: "/proc/evms/volumes",
	}
}

// Load refreshes the package tunables from a viper instance, keeping
// the defaults for unset keys.
func Load(v *viper.Viper) error {
	cfg := DefaultTunables()
	if v != nil {
		if err := v.Unmarshal(&cfg); err != nil {
			return err
		}
	}
	Config = cfg
	return nil
}

func CacheFile() string {
	return Config.CacheFile
}

func LockDir() string {
	return filepath.Join(Config.Var, "lock")
}

// DevDirs returns the ordered list of conventional device node
// directories searched by name resolution.
func DevDirs() []string {
	return Config.DevDirs
}

// Excluded returns true if the short device name matches one of the
// configured exclude globs.
func Excluded(name string) bool {
	for _, pattern := range Config.Exclude {
		if fnmatch.Match(pattern, name, 0) {
			return true
		}
	}
	return false
}
