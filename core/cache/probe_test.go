package cache

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opensvc/blkcache/core/rawconfig"
	"github.com/opensvc/blkcache/util/devno"
)

func TestScanPartitions(t *testing.T) {
	cases := map[string]struct {
		report   string
		seeds    map[string]devno.T
		expected []string
	}{
		"partitioned disk probes partitions, never the disk": {
			report: "" +
				"   8     0    1000 sda\n" +
				"   8     1     500 sda1\n" +
				"   8     2     499 sda2\n",
			seeds: map[string]devno.T{
				"/dev/sda":  devno.New(8, 0),
				"/dev/sda1": devno.New(8, 1),
				"/dev/sda2": devno.New(8, 2),
			},
			expected: []string{"/dev/sda1", "/dev/sda2"},
		},
		"extended partition of size 1 is never probed": {
			report: "   8     5       1 sda5\n",
			seeds: map[string]devno.T{
				"/dev/sda5": devno.New(8, 5),
			},
			expected: []string{},
		},
		"lone whole disk is probed": {
			report: "   8    16    2000 sdb\n",
			seeds: map[string]devno.T{
				"/dev/sdb": devno.New(8, 16),
			},
			expected: []string{"/dev/sdb"},
		},
		"two unpartitioned disks are both probed": {
			report: "" +
				"   8     0    1000 sda\n" +
				"   8    16    2000 sdb\n",
			seeds: map[string]devno.T{
				"/dev/sda": devno.New(8, 0),
				"/dev/sdb": devno.New(8, 16),
			},
			expected: []string{"/dev/sda", "/dev/sdb"},
		},
		"partitioned disk then lone disk": {
			report: "" +
				"   8     0    1000 sda\n" +
				"   8     1     999 sda1\n" +
				"   8    16    2000 sdb\n",
			seeds: map[string]devno.T{
				"/dev/sda":  devno.New(8, 0),
				"/dev/sda1": devno.New(8, 1),
				"/dev/sdb":  devno.New(8, 16),
			},
			expected: []string{"/dev/sda1", "/dev/sdb"},
		},
		"header and malformed lines are skipped": {
			report: "" +
				"major minor  #blocks  name\n" +
				"\n" +
				"   8     x    1000 sdx\n" +
				"   8    16    2000 sdb\n",
			seeds: map[string]devno.T{
				"/dev/sdb": devno.New(8, 16),
			},
			expected: []string{"/dev/sdb"},
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			cache, spy := newTestCache(t)
			for name, dev := range c.seeds {
				seed(cache, name, dev)
			}
			err := cache.scanPartitions(strings.NewReader(c.report), false)
			require.NoError(t, err)
			require.ElementsMatch(t, c.expected, spy.seen)
		})
	}
}

func TestProbeOne(t *testing.T) {
	t.Run("onlyIfNew leaves a known device priority untouched", func(t *testing.T) {
		c, _ := newTestCache(t)
		dev := seed(c, "/dev/sda1", devno.New(8, 1))
		dev.Pri = 5
		c.probeOne("sda1", devno.New(8, 1), 7, true)
		require.Equal(t, 5, dev.Pri)
	})
	t.Run("known device priority follows the hint", func(t *testing.T) {
		c, _ := newTestCache(t)
		dev := seed(c, "/dev/sda1", devno.New(8, 1))
		c.probeOne("sda1", devno.New(8, 1), 7, false)
		require.Equal(t, 7, dev.Pri)
	})
	t.Run("md prefix takes the raid priority on zero hint", func(t *testing.T) {
		c, _ := newTestCache(t)
		dev := seed(c, "/dev/md0", devno.New(9, 0))
		c.probeOne("md0", devno.New(9, 0), 0, false)
		require.Equal(t, PriMD, dev.Pri)
	})
	t.Run("md prefix does not override a non-zero hint", func(t *testing.T) {
		c, _ := newTestCache(t)
		dev := seed(c, "/dev/md0", devno.New(9, 0))
		c.probeOne("md0", devno.New(9, 0), 7, false)
		require.Equal(t, 7, dev.Pri)
	})
	t.Run("unresolvable device is silently abandoned", func(t *testing.T) {
		c, spy := newTestCache(t)
		c.probeOne("sdz", devno.New(8, 240), 0, false)
		require.Empty(t, spy.seen)
		require.Equal(t, 0, c.Len())
	})
	t.Run("excluded name is not resolved", func(t *testing.T) {
		c, spy := newTestCache(t)
		rawconfig.Config.Exclude = []string{"ram*", "loop*"}
		seed(c, "/dev/ram0", devno.New(1, 0))
		c.probeOne("ram0", devno.New(1, 0), 0, false)
		require.Empty(t, spy.seen)
	})
}

func TestResolveAssignsDevno(t *testing.T) {
	mkblk := func(t *testing.T, dev devno.T) string {
		t.Helper()
		if os.Getuid() != 0 {
			t.Skip("need root")
		}
		dir := rawconfig.DevDirs()[0]
		require.NoError(t, os.MkdirAll(dir, 0755))
		path := filepath.Join(dir, "sdb")
		require.NoError(t, syscall.Mknod(path, syscall.S_IFBLK|0600, int(dev)))
		return path
	}
	t.Run("resolved record receives the probed devno", func(t *testing.T) {
		c, spy := newTestCache(t)
		dev := devno.New(8, 16)
		path := mkblk(t, dev)
		c.probeOne("sdb", dev, 0, false)
		rec := c.GetDev(path, FlagFind)
		require.NotNil(t, rec)
		require.Equal(t, dev, rec.Devno)
		require.True(t, c.Changed())

		// the recorded devno satisfies the scan of a later new-only
		// pass before any priority assignment can happen
		c.probeOne("sdb", dev, 7, true)
		require.Equal(t, 0, rec.Pri)
		require.Empty(t, spy.seen)
	})
	t.Run("stale record devno is refreshed", func(t *testing.T) {
		c, _ := newTestCache(t)
		dev := devno.New(8, 16)
		path := mkblk(t, dev)
		rec := seed(c, path, devno.New(8, 0))
		c.probeOne("sdb", dev, 0, false)
		require.Equal(t, dev, rec.Devno)
		require.Equal(t, 1, c.Len())
	})
}

func TestResolveAdoptsCachedPath(t *testing.T) {
	// A non-leaf devno skips the devno scan; resolution must still
	// adopt the cache record registered under a conventional path.
	setupConfig(t)
	spy := &spyVerifier{}
	c := New(
		WithTabler(fakeTabler{
			devs: map[string]devno.T{"top": devno.New(253, 0)},
			deps: map[string][]devno.T{"top": {devno.New(253, 1)}},
		}),
		WithVerifier(spy),
		WithPersister(nopPersister{}),
	)
	dir := rawconfig.DevDirs()[0]
	dev := seed(c, dir+"/mapper/stale", devno.New(253, 1))
	c.probeOne("mapper/stale", devno.New(253, 1), PriDM, false)
	require.Empty(t, spy.seen, "the devno scan must be skipped for a non-leaf devno")
	require.Equal(t, PriDM, dev.Pri)
	require.Equal(t, 1, c.Len(), "adoption must not create a second record")
}

type fakeTabler struct {
	devs map[string]devno.T
	deps map[string][]devno.T
}

func (t fakeTabler) Names() ([]string, error) {
	names := make([]string, 0, len(t.devs))
	for name := range t.devs {
		names = append(names, name)
	}
	return names, nil
}

func (t fakeTabler) Devno(name string) (devno.T, bool) {
	dev, ok := t.devs[name]
	return dev, ok
}

func (t fakeTabler) HasDep(dev devno.T, name string) bool {
	for _, dep := range t.deps[name] {
		if dep == dev {
			return true
		}
	}
	return false
}

func TestProbeEvms(t *testing.T) {
	td := setupConfig(t)
	report := "" +
		"major minor       size  flags  mode volume\n" +
		" 63     1     204800\n" +
		" 63     2     409600 rw-    open /dev/evms/vol2\n"
	require.NoError(t, os.WriteFile(filepath.Join(td, "evms"), []byte(report), 0644))
	spy := &spyVerifier{}
	c := New(
		WithTabler(fakeTabler{}),
		WithVerifier(spy),
		WithPersister(nopPersister{}),
	)
	dev := seed(c, "/dev/evms/vol2", devno.New(63, 2))
	c.probeEvms(false)
	require.Equal(t, []string{"/dev/evms/vol2"}, spy.seen, "the 3-token line must be skipped")
	require.Equal(t, PriEVMS, dev.Pri)
}

func TestProbeLvm(t *testing.T) {
	td := setupConfig(t)
	lvDir := filepath.Join(td, "lvm", "VGs", "vg0", "LVs")
	require.NoError(t, os.MkdirAll(lvDir, 0755))
	meta := "name: lv0\nstatus: active\ndevice: 58:0\n"
	require.NoError(t, os.WriteFile(filepath.Join(lvDir, "lv0"), []byte(meta), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(lvDir, "lv1"), []byte("name: lv1\n"), 0644))
	spy := &spyVerifier{}
	c := New(
		WithTabler(fakeTabler{}),
		WithVerifier(spy),
		WithPersister(nopPersister{}),
	)
	dev := seed(c, "/dev/vg0/lv0", devno.New(58, 0))
	c.probeLvm(false)
	require.Equal(t, []string{"/dev/vg0/lv0"}, spy.seen, "the metadata file without device line contributes nothing")
	require.Equal(t, PriLVM, dev.Pri)
}

func TestProbeAll(t *testing.T) {
	t.Run("missing partition report is fatal", func(t *testing.T) {
		c, _ := newTestCache(t)
		err := c.ProbeAll()
		require.ErrorIs(t, err, ErrSourceUnavailable)
		require.False(t, c.probed)
	})
	t.Run("freshness window short-circuits a repeat pass", func(t *testing.T) {
		td := setupConfig(t)
		require.NoError(t, os.WriteFile(filepath.Join(td, "partitions"), []byte("   8     0    1000 sda\n"), 0644))
		spy := &spyVerifier{}
		c := New(
			WithTabler(fakeTabler{}),
			WithVerifier(spy),
			WithPersister(nopPersister{}),
		)
		seed(c, "/dev/sda", devno.New(8, 0))
		require.NoError(t, c.ProbeAll())
		require.True(t, c.probed)
		n := len(spy.seen)
		require.NoError(t, c.ProbeAll())
		require.Equal(t, n, len(spy.seen))
	})
	t.Run("probe all new never stamps the cache", func(t *testing.T) {
		td := setupConfig(t)
		require.NoError(t, os.WriteFile(filepath.Join(td, "partitions"), []byte("   8     0    1000 sda\n"), 0644))
		c := New(
			WithTabler(fakeTabler{}),
			WithVerifier(&spyVerifier{}),
			WithPersister(nopPersister{}),
		)
		require.NoError(t, c.ProbeAllNew())
		require.False(t, c.probed)
		require.Equal(t, int64(0), c.probeTime)
	})
	t.Run("force refresh bypasses the freshness window", func(t *testing.T) {
		td := setupConfig(t)
		require.NoError(t, os.WriteFile(filepath.Join(td, "partitions"), []byte("   8     0    1000 sda\n"), 0644))
		spy := &spyVerifier{}
		c := New(
			WithTabler(fakeTabler{}),
			WithVerifier(spy),
			WithPersister(nopPersister{}),
			WithForceRefresh(),
		)
		seed(c, "/dev/sda", devno.New(8, 0))
		require.NoError(t, c.ProbeAll())
		n := len(spy.seen)
		require.NoError(t, c.ProbeAll())
		require.Greater(t, len(spy.seen), n)
	})
}

func TestDiscoverMapper(t *testing.T) {
	setupConfig(t)
	spy := &spyVerifier{}
	tabler := fakeTabler{
		devs: map[string]devno.T{
			"vg0-lv0":  devno.New(253, 0),
			"vg0-pool": devno.New(253, 1),
		},
		deps: map[string][]devno.T{
			"vg0-lv0": {devno.New(253, 1)},
		},
	}
	c := New(
		WithTabler(tabler),
		WithVerifier(spy),
		WithPersister(nopPersister{}),
	)
	dev := seed(c, "/dev/mapper/vg0-lv0", devno.New(253, 0))
	c.discoverMapper(false)
	// vg0-pool is a dependency of vg0-lv0, not a leaf: only vg0-lv0
	// may reach resolution.
	require.Equal(t, []string{"/dev/mapper/vg0-lv0"}, spy.seen)
	require.Equal(t, PriDM, dev.Pri)
}
