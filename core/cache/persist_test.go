package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opensvc/blkcache/util/devmapper"
	"github.com/opensvc/blkcache/util/devno"
)

func newPersistedCache(t *testing.T) (*Cache, *FilePersister) {
	t.Helper()
	td := setupConfig(t)
	p := NewFilePersister(filepath.Join(td, "cache.json"))
	c := New(
		WithTabler(devmapper.Noop{}),
		WithVerifier(&spyVerifier{}),
		WithPersister(p),
	)
	return c, p
}

func TestFilePersister(t *testing.T) {
	t.Run("load of a missing file is not an error", func(t *testing.T) {
		c, p := newPersistedCache(t)
		require.NoError(t, p.Load(c))
		require.Equal(t, 0, c.Len())
	})
	t.Run("flush then load round-trips records in order", func(t *testing.T) {
		c, p := newPersistedCache(t)
		sdb := seed(c, "/dev/sdb", devno.New(8, 16))
		sdb.Pri = PriMD
		sdb.Time = 1700000000
		seed(c, "/dev/sda1", devno.New(8, 1))
		require.NoError(t, p.Flush(c))
		require.False(t, c.Changed())

		c2 := New(
			WithTabler(devmapper.Noop{}),
			WithVerifier(&spyVerifier{}),
			WithPersister(p),
		)
		require.NoError(t, p.Load(c2))
		devs := c2.Devs()
		require.Len(t, devs, 2)
		require.Equal(t, "/dev/sdb", devs[0].Name)
		require.Equal(t, devno.New(8, 16), devs[0].Devno)
		require.Equal(t, PriMD, devs[0].Pri)
		require.Equal(t, int64(1700000000), devs[0].Time)
		require.Equal(t, "/dev/sda1", devs[1].Name)
		require.False(t, c2.Changed(), "loading must not dirty the cache")
		require.Same(t, c2, devs[0].Cache(), "back-reference must point at the loading cache")
	})
	t.Run("load does not clobber live records", func(t *testing.T) {
		c, p := newPersistedCache(t)
		stale := seed(c, "/dev/sda1", devno.New(8, 1))
		stale.Pri = 3
		require.NoError(t, p.Flush(c))

		c2 := New(
			WithTabler(devmapper.Noop{}),
			WithVerifier(&spyVerifier{}),
			WithPersister(p),
		)
		live := seed(c2, "/dev/sda1", devno.New(8, 33))
		require.NoError(t, p.Load(c2))
		require.Equal(t, devno.New(8, 33), live.Devno)
		require.Equal(t, 0, live.Pri)
	})
	t.Run("load skips nameless records", func(t *testing.T) {
		c, p := newPersistedCache(t)
		b := []byte(`[{"name":"","devno":2064,"pri":0,"time":0},{"name":"/dev/sdb","devno":2064,"pri":0,"time":0}]`)
		require.NoError(t, os.WriteFile(p.file(), b, 0644))
		require.NoError(t, p.Load(c))
		require.Equal(t, 1, c.Len())
		require.NotNil(t, c.GetDev("/dev/sdb", FlagFind))
	})
	t.Run("flush without changes writes nothing", func(t *testing.T) {
		c, p := newPersistedCache(t)
		require.NoError(t, p.Flush(c))
		require.NoFileExists(t, p.file())
	})
}
