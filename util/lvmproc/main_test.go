package lvmproc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opensvc/blkcache/util/devno"
)

func TestWalk(t *testing.T) {
	t.Run("missing root contributes zero volumes", func(t *testing.T) {
		count := 0
		err := Walk("/nonexistent/VGs", func(Entry) {
			count++
		})
		require.NoError(t, err)
		require.Equal(t, 0, count)
	})
	t.Run("metadata tree", func(t *testing.T) {
		root := t.TempDir()
		write := func(vg, lv, content string) {
			dir := filepath.Join(root, vg, "LVs")
			require.NoError(t, os.MkdirAll(dir, 0755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, lv), []byte(content), 0644))
		}
		write("vg0", "lv0", "name: lv0\ndevice: 58:0\n")
		write("vg0", "lv1", "name: lv1\nstatus: inactive\n")
		write("vg1", "data", "access: 3\ndevice: 58:17\ndevice: 58:18\n")
		// a volume group without LVs subdirectory
		require.NoError(t, os.MkdirAll(filepath.Join(root, "vg2"), 0755))

		byName := make(map[string]devno.T)
		err := Walk(root, func(e Entry) {
			byName[e.Name] = e.Devno
		})
		require.NoError(t, err)
		require.Equal(t, map[string]devno.T{
			"vg0/lv0":  devno.New(58, 0),
			"vg0/lv1":  0,
			"vg1/data": devno.New(58, 17),
		}, byName)
	})
}
