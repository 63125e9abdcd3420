package cache

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/opensvc/fcntllock"
	"github.com/opensvc/flock"

	"github.com/opensvc/blkcache/core/rawconfig"
)

type (
	// Persister reads and writes the canonical on-disk cache
	// representation. Load failure must not abort a probe pass.
	Persister interface {
		Load(*Cache) error
		Flush(*Cache) error
	}

	// FilePersister keeps the cache as a JSON array of records.
	// Writes happen under a file lock: the in-memory cache is
	// single-owner but several processes may share the cache file.
	FilePersister struct {
		path string
	}
)

const (
	lockTimeout = 5 * time.Second
)

// NewFilePersister returns a persister on path, or on the configured
// cache file when path is empty.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{
		path: path,
	}
}

func (p *FilePersister) file() string {
	if p.path != "" {
		return p.path
	}
	return rawconfig.CacheFile()
}

// Load merges the persisted records into the cache. Records whose name
// is already known are left untouched: live state wins over persisted
// state. A missing cache file is not an error.
func (p *FilePersister) Load(t *Cache) error {
	b, err := os.ReadFile(p.file())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	entries := make([]Dev, 0)
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	changed := t.changed
	for _, e := range entries {
		if _, ok := t.devs.Get(e.Name); ok {
			continue
		}
		dev := t.GetDev(e.Name, FlagCreate)
		if dev == nil {
			// nameless record from a hand-edited file
			continue
		}
		dev.Devno = e.Devno
		dev.Pri = e.Pri
		dev.Time = e.Time
	}
	t.changed = changed
	return nil
}

// Flush writes the cache back when it changed, atomically, under a
// file lock.
func (p *FilePersister) Flush(t *Cache) error {
	if t == nil || !t.changed {
		return nil
	}
	path := p.file()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	unlock, err := lockCacheFile()
	if err != nil {
		return err
	}
	defer unlock()
	b, err := json.MarshalIndent(t.Devs(), "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	t.changed = false
	return nil
}

func lockCacheFile() (func(), error) {
	dir := rawconfig.LockDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	sessionID := strconv.Itoa(os.Getpid())
	lock := flock.New(filepath.Join(dir, "cache"), sessionID, fcntllock.New)
	if err := lock.Lock(lockTimeout, "cache flush"); err != nil {
		return nil, err
	}
	return func() { _ = lock.UnLock() }, nil
}
