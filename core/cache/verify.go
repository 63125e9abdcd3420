package cache

import (
	"time"

	"github.com/opensvc/blkcache/util/devno"
)

type (
	// Verifier re-checks a record against live state. It may return
	// the record unchanged, a replacement, or nil after deleting it.
	// The filesystem-identification layer above this module plugs in
	// a verifier that also re-reads the on-disk signatures.
	Verifier interface {
		Verify(*Cache, *Dev) *Dev
	}

	// StatVerifier only re-stats the device node: a record whose
	// node is gone is evicted, a live one gets its device number
	// refreshed and its verification time stamped.
	StatVerifier struct{}
)

func (StatVerifier) Verify(t *Cache, dev *Dev) *Dev {
	if t == nil || dev == nil {
		return dev
	}
	live, err := devno.FromPath(dev.Name)
	if err != nil {
		t.remove(dev)
		return nil
	}
	if dev.Devno != live {
		dev.Devno = live
	}
	dev.Time = time.Now().Unix()
	t.changed = true
	return dev
}
