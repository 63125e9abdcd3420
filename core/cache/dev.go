package cache

import (
	"fmt"

	"github.com/opensvc/blkcache/util/devno"
)

type (
	// Dev is one known block device identity. Time is the unix
	// second of the last successful verification, zero until the
	// record is first verified. The cache back-reference is
	// non-owning and never serialized.
	Dev struct {
		Name  string  `json:"name"`
		Devno devno.T `json:"devno"`
		Pri   int     `json:"pri"`
		Time  int64   `json:"time"`

		cache *Cache
	}
)

func (t *Dev) String() string {
	return fmt.Sprintf("%s %s pri %d", t.Name, t.Devno, t.Pri)
}

// Verified returns false until the record went through a successful
// verification.
func (t *Dev) Verified() bool {
	return t.Time != 0
}

// Cache returns the owning cache, nil after eviction.
func (t *Dev) Cache() *Cache {
	return t.cache
}
