// Package cache maintains the in-memory store of known block device
// identities and refreshes it by probing the system device namespace.
//
// The cache is a single-owner data structure: probing is synchronous
// and no internal locking is provided. A caller sharing one Cache
// across goroutines must serialize access externally.
package cache

import (
	"github.com/iancoleman/orderedmap"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/opensvc/blkcache/util/devmapper"
	"github.com/opensvc/blkcache/util/funcopt"
)

type (
	Cache struct {
		// devs is keyed by device name. Insertion order is
		// preserved: the partition table scan relies on records
		// being revisited in the order they were first seen.
		devs *orderedmap.OrderedMap

		// changed tells the persister a write-back is needed.
		changed bool

		// probed and probeTime guard against needless re-probing
		// inside the freshness window.
		probed    bool
		probeTime int64

		force     bool
		tabler    devmapper.Tabler
		verifier  Verifier
		persister Persister
		log       *zerolog.Logger
	}

	// Flags drives GetDev behavior.
	Flags int
)

const (
	// FlagFind only searches the cache.
	FlagFind Flags = 0

	// FlagCreate appends a new empty record on lookup miss.
	FlagCreate Flags = 1 << iota

	// FlagVerify passes the result through the verifier, which may
	// delete or replace the record.
	FlagVerify
)

// Priorities let downstream consumers pick a canonical name when
// multiple names resolve to the same device. Higher wins.
const (
	PriDM   = 40
	PriEVMS = 30
	PriLVM  = 20
	PriMD   = 10
)

var (
	ErrInvalidArgument   = errors.New("cache: invalid argument")
	ErrSourceUnavailable = errors.New("cache: source unavailable")

	nopLogger = zerolog.Nop()
)

func New(opts ...funcopt.O) *Cache {
	t := &Cache{
		devs: orderedmap.New(),
		log:  &nopLogger,
	}
	_ = funcopt.Apply(t, opts...)
	if t.tabler == nil {
		t.tabler = devmapper.New(devmapper.WithLogger(t.log))
	}
	if t.verifier == nil {
		t.verifier = StatVerifier{}
	}
	if t.persister == nil {
		t.persister = NewFilePersister("")
	}
	return t
}

func WithLogger(log *zerolog.Logger) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*Cache)
		t.log = log
		return nil
	})
}

// WithTabler substitutes the device-mapper table source.
func WithTabler(tabler devmapper.Tabler) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*Cache)
		t.tabler = tabler
		return nil
	})
}

func WithVerifier(v Verifier) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*Cache)
		t.verifier = v
		return nil
	})
}

func WithPersister(p Persister) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*Cache)
		t.persister = p
		return nil
	})
}

// WithForceRefresh disables the freshness window guard.
func WithForceRefresh() funcopt.O {
	return funcopt.F(func(i interface{}) error {
		t := i.(*Cache)
		t.force = true
		return nil
	})
}

// GetDev finds the record named name, creating it when FlagCreate is
// set and the name is unknown. With FlagVerify the found-or-created
// record goes through the verifier and the verifier's return value,
// possibly nil or a different record, is the result.
func (t *Cache) GetDev(name string, flags Flags) *Dev {
	if t == nil || name == "" {
		return nil
	}
	var dev *Dev
	if i, ok := t.devs.Get(name); ok {
		dev = i.(*Dev)
	}
	if dev == nil && flags&FlagCreate != 0 {
		dev = &Dev{
			Name:  name,
			cache: t,
		}
		t.devs.Set(name, dev)
		t.changed = true
		t.log.Debug().Str("dev", name).Msg("new cache entry")
	}
	if flags&FlagVerify != 0 {
		dev = t.verifier.Verify(t, dev)
	}
	return dev
}

// Devs returns the records in insertion order.
func (t *Cache) Devs() []*Dev {
	if t == nil {
		return nil
	}
	devs := make([]*Dev, 0, len(t.devs.Keys()))
	for _, name := range t.devs.Keys() {
		i, _ := t.devs.Get(name)
		devs = append(devs, i.(*Dev))
	}
	return devs
}

// Len returns the number of records.
func (t *Cache) Len() int {
	if t == nil {
		return 0
	}
	return len(t.devs.Keys())
}

// Changed returns true if the cache diverged from its persisted state.
func (t *Cache) Changed() bool {
	return t != nil && t.changed
}

// remove drops a record. Only the verifier evicts: a record whose
// device node is gone must not survive verification.
func (t *Cache) remove(dev *Dev) {
	if dev == nil {
		return
	}
	t.devs.Delete(dev.Name)
	dev.cache = nil
	t.changed = true
	t.log.Debug().Str("dev", dev.Name).Msg("cache entry removed")
}
