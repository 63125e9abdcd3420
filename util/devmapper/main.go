// Package devmapper queries the device-mapper tables through dmsetup.
//
// A mapper device is a leaf when no other currently listed mapper
// device is built on top of it. Leaf detection enumerates every mapper
// device and checks its dependency list, so a full discovery pass asks
// for O(device_count²) tables. The session cache keeps that to one
// dmsetup run per table.
package devmapper

import (
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/opensvc/blkcache/util/devno"
	"github.com/opensvc/blkcache/util/funcopt"
)

type (
	// Tabler is the surface the probing core needs from a mapper
	// table source. A host without device-mapper gets the no-op
	// implementation, keeping the probing loop uniform.
	Tabler interface {
		// Names enumerates the currently listed mapper device names.
		Names() ([]string, error)

		// Devno returns the live device number of a mapper device,
		// false if the device does not exist.
		Devno(name string) (devno.T, bool)

		// HasDep returns true if the named device's dependency list
		// contains dev.
		HasDep(dev devno.T, name string) bool
	}

	// Noop is the Tabler of hosts without device-mapper support.
	Noop struct{}
)

// IsCapable returns true if the host can answer mapper table queries.
func IsCapable() bool {
	_, err := exec.LookPath("dmsetup")
	return err == nil
}

// New returns the dmsetup-backed Tabler when the host is capable,
// the no-op Tabler otherwise.
func New(opts ...funcopt.O) Tabler {
	if !IsCapable() {
		return Noop{}
	}
	t := &T{}
	_ = funcopt.Apply(t, opts...)
	return t
}

func WithLogger(log *zerolog.Logger) funcopt.O {
	return funcopt.F(func(i interface{}) error {
		if t, ok := i.(*T); ok {
			t.log = log
		}
		return nil
	})
}

// IsLeaf returns false if at least one currently listed mapper device
// lists dev among its dependencies. Enumeration failure counts as leaf.
func IsLeaf(t Tabler, dev devno.T) bool {
	names, err := t.Names()
	if err != nil {
		return true
	}
	for _, name := range names {
		if t.HasDep(dev, name) {
			return false
		}
	}
	return true
}

func (Noop) Names() ([]string, error) {
	return nil, nil
}

func (Noop) Devno(string) (devno.T, bool) {
	return 0, false
}

func (Noop) HasDep(devno.T, string) bool {
	return false
}
