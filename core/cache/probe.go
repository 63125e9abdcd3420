package cache

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/opensvc/blkcache/core/rawconfig"
	"github.com/opensvc/blkcache/util/devmapper"
	"github.com/opensvc/blkcache/util/devno"
	"github.com/opensvc/blkcache/util/evms"
	"github.com/opensvc/blkcache/util/lvmproc"
)

// ProbeAll refreshes the cache from every discovery source and stamps
// the cache as fully probed.
func (t *Cache) ProbeAll() error {
	if err := t.probeAll(false); err != nil {
		return err
	}
	t.probeTime = time.Now().Unix()
	t.probed = true
	return nil
}

// ProbeAllNew refreshes the cache from every discovery source but only
// resolves devices not yet known to the cache. The fully-probed stamp
// is left untouched.
func (t *Cache) ProbeAllNew() error {
	return t.probeAll(true)
}

func (t *Cache) probeAll(onlyIfNew bool) error {
	if t == nil {
		return ErrInvalidArgument
	}
	if t.probed && !t.force {
		if time.Now().Unix()-t.probeTime < int64(rawconfig.Config.FreshnessWindow/time.Second) {
			t.log.Debug().Msg("cache fresh, skip probe pass")
			return nil
		}
	}
	if err := t.persister.Load(t); err != nil {
		t.log.Warn().Err(err).Msg("load persisted cache")
	}
	t.discoverMapper(onlyIfNew)
	t.probeEvms(onlyIfNew)
	t.probeLvm(onlyIfNew)
	if err := t.scanPartitionsFile(onlyIfNew); err != nil {
		return err
	}
	if err := t.persister.Flush(t); err != nil {
		t.log.Warn().Err(err).Msg("flush cache")
	}
	return nil
}

// probeOne determines the canonical cache entry for a device reported
// by a discovery source as a short name and device number, and assigns
// its priority. Absence of a resolvable name is not an error.
func (t *Cache) probeOne(ptname string, dev devno.T, pri int, onlyIfNew bool) {
	if rawconfig.Excluded(ptname) {
		t.log.Debug().Str("dev", ptname).Msg("excluded by configuration")
		return
	}
	var found *Dev

	// A stale non-leaf mapping must not short-circuit resolution:
	// when the probed devno is no longer a mapper leaf, the devno
	// scan is skipped entirely and resolution falls through to the
	// path search.
	scan := true
	if _, noop := t.tabler.(devmapper.Noop); !noop {
		scan = devmapper.IsLeaf(t.tabler, dev)
	}
	if scan {
		for _, name := range t.devs.Keys() {
			i, _ := t.devs.Get(name)
			tmp := i.(*Dev)
			if tmp.Devno != dev {
				continue
			}
			if onlyIfNew {
				return
			}
			found = t.verifier.Verify(t, tmp)
			break
		}
	}
	if found == nil || found.Devno != dev {
		found = t.resolve(ptname, dev)
	}
	if pri == 0 && strings.HasPrefix(ptname, "md") {
		pri = PriMD
	}
	if found != nil && found.Pri != pri {
		found.Pri = pri
		t.changed = true
	}
}

// resolve turns a short name and device number into a cache record.
// The conventional device directories are searched first, then the
// exhaustive devno search. Both failing, the device is abandoned.
func (t *Cache) resolve(ptname string, dev devno.T) *Dev {
	devname := ""
	for _, dir := range rawconfig.DevDirs() {
		candidate := dir + "/" + ptname
		if tmp := t.GetDev(candidate, FlagFind); tmp != nil && tmp.Devno == dev {
			return tmp
		}
		if other, err := devno.FromPath(candidate); err == nil && other == dev {
			devname = candidate
			break
		}
	}
	if devname == "" {
		name, err := devno.ToDevname(dev, rawconfig.DevDirs())
		if err != nil {
			t.log.Debug().Str("dev", ptname).Stringer("devno", dev).Msg("no device node found")
			return nil
		}
		devname = name
	}
	found := t.GetDev(devname, FlagCreate)
	if found != nil && found.Devno != dev {
		// The devno scan of the next pass matches on this.
		found.Devno = dev
		t.changed = true
	}
	return found
}

// discoverMapper feeds the leaf mapper devices into resolution under
// the mapper/ name prefix.
func (t *Cache) discoverMapper(onlyIfNew bool) {
	names, err := t.tabler.Names()
	if err != nil {
		t.log.Debug().Err(err).Msg("mapper enumeration")
		return
	}
	for _, name := range names {
		dev, ok := t.tabler.Devno(name)
		if !ok || dev.IsZero() {
			continue
		}
		if !devmapper.IsLeaf(t.tabler, dev) {
			continue
		}
		t.probeOne("mapper/"+name, dev, PriDM, onlyIfNew)
	}
}

func (t *Cache) probeEvms(onlyIfNew bool) {
	_ = evms.ScanFile(rawconfig.Config.ProcEvmsVolumes, func(e evms.Entry) {
		t.probeOne(e.Path, e.Devno, PriEVMS, onlyIfNew)
	})
}

func (t *Cache) probeLvm(onlyIfNew bool) {
	_ = lvmproc.Walk(rawconfig.Config.ProcLvmVGs, func(e lvmproc.Entry) {
		if e.Devno.IsZero() {
			return
		}
		t.probeOne(e.Name, e.Devno, PriLVM, onlyIfNew)
	})
}

// scanPartitionsFile reads the kernel partition report, the only
// mandatory discovery source.
func (t *Cache) scanPartitionsFile(onlyIfNew bool) error {
	f, err := os.Open(rawconfig.Config.ProcPartitions)
	if err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "%s: %s", rawconfig.Config.ProcPartitions, err)
	}
	defer f.Close()
	return t.scanPartitions(f, onlyIfNew)
}

// scanPartitions infers the disk/partition structure from the report
// order alone. The kernel lists a disk immediately followed by its
// partitions when it has any, so one line of lookback decides whether
// a disk-shaped line is a whole disk to probe or a partitioned disk to
// skip. Non-adjacent orderings defeat the lookback; this matches the
// historical behavior and is deliberately not worked around.
func (t *Cache) scanPartitions(r io.Reader, onlyIfNew bool) error {
	var pending struct {
		name string
		dev  devno.T
		set  bool
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 4 {
			continue
		}
		major, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		minor, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			continue
		}
		name := fields[3]
		dev := devno.New(major, minor)
		last := name[len(name)-1]
		if last >= '0' && last <= '9' {
			// Partition-shaped. Size 1 is an extended or
			// container partition, never probed. The owning
			// disk is now known to be partitioned: drop it.
			if size > 1 {
				t.probeOne(name, dev, 0, onlyIfNew)
			}
			pending.set = false
		} else if pending.set && !strings.HasPrefix(name, pending.name) {
			// Unrelated disk follows: the pending disk had no
			// partition line, probe it whole.
			t.probeOne(pending.name, pending.dev, 0, onlyIfNew)
			pending.name, pending.dev, pending.set = name, dev, true
		} else {
			pending.name, pending.dev, pending.set = name, dev, true
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if pending.set {
		t.probeOne(pending.name, pending.dev, 0, onlyIfNew)
	}
	return nil
}
