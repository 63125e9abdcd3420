// Package fcache caches command output for the duration of a probe
// session, keyed by the caller-chosen signature.
package fcache

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensvc/fcache"
	"github.com/opensvc/fcntllock"
	"github.com/opensvc/flock"
	"github.com/pkg/errors"

	"github.com/opensvc/blkcache/core/rawconfig"
)

var (
	maxLockDuration = 30 * time.Second
)

// Output returns the cached output of o when sig is already cached for
// this session, else runs o and caches its output.
func Output(o fcache.Outputter, sig string) (out []byte, err error) {
	return fcache.Output(o, sig, cacheDir(), maxLockDuration, outputLockP)
}

// Clear removes the current cached output
func Clear(sig string) error {
	return fcache.Clear(sig, cacheDir(), maxLockDuration, outputLockP)
}

// PurgeCache removes the session cache directory
func PurgeCache() error {
	cacheDir := cacheDir()
	if !strings.Contains(cacheDir, "/cache/") {
		return errors.New("unexpected cachedir " + cacheDir)
	}
	return fcache.Purge(cacheDir)
}

func outputLockP(name string) fcache.Locker {
	sessionID := sessionID()
	path := filepath.Join(rawconfig.LockDir(), sessionID+"-out-"+name)
	return flock.New(path, sessionID, fcntllock.New)
}

func cacheDir() string {
	return filepath.Join(rawconfig.Config.Var, "cache", sessionID())
}

func sessionID() string {
	return strconv.Itoa(os.Getpid())
}
