package devmapper

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opensvc/blkcache/util/command"
	"github.com/opensvc/blkcache/util/devno"
	"github.com/opensvc/blkcache/util/fcache"
)

const (
	dmsetup = "dmsetup"
)

// T answers mapper table queries through dmsetup.
type T struct {
	log *zerolog.Logger
}

// quiet installs a no-op diagnostic sink and returns the restore
// function. Enumeration emits noise on hosts where the mapper control
// node exists but no table is loaded.
func (t *T) quiet() func() {
	prev := t.log
	t.log = nil
	return func() {
		t.log = prev
	}
}

func (t *T) Names() ([]string, error) {
	defer t.quiet()()
	out, err := t.query("dmsetup-ls", "ls")
	if err != nil {
		return nil, err
	}
	return parseLs(out), nil
}

func (t *T) Devno(name string) (devno.T, bool) {
	out, err := t.query("dmsetup-info-"+name, "info", "-c", "--noheadings", "-o", "major,minor", name)
	if err != nil {
		return 0, false
	}
	return parseDevno(strings.TrimSpace(string(out)))
}

func (t *T) HasDep(dev devno.T, name string) bool {
	out, err := t.query("dmsetup-deps-"+name, "deps", name)
	if err != nil {
		return false
	}
	for _, dep := range parseDeps(out) {
		if dep == dev {
			return true
		}
	}
	return false
}

// query runs a dmsetup subcommand and returns its output, cached under
// sig for the session. The leaf walk asks for the same tables once per
// candidate device, the cache keeps that to one dmsetup run each.
func (t *T) query(sig string, args ...string) ([]byte, error) {
	cmd := command.New(
		command.WithName(dmsetup),
		command.WithVarArgs(args...),
		command.WithLogger(t.log),
		command.WithCommandLogLevel(zerolog.DebugLevel),
		command.WithStdoutLogLevel(zerolog.TraceLevel),
		command.WithStderrLogLevel(zerolog.TraceLevel),
		command.WithBufferedStdout(),
	)
	return fcache.Output(cmd, sig)
}

// parseLs extracts the device names from "dmsetup ls" output lines,
//
//	vg0-lv_root	(253:0)
//
// "No devices found" yields an empty list.
func parseLs(b []byte) []string {
	names := make([]string, 0)
	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if !strings.HasPrefix(fields[1], "(") {
			continue
		}
		names = append(names, fields[0])
	}
	return names
}

// parseDevno parses a "major:minor" string.
func parseDevno(s string) (devno.T, bool) {
	major, minor, ok := splitPair(s)
	if !ok {
		return 0, false
	}
	return devno.New(major, minor), true
}

// parseDeps extracts the "(major, minor)" or "(major:minor)" pairs
// from "dmsetup deps" output.
func parseDeps(b []byte) []devno.T {
	deps := make([]devno.T, 0)
	s := string(b)
	for {
		open := strings.IndexByte(s, '(')
		if open < 0 {
			break
		}
		end := strings.IndexByte(s[open:], ')')
		if end < 0 {
			break
		}
		pair := s[open+1 : open+end]
		s = s[open+end+1:]
		major, minor, ok := splitPair(pair)
		if !ok {
			continue
		}
		deps = append(deps, devno.New(major, minor))
	}
	return deps
}

func splitPair(s string) (uint64, uint64, bool) {
	var sep string
	switch {
	case strings.Contains(s, ":"):
		sep = ":"
	case strings.Contains(s, ","):
		sep = ","
	default:
		return 0, 0, false
	}
	parts := strings.SplitN(s, sep, 2)
	major, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	minor, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}
