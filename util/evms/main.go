// Package evms parses the EVMS volume report pseudo-file
// (/proc/evms/volumes).
package evms

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/opensvc/blkcache/util/devno"
)

// Entry is one volume row of the report.
type Entry struct {
	Devno devno.T
	Path  string
}

// ScanFile feeds fn with every well formed volume row of the report
// file. A missing report file contributes zero volumes and no error.
func ScanFile(path string, fn func(Entry)) error {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	return Scan(f, fn)
}

// Scan parses the fixed-format report: one volume per line, exactly
// six whitespace-separated tokens
//
//	major minor size flags mode device-path
//
// Any other line (header, blank, malformed) is skipped.
func Scan(r io.Reader, fn func(Entry)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 6 {
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
		if _, err := strconv.ParseUint(fields[2], 10, 64); err != nil {
			continue
		}
		fn(Entry{
			Devno: devno.New(major, minor),
			Path:  fields[5],
		})
	}
	return scanner.Err()
}
