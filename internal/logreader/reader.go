package logreader

import (
	"bufio"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
)

// Reader streams Records from one or more log files in file order,
// preserving intra-file order, per spec §4.2. It is a lazy, pull-based
// sequence modeled on bufio.Scanner: call Scan in a loop, reading Record
// after each true return.
type Reader struct {
	paths  []string
	logger *logrus.Logger
	onDrop func(reason string)

	pathIdx int
	file    *os.File
	scanner *bufio.Scanner

	current Record
	seen    map[uint64]struct{}
}

// NewReader builds a Reader over paths, delivered in the given order.
// A nil logger falls back to logrus.StandardLogger(). onDrop, if non-nil,
// is called once per skipped line with a short reason tag, letting a
// caller feed a drop-counting metric without this package depending on
// any particular metrics library.
func NewReader(paths []string, logger *logrus.Logger, onDrop func(reason string)) *Reader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reader{
		paths:  paths,
		logger: logger,
		onDrop: onDrop,
		seen:   make(map[uint64]struct{}),
	}
}

// Scan advances to the next well-formed, non-duplicate record. It returns
// false once every path has been exhausted.
func (r *Reader) Scan() bool {
	for {
		if r.scanner == nil {
			if !r.openNext() {
				return false
			}
		}
		for r.scanner.Scan() {
			line := r.scanner.Text()
			if line == "" {
				continue
			}
			rec, ok := parseLine(line)
			if !ok {
				r.logger.WithField("line", line).Debug("logreader: skipping malformed record")
				r.recordDrop("malformed_record")
				continue
			}
			sum := xxhash.Sum64String(line)
			if _, dup := r.seen[sum]; dup {
				r.logger.WithField("line", line).Debug("logreader: skipping duplicate record")
				r.recordDrop("duplicate_record")
				continue
			}
			r.seen[sum] = struct{}{}
			r.current = rec
			return true
		}
		r.closeCurrent()
	}
}

// Record returns the record produced by the most recent successful Scan.
func (r *Reader) Record() Record { return r.current }

func (r *Reader) openNext() bool {
	for r.pathIdx < len(r.paths) {
		path := r.paths[r.pathIdx]
		r.pathIdx++
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				r.logger.WithField("path", path).Warn("logreader: missing log file, treating as empty")
				continue
			}
			r.logger.WithError(err).WithField("path", path).Warn("logreader: cannot open log file, treating as empty")
			continue
		}
		r.file = f
		r.scanner = bufio.NewScanner(f)
		r.scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		return true
	}
	return false
}

func (r *Reader) recordDrop(reason string) {
	if r.onDrop != nil {
		r.onDrop(reason)
	}
}

func (r *Reader) closeCurrent() {
	if r.file != nil {
		r.file.Close()
	}
	r.file = nil
	r.scanner = nil
}

// ReadAll drains the reader into a slice, for tests and small inputs.
func ReadAll(paths []string, logger *logrus.Logger, onDrop func(reason string)) []Record {
	r := NewReader(paths, logger, onDrop)
	var out []Record
	for r.Scan() {
		out = append(out, r.Record())
	}
	return out
}
