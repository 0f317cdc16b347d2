// Package ledger records which relations have already been fully
// synchronized in a working directory, so an interrupted run can restart
// without repeating finished work.
//
// The ledger is an append-only file, one relation name per line, scoped
// to one (directory, database) pair. There is no remove operation;
// editing the file by hand is the only way to force reprocessing. No
// locking is provided: concurrent runs against the same directory are
// unsupported.
package ledger

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrWrite wraps any I/O failure while recording an entry. The relation
// stays synced for the current run but will not be resumable.
var ErrWrite = errors.New("ledger write failed")

type Ledger struct {
	path    string
	file    *os.File
	entries map[string]struct{}
}

// Open loads the ledger for the given directory and database, creating
// an empty one if none exists.
func Open(dir string, database string) (*Ledger, error) {
	path := filepath.Join(dir, database+".ledger")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening ledger %s", path)
	}
	l := &Ledger{
		path:    path,
		file:    f,
		entries: map[string]struct{}{},
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		l.entries[name] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.CombineErrors(
			errors.Wrapf(err, "reading ledger %s", path), f.Close(),
		)
	}
	return l, nil
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Has(name string) bool {
	_, ok := l.entries[name]
	return ok
}

// Entries returns the recorded names as a set.
func (l *Ledger) Entries() map[string]struct{} {
	ret := make(map[string]struct{}, len(l.entries))
	for name := range l.entries {
		ret[name] = struct{}{}
	}
	return ret
}

// Record appends a relation name and flushes it to disk.
func (l *Ledger) Record(name string) error {
	if l.Has(name) {
		return nil
	}
	if _, err := l.file.WriteString(name + "\n"); err != nil {
		return errors.Mark(errors.Wrapf(err, "recording %s", name), ErrWrite)
	}
	if err := l.file.Sync(); err != nil {
		return errors.Mark(errors.Wrapf(err, "syncing after %s", name), ErrWrite)
	}
	l.entries[name] = struct{}{}
	return nil
}

func (l *Ledger) Close() error {
	return l.file.Close()
}
