// Package transfer moves one relation's structure and data from a source
// connection to a target connection. Two strategies exist: FlatFile
// streams rows through the client into delimited artifact files, and
// NativeBulk uses the engine's own bulk facilities (INTO OUTFILE /
// LOAD DATA, COPY) against a filesystem shared with the server.
package transfer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/dbmirror/dbmirror/relation"
)

// Strategy copies relations between the two connections. Implementations
// return per-relation errors; the caller decides whether the run
// continues.
type Strategy interface {
	Name() string
	CopyStructure(ctx context.Context, src, dst dbconn.Conn, d relation.Descriptor) error
	CopyData(ctx context.Context, src, dst dbconn.Conn, d relation.Descriptor) (int64, error)
}

// Artifacts are the on-disk files a relation's transfer produces or may
// have produced in a previous run. Paths are computed from the relation
// name, never discovered by scanning the directory.
type Artifacts struct {
	Structure string
	Data      string
}

func ArtifactsFor(dir, name string) Artifacts {
	return Artifacts{
		Structure: filepath.Join(dir, name+".sql"),
		Data:      filepath.Join(dir, name+".txt"),
	}
}

// Remove deletes whichever artifact files exist.
func (a Artifacts) Remove() error {
	var retErr error
	for _, path := range []string{a.Structure, a.Data} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			retErr = errors.CombineErrors(retErr, err)
		}
	}
	return retErr
}
