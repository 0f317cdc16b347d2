package transfer

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/dbmirror/dbmirror/relation"
)

const defaultInsertBatchSize = 500

// FlatFile exports structure as DDL text and data as a delimited flat
// file, then loads both against the target through the client
// connection. Slower than NativeBulk but needs no filesystem shared
// with the server.
type FlatFile struct {
	Dir     string
	Format  FileFormat
	Cleanup bool
	// BatchSize is the number of rows per INSERT on load.
	BatchSize int
}

func NewFlatFile(dir string, format FileFormat, cleanup bool) *FlatFile {
	return &FlatFile{
		Dir:       dir,
		Format:    format.withDefaults(),
		Cleanup:   cleanup,
		BatchSize: defaultInsertBatchSize,
	}
}

func (f *FlatFile) Name() string {
	return "flatfile"
}

func (f *FlatFile) CopyStructure(
	ctx context.Context, src, dst dbconn.Conn, d relation.Descriptor,
) error {
	return copyStructure(ctx, src, dst, d, f.Dir)
}

func (f *FlatFile) CopyData(
	ctx context.Context, src, dst dbconn.Conn, d relation.Descriptor,
) (int64, error) {
	if d.Kind == relation.KindView {
		return 0, nil
	}
	path := ArtifactsFor(f.Dir, d.Name).Data
	exported, err := f.export(ctx, src, d.Name, path)
	if err != nil {
		return 0, errors.Wrapf(err, "exporting %s", d.Name)
	}
	if f.Cleanup {
		defer func() { _ = os.Remove(path) }()
	}
	loaded, err := f.load(ctx, dst, d.Name, path)
	if err != nil {
		return 0, errors.Wrapf(err, "loading %s", d.Name)
	}
	if loaded != exported {
		return loaded, errors.Newf(
			"loaded %d rows of %s but exported %d", loaded, d.Name, exported,
		)
	}
	return loaded, nil
}

func (f *FlatFile) export(
	ctx context.Context, src dbconn.Conn, name string, path string,
) (int64, error) {
	cols, err := relationColumns(ctx, src, name)
	if err != nil {
		return 0, err
	}
	rows, err := src.DB().QueryContext(ctx, "SELECT * FROM "+dbconn.QuoteIdent(src, name))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	w, err := newFileWriter(out, f.Format)
	if err != nil {
		return 0, err
	}

	raw := make([]sql.RawBytes, len(cols))
	scanDest := make([]any, len(cols))
	for i := range raw {
		scanDest[i] = &raw[i]
	}
	fields := make([]fileField, len(cols))
	var count int64
	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return count, err
		}
		for i, v := range raw {
			if v == nil {
				fields[i] = fileField{Null: true}
				continue
			}
			if cols[i].Binary {
				// Hex keeps binary values transportable as text;
				// the loader reverses it.
				fields[i] = fileField{Value: []byte(hex.EncodeToString(v))}
				continue
			}
			fields[i] = fileField{Value: v}
		}
		if err := w.WriteRecord(fields); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	if err := w.Flush(); err != nil {
		return count, err
	}
	return count, out.Close()
}

func (f *FlatFile) load(
	ctx context.Context, dst dbconn.Conn, name string, path string,
) (int64, error) {
	cols, err := relationColumns(ctx, dst, name)
	if err != nil {
		return 0, err
	}
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	r, err := newFileReader(in, f.Format)
	if err != nil {
		return 0, err
	}

	batchSize := f.BatchSize
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}
	var count int64
	batch := make([][]any, 0, batchSize)
	for {
		record, err := r.ReadRecord()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return count, err
		}
		if len(record) != len(cols) {
			return count, errors.Newf(
				"record has %d fields, table %s has %d columns", len(record), name, len(cols),
			)
		}
		row := make([]any, len(record))
		for i, field := range record {
			switch {
			case field.Null:
				row[i] = nil
			case cols[i].Binary:
				decoded, err := hex.DecodeString(string(field.Value))
				if err != nil {
					return count, errors.Wrapf(err, "decoding binary column %s", cols[i].Name)
				}
				row[i] = decoded
			default:
				row[i] = string(field.Value)
			}
		}
		batch = append(batch, row)
		if len(batch) == batchSize {
			if err := insertBatch(ctx, dst, name, cols, batch); err != nil {
				return count, err
			}
			count += int64(len(batch))
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := insertBatch(ctx, dst, name, cols, batch); err != nil {
			return count, err
		}
		count += int64(len(batch))
	}
	return count, nil
}

func insertBatch(
	ctx context.Context, dst dbconn.Conn, name string, cols []columnInfo, batch [][]any,
) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(dbconn.QuoteIdent(dst, name))
	sb.WriteString(" (")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(dbconn.QuoteIdent(dst, col.Name))
	}
	sb.WriteString(") VALUES ")
	args := make([]any, 0, len(batch)*len(cols))
	arg := 1
	for rowIdx, row := range batch {
		if rowIdx > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for colIdx := range cols {
			if colIdx > 0 {
				sb.WriteString(", ")
			}
			if dst.Dialect() == "mysql" {
				sb.WriteString("?")
			} else {
				fmt.Fprintf(&sb, "$%d", arg)
			}
			arg++
			args = append(args, row[colIdx])
		}
		sb.WriteString(")")
	}
	_, err := dst.DB().ExecContext(ctx, sb.String(), args...)
	return err
}

var _ Strategy = (*FlatFile)(nil)
