package transfer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/dbmirror/dbmirror/relation"
)

// NativeBulk exports and imports through the engine's own bulk-copy
// facilities: SELECT INTO OUTFILE / LOAD DATA INFILE for MySQL, COPY TO
// / COPY FROM for Postgres. Higher throughput than FlatFile, but the
// artifact directory must be readable and writable by the database
// server processes themselves, and the engines constrain the file
// format: MySQL fixes the NULL spelling to \N, Postgres CSV requires a
// single-character delimiter and newline records. Formats the engine
// cannot express are rejected rather than silently altered.
type NativeBulk struct {
	Dir     string
	Format  FileFormat
	Cleanup bool
}

func NewNativeBulk(dir string, format FileFormat, cleanup bool) *NativeBulk {
	return &NativeBulk{Dir: dir, Format: format.withDefaults(), Cleanup: cleanup}
}

func (n *NativeBulk) Name() string {
	return "native"
}

func (n *NativeBulk) CopyStructure(
	ctx context.Context, src, dst dbconn.Conn, d relation.Descriptor,
) error {
	return copyStructure(ctx, src, dst, d, n.Dir)
}

func (n *NativeBulk) CopyData(
	ctx context.Context, src, dst dbconn.Conn, d relation.Descriptor,
) (int64, error) {
	if d.Kind == relation.KindView {
		return 0, nil
	}
	path := ArtifactsFor(n.Dir, d.Name).Data
	// INTO OUTFILE and COPY TO refuse to clobber; stale artifacts from
	// earlier runs must go first.
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	if n.Cleanup {
		defer func() { _ = os.Remove(path) }()
	}
	switch src.(type) {
	case *dbconn.MySQLConn:
		return n.copyMySQL(ctx, src, dst, d.Name, path)
	case *dbconn.PGConn:
		return n.copyPG(ctx, src, dst, d.Name, path)
	}
	return 0, errors.AssertionFailedf("native bulk copy not supported for %T", src)
}

func (n *NativeBulk) copyMySQL(
	ctx context.Context, src, dst dbconn.Conn, name string, path string,
) (int64, error) {
	// INTO OUTFILE / LOAD DATA have no NULL clause; the server always
	// writes and reads unenclosed \N.
	if n.Format.NullToken != `\N` {
		return 0, errors.Newf(
			"native MySQL transfer cannot spell NULL as %q, only \\N", n.Format.NullToken,
		)
	}
	clauses := fmt.Sprintf(
		"FIELDS TERMINATED BY %s OPTIONALLY ENCLOSED BY %s LINES TERMINATED BY %s",
		quoteSQLString(n.Format.FieldDelimiter),
		quoteSQLString(n.Format.FieldEnclosure),
		quoteSQLString(n.Format.LineTerminator),
	)
	exportStmt := fmt.Sprintf(
		"SELECT * INTO OUTFILE %s %s FROM %s",
		quoteSQLString(path), clauses, dbconn.QuoteIdent(src, name),
	)
	if _, err := src.DB().ExecContext(ctx, exportStmt); err != nil {
		return 0, errors.Wrapf(err, "exporting %s", name)
	}
	loadStmt := fmt.Sprintf(
		"LOAD DATA INFILE %s INTO TABLE %s %s",
		quoteSQLString(path), dbconn.QuoteIdent(dst, name), clauses,
	)
	res, err := dst.DB().ExecContext(ctx, loadStmt)
	if err != nil {
		return 0, errors.Wrapf(err, "loading %s", name)
	}
	return res.RowsAffected()
}

func (n *NativeBulk) copyPG(
	ctx context.Context, src, dst dbconn.Conn, name string, path string,
) (int64, error) {
	if len(n.Format.FieldDelimiter) != 1 {
		return 0, errors.Newf(
			"native Postgres transfer requires a single-character field delimiter, got %q",
			n.Format.FieldDelimiter,
		)
	}
	if n.Format.LineTerminator != "\n" {
		return 0, errors.Newf(
			"native Postgres transfer requires newline record terminators, got %q",
			n.Format.LineTerminator,
		)
	}
	options := fmt.Sprintf(
		"FORMAT csv, DELIMITER %s, QUOTE %s, NULL %s",
		quoteSQLString(n.Format.FieldDelimiter),
		quoteSQLString(n.Format.FieldEnclosure),
		quoteSQLString(n.Format.NullToken),
	)
	exportStmt := fmt.Sprintf(
		"COPY %s TO %s WITH (%s)",
		dbconn.QuoteIdent(src, name), quoteSQLString(path), options,
	)
	if _, err := src.DB().ExecContext(ctx, exportStmt); err != nil {
		return 0, errors.Wrapf(err, "exporting %s", name)
	}
	importStmt := fmt.Sprintf(
		"COPY %s FROM %s WITH (%s)",
		dbconn.QuoteIdent(dst, name), quoteSQLString(path), options,
	)
	res, err := dst.DB().ExecContext(ctx, importStmt)
	if err != nil {
		return 0, errors.Wrapf(err, "loading %s", name)
	}
	return res.RowsAffected()
}

func quoteSQLString(s string) string {
	replacer := strings.NewReplacer(`'`, `''`, `\`, `\\`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return "'" + replacer.Replace(s) + "'"
}

var _ Strategy = (*NativeBulk)(nil)
