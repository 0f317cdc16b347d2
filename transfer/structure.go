package transfer

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/dbmirror/dbmirror/relation"
)

// copyStructure captures the relation's DDL from the source, persists it
// to the structure artifact and executes it against the target. Both
// strategies share this path.
func copyStructure(
	ctx context.Context, src, dst dbconn.Conn, d relation.Descriptor, dir string,
) error {
	ddl, err := captureDDL(ctx, src, d)
	if err != nil {
		return errors.Wrapf(err, "capturing structure of %s", d.Name)
	}
	path := ArtifactsFor(dir, d.Name).Structure
	if err := os.WriteFile(path, []byte(ddl+"\n"), 0o644); err != nil {
		return errors.Wrapf(err, "writing structure artifact for %s", d.Name)
	}
	if _, err := dst.DB().ExecContext(ctx, ddl); err != nil {
		return errors.Wrapf(err, "creating %s on target", d.Name)
	}
	return nil
}

func captureDDL(ctx context.Context, src dbconn.Conn, d relation.Descriptor) (string, error) {
	switch src := src.(type) {
	case *dbconn.MySQLConn:
		return captureMySQLDDL(ctx, src, d)
	case *dbconn.PGConn:
		return capturePGDDL(ctx, src, d)
	}
	return "", errors.AssertionFailedf("structure capture not supported for %T", src)
}

func captureMySQLDDL(
	ctx context.Context, src *dbconn.MySQLConn, d relation.Descriptor,
) (string, error) {
	quoted := dbconn.QuoteIdent(src, d.Name)
	if d.Kind == relation.KindView {
		var name, ddl, charset, collation string
		if err := src.DB().QueryRowContext(ctx, "SHOW CREATE VIEW "+quoted).
			Scan(&name, &ddl, &charset, &collation); err != nil {
			return "", err
		}
		return RewriteMySQLViewDDL(ddl), nil
	}
	var name, ddl string
	if err := src.DB().QueryRowContext(ctx, "SHOW CREATE TABLE "+quoted).
		Scan(&name, &ddl); err != nil {
		return "", err
	}
	return ddl, nil
}

var (
	mysqlDefinerRe     = regexp.MustCompile(`\s*DEFINER\s*=\s*\S+`)
	mysqlSQLSecurityRe = regexp.MustCompile(`SQL SECURITY (DEFINER|INVOKER)`)
)

// RewriteMySQLViewDDL makes a captured view definition portable across
// servers. The definer's account is not guaranteed to exist (or be
// authorized) on the target, so the DEFINER clause is dropped and the
// view is forced to invoker-rights execution.
func RewriteMySQLViewDDL(ddl string) string {
	ddl = mysqlDefinerRe.ReplaceAllString(ddl, "")
	if mysqlSQLSecurityRe.MatchString(ddl) {
		return mysqlSQLSecurityRe.ReplaceAllString(ddl, "SQL SECURITY INVOKER")
	}
	if idx := strings.Index(ddl, "VIEW "); idx >= 0 {
		return ddl[:idx] + "SQL SECURITY INVOKER " + ddl[idx:]
	}
	return ddl
}

func capturePGDDL(
	ctx context.Context, src *dbconn.PGConn, d relation.Descriptor,
) (string, error) {
	quoted := dbconn.QuoteIdent(src, d.Name)
	if d.Kind == relation.KindView {
		var def string
		if err := src.DB().QueryRowContext(
			ctx, "SELECT pg_get_viewdef($1::regclass, true)", d.Name,
		).Scan(&def); err != nil {
			return "", err
		}
		// security_invoker is the Postgres spelling of dropping
		// definer-rights semantics.
		return fmt.Sprintf(
			"CREATE VIEW %s WITH (security_invoker = true) AS\n%s", quoted, def,
		), nil
	}
	return buildPGTableDDL(ctx, src, d.Name)
}

const pgColumnsQuery = `SELECT a.attname,
  pg_catalog.format_type(a.atttypid, a.atttypmod),
  a.attnotnull,
  pg_catalog.pg_get_expr(ad.adbin, ad.adrelid)
FROM pg_catalog.pg_attribute a
LEFT JOIN pg_catalog.pg_attrdef ad ON ad.adrelid = a.attrelid AND ad.adnum = a.attnum
WHERE a.attrelid = $1::regclass AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

const pgPrimaryKeyQuery = `SELECT a.attname
FROM pg_catalog.pg_index i
JOIN pg_catalog.pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = $1::regclass AND i.indisprimary
ORDER BY array_position(i.indkey, a.attnum)`

// buildPGTableDDL reconstructs a CREATE TABLE statement from the
// catalog. Postgres has no SHOW CREATE TABLE equivalent; columns,
// nullability, defaults and the primary key carry over, secondary
// indexes do not.
func buildPGTableDDL(ctx context.Context, src *dbconn.PGConn, name string) (string, error) {
	rows, err := src.DB().QueryContext(ctx, pgColumnsQuery, name)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var defs []string
	for rows.Next() {
		var colName, colType string
		var notNull bool
		var colDefault *string
		if err := rows.Scan(&colName, &colType, &notNull, &colDefault); err != nil {
			return "", err
		}
		def := fmt.Sprintf("%s %s", dbconn.QuoteIdent(src, colName), colType)
		if notNull {
			def += " NOT NULL"
		}
		if colDefault != nil {
			def += " DEFAULT " + *colDefault
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	pkRows, err := src.DB().QueryContext(ctx, pgPrimaryKeyQuery, name)
	if err != nil {
		return "", err
	}
	defer pkRows.Close()
	var pkCols []string
	for pkRows.Next() {
		var colName string
		if err := pkRows.Scan(&colName); err != nil {
			return "", err
		}
		pkCols = append(pkCols, dbconn.QuoteIdent(src, colName))
	}
	if err := pkRows.Err(); err != nil {
		return "", err
	}
	if len(pkCols) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pkCols, ", ")))
	}
	return fmt.Sprintf(
		"CREATE TABLE %s (\n  %s\n)",
		dbconn.QuoteIdent(src, name), strings.Join(defs, ",\n  "),
	), nil
}
