package dbconn

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/mysqlurl"
)

// EnsureDatabase makes sure the database the connection is scoped to
// exists, creating it when the server reports it as unknown. It returns
// a connection scoped to the (possibly just created) database; the
// passed connection must not be used afterwards.
func EnsureDatabase(ctx context.Context, conn Conn) (Conn, error) {
	err := conn.DB().PingContext(ctx)
	if err == nil {
		return conn, nil
	}
	switch conn := conn.(type) {
	case *MySQLConn:
		if !isMySQLUnknownDatabase(err) {
			return nil, err
		}
		return createAndReconnect(ctx, conn, func() (string, error) {
			return mysqlServerConnStr(conn.connStr)
		})
	case *PGConn:
		if !isPGUnknownDatabase(err) {
			return nil, err
		}
		return createAndReconnect(ctx, conn, func() (string, error) {
			return pgServerConnStr(conn.connStr)
		})
	}
	return nil, errors.AssertionFailedf("ensure database not supported for %T", conn)
}

// mysqlServerConnStr rewrites a MySQL conn string to point at the bare
// server, keeping the scheme prefix Connect dispatches on.
func mysqlServerConnStr(connStr string) (string, error) {
	cfg, err := mysqlurl.Parse(connStr)
	if err != nil {
		return "", err
	}
	cfg.DBName = ""
	return "mysql://" + cfg.FormatDSN(), nil
}

func pgServerConnStr(connStr string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", err
	}
	// The maintenance database always exists.
	u.Path = "/postgres"
	return u.String(), nil
}

func createAndReconnect(
	ctx context.Context, conn Conn, serverConnStr func() (string, error),
) (Conn, error) {
	connStr, err := serverConnStr()
	if err != nil {
		return nil, err
	}
	adminConn, err := Connect(ctx, conn.ID()+"-admin", connStr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = adminConn.Close(ctx) }()
	stmt := "CREATE DATABASE " + QuoteIdent(conn, conn.Database())
	if conn.Dialect() == "mysql" {
		stmt = "CREATE DATABASE IF NOT EXISTS " + QuoteIdent(conn, conn.Database())
	}
	if _, err := adminConn.DB().ExecContext(ctx, stmt); err != nil {
		return nil, errors.Wrapf(err, "creating database %s", conn.Database())
	}
	if err := conn.Close(ctx); err != nil {
		return nil, err
	}
	return Connect(ctx, conn.ID(), conn.ConnStr())
}

// QuoteIdent quotes an identifier for the connection's dialect.
func QuoteIdent(conn Conn, name string) string {
	if conn.Dialect() == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
