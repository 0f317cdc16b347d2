package dbconn

import (
	"context"
	"database/sql"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type PGConn struct {
	id       ID
	connStr  string
	db       *sql.DB
	database string
}

func ConnectPG(ctx context.Context, id ID, connStr string) (*PGConn, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse url: %s", connStr)
	}
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = ID(u.Hostname() + ":" + u.Port())
	}
	database := ""
	if len(u.Path) > 1 {
		database = u.Path[1:]
	}
	return &PGConn{
		id:       id,
		connStr:  connStr,
		db:       singleConn(db),
		database: database,
	}, nil
}

// WrapPG builds a PGConn around an existing pool. Intended for tests
// that stub the database out.
func WrapPG(id ID, db *sql.DB, database string) *PGConn {
	return &PGConn{id: id, db: db, database: database}
}

func (c *PGConn) ID() ID {
	return c.id
}

func (c *PGConn) Close(ctx context.Context) error {
	return c.db.Close()
}

func (c *PGConn) Clone(ctx context.Context) (Conn, error) {
	return ConnectPG(ctx, c.id, c.connStr)
}

func (c *PGConn) DB() *sql.DB {
	return c.db
}

func (c *PGConn) Database() string {
	return c.database
}

func (c *PGConn) ConnStr() string {
	return c.connStr
}

func (c *PGConn) Dialect() string {
	return "postgres"
}

var _ Conn = (*PGConn)(nil)

func isPGUnknownDatabase(err error) bool {
	var pgErr *pgconn.PgError
	// 3D000 = invalid_catalog_name.
	return errors.As(err, &pgErr) && pgErr.Code == "3D000"
}
