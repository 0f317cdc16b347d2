package dbconn

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/mysqlurl"
	mysqldriver "github.com/go-sql-driver/mysql"
)

type MySQLConn struct {
	id       ID
	connStr  string
	db       *sql.DB
	database string
}

func ConnectMySQL(ctx context.Context, id ID, connStr string) (*MySQLConn, error) {
	cfg, err := mysqlurl.Parse(connStr)
	if err != nil {
		return nil, err
	}
	// Timestamps from information_schema must scan as time.Time.
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = ID(cfg.Addr)
	}
	return &MySQLConn{
		id:       id,
		connStr:  connStr,
		db:       singleConn(db),
		database: cfg.DBName,
	}, nil
}

// WrapMySQL builds a MySQLConn around an existing pool. Intended for
// tests that stub the database out.
func WrapMySQL(id ID, db *sql.DB, database string) *MySQLConn {
	return &MySQLConn{id: id, db: db, database: database}
}

func (c *MySQLConn) ID() ID {
	return c.id
}

func (c *MySQLConn) Close(ctx context.Context) error {
	return c.db.Close()
}

func (c *MySQLConn) Clone(ctx context.Context) (Conn, error) {
	return ConnectMySQL(ctx, c.id, c.connStr)
}

func (c *MySQLConn) DB() *sql.DB {
	return c.db
}

func (c *MySQLConn) Database() string {
	return c.database
}

func (c *MySQLConn) ConnStr() string {
	return c.connStr
}

func (c *MySQLConn) Dialect() string {
	return "mysql"
}

var _ Conn = (*MySQLConn)(nil)

func isMySQLUnknownDatabase(err error) bool {
	var myErr *mysqldriver.MySQLError
	// 1049 = ER_BAD_DB_ERROR.
	return errors.As(err, &myErr) && myErr.Number == 1049
}
