package mirror

import (
	"database/sql/driver"
	"io"
	"net"

	"github.com/cockroachdb/errors"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbmirror",
		Subsystem: "mirror",
		Name:      "relations_processed",
		Help:      "Number of relations processed, by outcome.",
	}, []string{"action"})
	rowsTransferred = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dbmirror",
		Subsystem: "mirror",
		Name:      "rows_transferred",
		Help:      "Number of rows copied to the target.",
	})
)

// isConnectionErr reports whether err looks like a dropped connection
// rather than a statement failure, and is therefore worth one reconnect.
func isConnectionErr(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysqldriver.ErrInvalidConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
