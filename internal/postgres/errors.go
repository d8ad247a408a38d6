package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"bq2pg/internal/etlerr"
)

// Classify maps a database error onto the pipeline error taxonomy
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *etlerr.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return etlerr.New(kindForCode(pgErr.Code), op, err)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &connErr),
		errors.As(err, &netErr),
		pgconn.Timeout(err):
		return etlerr.TransientSink(op, err)
	}

	return etlerr.New(etlerr.KindUnknown, op, err)
}

// kindForCode classifies by SQLSTATE class
func kindForCode(code string) etlerr.Kind {
	switch code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return etlerr.KindTransientSink
	case "57014": // query_canceled, statement timeout
		return etlerr.KindTransientSink
	case "3D000", "3F000": // invalid catalog or schema name
		return etlerr.KindConfiguration
	}

	switch {
	case strings.HasPrefix(code, "08"), // connection exception
		strings.HasPrefix(code, "53"), // insufficient resources
		strings.HasPrefix(code, "57"), // operator intervention
		strings.HasPrefix(code, "58"): // system error
		return etlerr.KindTransientSink
	case strings.HasPrefix(code, "28"), // invalid authorization
		strings.HasPrefix(code, "42"): // syntax error or access rule violation
		return etlerr.KindConfiguration
	case strings.HasPrefix(code, "22"), // data exception
		strings.HasPrefix(code, "23"): // integrity constraint violation
		return etlerr.KindData
	}
	return etlerr.KindUnknown
}
