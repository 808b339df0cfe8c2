// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file maps driver and ORM errors onto the closed set of
// resilience kinds so that no other layer has to look at driver messages.
package repo

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/tbourn/dealer-negotiation-backend/internal/resilience"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// MySQL server error numbers.
const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlock         = 1213
	mysqlNeedReprepare    = 1615
	mysqlRowIsReferenced  = 1451
	mysqlNoReferencedRow  = 1452
	mysqlCheckViolated    = 3819
	mysqlServerGone       = 2006
	mysqlLostConnection   = 2013
	mysqlDataTooLong      = 1406
	mysqlBadNullError     = 1048
	mysqlTruncatedWrongVa = 1366
)

// SQLite primary and extended result codes.
const (
	sqliteBusy             = 5
	sqliteLocked           = 6
	sqliteSchema           = 17
	sqliteConstraint       = 19
	sqliteConstraintPK     = 1555
	sqliteConstraintUnique = 2067
)

// sqliteCoder is implemented by the pure-Go SQLite driver's error type.
type sqliteCoder interface {
	Code() int
}

// ClassifyError maps err to a resilience.Kind. It is the executor's
// Classifier for every repository call.
func ClassifyError(err error) resilience.Kind {
	if err == nil {
		return resilience.KindFatal
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.KindFatal
	case errors.Is(err, gorm.ErrRecordNotFound):
		return resilience.KindNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return resilience.KindConflict
	case errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return resilience.KindValidation
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, mysqldrv.ErrInvalidConn):
		return resilience.KindTransientConnection
	}

	var me *mysqldrv.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			return resilience.KindConflict
		case mysqlDeadlock, mysqlLockWaitTimeout, mysqlServerGone, mysqlLostConnection:
			return resilience.KindTransientConnection
		case mysqlNeedReprepare:
			return resilience.KindStatementConflict
		case mysqlRowIsReferenced, mysqlNoReferencedRow, mysqlCheckViolated,
			mysqlDataTooLong, mysqlBadNullError, mysqlTruncatedWrongVa:
			return resilience.KindValidation
		}
		return resilience.KindFatal
	}

	var se sqliteCoder
	if errors.As(err, &se) {
		code := se.Code()
		switch code {
		case sqliteConstraintUnique, sqliteConstraintPK:
			return resilience.KindConflict
		}
		switch code & 0xff {
		case sqliteBusy, sqliteLocked:
			return resilience.KindTransientConnection
		case sqliteSchema:
			return resilience.KindStatementConflict
		case sqliteConstraint:
			return resilience.KindValidation
		}
		return resilience.KindFatal
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return resilience.KindTransientConnection
	}
	return resilience.KindFatal
}

// IsNotFound reports whether err means the row does not exist, whether it
// came straight from GORM or through the executor.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || resilience.IsKind(err, resilience.KindNotFound)
}

// IsConflict reports whether err is a uniqueness violation.
func IsConflict(err error) bool {
	return err != nil && (resilience.IsKind(err, resilience.KindConflict) || ClassifyError(err) == resilience.KindConflict)
}
