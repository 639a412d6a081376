package models

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction_id")
	ErrTerminalNotFound     = errors.New("terminal not found")
	ErrCredentialNotFound   = errors.New("credential not found")
)

const mysqlDuplicateEntry = 1062

// IsDuplicateKeyErr reports whether err is a MySQL unique-constraint violation.
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	return false
}
