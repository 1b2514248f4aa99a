package querysql

import (
	"database/sql"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// DriverName is the database/sql driver with the entitystore collations
// registered on every connection.
const DriverName = "sqlite3_entitystore"

// NumericCollation orders BigInt and BigDecimal text by numeric value at
// full precision.
const NumericCollation = "entity_numeric"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterCollation(NumericCollation, CompareNumeric)
		},
	})
}

// CompareNumeric compares two stored numeric strings exactly. Text that
// does not parse sorts after every number, then bytewise.
func CompareNumeric(a, b string) int {
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	switch {
	case errA == nil && errB == nil:
		return da.Cmp(db)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
