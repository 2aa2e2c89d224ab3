package db

import (
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg Config) (gorm.Dialector, error) {
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return postgres.Open(dsn), nil
	}
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is meaningful for the connection.
// SQLite serializes writers and rejects the clause.
func SupportsRowLocks(conn *gorm.DB) bool {
	return conn != nil && conn.Dialector != nil && conn.Dialector.Name() != "sqlite"
}
