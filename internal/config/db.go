package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GetDb opens the record store selected by the config.
func GetDb(cnf *Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch cnf.Database.Driver {
	case DriverPostgres:
		dsn := withStatementTimeout(cnf.Database.DSN, cnf.Database.StatementTimeout)
		return gorm.Open(postgres.Open(dsn), gormConfig)
	case DriverSqlite:
		db, err := gorm.Open(sqlite.Open(cnf.Database.DSN), gormConfig)
		if err != nil {
			return nil, err
		}
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY
		// inside long merge transactions.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cnf.Database.Driver)
	}
}

// withStatementTimeout adds statement_timeout as a postgres runtime parameter
// so a stuck merge fails instead of holding its row locks forever.
func withStatementTimeout(dsn string, timeout time.Duration) string {
	if timeout <= 0 {
		return dsn
	}

	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		logrus.Warnf("config: statement timeout only applies to URL style DSNs, ignoring")
		return dsn
	}

	q := u.Query()
	if q.Get("statement_timeout") == "" {
		q.Set("statement_timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()

	return u.String()
}
