package db

import (
	"io"
	"log"
	"os"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite:"

// Dialector picks the driver from the DSN: "sqlite:<path>" opens SQLite, anything else MySQL.
func Dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, sqlitePrefix) {
		return gormsqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix))
	}
	return mysql.Open(dsn)
}

// newLogger keeps warnings and slow queries but drops "record not found", which is an
// expected outcome for unset config keys and unknown subjects.
func newLogger(w io.Writer) logger.Interface {
	return logger.New(log.New(w, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func Open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: newLogger(os.Stdout),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(dsn, sqlitePrefix) {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}

func Connect(dsn string) *gorm.DB {
	gdb, err := Open(dsn)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return gdb
}
