package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite opens the database file at path. SQLite allows a single writer,
// so the pool is limited to one connection.
func OpenSQLite(path string, level logger.LogLevel) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("DB_PATH is required for the sqlite driver")
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig(level))
	if err != nil {
		return nil, fmt.Errorf("connect sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
