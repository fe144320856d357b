package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Connect establishes a connection to the PostgreSQL database
func Connect(dsn string, logLevel logger.LogLevel) error {
	return open(postgres.Open(dsn), logLevel)
}

// ConnectSQLite opens a SQLite database file (":memory:" for a throwaway one)
func ConnectSQLite(path string, logLevel logger.LogLevel) error {
	return open(sqlite.Open(path), logLevel)
}

func open(dialector gorm.Dialector, logLevel logger.LogLevel) error {
	var err error

	DB, err = gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

// AutoMigrate runs database migrations on the global connection
func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate creates or updates the incident tables on db
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&IncidentRecord{}, &TimelineEventRecord{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
