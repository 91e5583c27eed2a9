package config

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"matrimony-chat/models"
)

// InitDB opens the snapshot cache database and migrates its tables.
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return db, nil
}
