package database

import (
	"gorm.io/gorm"
)

func InitSendstackDatabase(dbConfig *DatabaseConfig) (*gorm.DB, error) {
	return NewConnection(dbConfig)
}
