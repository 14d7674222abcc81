package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/exchangestack/config"
	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/models"
)

type Repositories struct {
	ExchangeAccountRepository interfaces.ExchangeAccountRepository
	FolderSyncRepository      interfaces.FolderSyncRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		ExchangeAccountRepository: NewExchangeAccountRepository(db),
		FolderSyncRepository:      NewFolderSyncRepository(db),
	}
}

func MigrateDB(dbConfig *config.DatabaseConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = db.AutoMigrate(
		&models.ExchangeAccount{},
		&models.FolderSyncState{},
	)

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
