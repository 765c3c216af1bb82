package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Models lists every table the service owns or touches.
func Models() []interface{} {
	return []interface{}{
		&models.Location{},
		&models.DeviceSession{},
		&models.Post{},
		&models.Setting{},
		&models.PostPayment{},
		&models.BoostPayment{},
		&models.DeletionPayment{},
		&models.Sponsorship{},
		&models.MerchantClaim{},
		&models.InvoiceIndex{},
		&models.PaymentWebhookEvent{},
		&models.LnurlChallenge{},
		&models.LnurlIdentity{},
		&models.LnurlIdentityDevice{},
	}
}

// Open connects to the configured database, retrying while the server starts
// up, and migrates the schema.
func Open(cfg config.Database) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(dialector(cfg), &gorm.Config{})
		if err == nil {
			break
		}

		log.Warnf("[Database] Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, err
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows one writer; a single connection keeps transactions serialized.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens a private in-memory sqlite database with the full schema.
func OpenMemory(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return db, nil
}

func dialector(cfg config.Database) gorm.Dialector {
	if cfg.Driver == "sqlite" {
		return sqlite.Open(cfg.SQLitePath + "?_busy_timeout=5000&_foreign_keys=on")
	}

	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=UTC"
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)
	return mysql.New(mysql.Config{
		DSN:                       dsn,   // data source name
		DefaultStringSize:         256,   // default size for string fields
		DisableDatetimePrecision:  true,  // disable datetime precision, which not supported before MySQL 5.6
		DontSupportRenameIndex:    true,  // drop & create when rename index, rename index not supported before MySQL 5.7, MariaDB
		DontSupportRenameColumn:   true,  // `change` when rename column, rename column not supported before MySQL 8, MariaDB
		SkipInitializeWithVersion: false, // auto configure based on currently MySQL version
	})
}
