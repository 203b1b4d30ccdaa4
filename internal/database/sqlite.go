package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/propview/viewings/backend/internal/auth"
	"github.com/propview/viewings/backend/internal/invites"
	"github.com/propview/viewings/backend/internal/records"
	"github.com/propview/viewings/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	demoAccountEmail    = "test@user.com"
	demoAccountPassword = "password"
)

// Open establishes a SQLite connection, performs schema bootstrap and seeds
// the demo credential on first run. Bootstrap is sequential and assumed to
// run once before the service accepts traffic.
func Open(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// Cascades from invites to both parents depend on this pragma.
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&records.Viewing{}, &records.Lead{}, &invites.Invite{}, &users.Account{}); err != nil {
		return nil, err
	}

	if err := seedDemoAccount(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// seedDemoAccount inserts the single demo credential when the users table is
// empty, hashing its password with a randomly generated salt.
func seedDemoAccount(db *gorm.DB, logger *zap.Logger) error {
	var count int64
	if err := db.Model(&users.Account{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := auth.HashPassword(demoAccountPassword)
	if err != nil {
		return err
	}

	id, err := records.NewBase36Provider(0).NewID()
	if err != nil {
		return err
	}

	account := users.Account{ID: id, Email: demoAccountEmail, PasswordHash: hashed}
	if err := db.Create(&account).Error; err != nil {
		return err
	}

	if logger != nil {
		logger.Info("demo account seeded", zap.String("email", demoAccountEmail))
	}
	return nil
}
