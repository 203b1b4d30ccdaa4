package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/propview/viewings/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUnknownEmail indicates no account exists for the given address.
	ErrUnknownEmail = errors.New("users: email not found")
	// ErrWrongPassword indicates the password did not match the stored hash.
	ErrWrongPassword = errors.New("users: incorrect password")
)

// Account backs the single demo login. There is no account management beyond
// the seeded credential.
type Account struct {
	ID           string `gorm:"column:id;primaryKey;size:64"`
	Email        string `gorm:"column:email;size:320;uniqueIndex"`
	PasswordHash string `gorm:"column:pw"`
}

// TableName provides the explicit table binding for GORM.
func (Account) TableName() string {
	return "users"
}

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service resolves login attempts against stored accounts.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Authenticate checks the password against the stored salted hash and returns
// the account id on success.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, error) {
	address := strings.ToLower(strings.TrimSpace(email))
	if address == "" {
		return "", ErrUnknownEmail
	}

	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", address).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrUnknownEmail
	}
	if err != nil {
		s.logger.Error("account lookup failed", zap.Error(err))
		return "", err
	}

	if !auth.CheckPassword(account.PasswordHash, password) {
		return "", ErrWrongPassword
	}
	return account.ID, nil
}
