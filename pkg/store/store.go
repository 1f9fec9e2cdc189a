package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sigweihq/companionpay/pkg/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the gorm-backed persistence layer for the payment core
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and tunes the pool
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error), // Only log errors, not every SQL query
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// New wraps an open gorm connection
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate runs Gorm auto-migration for all models.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Companion{},
		&AccessGrant{},
		&CreatorEarning{},
		&Account{},
		&Profile{},
	)
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) GetCompanion(ctx context.Context, id string) (*Companion, error) {
	var c Companion
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// HasAccess reports whether a grant exists for the pair
func (s *Store) HasAccess(ctx context.Context, userID, companionID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AccessGrant{}).
		Where("user_id = ? AND companion_id = ?", userID, companionID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListAccessGrants returns a user's grants, newest first
func (s *Store) ListAccessGrants(ctx context.Context, userID string) ([]AccessGrant, error) {
	var grants []AccessGrant
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("purchased_at DESC").
		Find(&grants).Error
	return grants, err
}

// GrantAccess inserts the grant and, when earning is non-nil, the creator
// earning in one transaction. The grant insert ignores conflicts so created
// is false when another grant already holds the pair or the signature; no
// earning is written in that case.
func (s *Store) GrantAccess(ctx context.Context, grant *AccessGrant, earning *CreatorEarning) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(grant)
		if result.Error != nil {
			return fmt.Errorf("insert access grant: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		created = true

		if earning == nil {
			return nil
		}
		earning.AccessGrantID = grant.ID
		if err := tx.Create(earning).Error; err != nil {
			return fmt.Errorf("insert creator earning: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetAccountByEmail looks an account up by its derived email
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	var a Account
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// NormalizeWalletAddresses lower-cases profile addresses written before
// normalization so lookups can use the unique index with an exact match
func (s *Store) NormalizeWalletAddresses(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&Profile{}).
		UpdateColumn("wallet_address", gorm.Expr("LOWER(wallet_address)"))
	if result.Error != nil {
		return 0, fmt.Errorf("normalize wallet addresses: %w", translate(result.Error))
	}
	return result.RowsAffected, nil
}

// GetProfileByWallet looks a profile up by its lower-cased wallet address
func (s *Store) GetProfileByWallet(ctx context.Context, walletAddress string) (*Profile, error) {
	var p Profile
	err := s.db.WithContext(ctx).
		Where("wallet_address = ?", strings.ToLower(walletAddress)).
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Store) GetProfileByUserID(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// UsernameTaken matches usernames case-insensitively
func (s *Store) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Profile{}).
		Where("LOWER(username) = ?", strings.ToLower(username)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateAccountWithProfile writes both rows or neither
func (s *Store) CreateAccountWithProfile(ctx context.Context, account *Account, profile *Profile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(account).Error; err != nil {
			return fmt.Errorf("create account: %w", translate(err))
		}
		profile.UserID = account.ID
		if err := tx.Create(profile).Error; err != nil {
			return fmt.Errorf("create profile: %w", translate(err))
		}
		return nil
	})
}

// MigrateCredentials moves an account onto canonical credentials and rewrites
// its profile's wallet address to the canonical form
func (s *Store) MigrateCredentials(ctx context.Context, accountID, email, passwordHash, walletAddress string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Account{}).Where("id = ?", accountID).
			Updates(map[string]interface{}{"email": email, "password_hash": passwordHash}).Error; err != nil {
			return fmt.Errorf("update account credentials: %w", translate(err))
		}
		if err := tx.Model(&Profile{}).Where("user_id = ?", accountID).
			Update("wallet_address", walletAddress).Error; err != nil {
			return fmt.Errorf("update profile wallet: %w", translate(err))
		}
		return nil
	})
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}
