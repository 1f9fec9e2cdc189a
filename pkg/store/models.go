package store

import "time"

// Companion is read-only here; prices are in SOL
type Companion struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"size:120;not null" json:"name"`
	AccessPrice float64   `gorm:"not null" json:"access_price"`
	CreatorID   *string   `gorm:"size:64;index" json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Companion) TableName() string {
	return "companions"
}

// AccessGrant unlocks chat for one user and companion. Rows are insert-only.
type AccessGrant struct {
	ID                   string    `gorm:"primaryKey;size:26" json:"id"`
	UserID               string    `gorm:"size:64;not null;uniqueIndex:idx_access_grants_user_companion" json:"user_id"`
	CompanionID          string    `gorm:"size:64;not null;uniqueIndex:idx_access_grants_user_companion" json:"companion_id"`
	AccessPrice          float64   `gorm:"not null" json:"access_price"`
	TransactionSignature string    `gorm:"size:128;not null;uniqueIndex" json:"transaction_signature"`
	PurchasedAt          time.Time `gorm:"not null" json:"purchased_at"`
}

func (AccessGrant) TableName() string {
	return "access_grants"
}

// CreatorEarning is the creator's share of one access grant
type CreatorEarning struct {
	ID            string    `gorm:"primaryKey;size:26" json:"id"`
	CreatorID     string    `gorm:"size:64;not null;index" json:"creator_id"`
	CompanionID   string    `gorm:"size:64;not null" json:"companion_id"`
	AccessGrantID string    `gorm:"size:26;not null;uniqueIndex" json:"access_grant_id"`
	Amount        float64   `gorm:"not null" json:"amount"`
	Status        string    `gorm:"size:16;not null;index" json:"status"` // pending, paid
	CreatedAt     time.Time `json:"created_at"`
}

func (CreatorEarning) TableName() string {
	return "creator_earnings"
}

// Account holds the credentials derived from a wallet address
type Account struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Profile links an account to its wallet and public identity
type Profile struct {
	UserID        string    `gorm:"primaryKey;size:36" json:"user_id"`
	WalletAddress string    `gorm:"size:64;not null;uniqueIndex" json:"wallet_address"`
	Username      string    `gorm:"size:20;not null;uniqueIndex" json:"username"`
	DisplayName   string    `gorm:"size:80" json:"display_name"`
	ContactEmail  *string   `gorm:"size:255" json:"contact_email"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}
