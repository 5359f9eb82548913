package keyforge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LicenseTokenRecord is a stored license token in the database.
type LicenseTokenRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	StoreKey  string    `gorm:"uniqueIndex:idx_license_tokens_store_key;type:varchar(255);not null"`
	Token     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for LicenseTokenRecord
func (LicenseTokenRecord) TableName() string {
	return "license_tokens"
}

// GormTokenStore keeps tokens in a SQL database through GORM.
type GormTokenStore struct {
	db *gorm.DB
}

// NewGormTokenStore creates a GORM-based token store and migrates its table.
func NewGormTokenStore(db *gorm.DB) (*GormTokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	// Test the connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	if err := db.AutoMigrate(&LicenseTokenRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	return &GormTokenStore{db: db}, nil
}

// withTransaction executes a function within a database transaction
func (r *GormTokenStore) withTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *GormTokenStore) Load(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	var record LicenseTokenRecord
	err := r.db.WithContext(ctx).Where("store_key = ?", key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return record.Token, nil
}

func (r *GormTokenStore) Save(ctx context.Context, key, token string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	now := time.Now()
	record := LicenseTokenRecord{
		StoreKey:  key,
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return r.withTransaction(ctx, func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
		}).Create(&record)
		if result.Error != nil {
			return fmt.Errorf("failed to save token: %w", result.Error)
		}
		return nil
	})
}

func (r *GormTokenStore) Delete(ctx context.Context, key string) error {
	result := r.db.WithContext(ctx).Where("store_key = ?", key).Delete(&LicenseTokenRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete token: %w", result.Error)
	}
	return nil
}
