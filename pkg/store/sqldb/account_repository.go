package sqldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AccountRepository handles account persistence
type AccountRepository struct {
	ds *Datastore
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(ds *Datastore) *AccountRepository {
	return &AccountRepository{ds: ds}
}

// Create inserts a new account and fills its ID
func (r *AccountRepository) Create(ctx context.Context, account *Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	if err := r.ds.DB(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// Get retrieves an account by ID, returns nil if absent
func (r *AccountRepository) Get(ctx context.Context, id int64) (*Account, error) {
	var account Account
	err := r.ds.DB(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetByName retrieves an account by its unique name, returns nil if absent
func (r *AccountRepository) GetByName(ctx context.Context, name string) (*Account, error) {
	var account Account
	err := r.ds.DB(ctx).Where("account = ?", name).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account by name: %w", err)
	}
	return &account, nil
}

// Update saves every column of an existing account
func (r *AccountRepository) Update(ctx context.Context, account *Account) error {
	account.UpdatedAt = time.Now().UTC()
	result := r.ds.DB(ctx).Model(&Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]interface{}{
			"account":         account.Account,
			"password":        account.Password,
			"steps":           account.Steps,
			"schedule_hour":   account.ScheduleHour,
			"schedule_minute": account.ScheduleMinute,
			"enabled":         account.Enabled,
			"updated_at":      account.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetEnabled updates only the enabled flag
func (r *AccountRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	result := r.ds.DB(ctx).Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"enabled":    enabled,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set account enabled: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes an account row, returns false if nothing was deleted
func (r *AccountRepository) Delete(ctx context.Context, id int64) (bool, error) {
	result := r.ds.DB(ctx).Where("id = ?", id).Delete(&Account{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete account: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// List returns all accounts ordered by id
func (r *AccountRepository) List(ctx context.Context) ([]*Account, error) {
	var accounts []*Account
	if err := r.ds.DB(ctx).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// ListEnabled returns enabled accounts ordered by id
func (r *AccountRepository) ListEnabled(ctx context.Context) ([]*Account, error) {
	var accounts []*Account
	if err := r.ds.DB(ctx).Where("enabled = ?", true).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled accounts: %w", err)
	}
	return accounts, nil
}

// Count returns the total number of accounts
func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.ds.DB(ctx).Model(&Account{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return count, nil
}

// CountEnabled returns the number of enabled accounts
func (r *AccountRepository) CountEnabled(ctx context.Context) (int64, error) {
	var count int64
	if err := r.ds.DB(ctx).Model(&Account{}).Where("enabled = ?", true).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count enabled accounts: %w", err)
	}
	return count, nil
}
