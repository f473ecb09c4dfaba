package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditBalanceRepositoryImpl implements CreditBalanceRepository
type CreditBalanceRepositoryImpl struct {
	*BaseRepository[models.CreditBalance, struct{}]
}

// NewCreditBalanceRepository creates a new credit balance repository
func NewCreditBalanceRepository(db *gorm.DB) CreditBalanceRepository {
	return &CreditBalanceRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CreditBalance, struct{}](db),
	}
}

// ByOwner returns the owner's balance or nil when the owner never bought credits
func (r *CreditBalanceRepositoryImpl) ByOwner(ctx context.Context, ownerID uint) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	err := r.getDB(ctx).Where("owner_id = ?", ownerID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find credit balance for owner %d: %w", ownerID, err)
	}
	return &balance, nil
}

// Reserve is the compare-and-decrement on the shared pool
func (r *CreditBalanceRepositoryImpl) Reserve(ctx context.Context, ownerID uint) (bool, error) {
	var ok bool
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.CreditBalance{}).
			Where("owner_id = ? AND total - used - reserved > 0", ownerID).
			Updates(map[string]any{
				"reserved":   gorm.Expr("reserved + 1"),
				"updated_at": utils.UTCNow(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to reserve credit for owner %d: %w", ownerID, res.Error)
		}
		ok = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *CreditBalanceRepositoryImpl) Commit(ctx context.Context, ownerID uint) error {
	return r.settle(ctx, ownerID, "commit", map[string]any{
		"used":     gorm.Expr("used + 1"),
		"reserved": gorm.Expr("reserved - 1"),
	})
}

func (r *CreditBalanceRepositoryImpl) Release(ctx context.Context, ownerID uint) error {
	return r.settle(ctx, ownerID, "release", map[string]any{
		"reserved": gorm.Expr("reserved - 1"),
	})
}

func (r *CreditBalanceRepositoryImpl) settle(ctx context.Context, ownerID uint, op string, changes map[string]any) error {
	changes["updated_at"] = utils.UTCNow()
	return r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.CreditBalance{}).
			Where("owner_id = ? AND reserved > 0", ownerID).
			Updates(changes)
		if res.Error != nil {
			return fmt.Errorf("failed to %s credit for owner %d: %w", op, ownerID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("failed to %s credit for owner %d: %w", op, ownerID, ErrNoReservation)
		}
		return nil
	})
}

// AddCredits creates the balance row on first purchase and increments total otherwise
func (r *CreditBalanceRepositoryImpl) AddCredits(ctx context.Context, ownerID uint, amount int64) (*models.CreditBalance, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive: %d", amount)
	}

	now := utils.UTCNow()
	balance := &models.CreditBalance{OwnerID: ownerID, Total: amount, CreatedAt: now, UpdatedAt: now}

	err := r.write(ctx, func(db *gorm.DB) error {
		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "owner_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total":      gorm.Expr("credit_balances.total + ?", amount),
				"updated_at": now,
			}),
		}).Create(balance).Error
		if err != nil {
			return fmt.Errorf("failed to add credits for owner %d: %w", ownerID, err)
		}
		var fresh models.CreditBalance
		if err := db.Where("owner_id = ?", ownerID).First(&fresh).Error; err != nil {
			return fmt.Errorf("failed to reload credit balance for owner %d: %w", ownerID, err)
		}
		*balance = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// ResetReservations clears reservations left behind by a crashed process
func (r *CreditBalanceRepositoryImpl) ResetReservations(ctx context.Context) (int64, error) {
	var n int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.CreditBalance{}).
			Where("reserved > 0").
			Updates(map[string]any{"reserved": 0, "updated_at": utils.UTCNow()})
		if res.Error != nil {
			return fmt.Errorf("failed to reset credit reservations: %w", res.Error)
		}
		n = res.RowsAffected
		return nil
	})
	return n, err
}
