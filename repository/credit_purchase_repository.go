package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/funnel-campaigns/models"
	"gorm.io/gorm"
)

// CreditPurchaseRepositoryImpl implements CreditPurchaseRepository
type CreditPurchaseRepositoryImpl struct {
	*BaseRepository[models.CreditPurchase, models.CreditPurchaseFilter]
}

// NewCreditPurchaseRepository creates a new credit ledger repository
func NewCreditPurchaseRepository(db *gorm.DB) CreditPurchaseRepository {
	return &CreditPurchaseRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CreditPurchase, models.CreditPurchaseFilter](db),
	}
}

func (r *CreditPurchaseRepositoryImpl) ListByOwner(ctx context.Context, ownerID uint, limit, offset int) ([]*models.CreditPurchase, error) {
	return r.ByFilter(ctx, models.CreditPurchaseFilter{OwnerID: &ownerID}, "created_at DESC, id DESC", limit, offset)
}

func (r *CreditPurchaseRepositoryImpl) ByFilter(ctx context.Context, filter models.CreditPurchaseFilter, orderBy string, limit, offset int) ([]*models.CreditPurchase, error) {
	var purchases []*models.CreditPurchase
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&purchases).Error; err != nil {
		return nil, fmt.Errorf("failed to find credit purchases by filter: %w", err)
	}
	return purchases, nil
}

func (r *CreditPurchaseRepositoryImpl) Count(ctx context.Context, filter models.CreditPurchaseFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.CreditPurchase{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count credit purchases: %w", err)
	}
	return count, nil
}

func (r *CreditPurchaseRepositoryImpl) Exists(ctx context.Context, filter models.CreditPurchaseFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *CreditPurchaseRepositoryImpl) applyFilter(db *gorm.DB, filter models.CreditPurchaseFilter) *gorm.DB {
	if filter.OwnerID != nil {
		db = db.Where("owner_id = ?", *filter.OwnerID)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}
	return db
}
