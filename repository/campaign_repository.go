package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/utils"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements the CampaignRepository interface
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db),
	}
}

// ListByOwner returns one page of the owner's campaigns plus the total count
func (r *CampaignRepositoryImpl) ListByOwner(ctx context.Context, ownerID uint, channel *models.Channel, limit, offset int) ([]*models.Campaign, int64, error) {
	filter := models.CampaignFilter{OwnerID: &ownerID, Channel: channel}

	total, err := r.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	campaigns, err := r.ByFilter(ctx, filter, "created_at DESC, id DESC", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// ListDueScheduled returns draft campaigns whose scheduled time has arrived
func (r *CampaignRepositoryImpl) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	status := models.CampaignStatusDraft
	return r.ByFilter(ctx, models.CampaignFilter{Status: &status, ScheduledBefore: &now}, "scheduled_at ASC, id ASC", 0, 0)
}

func (r *CampaignRepositoryImpl) ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	return r.ByFilter(ctx, models.CampaignFilter{Status: &status}, "id ASC", 0, 0)
}

// ListPausedForCredits returns the owner's campaigns halted by credit exhaustion
func (r *CampaignRepositoryImpl) ListPausedForCredits(ctx context.Context, ownerID uint) ([]*models.Campaign, error) {
	status := models.CampaignStatusPaused
	reason := models.PauseReasonInsufficientCredits
	return r.ByFilter(ctx, models.CampaignFilter{OwnerID: &ownerID, Status: &status, PauseReason: &reason}, "id ASC", 0, 0)
}

// TransitionStatus performs a compare-and-set on the status column
func (r *CampaignRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, changes map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": utils.UTCNow(),
	}
	for k, v := range changes {
		updates[k] = v
	}

	var changed bool
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.Campaign{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to transition campaign %d to %s: %w", id, to, res.Error)
		}
		changed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// SoftDelete hides the campaign; its dispatch log is kept for audit
func (r *CampaignRepositoryImpl) SoftDelete(ctx context.Context, id uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		if err := db.Delete(&models.Campaign{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete campaign %d: %w", id, err)
		}
		return nil
	})
}

// ByFilter retrieves campaigns based on filter criteria
func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	var campaigns []*models.Campaign
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to find campaigns by filter: %w", err)
	}
	return campaigns, nil
}

// Count returns the number of campaigns matching the filter
func (r *CampaignRepositoryImpl) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Campaign{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count campaigns: %w", err)
	}
	return count, nil
}

// Exists checks if any campaign matching the filter exists
func (r *CampaignRepositoryImpl) Exists(ctx context.Context, filter models.CampaignFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.OwnerID != nil {
		db = db.Where("owner_id = ?", *filter.OwnerID)
	}
	if filter.Channel != nil {
		db = db.Where("channel = ?", *filter.Channel)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.PauseReason != nil {
		db = db.Where("pause_reason = ?", *filter.PauseReason)
	}
	if filter.ScheduledBefore != nil {
		db = db.Where("scheduled_at IS NOT NULL AND scheduled_at <= ?", *filter.ScheduledBefore)
	}
	return db
}
