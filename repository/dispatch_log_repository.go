package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DispatchLogRepositoryImpl implements the DispatchLogRepository interface
type DispatchLogRepositoryImpl struct {
	*BaseRepository[models.DispatchLogEntry, models.DispatchLogFilter]
}

// NewDispatchLogRepository creates a new dispatch log repository
func NewDispatchLogRepository(db *gorm.DB) DispatchLogRepository {
	return &DispatchLogRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DispatchLogEntry, models.DispatchLogFilter](db),
	}
}

var dispatchLogConflict = []clause.Column{{Name: "campaign_id"}, {Name: "lead_id"}}

// StatesByCampaign returns the status and claim of every lead already logged for the campaign
func (r *DispatchLogRepositoryImpl) StatesByCampaign(ctx context.Context, campaignID uint) (map[uint]models.LeadDispatchState, error) {
	var rows []models.LeadDispatchState
	err := r.getDB(ctx).
		Model(&models.DispatchLogEntry{}).
		Select("lead_id, status, claimed_at").
		Where("campaign_id = ?", campaignID).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load dispatch states for campaign %d: %w", campaignID, err)
	}

	out := make(map[uint]models.LeadDispatchState, len(rows))
	for _, row := range rows {
		out[row.LeadID] = row
	}
	return out, nil
}

// Claim upserts the entry as pending with claimed_at set. An existing row is only taken over
// while it is still pending and unclaimed or stale, so a terminal row is never rewritten.
func (r *DispatchLogRepositoryImpl) Claim(ctx context.Context, entry *models.DispatchLogEntry, staleBefore time.Time) (bool, error) {
	now := utils.UTCNow()
	entry.Status = models.DispatchStatusPending
	entry.ClaimedAt = &now
	entry.UpdatedAt = now
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	var claimed bool
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Clauses(clause.OnConflict{
			Columns: dispatchLogConflict,
			DoUpdates: clause.AssignmentColumns([]string{
				"recipient", "rendered_message", "rendered_subject", "due_at", "claimed_at", "updated_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{
					SQL:  "dispatch_logs.status = ? AND (dispatch_logs.claimed_at IS NULL OR dispatch_logs.claimed_at < ?)",
					Vars: []any{models.DispatchStatusPending, staleBefore},
				},
			}},
		}).Create(entry)
		if res.Error != nil {
			return fmt.Errorf("failed to claim dispatch for campaign %d lead %d: %w", entry.CampaignID, entry.LeadID, res.Error)
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// Unclaim returns a claimed pending row to the queue
func (r *DispatchLogRepositoryImpl) Unclaim(ctx context.Context, id uint) error {
	return r.update(ctx, id, "unclaim", map[string]any{"claimed_at": nil}, models.DispatchStatusPending)
}

func (r *DispatchLogRepositoryImpl) MarkSent(ctx context.Context, id uint, sentAt time.Time, providerMessageID *string) error {
	return r.update(ctx, id, "mark sent", map[string]any{
		"status":              models.DispatchStatusSent,
		"sent_at":             sentAt,
		"provider_message_id": providerMessageID,
		"error_message":       nil,
		"claimed_at":          nil,
	}, models.DispatchStatusPending)
}

func (r *DispatchLogRepositoryImpl) MarkFailed(ctx context.Context, id uint, errorMessage string) error {
	return r.update(ctx, id, "mark failed", map[string]any{
		"status":        models.DispatchStatusFailed,
		"error_message": errorMessage,
		"claimed_at":    nil,
	}, models.DispatchStatusPending, models.DispatchStatusSent)
}

func (r *DispatchLogRepositoryImpl) MarkDelivered(ctx context.Context, id uint, deliveredAt time.Time) error {
	return r.update(ctx, id, "mark delivered", map[string]any{
		"status":       models.DispatchStatusDelivered,
		"delivered_at": deliveredAt,
	}, models.DispatchStatusSent)
}

// update applies changes only while the row is in one of the allowed statuses
func (r *DispatchLogRepositoryImpl) update(ctx context.Context, id uint, op string, changes map[string]any, allowed ...models.DispatchStatus) error {
	changes["updated_at"] = utils.UTCNow()
	return r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.DispatchLogEntry{}).
			Where("id = ? AND status IN ?", id, allowed).
			Updates(changes)
		if res.Error != nil {
			return fmt.Errorf("failed to %s dispatch log %d: %w", op, id, res.Error)
		}
		return nil
	})
}

// EnsurePending writes unclaimed pending rows for leads that have no entry yet
func (r *DispatchLogRepositoryImpl) EnsurePending(ctx context.Context, entries []*models.DispatchLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	now := utils.UTCNow()
	for _, e := range entries {
		e.Status = models.DispatchStatusPending
		e.ClaimedAt = nil
		e.CreatedAt = now
		e.UpdatedAt = now
	}

	return r.write(ctx, func(db *gorm.DB) error {
		err := db.Clauses(clause.OnConflict{Columns: dispatchLogConflict, DoNothing: true}).
			CreateInBatches(entries, 100).Error
		if err != nil {
			return fmt.Errorf("failed to record pending dispatches: %w", err)
		}
		return nil
	})
}

func (r *DispatchLogRepositoryImpl) ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.DispatchLogEntry, error) {
	var entry models.DispatchLogEntry
	err := r.getDB(ctx).Where("provider_message_id = ?", providerMessageID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find dispatch log by provider message id: %w", err)
	}
	return &entry, nil
}

// ListByCampaign returns one page of the campaign's log and the total matching rows
func (r *DispatchLogRepositoryImpl) ListByCampaign(ctx context.Context, campaignID uint, status *models.DispatchStatus, limit, offset int) ([]*models.DispatchLogEntry, int64, error) {
	filter := models.DispatchLogFilter{CampaignID: &campaignID, Status: status}

	total, err := r.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	entries, err := r.ByFilter(ctx, filter, "lead_id ASC", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Stats aggregates the campaign's log by status
func (r *DispatchLogRepositoryImpl) Stats(ctx context.Context, campaignID uint) (models.DispatchStats, error) {
	type row struct {
		Status     models.DispatchStatus
		Count      int64
		Charged    int64
		LastSentAt *time.Time
	}

	var rows []row
	err := r.getDB(ctx).
		Model(&models.DispatchLogEntry{}).
		Select("status, COUNT(*) AS count, COUNT(sent_at) AS charged, MAX(sent_at) AS last_sent_at").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return models.DispatchStats{}, fmt.Errorf("failed to aggregate dispatch log for campaign %d: %w", campaignID, err)
	}

	var stats models.DispatchStats
	for _, rw := range rows {
		switch rw.Status {
		case models.DispatchStatusPending:
			stats.Pending = rw.Count
		case models.DispatchStatusSent:
			stats.Sent = rw.Count
		case models.DispatchStatusDelivered:
			stats.Delivered = rw.Count
		case models.DispatchStatusFailed:
			stats.Failed = rw.Count
		}
		stats.Charged += rw.Charged
		if rw.LastSentAt != nil && (stats.LastSentAt == nil || rw.LastSentAt.After(*stats.LastSentAt)) {
			stats.LastSentAt = rw.LastSentAt
		}
	}
	return stats, nil
}

func (r *DispatchLogRepositoryImpl) ByFilter(ctx context.Context, filter models.DispatchLogFilter, orderBy string, limit, offset int) ([]*models.DispatchLogEntry, error) {
	var entries []*models.DispatchLogEntry
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to find dispatch logs by filter: %w", err)
	}
	return entries, nil
}

func (r *DispatchLogRepositoryImpl) Count(ctx context.Context, filter models.DispatchLogFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.DispatchLogEntry{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count dispatch logs: %w", err)
	}
	return count, nil
}

func (r *DispatchLogRepositoryImpl) Exists(ctx context.Context, filter models.DispatchLogFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *DispatchLogRepositoryImpl) applyFilter(db *gorm.DB, filter models.DispatchLogFilter) *gorm.DB {
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.LeadID != nil {
		db = db.Where("lead_id = ?", *filter.LeadID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	return db
}
