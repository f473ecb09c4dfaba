package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/funnel-campaigns/models"
	"gorm.io/gorm"
)

// LeadRepositoryImpl implements LeadRepository
type LeadRepositoryImpl struct {
	*BaseRepository[models.Lead, models.LeadFilter]
}

// NewLeadRepository creates a new lead repository
func NewLeadRepository(db *gorm.DB) LeadRepository {
	return &LeadRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Lead, models.LeadFilter](db),
	}
}

// ListForSegment returns the candidate pool for segment evaluation ordered by lead id.
// Ownership is enforced through the quiz; a nil QuizID selects every quiz of the owner.
func (r *LeadRepositoryImpl) ListForSegment(ctx context.Context, q models.LeadQuery) ([]*models.Lead, error) {
	query := r.getDB(ctx).
		Model(&models.Lead{}).
		Joins("JOIN quizzes ON quizzes.id = leads.quiz_id").
		Where("quizzes.owner_id = ?", q.OwnerID)

	if q.QuizID != nil {
		query = query.Where("leads.quiz_id = ?", *q.QuizID)
	}
	if q.CreatedBefore != nil {
		query = query.Where("leads.created_at <= ?", *q.CreatedBefore)
	}
	if q.AfterID != nil {
		query = query.Where("leads.id > ?", *q.AfterID)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var leads []*models.Lead
	if err := query.Select("leads.*").Order("leads.id ASC").Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("failed to list leads for segment: %w", err)
	}
	return leads, nil
}

// Roster returns the quiz's leads that carry a phone number
func (r *LeadRepositoryImpl) Roster(ctx context.Context, quizID uint, limit, offset int) ([]*models.Lead, error) {
	hasPhone := true
	return r.ByFilter(ctx, models.LeadFilter{QuizID: &quizID, HasPhone: &hasPhone}, "submitted_at DESC, id DESC", limit, offset)
}

// FieldValues returns the distinct answer values recorded per quiz field
func (r *LeadRepositoryImpl) FieldValues(ctx context.Context, quizID uint, perFieldLimit int) (map[string][]string, error) {
	type row struct {
		Key   string
		Value string
	}

	var rows []row
	err := r.getDB(ctx).Raw(`
		SELECT kv.key AS key, kv.value AS value
		FROM leads, jsonb_each_text(leads.answers) AS kv
		WHERE leads.quiz_id = ?
		GROUP BY kv.key, kv.value
		ORDER BY kv.key, kv.value`, quizID).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load field values for quiz %d: %w", quizID, err)
	}

	out := make(map[string][]string)
	for _, rw := range rows {
		if perFieldLimit > 0 && len(out[rw.Key]) >= perFieldLimit {
			continue
		}
		out[rw.Key] = append(out[rw.Key], rw.Value)
	}
	return out, nil
}

func (r *LeadRepositoryImpl) ByFilter(ctx context.Context, filter models.LeadFilter, orderBy string, limit, offset int) ([]*models.Lead, error) {
	var leads []*models.Lead
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("failed to find leads by filter: %w", err)
	}
	return leads, nil
}

func (r *LeadRepositoryImpl) Count(ctx context.Context, filter models.LeadFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Lead{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count leads: %w", err)
	}
	return count, nil
}

func (r *LeadRepositoryImpl) Exists(ctx context.Context, filter models.LeadFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *LeadRepositoryImpl) applyFilter(db *gorm.DB, filter models.LeadFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.QuizID != nil {
		db = db.Where("quiz_id = ?", *filter.QuizID)
	}
	if filter.HasPhone != nil {
		if *filter.HasPhone {
			db = db.Where("phone IS NOT NULL AND phone <> ''")
		} else {
			db = db.Where("(phone IS NULL OR phone = '')")
		}
	}
	return db
}
