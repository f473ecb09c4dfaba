package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/funnel-campaigns/models"
	"gorm.io/gorm"
)

// QuizRepositoryImpl implements QuizRepository
type QuizRepositoryImpl struct {
	*BaseRepository[models.Quiz, models.QuizFilter]
}

// NewQuizRepository creates a new quiz repository
func NewQuizRepository(db *gorm.DB) QuizRepository {
	return &QuizRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Quiz, models.QuizFilter](db),
	}
}

// ListByOwner returns the owner's quizzes, newest first
func (r *QuizRepositoryImpl) ListByOwner(ctx context.Context, ownerID uint) ([]*models.Quiz, error) {
	return r.ByFilter(ctx, models.QuizFilter{OwnerID: &ownerID}, "created_at DESC, id DESC", 0, 0)
}

func (r *QuizRepositoryImpl) ByFilter(ctx context.Context, filter models.QuizFilter, orderBy string, limit, offset int) ([]*models.Quiz, error) {
	var quizzes []*models.Quiz
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&quizzes).Error; err != nil {
		return nil, fmt.Errorf("failed to find quizzes by filter: %w", err)
	}
	return quizzes, nil
}

func (r *QuizRepositoryImpl) Count(ctx context.Context, filter models.QuizFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Quiz{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count quizzes: %w", err)
	}
	return count, nil
}

func (r *QuizRepositoryImpl) Exists(ctx context.Context, filter models.QuizFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *QuizRepositoryImpl) applyFilter(db *gorm.DB, filter models.QuizFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.OwnerID != nil {
		db = db.Where("owner_id = ?", *filter.OwnerID)
	}
	return db
}
