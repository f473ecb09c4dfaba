// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/funnel-campaigns/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

// ErrNoReservation is returned when settling a credit that was never reserved
var ErrNoReservation = errors.New("no credit reservation to settle")

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// Transactor runs fn with a context carrying a database transaction
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

// QuizRepository defines read operations for quizzes
type QuizRepository interface {
	Repository[models.Quiz, models.QuizFilter]
	ListByOwner(ctx context.Context, ownerID uint) ([]*models.Quiz, error)
}

// LeadRepository is the read side of the lead store
type LeadRepository interface {
	Repository[models.Lead, models.LeadFilter]
	ListForSegment(ctx context.Context, query models.LeadQuery) ([]*models.Lead, error)
	Roster(ctx context.Context, quizID uint, limit, offset int) ([]*models.Lead, error)
	FieldValues(ctx context.Context, quizID uint, perFieldLimit int) (map[string][]string, error)
}

// CampaignRepository defines operations for campaigns
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ListByOwner(ctx context.Context, ownerID uint, channel *models.Channel, limit, offset int) ([]*models.Campaign, int64, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error)
	ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error)
	ListPausedForCredits(ctx context.Context, ownerID uint) ([]*models.Campaign, error)
	// TransitionStatus moves the campaign to `to` only if it is currently in one of `from`.
	// It reports whether a row changed.
	TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, changes map[string]any) (bool, error)
	SoftDelete(ctx context.Context, id uint) error
}

// DispatchLogRepository defines operations for the per-lead dispatch log
type DispatchLogRepository interface {
	Repository[models.DispatchLogEntry, models.DispatchLogFilter]
	StatesByCampaign(ctx context.Context, campaignID uint) (map[uint]models.LeadDispatchState, error)
	// Claim inserts the entry as an in-flight pending row, or takes over an existing pending row
	// whose claim is absent or older than staleBefore. It reports whether this caller owns the row.
	Claim(ctx context.Context, entry *models.DispatchLogEntry, staleBefore time.Time) (bool, error)
	Unclaim(ctx context.Context, id uint) error
	MarkSent(ctx context.Context, id uint, sentAt time.Time, providerMessageID *string) error
	MarkFailed(ctx context.Context, id uint, errorMessage string) error
	MarkDelivered(ctx context.Context, id uint, deliveredAt time.Time) error
	EnsurePending(ctx context.Context, entries []*models.DispatchLogEntry) error
	ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.DispatchLogEntry, error)
	ListByCampaign(ctx context.Context, campaignID uint, status *models.DispatchStatus, limit, offset int) ([]*models.DispatchLogEntry, int64, error)
	Stats(ctx context.Context, campaignID uint) (models.DispatchStats, error)
}

// CreditBalanceRepository holds the shared credit pool. Every mutation is a single conditional statement.
type CreditBalanceRepository interface {
	ByOwner(ctx context.Context, ownerID uint) (*models.CreditBalance, error)
	// Reserve holds one credit when total-used-reserved > 0 and reports whether it did
	Reserve(ctx context.Context, ownerID uint) (bool, error)
	// Commit turns a reservation into a used credit
	Commit(ctx context.Context, ownerID uint) error
	// Release returns a reservation to the pool
	Release(ctx context.Context, ownerID uint) error
	AddCredits(ctx context.Context, ownerID uint, amount int64) (*models.CreditBalance, error)
	ResetReservations(ctx context.Context) (int64, error)
}

// CreditPurchaseRepository defines operations for the credit ledger
type CreditPurchaseRepository interface {
	Repository[models.CreditPurchase, models.CreditPurchaseFilter]
	ListByOwner(ctx context.Context, ownerID uint, limit, offset int) ([]*models.CreditPurchase, error)
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
	ListByOwner(ctx context.Context, ownerID uint, limit, offset int) ([]*models.AuditLog, error)
	ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.AuditLog, error)
}
