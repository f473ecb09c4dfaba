package businessflow

import (
	"context"
	"fmt"
	"log"

	"github.com/amirphl/funnel-campaigns/app/dto"
	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/repository"
	"github.com/amirphl/funnel-campaigns/utils"
)

// CreditFlow manages the shared SMS credit pool
type CreditFlow interface {
	GetBalance(ctx context.Context, ownerID uint) (*dto.CreditBalanceResponse, error)
	PurchaseCredits(ctx context.Context, req *dto.PurchaseCreditsRequest, metadata *ClientMetadata) (*dto.PurchaseCreditsResponse, error)
}

// CreditFlowImpl implements the credit business flow
type CreditFlowImpl struct {
	creditRepo   repository.CreditBalanceRepository
	purchaseRepo repository.CreditPurchaseRepository
	campaignRepo repository.CampaignRepository
	auditRepo    repository.AuditLogRepository
	tx           repository.Transactor
	gate         DispatchGate
}

func NewCreditFlow(
	creditRepo repository.CreditBalanceRepository,
	purchaseRepo repository.CreditPurchaseRepository,
	campaignRepo repository.CampaignRepository,
	auditRepo repository.AuditLogRepository,
	tx repository.Transactor,
	gate DispatchGate,
) CreditFlow {
	if gate == nil {
		gate = noopGate{}
	}
	return &CreditFlowImpl{
		creditRepo:   creditRepo,
		purchaseRepo: purchaseRepo,
		campaignRepo: campaignRepo,
		auditRepo:    auditRepo,
		tx:           tx,
		gate:         gate,
	}
}

func (s *CreditFlowImpl) GetBalance(ctx context.Context, ownerID uint) (*dto.CreditBalanceResponse, error) {
	balance, err := s.creditRepo.ByOwner(ctx, ownerID)
	if err != nil {
		return nil, NewBusinessError("CREDIT_LOOKUP_FAILED", "Failed to get credit balance", err)
	}
	out := ToCreditBalanceDTO(balance)
	return &out, nil
}

// PurchaseCredits adds credits and the ledger row atomically, then resumes
// campaigns that were paused for running out of credits.
func (s *CreditFlowImpl) PurchaseCredits(ctx context.Context, req *dto.PurchaseCreditsRequest, metadata *ClientMetadata) (*dto.PurchaseCreditsResponse, error) {
	if req.Amount <= 0 {
		return nil, NewBusinessError("INVALID_CREDIT_AMOUNT", "Credit amount must be positive", ErrInvalidCreditAmount)
	}

	var (
		balance  *models.CreditBalance
		purchase *models.CreditPurchase
	)
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		balance, err = s.creditRepo.AddCredits(txCtx, req.OwnerID, req.Amount)
		if err != nil {
			return err
		}

		purchase = &models.CreditPurchase{
			OwnerID:          req.OwnerID,
			Amount:           req.Amount,
			PaymentReference: req.PaymentReference,
			TotalAfter:       balance.Total,
			CreatedAt:        utils.UTCNow(),
		}
		return s.purchaseRepo.Save(txCtx, purchase)
	})
	if err != nil {
		errMsg := err.Error()
		WriteAudit(ctx, s.auditRepo, AuditEntry{
			OwnerID:     req.OwnerID,
			Action:      models.AuditActionCreditsPurchaseFailed,
			Description: fmt.Sprintf("Credit purchase of %d failed", req.Amount),
			ErrorMsg:    &errMsg,
		}, metadata)
		return nil, NewBusinessError("CREDIT_PURCHASE_FAILED", "Failed to purchase credits", err)
	}

	WriteAudit(ctx, s.auditRepo, AuditEntry{
		OwnerID:     req.OwnerID,
		Action:      models.AuditActionCreditsPurchased,
		Description: fmt.Sprintf("Purchased %d credits", req.Amount),
		Success:     true,
		Extra:       map[string]any{"purchase_uuid": purchase.UUID.String(), "total_after": balance.Total},
	}, metadata)

	resumed := s.resumeStarved(ctx, req.OwnerID, metadata)

	return &dto.PurchaseCreditsResponse{
		Message:          "Credits purchased successfully",
		PurchaseUUID:     purchase.UUID.String(),
		Amount:           req.Amount,
		Balance:          ToCreditBalanceDTO(balance),
		ResumedCampaigns: resumed,
	}, nil
}

// resumeStarved reactivates campaigns auto-paused for credits. Errors are logged; the purchase already succeeded.
func (s *CreditFlowImpl) resumeStarved(ctx context.Context, ownerID uint, metadata *ClientMetadata) []uint {
	campaigns, err := s.campaignRepo.ListPausedForCredits(ctx, ownerID)
	if err != nil {
		log.Printf("credits: failed to list starved campaigns for owner %d: %v", ownerID, err)
		return nil
	}

	var resumed []uint
	for _, c := range campaigns {
		ok, err := s.campaignRepo.TransitionStatus(ctx, c.ID,
			[]models.CampaignStatus{models.CampaignStatusPaused},
			models.CampaignStatusActive,
			map[string]any{"pause_reason": nil},
		)
		if err != nil {
			log.Printf("credits: failed to resume campaign %d: %v", c.ID, err)
			continue
		}
		if !ok {
			continue
		}
		s.gate.Reopen(ctx, c.ID)
		resumed = append(resumed, c.ID)

		WriteAudit(ctx, s.auditRepo, AuditEntry{
			OwnerID:     ownerID,
			CampaignID:  utils.ToPtr(c.ID),
			Action:      models.AuditActionCampaignResumed,
			Description: fmt.Sprintf("Campaign resumed after credit purchase: %s", c.UUID),
			Success:     true,
		}, metadata)
	}
	return resumed
}
