package businessflow

import (
	"context"
	"encoding/json"
	"log"

	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/repository"
	"github.com/amirphl/funnel-campaigns/utils"
)

// AuditEntry collects the fields of one audit row
type AuditEntry struct {
	OwnerID     uint
	CampaignID  *uint
	Action      string
	Description string
	Success     bool
	ErrorMsg    *string
	Extra       map[string]any
}

// WriteAudit persists an audit row. Failures are logged, not returned.
func WriteAudit(ctx context.Context, repo repository.AuditLogRepository, e AuditEntry, metadata *ClientMetadata) {
	if repo == nil {
		return
	}

	ipAddress := "127.0.0.1"
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	row := &models.AuditLog{
		OwnerID:      utils.ToPtr(e.OwnerID),
		CampaignID:   e.CampaignID,
		Action:       e.Action,
		Description:  &e.Description,
		Success:      utils.ToPtr(e.Success),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
		RequestID:    requestIDFrom(ctx, metadata),
		ErrorMessage: e.ErrorMsg,
	}
	if len(e.Extra) > 0 {
		if raw, err := json.Marshal(e.Extra); err == nil {
			row.Metadata = raw
		}
	}

	if err := repo.Save(ctx, row); err != nil {
		log.Printf("audit: failed to record %s for owner %d: %v", e.Action, e.OwnerID, err)
	}
}
