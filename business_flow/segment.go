package businessflow

import (
	"context"

	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/repository"
)

// EvaluateSegment keeps the leads matching every predicate of seg, preserving input order.
// Audience, date floor and response filter are independent and all must hold.
// Preview, creation and dispatch all call this so their counts cannot drift.
func EvaluateSegment(leads []*models.Lead, seg models.Segment) []*models.Lead {
	out := make([]*models.Lead, 0, len(leads))
	for _, lead := range leads {
		if MatchesSegment(lead, seg) {
			out = append(out, lead)
		}
	}
	return out
}

// MatchesSegment evaluates seg against a single lead
func MatchesSegment(lead *models.Lead, seg models.Segment) bool {
	if lead == nil {
		return false
	}

	switch seg.Audience {
	case models.TargetAudienceCompleted:
		if lead.Status != models.LeadStatusCompleted {
			return false
		}
	case models.TargetAudienceAbandoned:
		if lead.Status != models.LeadStatusAbandoned {
			return false
		}
	case models.TargetAudienceAll, "":
	default:
		return false
	}

	if seg.DateFloor != nil && lead.SubmittedAt.Before(*seg.DateFloor) {
		return false
	}

	if rf := seg.ResponseFilter; rf != nil {
		v, ok := lead.Answer(rf.Field)
		if !ok || v != rf.Value {
			return false
		}
	}

	return true
}

const segmentPageSize = 1000

// LoadSegment pages through the owner's candidate leads in id order and evaluates seg over them
func LoadSegment(ctx context.Context, leads repository.LeadRepository, query models.LeadQuery, seg models.Segment) ([]*models.Lead, error) {
	if query.Limit <= 0 {
		query.Limit = segmentPageSize
	}

	var matched []*models.Lead
	for {
		page, err := leads.ListForSegment(ctx, query)
		if err != nil {
			return nil, err
		}
		matched = append(matched, EvaluateSegment(page, seg)...)
		if len(page) < query.Limit {
			return matched, nil
		}
		last := page[len(page)-1].ID
		query.AfterID = &last
	}
}
