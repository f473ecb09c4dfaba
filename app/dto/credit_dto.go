package dto

type CreditBalanceResponse struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

type PurchaseCreditsRequest struct {
	OwnerID          uint    `json:"-"`
	Amount           int64   `json:"amount" validate:"required,gt=0,lte=1000000"`
	PaymentReference *string `json:"payment_reference,omitempty" validate:"omitempty,max=255"`
}

type PurchaseCreditsResponse struct {
	Message          string                `json:"message"`
	PurchaseUUID     string                `json:"purchase_uuid"`
	Amount           int64                 `json:"amount"`
	Balance          CreditBalanceResponse `json:"balance"`
	ResumedCampaigns []uint                `json:"resumed_campaigns,omitempty"`
}
