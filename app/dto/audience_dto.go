package dto

type QuizDTO struct {
	ID        uint     `json:"id"`
	UUID      string   `json:"uuid"`
	Title     string   `json:"title"`
	Fields    []string `json:"fields"`
	CreatedAt string   `json:"created_at"`
}

// VariableDTO is one placeholder a template may use
type VariableDTO struct {
	Name        string `json:"name"`
	Placeholder string `json:"placeholder"`
	Source      string `json:"source"`
}

type QuizVariablesResponse struct {
	QuizID    uint          `json:"quiz_id"`
	Variables []VariableDTO `json:"variables"`
}

// QuizVariableValuesResponse lists the distinct answers recorded per field
type QuizVariableValuesResponse struct {
	QuizID uint                `json:"quiz_id"`
	Fields map[string][]string `json:"fields"`
}

type QuizPhoneDTO struct {
	LeadID      uint    `json:"lead_id"`
	Name        *string `json:"name,omitempty"`
	Phone       string  `json:"phone"`
	Status      string  `json:"status"`
	SubmittedAt string  `json:"submitted_at"`
}

type QuizPhonesResponse struct {
	QuizID uint           `json:"quiz_id"`
	Items  []QuizPhoneDTO `json:"items"`
}

type PreviewAudienceRequest struct {
	OwnerID         uint               `json:"-"`
	Channel         string             `json:"channel" validate:"omitempty,oneof=sms email"`
	QuizID          *uint              `json:"quiz_id,omitempty"`
	TargetAudience  string             `json:"target_audience" validate:"omitempty,oneof=completed abandoned all"`
	DateFilter      *string            `json:"date_filter,omitempty"`
	ResponseFilter  *ResponseFilterDTO `json:"response_filter,omitempty" validate:"omitempty"`
	MessageTemplate string             `json:"message_template"`
	SubjectTemplate *string            `json:"subject_template,omitempty"`
	SampleSize      int                `json:"sample_size" validate:"omitempty,gte=0,lte=50"`
}

type PreviewSampleDTO struct {
	LeadID     uint     `json:"lead_id"`
	Recipient  string   `json:"recipient"`
	Message    string   `json:"message"`
	Subject    *string  `json:"subject,omitempty"`
	Length     int      `json:"length"`
	Unresolved []string `json:"unresolved,omitempty"`
}

type PreviewAudienceResponse struct {
	Count           int                `json:"count"`
	TemplateLength  int                `json:"template_length"`
	MaxLength       int                `json:"max_length,omitempty"`
	OverflowCount   int                `json:"overflow_count"`
	MissingContacts int                `json:"missing_contacts"`
	Samples         []PreviewSampleDTO `json:"samples"`
	Warnings        []string           `json:"warnings,omitempty"`
}
