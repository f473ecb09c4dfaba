package businessflow

import (
	"context"
	"strings"
	"time"

	"github.com/amirphl/funnel-campaigns/app/dto"
	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/repository"
	"github.com/amirphl/funnel-campaigns/utils"
)

// AudienceFlow backs the campaign wizard: quizzes, variables and segment preview
type AudienceFlow interface {
	ListQuizzes(ctx context.Context, ownerID uint) ([]dto.QuizDTO, error)
	QuizVariables(ctx context.Context, ownerID, quizID uint) (*dto.QuizVariablesResponse, error)
	QuizVariablesUltra(ctx context.Context, ownerID, quizID uint) (*dto.QuizVariableValuesResponse, error)
	QuizPhones(ctx context.Context, ownerID, quizID uint, page, pageSize int) (*dto.QuizPhonesResponse, error)
	PreviewAudience(ctx context.Context, req *dto.PreviewAudienceRequest) (*dto.PreviewAudienceResponse, error)
}

const variableValuesPerField = 50

// AudienceFlowImpl implements the audience business flow
type AudienceFlowImpl struct {
	quizRepo repository.QuizRepository
	leadRepo repository.LeadRepository
	cache    VariableCache
	opts     CampaignOptions
}

// NewAudienceFlow creates the audience flow. cache may be nil.
func NewAudienceFlow(quizRepo repository.QuizRepository, leadRepo repository.LeadRepository, cache VariableCache, opts CampaignOptions) AudienceFlow {
	if opts.SMSMaxLength <= 0 {
		opts.SMSMaxLength = utils.DefaultSMSMaxLength
	}
	if opts.Now == nil {
		opts.Now = utils.UTCNow
	}
	return &AudienceFlowImpl{quizRepo: quizRepo, leadRepo: leadRepo, cache: cache, opts: opts}
}

func (s *AudienceFlowImpl) ListQuizzes(ctx context.Context, ownerID uint) ([]dto.QuizDTO, error) {
	quizzes, err := s.quizRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, NewBusinessError("LIST_QUIZZES_FAILED", "Failed to list quizzes", err)
	}
	out := make([]dto.QuizDTO, 0, len(quizzes))
	for _, q := range quizzes {
		out = append(out, ToQuizDTO(q))
	}
	return out, nil
}

func (s *AudienceFlowImpl) ownedQuiz(ctx context.Context, ownerID, quizID uint) (*models.Quiz, error) {
	quiz, err := s.quizRepo.ByID(ctx, quizID)
	if err != nil {
		return nil, NewBusinessError("QUIZ_LOOKUP_FAILED", "Failed to lookup quiz", err)
	}
	if quiz == nil || quiz.OwnerID != ownerID {
		return nil, NewBusinessError("QUIZ_NOT_FOUND", "Quiz not found", ErrQuizNotFound)
	}
	return quiz, nil
}

// QuizVariables lists the placeholders a template for this quiz may use: answer fields first, then contact aliases
func (s *AudienceFlowImpl) QuizVariables(ctx context.Context, ownerID, quizID uint) (*dto.QuizVariablesResponse, error) {
	quiz, err := s.ownedQuiz(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if vars, ok := s.cache.Get(ctx, quiz.ID); ok {
			return &dto.QuizVariablesResponse{QuizID: quiz.ID, Variables: vars}, nil
		}
	}

	vars := make([]dto.VariableDTO, 0, len(quiz.Fields)+3)
	for _, field := range quiz.Fields {
		vars = append(vars, dto.VariableDTO{Name: field, Placeholder: placeholder(field), Source: "answer"})
	}
	for _, alias := range TemplateAliases() {
		if quiz.HasField(alias) {
			continue
		}
		vars = append(vars, dto.VariableDTO{Name: alias, Placeholder: placeholder(alias), Source: "contact"})
	}

	if s.cache != nil {
		s.cache.Set(ctx, quiz.ID, vars)
	}
	return &dto.QuizVariablesResponse{QuizID: quiz.ID, Variables: vars}, nil
}

func placeholder(name string) string {
	return "{{" + name + "}}"
}

// QuizVariablesUltra returns the distinct recorded answers per field, for building response filters
func (s *AudienceFlowImpl) QuizVariablesUltra(ctx context.Context, ownerID, quizID uint) (*dto.QuizVariableValuesResponse, error) {
	quiz, err := s.ownedQuiz(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}

	values, err := s.leadRepo.FieldValues(ctx, quiz.ID, variableValuesPerField)
	if err != nil {
		return nil, NewBusinessError("FIELD_VALUES_FAILED", "Failed to list answer values", err)
	}
	if values == nil {
		values = map[string][]string{}
	}
	return &dto.QuizVariableValuesResponse{QuizID: quiz.ID, Fields: values}, nil
}

// QuizPhones lists the quiz's leads that carry a phone number
func (s *AudienceFlowImpl) QuizPhones(ctx context.Context, ownerID, quizID uint, page, pageSize int) (*dto.QuizPhonesResponse, error) {
	quiz, err := s.ownedQuiz(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}
	page, pageSize, err = normalizePage(page, pageSize)
	if err != nil {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", err)
	}

	leads, err := s.leadRepo.Roster(ctx, quiz.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("ROSTER_FAILED", "Failed to list quiz leads", err)
	}

	items := make([]dto.QuizPhoneDTO, 0, len(leads))
	for _, l := range leads {
		if !utils.NonEmpty(l.Phone) {
			continue
		}
		items = append(items, dto.QuizPhoneDTO{
			LeadID:      l.ID,
			Name:        l.Name,
			Phone:       *l.Phone,
			Status:      string(l.Status),
			SubmittedAt: l.SubmittedAt.UTC().Format(time.RFC3339),
		})
	}
	return &dto.QuizPhonesResponse{QuizID: quiz.ID, Items: items}, nil
}

// PreviewAudience evaluates a segment exactly as campaign creation would and renders sample messages
func (s *AudienceFlowImpl) PreviewAudience(ctx context.Context, req *dto.PreviewAudienceRequest) (*dto.PreviewAudienceResponse, error) {
	channel := models.Channel(req.Channel)
	if channel == "" {
		channel = models.ChannelSMS
	}
	if !channel.Valid() {
		return nil, NewBusinessError("INVALID_CHANNEL", "Invalid channel", ErrInvalidChannel)
	}

	if req.QuizID != nil {
		if _, err := s.ownedQuiz(ctx, req.OwnerID, *req.QuizID); err != nil {
			return nil, err
		}
	}

	audience := models.TargetAudience(req.TargetAudience)
	if audience == "" {
		audience = models.TargetAudienceAll
	}
	if !audience.Valid() {
		return nil, NewBusinessError("INVALID_TARGET_AUDIENCE", "Invalid target audience", ErrInvalidTargetAudience)
	}
	dateFloor, err := utils.ParseRFC3339Ptr(req.DateFilter)
	if err != nil {
		return nil, NewBusinessError("INVALID_DATE_FILTER", "Invalid date filter", ErrInvalidDateFilter)
	}

	seg := models.Segment{Audience: audience, DateFloor: dateFloor}
	if req.ResponseFilter != nil && strings.TrimSpace(req.ResponseFilter.Field) != "" {
		seg.ResponseFilter = &models.ResponseFilter{Field: req.ResponseFilter.Field, Value: req.ResponseFilter.Value}
	}

	now := s.opts.Now()
	matched, err := LoadSegment(ctx, s.leadRepo, models.LeadQuery{
		OwnerID:       req.OwnerID,
		QuizID:        req.QuizID,
		CreatedBefore: &now,
	}, seg)
	if err != nil {
		return nil, NewBusinessError("SEGMENT_EVALUATION_FAILED", "Failed to evaluate segment", err)
	}

	report := inspectRendering(channel, req.MessageTemplate, matched, s.opts.SMSMaxLength)

	sampleSize := req.SampleSize
	if sampleSize <= 0 {
		sampleSize = utils.DefaultPreviewSampleSize
	}
	samples := make([]dto.PreviewSampleDTO, 0, min(sampleSize, len(matched)))
	for _, lead := range matched {
		if len(samples) == sampleSize {
			break
		}
		r := Render(req.MessageTemplate, lead)
		sample := dto.PreviewSampleDTO{
			LeadID:     lead.ID,
			Recipient:  lead.Recipient(channel),
			Message:    r.Text,
			Length:     r.Length(),
			Unresolved: r.Unresolved,
		}
		if channel == models.ChannelEmail && req.SubjectTemplate != nil {
			subject := RenderTemplate(*req.SubjectTemplate, lead)
			sample.Subject = &subject
		}
		samples = append(samples, sample)
	}

	return &dto.PreviewAudienceResponse{
		Count:           report.Count,
		TemplateLength:  report.TemplateLength,
		MaxLength:       report.MaxLength,
		OverflowCount:   report.Overflow,
		MissingContacts: report.MissingContacts,
		Samples:         samples,
		Warnings:        report.warnings(),
	}, nil
}
