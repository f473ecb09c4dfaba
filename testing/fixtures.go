package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/repository"
	"github.com/amirphl/funnel-campaigns/utils"
)

// Seeder inserts test data through repositories, so the same fixtures work on PostgreSQL and in memory
type Seeder struct {
	Quizzes   repository.QuizRepository
	Leads     repository.LeadRepository
	Campaigns repository.CampaignRepository
	Credits   repository.CreditBalanceRepository
}

// NewMemorySeeder seeds a MemoryStore
func NewMemorySeeder(s *MemoryStore) *Seeder {
	return &Seeder{
		Quizzes:   s.Quizzes(),
		Leads:     s.Leads(),
		Campaigns: s.Campaigns(),
		Credits:   s.Credits(),
	}
}

// TestFixtures provides helper methods for creating test data in a test database
type TestFixtures struct {
	*Seeder
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{
		DB: db,
		Seeder: &Seeder{
			Quizzes:   repository.NewQuizRepository(db.DB),
			Leads:     repository.NewLeadRepository(db.DB),
			Campaigns: repository.NewCampaignRepository(db.DB),
			Credits:   repository.NewCreditBalanceRepository(db.DB),
		},
	}
}

// LeadSpec describes one lead to insert. Empty contact fields stay NULL.
type LeadSpec struct {
	Name        string
	Phone       string
	Email       string
	Status      models.LeadStatus
	Answers     map[string]string
	SubmittedAt time.Time
}

// AddQuiz creates a quiz owned by ownerID with the given answer fields
func (sd *Seeder) AddQuiz(ownerID uint, fields ...string) (*models.Quiz, error) {
	quiz := &models.Quiz{
		OwnerID:  ownerID,
		Title:    fmt.Sprintf("Quiz of owner %d", ownerID),
		Fields:   fields,
		IsActive: utils.ToPtr(true),
	}
	if err := sd.Quizzes.Save(context.Background(), quiz); err != nil {
		return nil, fmt.Errorf("failed to create quiz: %w", err)
	}
	return quiz, nil
}

// AddLeads inserts one lead per spec in order
func (sd *Seeder) AddLeads(quizID uint, specs ...LeadSpec) ([]*models.Lead, error) {
	out := make([]*models.Lead, 0, len(specs))
	for _, spec := range specs {
		lead := BuildLead(quizID, spec)
		if err := sd.Leads.Save(context.Background(), lead); err != nil {
			return nil, fmt.Errorf("failed to create lead: %w", err)
		}
		out = append(out, lead)
	}
	return out, nil
}

// AddPhoneLeads inserts n completed leads with distinct valid phone numbers
func (sd *Seeder) AddPhoneLeads(quizID uint, n int) ([]*models.Lead, error) {
	specs := make([]LeadSpec, n)
	for i := range specs {
		specs[i] = LeadSpec{
			Name:   fmt.Sprintf("Lead %d", i+1),
			Phone:  fmt.Sprintf("55119%08d", i+1),
			Status: models.LeadStatusCompleted,
		}
	}
	return sd.AddLeads(quizID, specs...)
}

// Grant adds credits to the owner's pool
func (sd *Seeder) Grant(ownerID uint, amount int64) (*models.CreditBalance, error) {
	return sd.Credits.AddCredits(context.Background(), ownerID, amount)
}

// AddCampaign stores c as given
func (sd *Seeder) AddCampaign(c *models.Campaign) (*models.Campaign, error) {
	if err := sd.Campaigns.Save(context.Background(), c); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	return c, nil
}

// BuildLead turns a spec into an unsaved lead
func BuildLead(quizID uint, spec LeadSpec) *models.Lead {
	status := spec.Status
	if status == "" {
		status = models.LeadStatusCompleted
	}
	lead := &models.Lead{
		QuizID:      quizID,
		Status:      status,
		Answers:     models.LeadAnswers{},
		SubmittedAt: spec.SubmittedAt,
	}
	for k, v := range spec.Answers {
		lead.Answers[k] = v
	}
	if spec.Name != "" {
		lead.Name = utils.ToPtr(spec.Name)
	}
	if spec.Phone != "" {
		lead.Phone = utils.ToPtr(spec.Phone)
	}
	if spec.Email != "" {
		lead.Email = utils.ToPtr(spec.Email)
	}
	if !spec.SubmittedAt.IsZero() {
		lead.CreatedAt = spec.SubmittedAt
	}
	return lead
}

// ActiveCampaign returns an unsaved active one-shot campaign that sends now over the whole quiz
func ActiveCampaign(ownerID, quizID uint, channel models.Channel, template string) *models.Campaign {
	c := &models.Campaign{
		OwnerID:         ownerID,
		QuizID:          utils.ToPtr(quizID),
		Channel:         channel,
		Type:            models.CampaignTypeRemarketing,
		Mode:            models.CampaignModeOneShot,
		Name:            "Test campaign",
		MessageTemplate: template,
		TargetAudience:  models.TargetAudienceAll,
		ScheduleType:    models.ScheduleTypeNow,
		Status:          models.CampaignStatusActive,
	}
	if channel == models.ChannelEmail {
		c.SubjectTemplate = utils.ToPtr("Hello {{nome}}")
	}
	return c
}
