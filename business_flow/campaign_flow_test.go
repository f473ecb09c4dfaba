package businessflow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/amirphl/funnel-campaigns/app/dto"
	"github.com/amirphl/funnel-campaigns/models"
	testingutil "github.com/amirphl/funnel-campaigns/testing"
	"github.com/amirphl/funnel-campaigns/utils"
)

const owner uint = 11

var fixedNow = time.Date(2026, 4, 6, 9, 30, 0, 0, time.UTC)

type flowEnv struct {
	store *testingutil.MemoryStore
	seed  *testingutil.Seeder
	flow  CampaignFlow
	gate  *recordingGate
	quiz  *models.Quiz
}

// recordingGate runs persist inline and remembers what was halted or reopened
type recordingGate struct {
	quiesced []uint
	reopened []uint
}

func (g *recordingGate) Quiesce(ctx context.Context, id uint, persist func(context.Context) error) error {
	if err := persist(ctx); err != nil {
		return err
	}
	g.quiesced = append(g.quiesced, id)
	return nil
}

func (g *recordingGate) Reopen(_ context.Context, id uint) {
	g.reopened = append(g.reopened, id)
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()
	store := testingutil.NewMemoryStore()
	store.Now = func() time.Time { return fixedNow }
	seed := testingutil.NewMemorySeeder(store)
	gate := &recordingGate{}

	quiz, err := seed.AddQuiz(owner, "city")
	require.NoError(t, err)

	flow := NewCampaignFlow(store.Campaigns(), store.Quizzes(), store.Leads(), store.DispatchLogs(),
		store.Credits(), store.Audit(), store.Transactor(), gate,
		CampaignOptions{Now: func() time.Time { return fixedNow }})

	return &flowEnv{store: store, seed: seed, flow: flow, gate: gate, quiz: quiz}
}

func (e *flowEnv) smsRequest() *dto.CreateCampaignRequest {
	return &dto.CreateCampaignRequest{
		OwnerID:         owner,
		Channel:         string(models.ChannelSMS),
		QuizID:          utils.ToPtr(e.quiz.ID),
		Type:            string(models.CampaignTypeRemarketing),
		Name:            "Spring promo",
		MessageTemplate: "Oi {{nome}}",
	}
}

func TestCreateCampaign_Validation(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.seed.AddPhoneLeads(env.quiz.ID, 2)
	require.NoError(t, err)
	_, err = env.seed.Grant(owner, 10)
	require.NoError(t, err)

	past := fixedNow.Add(-time.Hour).Format(time.RFC3339)
	otherQuiz, err := env.seed.AddQuiz(owner + 1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(r *dto.CreateCampaignRequest)
		want   error
	}{
		{"bad channel", func(r *dto.CreateCampaignRequest) { r.Channel = "fax" }, ErrInvalidChannel},
		{"bad type", func(r *dto.CreateCampaignRequest) { r.Type = "blast" }, ErrInvalidCampaignType},
		{"blank name", func(r *dto.CreateCampaignRequest) { r.Name = "  " }, ErrCampaignNameRequired},
		{"blank message", func(r *dto.CreateCampaignRequest) { r.MessageTemplate = "" }, ErrCampaignMessageRequired},
		{"email without subject", func(r *dto.CreateCampaignRequest) { r.Channel = string(models.ChannelEmail) }, ErrSubjectRequired},
		{"sms too long", func(r *dto.CreateCampaignRequest) { r.MessageTemplate = strings.Repeat("a", 161) }, ErrTemplateTooLong},
		{"quiz required", func(r *dto.CreateCampaignRequest) { r.QuizID = nil }, ErrQuizRequired},
		{"foreign quiz", func(r *dto.CreateCampaignRequest) { r.QuizID = utils.ToPtr(otherQuiz.ID) }, ErrQuizNotFound},
		{"bad audience", func(r *dto.CreateCampaignRequest) { r.TargetAudience = "vip" }, ErrInvalidTargetAudience},
		{"bad date filter", func(r *dto.CreateCampaignRequest) { r.DateFilter = utils.ToPtr("yesterday") }, ErrInvalidDateFilter},
		{"quantum without filter", func(r *dto.CreateCampaignRequest) { r.Type = string(models.CampaignTypeQuantumRemarketing) }, ErrResponseFilterRequired},
		{"bad schedule type", func(r *dto.CreateCampaignRequest) { r.ScheduleType = "later" }, ErrInvalidScheduleType},
		{"scheduled without time", func(r *dto.CreateCampaignRequest) { r.ScheduleType = "scheduled" }, ErrScheduleTimeRequired},
		{"scheduled in past", func(r *dto.CreateCampaignRequest) {
			r.ScheduleType = "scheduled"
			r.ScheduledAt = &past
		}, ErrScheduleInPast},
		{"delayed without delay", func(r *dto.CreateCampaignRequest) { r.ScheduleType = "delayed" }, ErrInvalidDelay},
		{"delayed bad unit", func(r *dto.CreateCampaignRequest) {
			r.ScheduleType = "delayed"
			r.Delay = &dto.DelayDTO{Value: 3, Unit: "weeks"}
		}, ErrInvalidDelay},
		{"delay beyond duration range", func(r *dto.CreateCampaignRequest) {
			r.ScheduleType = "delayed"
			r.Delay = &dto.DelayDTO{Value: 150000, Unit: "days"}
		}, ErrInvalidDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := env.smsRequest()
			tt.mutate(req)
			_, err := env.flow.CreateCampaign(context.Background(), req, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, "CAMPAIGN_VALIDATION_FAILED", ErrorCode(err))
			assert.True(t, IsValidationError(err) || IsQuizNotFound(err))
		})
	}

	count, err := env.store.Campaigns().Count(context.Background(), models.CampaignFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Contains(t, env.store.AuditActions(), models.AuditActionCampaignCreationFailed)
}

func TestCreateCampaign_OneShotSMS(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.seed.AddPhoneLeads(env.quiz.ID, 3)
	require.NoError(t, err)
	_, err = env.seed.AddLeads(env.quiz.ID, testingutil.LeadSpec{Name: "Sem fone", Status: models.LeadStatusAbandoned})
	require.NoError(t, err)
	_, err = env.seed.Grant(owner, 5)
	require.NoError(t, err)

	resp, err := env.flow.CreateCampaign(context.Background(), env.smsRequest(), nil)
	require.NoError(t, err)

	c := resp.Campaign
	assert.Equal(t, string(models.CampaignStatusActive), c.Status)
	assert.Equal(t, string(models.CampaignModeOneShot), c.Mode)
	assert.Equal(t, string(models.TargetAudienceAll), c.TargetAudience)
	assert.Equal(t, string(models.ScheduleTypeNow), c.ScheduleType)
	assert.Equal(t, int64(4), c.SegmentSize)
	require.NotNil(t, c.ActivatedAt)

	stored := env.store.Campaign(c.ID)
	require.NotNil(t, stored.SegmentCutoffAt)
	assert.True(t, stored.SegmentCutoffAt.Equal(fixedNow))

	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "1 leads have no contact")
	assert.Contains(t, env.store.AuditActions(), models.AuditActionCampaignCreated)
}

func TestCreateCampaign_SegmentFilters(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.seed.AddLeads(env.quiz.ID,
		testingutil.LeadSpec{Name: "A", Phone: "5511911110001", Answers: map[string]string{"city": "Recife"}},
		testingutil.LeadSpec{Name: "B", Phone: "5511911110002", Answers: map[string]string{"city": "Natal"}},
		testingutil.LeadSpec{Name: "C", Phone: "5511911110003", Answers: map[string]string{"city": "Recife"}, Status: models.LeadStatusAbandoned},
	)
	require.NoError(t, err)
	_, err = env.seed.Grant(owner, 5)
	require.NoError(t, err)

	req := env.smsRequest()
	req.Type = string(models.CampaignTypeQuantumRemarketing)
	req.TargetAudience = string(models.TargetAudienceCompleted)
	req.ResponseFilter = &dto.ResponseFilterDTO{Field: "city", Value: "Recife"}

	resp, err := env.flow.CreateCampaign(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Campaign.SegmentSize)
	require.NotNil(t, resp.Campaign.ResponseFilter)
	assert.Equal(t, "Recife", resp.Campaign.ResponseFilter.Value)
}

func TestCreateCampaign_RequiresCreditsForSMSOnly(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.seed.AddLeads(env.quiz.ID, testingutil.LeadSpec{Name: "Ana", Phone: "5511911110001", Email: "ana@example.com"})
	require.NoError(t, err)

	_, err = env.flow.CreateCampaign(context.Background(), env.smsRequest(), nil)
	require.Error(t, err)
	assert.True(t, IsInsufficientCredits(err))
	assert.Equal(t, "INSUFFICIENT_CREDITS", ErrorCode(err))

	req := env.smsRequest()
	req.Channel = string(models.ChannelEmail)
	req.SubjectTemplate = utils.ToPtr("Oi {{nome}}")
	resp, err := env.flow.CreateCampaign(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, string(models.ChannelEmail), resp.Campaign.Channel)
	assert.Empty(t, resp.Warnings)
}

func TestCreateCampaign_EmptySegment(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.seed.Grant(owner, 5)
	require.NoError(t, err)

	_, err = env.flow.CreateCampaign(context.Background(), env.smsRequest(), nil)
	assert.True(t, IsEmptySegment(err))
	assert.Equal(t, "EMPTY_SEGMENT", ErrorCode(err))

	// mass campaigns may start empty and need no quiz
	req := env.smsRequest()
	req.Type = string(models.CampaignTypeMass)
	req.QuizID = nil
	resp, err := env.flow.CreateCampaign(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Zero(t, resp.Campaign.SegmentSize)
}

func TestCreateCampaign_Schedules(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.seed.AddPhoneLeads(env.quiz.ID, 1)
	require.NoError(t, err)
	_, err = env.seed.Grant(owner, 5)
	require.NoError(t, err)

	at := fixedNow.Add(2 * time.Hour).Format(time.RFC3339)
	req := env.smsRequest()
	req.ScheduleType = string(models.ScheduleTypeScheduled)
	req.ScheduledAt = &at
	resp, err := env.flow.CreateCampaign(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, string(models.CampaignStatusDraft), resp.Campaign.Status)
	assert.Equal(t, &at, resp.Campaign.ScheduledAt)
	assert.Nil(t, resp.Campaign.ActivatedAt)

	req = env.smsRequest()
	req.Type = string(models.CampaignTypeLive)
	req.ScheduleType = string(models.ScheduleTypeDelayed)
	req.Delay = &dto.DelayDTO{Value: 2, Unit: "hours"}
	resp, err = env.flow.CreateCampaign(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, string(models.CampaignStatusActive), resp.Campaign.Status)
	assert.Equal(t, string(models.CampaignModeLive), resp.Campaign.Mode)
	assert.Equal(t, int64(7200), resp.Campaign.DelaySeconds)
	require.NotNil(t, resp.Campaign.Delay)
	assert.Equal(t, "hours", resp.Campaign.Delay.Unit)
	assert.Nil(t, env.store.Campaign(resp.Campaign.ID).SegmentCutoffAt, "live campaigns keep picking up leads")
}

func (e *flowEnv) activeCampaign(t *testing.T, channel models.Channel) *models.Campaign {
	t.Helper()
	c, err := e.seed.AddCampaign(testingutil.ActiveCampaign(owner, e.quiz.ID, channel, "Oi {{nome}}"))
	require.NoError(t, err)
	return c
}

func TestPauseResumeDelete(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()
	_, err := env.seed.Grant(owner, 5)
	require.NoError(t, err)
	c := env.activeCampaign(t, models.ChannelSMS)

	resp, err := env.flow.PauseCampaign(ctx, owner, c.ID, models.ChannelSMS, nil)
	require.NoError(t, err)
	assert.Equal(t, string(models.CampaignStatusPaused), resp.Status)
	assert.Equal(t, utils.ToPtr(string(models.PauseReasonManual)), resp.PauseReason)
	assert.Equal(t, []uint{c.ID}, env.gate.quiesced)

	// pausing twice is a no-op
	resp, err = env.flow.PauseCampaign(ctx, owner, c.ID, models.ChannelSMS, nil)
	require.NoError(t, err)
	assert.Equal(t, "Campaign is already paused", resp.Message)
	assert.Len(t, env.gate.quiesced, 1)

	resp, err = env.flow.ResumeCampaign(ctx, owner, c.ID, models.ChannelSMS, nil)
	require.NoError(t, err)
	assert.Equal(t, string(models.CampaignStatusActive), resp.Status)
	assert.Nil(t, resp.PauseReason)
	assert.Equal(t, []uint{c.ID}, env.gate.reopened)
	assert.Nil(t, env.store.Campaign(c.ID).PauseReason)

	_, err = env.flow.DeleteCampaign(ctx, owner, c.ID, models.ChannelSMS, nil)
	require.NoError(t, err)
	assert.True(t, env.store.IsDeleted(c.ID))

	_, err = env.flow.GetCampaign(ctx, owner, c.ID, models.ChannelSMS)
	assert.True(t, IsCampaignNotFound(err))

	assert.Subset(t, env.store.AuditActions(), []string{
		models.AuditActionCampaignPaused,
		models.AuditActionCampaignResumed,
		models.AuditActionCampaignDeleted,
	})
}

func TestLifecycle_AccessAndTransitions(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()
	c := env.activeCampaign(t, models.ChannelSMS)

	_, err := env.flow.PauseCampaign(ctx, owner+1, c.ID, models.ChannelSMS, nil)
	assert.True(t, IsCampaignAccessDenied(err))
	_, err = env.flow.DeleteCampaign(ctx, owner+1, c.ID, models.ChannelSMS, nil)
	assert.True(t, IsCampaignAccessDenied(err))
	_, err = env.flow.PauseCampaign(ctx, owner, 999, models.ChannelSMS, nil)
	assert.True(t, IsCampaignNotFound(err))

	// resuming an sms campaign needs credits
	_, err = env.flow.PauseCampaign(ctx, owner, c.ID, models.ChannelSMS, nil)
	require.NoError(t, err)
	_, err = env.flow.ResumeCampaign(ctx, owner, c.ID, models.ChannelSMS, nil)
	assert.True(t, IsInsufficientCredits(err))
	assert.Equal(t, models.CampaignStatusPaused, env.store.Campaign(c.ID).Status)

	done := testingutil.ActiveCampaign(owner, env.quiz.ID, models.ChannelSMS, "x")
	done.Status = models.CampaignStatusCompleted
	_, err = env.seed.AddCampaign(done)
	require.NoError(t, err)
	_, err = env.flow.PauseCampaign(ctx, owner, done.ID, models.ChannelSMS, nil)
	assert.True(t, IsInvalidStatusTransition(err))
	_, err = env.flow.ResumeCampaign(ctx, owner, done.ID, models.ChannelSMS, nil)
	assert.True(t, IsInvalidStatusTransition(err))
}

func TestLifecycle_ChannelMismatchIsNotFound(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()
	email := env.activeCampaign(t, models.ChannelEmail)

	_, err := env.flow.PauseCampaign(ctx, owner, email.ID, models.ChannelSMS, nil)
	assert.True(t, IsCampaignNotFound(err))
	_, err = env.flow.GetAnalytics(ctx, owner, email.ID, models.ChannelSMS)
	assert.True(t, IsCampaignNotFound(err))
	_, err = env.flow.ListLogs(ctx, &dto.ListDispatchLogsRequest{OwnerID: owner, CampaignID: email.ID, Channel: "sms"})
	assert.True(t, IsCampaignNotFound(err))
	assert.Equal(t, models.CampaignStatusActive, env.store.Campaign(email.ID).Status)

	// an empty channel matches either
	got, err := env.flow.GetCampaign(ctx, owner, email.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "email", got.Channel)
}

func TestPauseCampaign_PersistFailure(t *testing.T) {
	env := newFlowEnv(t)
	c := env.activeCampaign(t, models.ChannelSMS)
	env.store.FailOn("TransitionStatus", errors.New("db down"))

	_, err := env.flow.PauseCampaign(context.Background(), owner, c.ID, models.ChannelSMS, nil)
	require.Error(t, err)
	assert.Equal(t, "CAMPAIGN_PAUSE_FAILED", ErrorCode(err))
	assert.Empty(t, env.gate.quiesced)
}

func TestListCampaigns(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env.activeCampaign(t, models.ChannelSMS)
	}
	env.activeCampaign(t, models.ChannelEmail)

	resp, err := env.flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{OwnerID: owner, Channel: "sms", PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 2)
	assert.Equal(t, int64(3), resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.TotalPages)
	assert.Greater(t, resp.Items[0].ID, resp.Items[1].ID, "newest first")

	resp, err = env.flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{OwnerID: owner})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 4)

	_, err = env.flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{OwnerID: owner, Channel: "fax"})
	assert.ErrorIs(t, err, ErrInvalidChannel)
	_, err = env.flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{OwnerID: owner, PageSize: 500})
	assert.ErrorIs(t, err, ErrInvalidPageSize)
}

// seedLog writes one dispatch entry in the given final status
func (e *flowEnv) seedLog(t *testing.T, c *models.Campaign, leadID uint, status models.DispatchStatus, providerID string) *models.DispatchLogEntry {
	t.Helper()
	ctx := context.Background()
	logs := e.store.DispatchLogs()
	entry := &models.DispatchLogEntry{
		CampaignID:      c.ID,
		LeadID:          leadID,
		Channel:         c.Channel,
		Recipient:       "5511900000000",
		RenderedMessage: "Oi",
	}
	ok, err := logs.Claim(ctx, entry, fixedNow)
	require.NoError(t, err)
	require.True(t, ok)

	switch status {
	case models.DispatchStatusSent, models.DispatchStatusDelivered:
		require.NoError(t, logs.MarkSent(ctx, entry.ID, fixedNow, utils.ToPtr(providerID)))
		if status == models.DispatchStatusDelivered {
			require.NoError(t, logs.MarkDelivered(ctx, entry.ID, fixedNow))
		}
	case models.DispatchStatusFailed:
		require.NoError(t, logs.MarkFailed(ctx, entry.ID, "boom"))
	}
	return entry
}

func TestGetAnalytics(t *testing.T) {
	env := newFlowEnv(t)
	c := env.activeCampaign(t, models.ChannelSMS)
	env.seedLog(t, c, 1, models.DispatchStatusSent, "p1")
	env.seedLog(t, c, 2, models.DispatchStatusDelivered, "p2")
	env.seedLog(t, c, 3, models.DispatchStatusDelivered, "p3")
	env.seedLog(t, c, 4, models.DispatchStatusFailed, "")
	env.seedLog(t, c, 5, models.DispatchStatusPending, "")

	resp, err := env.flow.GetAnalytics(context.Background(), owner, c.ID, models.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, int64(5), resp.Total)
	assert.Equal(t, int64(1), resp.Pending)
	assert.Equal(t, int64(1), resp.Sent)
	assert.Equal(t, int64(2), resp.Delivered)
	assert.Equal(t, int64(1), resp.Failed)
	assert.Equal(t, int64(3), resp.CreditsUsed)
	assert.InDelta(t, 2.0/3.0, resp.DeliveryRate, 1e-9)
	assert.InDelta(t, 0.25, resp.FailureRate, 1e-9)
	require.NotNil(t, resp.LastSentAt)
	assert.Equal(t, fixedNow.Format(time.RFC3339), *resp.LastSentAt)

	email := env.activeCampaign(t, models.ChannelEmail)
	env.seedLog(t, email, 1, models.DispatchStatusSent, "e1")
	resp, err = env.flow.GetAnalytics(context.Background(), owner, email.ID, models.ChannelEmail)
	require.NoError(t, err)
	assert.Zero(t, resp.CreditsUsed)
}

func TestListLogs(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()
	c := env.activeCampaign(t, models.ChannelSMS)
	env.seedLog(t, c, 1, models.DispatchStatusSent, "p1")
	env.seedLog(t, c, 2, models.DispatchStatusFailed, "")
	env.seedLog(t, c, 3, models.DispatchStatusSent, "p3")

	resp, err := env.flow.ListLogs(ctx, &dto.ListDispatchLogsRequest{OwnerID: owner, CampaignID: c.ID})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 3)

	resp, err = env.flow.ListLogs(ctx, &dto.ListDispatchLogsRequest{OwnerID: owner, CampaignID: c.ID, Status: utils.ToPtr("failed")})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, uint(2), resp.Items[0].LeadID)
	assert.Equal(t, utils.ToPtr("boom"), resp.Items[0].ErrorMessage)

	_, err = env.flow.ListLogs(ctx, &dto.ListDispatchLogsRequest{OwnerID: owner, CampaignID: c.ID, Status: utils.ToPtr("bounced")})
	assert.ErrorIs(t, err, ErrInvalidDispatchStatus)

	_, err = env.flow.ListLogs(ctx, &dto.ListDispatchLogsRequest{OwnerID: owner + 1, CampaignID: c.ID})
	assert.True(t, IsCampaignAccessDenied(err))
}

func TestRecordDeliveryReport(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()
	c := env.activeCampaign(t, models.ChannelSMS)
	delivered := env.seedLog(t, c, 1, models.DispatchStatusSent, "p1")
	bounced := env.seedLog(t, c, 2, models.DispatchStatusSent, "p2")

	reported := fixedNow.Add(time.Minute).Format(time.RFC3339)
	require.NoError(t, env.flow.RecordDeliveryReport(ctx, &dto.DeliveryReportRequest{
		ProviderMessageID: "p1", Status: "delivered", ReportedAt: &reported,
	}))
	require.NoError(t, env.flow.RecordDeliveryReport(ctx, &dto.DeliveryReportRequest{
		ProviderMessageID: "p2", Status: "failed", ErrorMessage: utils.ToPtr("handset off"),
	}))

	got, err := env.store.DispatchLogs().ByID(ctx, delivered.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, reported, got.DeliveredAt.Format(time.RFC3339))

	got, err = env.store.DispatchLogs().ByID(ctx, bounced.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusFailed, got.Status)
	assert.Equal(t, "handset off", utils.Deref(got.ErrorMessage))

	// the bounced message was still charged when the provider accepted it
	analytics, err := env.flow.GetAnalytics(ctx, owner, c.ID, models.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, int64(1), analytics.Failed)
	assert.Equal(t, int64(2), analytics.CreditsUsed)

	err = env.flow.RecordDeliveryReport(ctx, &dto.DeliveryReportRequest{ProviderMessageID: "nope", Status: "delivered"})
	assert.True(t, IsDispatchLogNotFound(err))
	err = env.flow.RecordDeliveryReport(ctx, &dto.DeliveryReportRequest{ProviderMessageID: "p1", Status: "opened"})
	assert.ErrorIs(t, err, ErrInvalidDispatchStatus)
}

func TestExportLogs(t *testing.T) {
	env := newFlowEnv(t)
	c := env.activeCampaign(t, models.ChannelSMS)
	env.seedLog(t, c, 1, models.DispatchStatusSent, "p1")
	env.seedLog(t, c, 2, models.DispatchStatusFailed, "")

	name, data, err := env.flow.ExportLogs(context.Background(), owner, c.ID, models.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, "campaign_1_dispatch_log.xlsx", name)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer xl.Close()

	rows, err := xl.GetRows("DispatchLog")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Lead ID", rows[0][0])
	assert.Equal(t, []string{"1", "5511900000000", "sent", "Oi"}, rows[1][:4])
	assert.Equal(t, "failed", rows[2][2])
	assert.Equal(t, "boom", rows[2][len(rows[2])-1])

	_, _, err = env.flow.ExportLogs(context.Background(), owner+1, c.ID, models.ChannelSMS)
	assert.True(t, IsCampaignAccessDenied(err))
}

func TestWriteExportRow_OutOfRange(t *testing.T) {
	xl := excelize.NewFile()
	defer xl.Close()

	for _, row := range []int{0, excelize.TotalRows + 1} {
		err := writeExportRow(xl, "Sheet1", row, []any{"x"})
		require.Error(t, err)
		assert.Equal(t, "EXCEL_WRITE_ERROR", ErrorCode(err))
	}
	require.NoError(t, writeExportRow(xl, "Sheet1", 2, []any{"x"}))
}
