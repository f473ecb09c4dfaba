package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/funnel-campaigns/app/dto"
	"github.com/amirphl/funnel-campaigns/app/services"
	businessflow "github.com/amirphl/funnel-campaigns/business_flow"
	"github.com/amirphl/funnel-campaigns/models"
	testingutil "github.com/amirphl/funnel-campaigns/testing"
	"github.com/amirphl/funnel-campaigns/utils"
)

const ownerID uint = 7

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// hookTransport calls onCall before every delivery with the 1-based call number
type hookTransport struct {
	inner  services.NotificationService
	mu     sync.Mutex
	calls  int
	onCall func(n int)
}

func (h *hookTransport) Deliver(ctx context.Context, d services.Delivery) (string, error) {
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.mu.Unlock()
	if h.onCall != nil {
		h.onCall(n)
	}
	return h.inner.Deliver(ctx, d)
}

type harness struct {
	t         *testing.T
	clock     *testClock
	store     *testingutil.MemoryStore
	seed      *testingutil.Seeder
	sms       *services.MockSMSService
	email     *services.MockEmailProvider
	transport *hookTransport
	gates     *GateRegistry
	sched     *DispatchScheduler
	campaigns businessflow.CampaignFlow
	credits   businessflow.CreditFlow
}

func newHarness(t *testing.T, workers int) *harness {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := testingutil.NewMemoryStore()
	store.Now = clock.Now

	sms := services.NewMockSMSService()
	email := services.NewMockEmailProvider()
	transport := &hookTransport{inner: services.NewNotificationService(sms, email)}

	logger := log.New(io.Discard, "", 0)
	gates := NewGateRegistry(nil, logger)

	sched := NewDispatchScheduler(
		store.Campaigns(), store.Leads(), store.DispatchLogs(), store.Credits(), store.Audit(),
		transport, gates, NewLocalCampaignLocker(), logger,
		Options{Interval: time.Hour, Workers: workers, Now: clock.Now},
	)

	opts := businessflow.CampaignOptions{Now: clock.Now}
	return &harness{
		t:         t,
		clock:     clock,
		store:     store,
		seed:      testingutil.NewMemorySeeder(store),
		sms:       sms,
		email:     email,
		transport: transport,
		gates:     gates,
		sched:     sched,
		campaigns: businessflow.NewCampaignFlow(store.Campaigns(), store.Quizzes(), store.Leads(), store.DispatchLogs(),
			store.Credits(), store.Audit(), store.Transactor(), gates, opts),
		credits: businessflow.NewCreditFlow(store.Credits(), store.Purchases(), store.Campaigns(), store.Audit(),
			store.Transactor(), gates),
	}
}

// smsCampaign seeds a quiz with n phone leads and an active SMS campaign over it
func (h *harness) smsCampaign(n int, credits int64) (*models.Campaign, []*models.Lead) {
	h.t.Helper()
	quiz, err := h.seed.AddQuiz(ownerID, "city")
	require.NoError(h.t, err)
	leads, err := h.seed.AddPhoneLeads(quiz.ID, n)
	require.NoError(h.t, err)
	if credits > 0 {
		_, err = h.seed.Grant(ownerID, credits)
		require.NoError(h.t, err)
	}
	c, err := h.seed.AddCampaign(testingutil.ActiveCampaign(ownerID, quiz.ID, models.ChannelSMS, "Oi {{nome}}"))
	require.NoError(h.t, err)
	return c, leads
}

func (h *harness) run() {
	h.t.Helper()
	require.NoError(h.t, h.sched.RunOnce(context.Background()))
}

func TestDispatchScheduler_CompletesOneShotCampaign(t *testing.T) {
	h := newHarness(t, 1)
	c, leads := h.smsCampaign(10, 100)

	h.run()

	sent := h.sms.GetSentMessages()
	require.Len(t, sent, 10)
	assert.Equal(t, "Oi Lead 1", sent[0].Message)
	assert.Equal(t, *leads[0].Phone, sent[0].Recipient)

	assert.Equal(t, 10, h.store.CountByStatus(c.ID, models.DispatchStatusSent))
	for _, e := range h.store.Entries(c.ID) {
		assert.NotNil(t, e.SentAt)
		assert.NotNil(t, e.ProviderMessageID)
		assert.Nil(t, e.ClaimedAt)
	}

	balance := h.store.Balance(ownerID)
	assert.Equal(t, int64(10), balance.Used)
	assert.Equal(t, int64(0), balance.Reserved)

	stored := h.store.Campaign(c.ID)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Contains(t, h.store.AuditActions(), models.AuditActionCampaignCompleted)

	// A second pass finds nothing to do
	h.run()
	assert.Len(t, h.sms.GetSentMessages(), 10)
}

func TestDispatchScheduler_PausesWhenCreditsRunOut(t *testing.T) {
	h := newHarness(t, 1)
	c, _ := h.smsCampaign(5, 3)
	sentBefore := testutil.ToFloat64(dispatchMessagesTotal.WithLabelValues("sms", "sent"))
	exhaustedBefore := testutil.ToFloat64(dispatchCreditExhaustedTotal)

	h.run()

	assert.Len(t, h.sms.GetSentMessages(), 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(dispatchMessagesTotal.WithLabelValues("sms", "sent"))-sentBefore)
	assert.Equal(t, float64(1), testutil.ToFloat64(dispatchCreditExhaustedTotal)-exhaustedBefore)
	assert.Zero(t, testutil.ToFloat64(dispatchInFlight))
	assert.Equal(t, 3, h.store.CountByStatus(c.ID, models.DispatchStatusSent))
	assert.Equal(t, 2, h.store.CountByStatus(c.ID, models.DispatchStatusPending))

	balance := h.store.Balance(ownerID)
	assert.Equal(t, int64(3), balance.Used)
	assert.Equal(t, int64(0), balance.Reserved)

	stored := h.store.Campaign(c.ID)
	assert.Equal(t, models.CampaignStatusPaused, stored.Status)
	require.NotNil(t, stored.PauseReason)
	assert.Equal(t, models.PauseReasonInsufficientCredits, *stored.PauseReason)
	assert.True(t, h.gates.Halted(c.ID))
	assert.Contains(t, h.store.AuditActions(), models.AuditActionCampaignAutoPaused)

	resp, err := h.credits.PurchaseCredits(context.Background(), &dto.PurchaseCreditsRequest{OwnerID: ownerID, Amount: 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint{c.ID}, resp.ResumedCampaigns)
	assert.False(t, h.gates.Halted(c.ID))

	h.run()

	assert.Len(t, h.sms.GetSentMessages(), 5)
	assert.Equal(t, 5, h.store.CountByStatus(c.ID, models.DispatchStatusSent))
	assert.Equal(t, models.CampaignStatusCompleted, h.store.Campaign(c.ID).Status)
	assert.Equal(t, int64(5), h.store.Balance(ownerID).Used)
}

func TestDispatchScheduler_NoCreditsNeverSends(t *testing.T) {
	h := newHarness(t, 1)
	c, _ := h.smsCampaign(3, 0)

	h.run()

	assert.Empty(t, h.sms.GetSentMessages())
	assert.Equal(t, 3, h.store.CountByStatus(c.ID, models.DispatchStatusPending))
	assert.Equal(t, models.CampaignStatusPaused, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_ConcurrentWorkersNeverOverspend(t *testing.T) {
	h := newHarness(t, 4)
	c, _ := h.smsCampaign(20, 10)

	h.run()

	assert.Len(t, h.sms.GetSentMessages(), 10)
	assert.Equal(t, 10, h.store.CountByStatus(c.ID, models.DispatchStatusSent))
	balance := h.store.Balance(ownerID)
	assert.Equal(t, int64(10), balance.Used)
	assert.Equal(t, int64(0), balance.Reserved)
	assert.Equal(t, models.CampaignStatusPaused, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_PauseStopsFurtherSends(t *testing.T) {
	h := newHarness(t, 1)
	c, _ := h.smsCampaign(10, 100)

	pauseDone := make(chan error, 1)
	h.transport.onCall = func(n int) {
		if n != 7 {
			return
		}
		go func() {
			_, err := h.campaigns.PauseCampaign(context.Background(), ownerID, c.ID, models.ChannelSMS, nil)
			pauseDone <- err
		}()
		// The pause is now waiting for this send to finish
		for !h.gates.Halted(c.ID) {
			time.Sleep(time.Millisecond)
		}
	}

	h.run()

	select {
	case err := <-pauseDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pause did not return")
	}

	assert.Len(t, h.sms.GetSentMessages(), 7)
	assert.Len(t, h.store.Entries(c.ID), 7)
	assert.Equal(t, models.CampaignStatusPaused, h.store.Campaign(c.ID).Status)

	h.transport.onCall = nil
	h.run()
	assert.Len(t, h.sms.GetSentMessages(), 7, "paused campaign must not send")

	_, err := h.campaigns.ResumeCampaign(context.Background(), ownerID, c.ID, models.ChannelSMS, nil)
	require.NoError(t, err)
	h.run()

	sent := h.sms.GetSentMessages()
	require.Len(t, sent, 10)
	recipients := make(map[string]bool)
	for _, m := range sent {
		assert.False(t, recipients[m.Recipient], "lead %s messaged twice", m.Recipient)
		recipients[m.Recipient] = true
	}
	assert.Equal(t, models.CampaignStatusCompleted, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_DeleteHaltsCampaign(t *testing.T) {
	h := newHarness(t, 1)
	c, _ := h.smsCampaign(4, 100)

	_, err := h.campaigns.DeleteCampaign(context.Background(), ownerID, c.ID, models.ChannelSMS, nil)
	require.NoError(t, err)

	h.run()

	assert.Empty(t, h.sms.GetSentMessages())
	assert.True(t, h.store.IsDeleted(c.ID))
}

func TestDispatchScheduler_TransportFailureIsIsolated(t *testing.T) {
	h := newHarness(t, 1)
	c, leads := h.smsCampaign(5, 100)
	h.sms.FailFor(*leads[2].Phone, errors.New("provider unavailable"))

	h.run()

	assert.Len(t, h.sms.GetSentMessages(), 4)
	assert.Equal(t, 4, h.store.CountByStatus(c.ID, models.DispatchStatusSent))
	assert.Equal(t, 1, h.store.CountByStatus(c.ID, models.DispatchStatusFailed))

	for _, e := range h.store.Entries(c.ID) {
		if e.LeadID == leads[2].ID {
			assert.Equal(t, models.DispatchStatusFailed, e.Status)
			require.NotNil(t, e.ErrorMessage)
			assert.Contains(t, *e.ErrorMessage, "provider unavailable")
		}
	}

	balance := h.store.Balance(ownerID)
	assert.Equal(t, int64(4), balance.Used)
	assert.Equal(t, int64(0), balance.Reserved)
	assert.Equal(t, models.CampaignStatusCompleted, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_ContentFailuresSpendNoCredit(t *testing.T) {
	h := newHarness(t, 1)
	quiz, err := h.seed.AddQuiz(ownerID, "bio")
	require.NoError(t, err)
	leads, err := h.seed.AddLeads(quiz.ID,
		testingutil.LeadSpec{Name: "Ana", Phone: "5511988887777", Answers: map[string]string{"bio": "short"}},
		testingutil.LeadSpec{Name: "Bruno", Answers: map[string]string{"bio": "no phone"}},
		testingutil.LeadSpec{Name: "Carla", Phone: "5511977776666", Answers: map[string]string{"bio": strings.Repeat("x", 200)}},
	)
	require.NoError(t, err)
	_, err = h.seed.Grant(ownerID, 10)
	require.NoError(t, err)
	c, err := h.seed.AddCampaign(testingutil.ActiveCampaign(ownerID, quiz.ID, models.ChannelSMS, "{{bio}}"))
	require.NoError(t, err)

	h.run()

	require.Len(t, h.sms.GetSentMessages(), 1)
	assert.Equal(t, "short", h.sms.GetSentMessages()[0].Message)

	entries := h.store.Entries(c.ID)
	require.Len(t, entries, 3)
	byLead := make(map[uint]*models.DispatchLogEntry)
	for _, e := range entries {
		byLead[e.LeadID] = e
	}
	assert.Equal(t, models.DispatchStatusFailed, byLead[leads[1].ID].Status)
	assert.Contains(t, utils.Deref(byLead[leads[1].ID].ErrorMessage), "no sms recipient")
	assert.Equal(t, models.DispatchStatusFailed, byLead[leads[2].ID].Status)
	assert.Contains(t, utils.Deref(byLead[leads[2].ID].ErrorMessage), "limit is 160")

	assert.Equal(t, int64(1), h.store.Balance(ownerID).Used)
	assert.Equal(t, int64(0), h.store.Balance(ownerID).Reserved)
	assert.Equal(t, models.CampaignStatusCompleted, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_DelayedLeadsWait(t *testing.T) {
	h := newHarness(t, 1)
	quiz, err := h.seed.AddQuiz(ownerID)
	require.NoError(t, err)
	now := h.clock.Now()
	_, err = h.seed.AddLeads(quiz.ID,
		testingutil.LeadSpec{Name: "Old 1", Phone: "5511900000001", SubmittedAt: now.Add(-2 * time.Hour)},
		testingutil.LeadSpec{Name: "Old 2", Phone: "5511900000002", SubmittedAt: now.Add(-90 * time.Minute)},
		testingutil.LeadSpec{Name: "New 1", Phone: "5511900000003", SubmittedAt: now.Add(-10 * time.Minute)},
		testingutil.LeadSpec{Name: "New 2", Phone: "5511900000004", SubmittedAt: now.Add(-5 * time.Minute)},
	)
	require.NoError(t, err)
	_, err = h.seed.Grant(ownerID, 10)
	require.NoError(t, err)

	c := testingutil.ActiveCampaign(ownerID, quiz.ID, models.ChannelSMS, "Oi {{nome}}")
	c.ScheduleType = models.ScheduleTypeDelayed
	c.DelayValue = 1
	c.DelayUnit = utils.ToPtr(models.DelayUnitHours)
	c.DelaySeconds = 3600
	_, err = h.seed.AddCampaign(c)
	require.NoError(t, err)

	h.run()
	require.Len(t, h.sms.GetSentMessages(), 2)
	assert.Equal(t, models.CampaignStatusActive, h.store.Campaign(c.ID).Status)

	h.clock.Advance(time.Hour)
	h.run()
	assert.Len(t, h.sms.GetSentMessages(), 4)
	assert.Equal(t, models.CampaignStatusCompleted, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_ActivatesScheduledCampaign(t *testing.T) {
	h := newHarness(t, 1)
	quiz, err := h.seed.AddQuiz(ownerID)
	require.NoError(t, err)
	_, err = h.seed.AddPhoneLeads(quiz.ID, 2)
	require.NoError(t, err)
	_, err = h.seed.Grant(ownerID, 10)
	require.NoError(t, err)

	c := testingutil.ActiveCampaign(ownerID, quiz.ID, models.ChannelSMS, "Oi {{nome}}")
	c.ScheduleType = models.ScheduleTypeScheduled
	c.ScheduledAt = utils.ToPtr(h.clock.Now().Add(time.Hour))
	c.Status = models.CampaignStatusDraft
	_, err = h.seed.AddCampaign(c)
	require.NoError(t, err)

	h.run()
	assert.Empty(t, h.sms.GetSentMessages())
	assert.Equal(t, models.CampaignStatusDraft, h.store.Campaign(c.ID).Status)

	h.clock.Advance(2 * time.Hour)
	h.run()

	stored := h.store.Campaign(c.ID)
	assert.NotNil(t, stored.ActivatedAt)
	assert.Len(t, h.sms.GetSentMessages(), 2)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.Contains(t, h.store.AuditActions(), models.AuditActionCampaignActivated)
}

func TestDispatchScheduler_LiveCampaignPicksUpNewLeads(t *testing.T) {
	h := newHarness(t, 1)
	quiz, err := h.seed.AddQuiz(ownerID)
	require.NoError(t, err)
	_, err = h.seed.AddPhoneLeads(quiz.ID, 2)
	require.NoError(t, err)
	_, err = h.seed.Grant(ownerID, 10)
	require.NoError(t, err)

	c := testingutil.ActiveCampaign(ownerID, quiz.ID, models.ChannelSMS, "Oi {{nome}}")
	c.Type = models.CampaignTypeLive
	c.Mode = models.CampaignModeLive
	_, err = h.seed.AddCampaign(c)
	require.NoError(t, err)

	h.run()
	assert.Len(t, h.sms.GetSentMessages(), 2)
	assert.Equal(t, models.CampaignStatusActive, h.store.Campaign(c.ID).Status)

	h.clock.Advance(time.Minute)
	_, err = h.seed.AddLeads(quiz.ID, testingutil.LeadSpec{Name: "Late", Phone: "5511955554444"})
	require.NoError(t, err)

	h.run()
	sent := h.sms.GetSentMessages()
	require.Len(t, sent, 3)
	assert.Equal(t, "Oi Late", sent[2].Message)
	assert.Equal(t, models.CampaignStatusActive, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_OneShotIgnoresLeadsAfterCutoff(t *testing.T) {
	h := newHarness(t, 1)
	quiz, err := h.seed.AddQuiz(ownerID)
	require.NoError(t, err)
	_, err = h.seed.AddPhoneLeads(quiz.ID, 2)
	require.NoError(t, err)
	_, err = h.seed.Grant(ownerID, 10)
	require.NoError(t, err)

	c := testingutil.ActiveCampaign(ownerID, quiz.ID, models.ChannelSMS, "Oi {{nome}}")
	c.SegmentCutoffAt = utils.ToPtr(h.clock.Now())
	_, err = h.seed.AddCampaign(c)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	_, err = h.seed.AddLeads(quiz.ID, testingutil.LeadSpec{Name: "Late", Phone: "5511955554444"})
	require.NoError(t, err)

	h.run()
	assert.Len(t, h.sms.GetSentMessages(), 2)
	assert.Equal(t, models.CampaignStatusCompleted, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_SkipsLoggedAndInFlightLeads(t *testing.T) {
	h := newHarness(t, 1)
	c, leads := h.smsCampaign(4, 100)
	ctx := context.Background()
	logs := h.store.DispatchLogs()

	// lead 1 already sent
	done := &models.DispatchLogEntry{CampaignID: c.ID, LeadID: leads[0].ID, Channel: models.ChannelSMS}
	ok, err := logs.Claim(ctx, done, h.clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, logs.MarkSent(ctx, done.ID, h.clock.Now(), nil))

	// lead 2 claimed by another worker a minute ago
	h.clock.Advance(-time.Minute)
	busy := &models.DispatchLogEntry{CampaignID: c.ID, LeadID: leads[1].ID, Channel: models.ChannelSMS}
	ok, err = logs.Claim(ctx, busy, h.clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	h.clock.Advance(time.Minute)

	h.run()

	sent := h.sms.GetSentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, *leads[2].Phone, sent[0].Recipient)
	assert.Equal(t, *leads[3].Phone, sent[1].Recipient)
	assert.Equal(t, models.CampaignStatusActive, h.store.Campaign(c.ID).Status, "in-flight lead keeps the campaign open")

	// Once the claim is stale it is retaken
	h.clock.Advance(utils.DefaultClaimTimeout)
	h.run()
	sent = h.sms.GetSentMessages()
	require.Len(t, sent, 3)
	assert.Equal(t, *leads[1].Phone, sent[2].Recipient)
	assert.Equal(t, models.CampaignStatusCompleted, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_EmailCampaignNeedsNoCredits(t *testing.T) {
	h := newHarness(t, 1)
	quiz, err := h.seed.AddQuiz(ownerID)
	require.NoError(t, err)
	_, err = h.seed.AddLeads(quiz.ID,
		testingutil.LeadSpec{Name: "Ana", Email: "ana@example.com"},
		testingutil.LeadSpec{Name: "Bruno", Phone: "5511900000001"},
	)
	require.NoError(t, err)
	c, err := h.seed.AddCampaign(testingutil.ActiveCampaign(ownerID, quiz.ID, models.ChannelEmail, "Oi {{nome}}"))
	require.NoError(t, err)

	h.run()

	require.Len(t, h.email.Sent, 1)
	assert.Equal(t, "ana@example.com", h.email.Sent[0].Email)
	assert.Equal(t, "Hello Ana", h.email.Sent[0].Subject)
	assert.Equal(t, "Oi Ana", h.email.Sent[0].Body)
	assert.Equal(t, 1, h.store.CountByStatus(c.ID, models.DispatchStatusSent))
	assert.Equal(t, 1, h.store.CountByStatus(c.ID, models.DispatchStatusFailed))
	assert.Nil(t, h.store.Balance(ownerID))
	assert.Equal(t, models.CampaignStatusCompleted, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_StartClearsReservations(t *testing.T) {
	store := testingutil.NewMemoryStore()
	credits := store.Credits()
	ctx := context.Background()
	_, err := credits.AddCredits(ctx, ownerID, 5)
	require.NoError(t, err)
	ok, err := credits.Reserve(ctx, ownerID)
	require.NoError(t, err)
	require.True(t, ok)

	logger := log.New(io.Discard, "", 0)
	sched := NewDispatchScheduler(
		store.Campaigns(), store.Leads(), store.DispatchLogs(), credits, store.Audit(),
		services.NewNotificationService(services.NewMockSMSService(), nil), nil, nil, logger,
		Options{Interval: time.Hour, ResetReservations: true},
	)
	stop := sched.Start(ctx)
	stop()

	assert.Equal(t, int64(0), store.Balance(ownerID).Reserved)
}

func TestDispatchScheduler_CompletedAudienceSkipsAbandonedLeads(t *testing.T) {
	h := newHarness(t, 2)
	quiz, err := h.seed.AddQuiz(ownerID, "city")
	require.NoError(t, err)

	specs := make([]testingutil.LeadSpec, 0, 10)
	for i := 1; i <= 10; i++ {
		status := models.LeadStatusCompleted
		if i > 6 {
			status = models.LeadStatusAbandoned
		}
		specs = append(specs, testingutil.LeadSpec{
			Name:   "Lead",
			Phone:  "551190000000" + strconv.Itoa(i-1),
			Status: status,
		})
	}
	leads, err := h.seed.AddLeads(quiz.ID, specs...)
	require.NoError(t, err)
	_, err = h.seed.Grant(ownerID, 100)
	require.NoError(t, err)

	campaign := testingutil.ActiveCampaign(ownerID, quiz.ID, models.ChannelSMS, "Oi {{nome}}")
	campaign.TargetAudience = models.TargetAudienceCompleted
	c, err := h.seed.AddCampaign(campaign)
	require.NoError(t, err)

	h.run()

	entries := h.store.Entries(c.ID)
	require.Len(t, entries, 6)
	abandoned := make(map[uint]bool)
	for _, l := range leads[6:] {
		abandoned[l.ID] = true
	}
	for _, e := range entries {
		assert.False(t, abandoned[e.LeadID], "abandoned lead %d got a dispatch row", e.LeadID)
		assert.Equal(t, models.DispatchStatusSent, e.Status)
	}
	assert.Len(t, h.sms.GetSentMessages(), 6)
	assert.Equal(t, int64(6), h.store.Balance(ownerID).Used)
	assert.Equal(t, models.CampaignStatusCompleted, h.store.Campaign(c.ID).Status)
}

func TestDispatchScheduler_CancelAfterClaimRequeuesLead(t *testing.T) {
	h := newHarness(t, 1)
	c, leads := h.smsCampaign(1, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var exhausted atomic.Bool
	outcome := h.sched.dispatchLead(ctx, c, leads[0], h.clock.Now(), &exhausted)
	assert.Equal(t, outcomeHalted, outcome)

	entries := h.store.Entries(c.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.DispatchStatusPending, entries[0].Status)
	assert.Nil(t, entries[0].ClaimedAt)
	assert.Empty(t, h.sms.GetSentMessages())
	assert.Equal(t, int64(0), h.store.Balance(ownerID).Reserved)
	assert.Equal(t, int64(0), h.store.Balance(ownerID).Used)

	// the next tick picks the row up without waiting for the claim to go stale
	h.run()
	assert.Len(t, h.sms.GetSentMessages(), 1)
	assert.Equal(t, 1, h.store.CountByStatus(c.ID, models.DispatchStatusSent))
}

func TestDispatchScheduler_CommitFailureReleasesReservation(t *testing.T) {
	h := newHarness(t, 1)
	c, _ := h.smsCampaign(2, 5)
	h.store.FailOn("Credits.commit", errors.New("connection reset"))
	failuresBefore := testutil.ToFloat64(dispatchCommitFailuresTotal)

	h.run()

	assert.Len(t, h.sms.GetSentMessages(), 2)
	assert.Equal(t, 2, h.store.CountByStatus(c.ID, models.DispatchStatusSent))
	balance := h.store.Balance(ownerID)
	assert.Equal(t, int64(0), balance.Reserved)
	assert.Equal(t, int64(0), balance.Used)
	assert.Equal(t, float64(2), testutil.ToFloat64(dispatchCommitFailuresTotal)-failuresBefore)
}
