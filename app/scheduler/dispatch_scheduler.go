package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/amirphl/funnel-campaigns/app/services"
	businessflow "github.com/amirphl/funnel-campaigns/business_flow"
	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/repository"
	"github.com/amirphl/funnel-campaigns/utils"
)

// Options tunes the dispatch loop
type Options struct {
	Interval     time.Duration
	Workers      int
	ClaimTimeout time.Duration
	SMSMaxLength int
	// ResetReservations clears leftover credit reservations on Start. Only safe with a single scheduler process.
	ResetReservations bool
	Now               func() time.Time
}

// DispatchScheduler turns active campaigns into per-lead sends
type DispatchScheduler struct {
	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	logs      repository.DispatchLogRepository
	credits   repository.CreditBalanceRepository
	audit     repository.AuditLogRepository
	transport services.NotificationService
	gates     *GateRegistry
	locker    CampaignLocker
	logger    *log.Logger
	opts      Options
}

func NewDispatchScheduler(
	campaigns repository.CampaignRepository,
	leads repository.LeadRepository,
	logs repository.DispatchLogRepository,
	credits repository.CreditBalanceRepository,
	audit repository.AuditLogRepository,
	transport services.NotificationService,
	gates *GateRegistry,
	locker CampaignLocker,
	logger *log.Logger,
	opts Options,
) *DispatchScheduler {
	if logger == nil {
		logger = log.Default()
	}
	if gates == nil {
		gates = NewGateRegistry(nil, logger)
	}
	if locker == nil {
		locker = NewLocalCampaignLocker()
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = utils.DefaultClaimTimeout
	}
	if opts.SMSMaxLength <= 0 {
		opts.SMSMaxLength = utils.DefaultSMSMaxLength
	}
	if opts.Now == nil {
		opts.Now = utils.UTCNow
	}
	return &DispatchScheduler{
		campaigns: campaigns,
		leads:     leads,
		logs:      logs,
		credits:   credits,
		audit:     audit,
		transport: transport,
		gates:     gates,
		locker:    locker,
		logger:    logger,
		opts:      opts,
	}
}

// Start runs RunOnce every Interval until the returned stop function is called
func (s *DispatchScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	if s.opts.ResetReservations {
		n, err := s.credits.ResetReservations(ctx)
		if err != nil {
			s.logger.Printf("scheduler: reset credit reservations failed: %v", err)
		} else if n > 0 {
			s.logger.Printf("scheduler: cleared reservations on %d balances", n)
		}
	}

	if err := s.gates.Listen(ctx); err != nil {
		s.logger.Printf("scheduler: halt bus unavailable, pauses stay local: %v", err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.logger))))
	spec := fmt.Sprintf("@every %s", s.opts.Interval)
	if _, err := c.AddFunc(spec, func() {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Printf("scheduler: tick failed: %v", err)
		}
	}); err != nil {
		s.logger.Printf("scheduler: invalid interval %q: %v", spec, err)
	}
	c.Start()
	s.logger.Printf("scheduler: started interval=%s workers=%d", s.opts.Interval, s.opts.Workers)

	return func() {
		cancel()
		<-c.Stop().Done()
		s.logger.Printf("scheduler: stopped")
	}
}

// RunOnce activates due scheduled campaigns and dispatches every active one
func (s *DispatchScheduler) RunOnce(ctx context.Context) error {
	started := time.Now()
	defer func() {
		schedulerTickDuration.Observe(time.Since(started).Seconds())
	}()

	s.activateDue(ctx, s.opts.Now())

	readAt := s.gates.now()
	campaigns, err := s.campaigns.ListByStatus(ctx, models.CampaignStatusActive)
	if err != nil {
		return fmt.Errorf("list active campaigns: %w", err)
	}

	for _, c := range campaigns {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.gates.Reconcile(c.ID, readAt)
		if err := s.processLocked(ctx, c); err != nil {
			s.logger.Printf("scheduler: campaign %d: %v", c.ID, err)
		}
	}
	return nil
}

func (s *DispatchScheduler) activateDue(ctx context.Context, now time.Time) {
	due, err := s.campaigns.ListDueScheduled(ctx, now)
	if err != nil {
		s.logger.Printf("scheduler: list due scheduled campaigns: %v", err)
		return
	}
	for _, c := range due {
		ok, err := s.campaigns.TransitionStatus(ctx, c.ID,
			[]models.CampaignStatus{models.CampaignStatusDraft},
			models.CampaignStatusActive,
			map[string]any{"activated_at": now},
		)
		if err != nil {
			s.logger.Printf("scheduler: activate campaign %d: %v", c.ID, err)
			continue
		}
		if !ok {
			continue
		}
		s.logger.Printf("scheduler: activated scheduled campaign %d", c.ID)
		businessflow.WriteAudit(ctx, s.audit, businessflow.AuditEntry{
			OwnerID:     c.OwnerID,
			CampaignID:  utils.ToPtr(c.ID),
			Action:      models.AuditActionCampaignActivated,
			Description: fmt.Sprintf("Scheduled campaign activated: %s", c.UUID),
			Success:     true,
		}, nil)
	}
}

func (s *DispatchScheduler) processLocked(ctx context.Context, c *models.Campaign) error {
	unlock, ok, err := s.locker.TryLock(ctx, c.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer unlock()
	return s.processCampaign(ctx, c)
}

const commitAttempts = 3

type leadOutcome int

const (
	outcomeNotAttempted leadOutcome = iota
	outcomeSent
	outcomeFailed
	outcomeBusy
	outcomeExhausted
	outcomeHalted
	outcomeError
)

// settled outcomes leave nothing for a later tick of this campaign
func (o leadOutcome) settled() bool {
	return o == outcomeSent || o == outcomeFailed
}

// CampaignRun summarizes one pass over a campaign
type CampaignRun struct {
	Candidates int
	Due        int
	Waiting    int
	InFlight   int
	Sent       int
	Failed     int
	Exhausted  bool
	Completed  bool
}

func (s *DispatchScheduler) processCampaign(ctx context.Context, c *models.Campaign) error {
	run, err := s.dispatchCampaign(ctx, c)
	if err != nil {
		return err
	}
	if run.Sent > 0 || run.Failed > 0 || run.Exhausted || run.Completed {
		s.logger.Printf("scheduler: campaign %d due=%d sent=%d failed=%d waiting=%d exhausted=%t completed=%t",
			c.ID, run.Due, run.Sent, run.Failed, run.Waiting, run.Exhausted, run.Completed)
	}
	return nil
}

func (s *DispatchScheduler) dispatchCampaign(ctx context.Context, c *models.Campaign) (*CampaignRun, error) {
	now := s.opts.Now()

	query := models.LeadQuery{OwnerID: c.OwnerID, QuizID: c.QuizID}
	if !c.IsLive() {
		query.CreatedBefore = c.SegmentCutoffAt
	}
	candidates, err := businessflow.LoadSegment(ctx, s.leads, query, c.Segment())
	if err != nil {
		return nil, fmt.Errorf("load segment: %w", err)
	}
	states, err := s.logs.StatesByCampaign(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load dispatch states: %w", err)
	}

	run := &CampaignRun{Candidates: len(candidates)}
	var due, waiting []*models.Lead
	for _, lead := range candidates {
		if st, ok := states[lead.ID]; ok {
			if st.Status.Terminal() {
				continue
			}
			if st.ClaimedAt != nil && now.Sub(*st.ClaimedAt) < s.opts.ClaimTimeout {
				run.InFlight++
				continue
			}
		}
		if c.DueAt(lead.SubmittedAt).After(now) {
			waiting = append(waiting, lead)
			continue
		}
		due = append(due, lead)
	}
	run.Due = len(due)
	run.Waiting = len(waiting)

	outcomes := make([]leadOutcome, len(due))
	var exhausted atomic.Bool

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, lead := range due {
		if ctx.Err() != nil || exhausted.Load() || s.gates.Halted(c.ID) {
			break
		}
		g.Go(func() error {
			outcomes[i] = s.dispatchLead(ctx, c, lead, now, &exhausted)
			return nil
		})
	}
	_ = g.Wait()

	var remaining []*models.Lead
	unsettled := run.InFlight + len(waiting)
	for i, o := range outcomes {
		switch o {
		case outcomeSent:
			run.Sent++
		case outcomeFailed:
			run.Failed++
		}
		if !o.settled() {
			unsettled++
			if o != outcomeBusy {
				remaining = append(remaining, due[i])
			}
		}
	}

	if exhausted.Load() {
		run.Exhausted = true
		s.parkRemaining(ctx, c, append(remaining, waiting...), now)
		s.pauseForCredits(ctx, c)
		return run, nil
	}

	if !c.IsLive() && unsettled == 0 {
		run.Completed = s.complete(ctx, c, now)
	}
	return run, nil
}

func (s *DispatchScheduler) newEntry(c *models.Campaign, lead *models.Lead, now time.Time) *models.DispatchLogEntry {
	entry := &models.DispatchLogEntry{
		CampaignID:      c.ID,
		LeadID:          lead.ID,
		Channel:         c.Channel,
		Recipient:       lead.Recipient(c.Channel),
		RenderedMessage: businessflow.RenderTemplate(c.MessageTemplate, lead),
		Status:          models.DispatchStatusPending,
		DueAt:           utils.ToPtr(c.DueAt(lead.SubmittedAt)),
	}
	if c.Channel == models.ChannelEmail && c.SubjectTemplate != nil {
		entry.RenderedSubject = utils.ToPtr(businessflow.RenderTemplate(*c.SubjectTemplate, lead))
	}
	return entry
}

// dispatchLead sends one message. Content problems fail the lead before a credit is reserved.
func (s *DispatchScheduler) dispatchLead(ctx context.Context, c *models.Campaign, lead *models.Lead, now time.Time, exhausted *atomic.Bool) leadOutcome {
	release, ok := s.gates.Acquire(c.ID)
	if !ok {
		return outcomeHalted
	}
	defer release()

	entry := s.newEntry(c, lead, now)
	if entry.Recipient == "" {
		return s.failWithoutCredit(ctx, c, entry, fmt.Sprintf("lead has no %s recipient", c.Channel))
	}
	if c.Channel == models.ChannelSMS {
		if n := utf8.RuneCountInString(entry.RenderedMessage); n > s.opts.SMSMaxLength {
			return s.failWithoutCredit(ctx, c, entry, fmt.Sprintf("rendered message is %d characters, limit is %d", n, s.opts.SMSMaxLength))
		}
	}

	if c.Channel == models.ChannelSMS {
		if exhausted.Load() {
			return outcomeExhausted
		}
		reserved, err := s.credits.Reserve(ctx, c.OwnerID)
		if err != nil {
			s.logger.Printf("scheduler: reserve credit for campaign %d: %v", c.ID, err)
			return outcomeError
		}
		if !reserved {
			exhausted.Store(true)
			return outcomeExhausted
		}
	}

	claimed, err := s.logs.Claim(ctx, entry, now.Add(-s.opts.ClaimTimeout))
	if err != nil || !claimed {
		s.releaseCredit(ctx, c)
		if err != nil {
			s.logger.Printf("scheduler: %v", err)
			return outcomeError
		}
		return outcomeBusy
	}

	if ctx.Err() != nil {
		// shutting down: hand the row and the credit back instead of waiting out the claim timeout
		s.requeue(context.WithoutCancel(ctx), c, entry)
		return outcomeHalted
	}

	dispatchInFlight.Inc()
	defer dispatchInFlight.Dec()

	providerID, err := s.transport.Deliver(ctx, services.Delivery{
		Channel:    c.Channel,
		Recipient:  entry.Recipient,
		Subject:    utils.Deref(entry.RenderedSubject),
		Body:       entry.RenderedMessage,
		CustomerID: c.OwnerID,
	})
	if err != nil {
		s.releaseCredit(ctx, c)
		if markErr := s.logs.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			s.logger.Printf("scheduler: %v", markErr)
		}
		dispatchMessagesTotal.WithLabelValues(c.Channel.String(), "failed").Inc()
		return outcomeFailed
	}

	if c.Channel == models.ChannelSMS {
		s.commitCredit(context.WithoutCancel(ctx), c)
	}
	var providerMessageID *string
	if providerID != "" {
		providerMessageID = &providerID
	}
	if err := s.logs.MarkSent(ctx, entry.ID, s.opts.Now(), providerMessageID); err != nil {
		s.logger.Printf("scheduler: %v", err)
	}
	dispatchMessagesTotal.WithLabelValues(c.Channel.String(), "sent").Inc()
	return outcomeSent
}

func (s *DispatchScheduler) failWithoutCredit(ctx context.Context, c *models.Campaign, entry *models.DispatchLogEntry, reason string) leadOutcome {
	claimed, err := s.logs.Claim(ctx, entry, s.opts.Now().Add(-s.opts.ClaimTimeout))
	if err != nil {
		s.logger.Printf("scheduler: %v", err)
		return outcomeError
	}
	if !claimed {
		return outcomeBusy
	}
	if err := s.logs.MarkFailed(ctx, entry.ID, reason); err != nil {
		s.logger.Printf("scheduler: %v", err)
	}
	dispatchMessagesTotal.WithLabelValues(c.Channel.String(), "failed").Inc()
	return outcomeFailed
}

// commitCredit charges a delivered message. A reservation that cannot be committed is released so it does not pin the pool.
func (s *DispatchScheduler) commitCredit(ctx context.Context, c *models.Campaign) {
	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		if err = s.credits.Commit(ctx, c.OwnerID); err == nil {
			return
		}
		s.logger.Printf("scheduler: commit credit for campaign %d (attempt %d): %v", c.ID, attempt, err)
	}
	dispatchCommitFailuresTotal.Inc()
	s.releaseCredit(ctx, c)
}

func (s *DispatchScheduler) requeue(ctx context.Context, c *models.Campaign, entry *models.DispatchLogEntry) {
	if err := s.logs.Unclaim(ctx, entry.ID); err != nil {
		s.logger.Printf("scheduler: %v", err)
	}
	s.releaseCredit(ctx, c)
}

func (s *DispatchScheduler) releaseCredit(ctx context.Context, c *models.Campaign) {
	if c.Channel != models.ChannelSMS {
		return
	}
	if err := s.credits.Release(ctx, c.OwnerID); err != nil {
		s.logger.Printf("scheduler: release credit for campaign %d: %v", c.ID, err)
	}
}

// parkRemaining records unclaimed pending rows so the backlog is visible while the campaign waits for credits
func (s *DispatchScheduler) parkRemaining(ctx context.Context, c *models.Campaign, leads []*models.Lead, now time.Time) {
	if len(leads) == 0 {
		return
	}
	entries := make([]*models.DispatchLogEntry, 0, len(leads))
	for _, lead := range leads {
		entries = append(entries, s.newEntry(c, lead, now))
	}
	if err := s.logs.EnsurePending(ctx, entries); err != nil {
		s.logger.Printf("scheduler: park %d leads of campaign %d: %v", len(entries), c.ID, err)
	}
}

func (s *DispatchScheduler) pauseForCredits(ctx context.Context, c *models.Campaign) {
	var paused bool
	err := s.gates.Quiesce(ctx, c.ID, func(ctx context.Context) error {
		var err error
		paused, err = s.campaigns.TransitionStatus(ctx, c.ID,
			[]models.CampaignStatus{models.CampaignStatusActive},
			models.CampaignStatusPaused,
			map[string]any{"pause_reason": models.PauseReasonInsufficientCredits},
		)
		return err
	})
	if err != nil {
		s.logger.Printf("scheduler: auto-pause campaign %d: %v", c.ID, err)
		return
	}
	if !paused {
		return
	}

	dispatchCreditExhaustedTotal.Inc()
	s.logger.Printf("scheduler: campaign %d paused, owner %d is out of credits", c.ID, c.OwnerID)
	businessflow.WriteAudit(ctx, s.audit, businessflow.AuditEntry{
		OwnerID:     c.OwnerID,
		CampaignID:  utils.ToPtr(c.ID),
		Action:      models.AuditActionCampaignAutoPaused,
		Description: fmt.Sprintf("Campaign paused for insufficient credits: %s", c.UUID),
		Success:     true,
		Extra:       map[string]any{"pause_reason": models.PauseReasonInsufficientCredits},
	}, nil)

	s.resumeIfRefilled(ctx, c)
}

// resumeIfRefilled covers a purchase that landed between the failed reservation and the pause
func (s *DispatchScheduler) resumeIfRefilled(ctx context.Context, c *models.Campaign) {
	balance, err := s.credits.ByOwner(ctx, c.OwnerID)
	if err != nil || balance == nil || balance.Remaining() <= 0 {
		return
	}
	ok, err := s.campaigns.TransitionStatus(ctx, c.ID,
		[]models.CampaignStatus{models.CampaignStatusPaused},
		models.CampaignStatusActive,
		map[string]any{"pause_reason": nil},
	)
	if err != nil || !ok {
		return
	}
	s.gates.Reopen(ctx, c.ID)
	s.logger.Printf("scheduler: campaign %d resumed, credits were added meanwhile", c.ID)
	businessflow.WriteAudit(ctx, s.audit, businessflow.AuditEntry{
		OwnerID:     c.OwnerID,
		CampaignID:  utils.ToPtr(c.ID),
		Action:      models.AuditActionCampaignResumed,
		Description: fmt.Sprintf("Campaign resumed after credit purchase: %s", c.UUID),
		Success:     true,
	}, nil)
}

func (s *DispatchScheduler) complete(ctx context.Context, c *models.Campaign, now time.Time) bool {
	ok, err := s.campaigns.TransitionStatus(ctx, c.ID,
		[]models.CampaignStatus{models.CampaignStatusActive},
		models.CampaignStatusCompleted,
		map[string]any{"completed_at": now},
	)
	if err != nil {
		s.logger.Printf("scheduler: complete campaign %d: %v", c.ID, err)
		return false
	}
	if !ok {
		return false
	}
	businessflow.WriteAudit(ctx, s.audit, businessflow.AuditEntry{
		OwnerID:     c.OwnerID,
		CampaignID:  utils.ToPtr(c.ID),
		Action:      models.AuditActionCampaignCompleted,
		Description: fmt.Sprintf("Campaign completed: %s", c.UUID),
		Success:     true,
	}, nil)
	return true
}
