package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/repository"
	"github.com/amirphl/funnel-campaigns/utils"
)

// MemoryStore backs every repository interface with maps so flows and the scheduler
// can be exercised without PostgreSQL. Conditional updates keep the same semantics
// as the SQL statements they stand in for. Transactions do not roll back.
type MemoryStore struct {
	mu  sync.Mutex
	Now func() time.Time

	quizzes   map[uint]*models.Quiz
	leads     map[uint]*models.Lead
	campaigns map[uint]*models.Campaign
	deleted   map[uint]bool
	logs      map[uint]*models.DispatchLogEntry
	balances  map[uint]*models.CreditBalance
	purchases map[uint]*models.CreditPurchase
	audits    map[uint]*models.AuditLog
	seq       map[string]uint
	failures  map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:       utils.UTCNow,
		quizzes:   make(map[uint]*models.Quiz),
		leads:     make(map[uint]*models.Lead),
		campaigns: make(map[uint]*models.Campaign),
		deleted:   make(map[uint]bool),
		logs:      make(map[uint]*models.DispatchLogEntry),
		balances:  make(map[uint]*models.CreditBalance),
		purchases: make(map[uint]*models.CreditPurchase),
		audits:    make(map[uint]*models.AuditLog),
		seq:       make(map[string]uint),
		failures:  make(map[string]error),
	}
}

// FailOn makes the named repository operation (e.g. "Reserve", "Credits.commit", "Campaign.Save") return err until cleared with nil
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *MemoryStore) fail(op string) error {
	return s.failures[op]
}

func (s *MemoryStore) next(table string) uint {
	s.seq[table]++
	return s.seq[table]
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func sortedKeys[T any](rows map[uint]*T) []uint {
	ids := make([]uint, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func window[T any](items []*T, limit, offset int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return []*T{}
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func reverse[T any](items []*T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

// collect clones the rows accepted by keep in id order
func collect[T any](rows map[uint]*T, keep func(*T) bool) []*T {
	var out []*T
	for _, id := range sortedKeys(rows) {
		if keep(rows[id]) {
			out = append(out, clone(rows[id]))
		}
	}
	return out
}

// Transactor runs the function directly on the store
func (s *MemoryStore) Transactor() repository.Transactor {
	return memoryTransactor{}
}

type memoryTransactor struct{}

func (memoryTransactor) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// Quizzes

func (s *MemoryStore) Quizzes() repository.QuizRepository { return &memoryQuizzes{s} }

type memoryQuizzes struct{ s *MemoryStore }

func matchQuiz(q *models.Quiz, f models.QuizFilter) bool {
	return (f.ID == nil || q.ID == *f.ID) &&
		(f.OwnerID == nil || q.OwnerID == *f.OwnerID)
}

func (r *memoryQuizzes) ByID(ctx context.Context, id uint) (*models.Quiz, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return clone(r.s.quizzes[id]), nil
}

func (r *memoryQuizzes) ByFilter(ctx context.Context, f models.QuizFilter, orderBy string, limit, offset int) ([]*models.Quiz, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return window(collect(r.s.quizzes, func(q *models.Quiz) bool { return matchQuiz(q, f) }), limit, offset), nil
}

func (r *memoryQuizzes) Save(ctx context.Context, q *models.Quiz) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Quiz.Save"); err != nil {
		return err
	}
	_ = q.BeforeCreate(nil)
	if q.ID == 0 {
		q.ID = r.s.next("quizzes")
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = r.s.Now()
	}
	if q.IsActive == nil {
		q.IsActive = utils.ToPtr(true)
	}
	r.s.quizzes[q.ID] = clone(q)
	return nil
}

func (r *memoryQuizzes) SaveBatch(ctx context.Context, qs []*models.Quiz) error {
	for _, q := range qs {
		if err := r.Save(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryQuizzes) Count(ctx context.Context, f models.QuizFilter) (int64, error) {
	items, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(items)), nil
}

func (r *memoryQuizzes) Exists(ctx context.Context, f models.QuizFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *memoryQuizzes) ListByOwner(ctx context.Context, ownerID uint) ([]*models.Quiz, error) {
	items, _ := r.ByFilter(ctx, models.QuizFilter{OwnerID: &ownerID}, "", 0, 0)
	reverse(items)
	return items, nil
}

// Leads

func (s *MemoryStore) Leads() repository.LeadRepository { return &memoryLeads{s} }

type memoryLeads struct{ s *MemoryStore }

func matchLead(l *models.Lead, f models.LeadFilter) bool {
	if f.ID != nil && l.ID != *f.ID {
		return false
	}
	if f.QuizID != nil && l.QuizID != *f.QuizID {
		return false
	}
	if f.HasPhone != nil && utils.NonEmpty(l.Phone) != *f.HasPhone {
		return false
	}
	return true
}

func (r *memoryLeads) ByID(ctx context.Context, id uint) (*models.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return clone(r.s.leads[id]), nil
}

func (r *memoryLeads) ByFilter(ctx context.Context, f models.LeadFilter, orderBy string, limit, offset int) ([]*models.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return window(collect(r.s.leads, func(l *models.Lead) bool { return matchLead(l, f) }), limit, offset), nil
}

func (r *memoryLeads) Save(ctx context.Context, l *models.Lead) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_ = l.BeforeCreate(nil)
	if l.ID == 0 {
		l.ID = r.s.next("leads")
	}
	now := r.s.Now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.SubmittedAt.IsZero() {
		l.SubmittedAt = l.CreatedAt
	}
	r.s.leads[l.ID] = clone(l)
	return nil
}

func (r *memoryLeads) SaveBatch(ctx context.Context, ls []*models.Lead) error {
	for _, l := range ls {
		if err := r.Save(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryLeads) Count(ctx context.Context, f models.LeadFilter) (int64, error) {
	items, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(items)), nil
}

func (r *memoryLeads) Exists(ctx context.Context, f models.LeadFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *memoryLeads) ListForSegment(ctx context.Context, q models.LeadQuery) ([]*models.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("ListForSegment"); err != nil {
		return nil, err
	}
	items := collect(r.s.leads, func(l *models.Lead) bool {
		quiz, ok := r.s.quizzes[l.QuizID]
		if !ok || quiz.OwnerID != q.OwnerID {
			return false
		}
		if q.QuizID != nil && l.QuizID != *q.QuizID {
			return false
		}
		if q.CreatedBefore != nil && l.CreatedAt.After(*q.CreatedBefore) {
			return false
		}
		return q.AfterID == nil || l.ID > *q.AfterID
	})
	return window(items, q.Limit, 0), nil
}

func (r *memoryLeads) Roster(ctx context.Context, quizID uint, limit, offset int) ([]*models.Lead, error) {
	hasPhone := true
	r.s.mu.Lock()
	items := collect(r.s.leads, func(l *models.Lead) bool {
		return matchLead(l, models.LeadFilter{QuizID: &quizID, HasPhone: &hasPhone})
	})
	r.s.mu.Unlock()
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].SubmittedAt.Equal(items[j].SubmittedAt) {
			return items[i].SubmittedAt.After(items[j].SubmittedAt)
		}
		return items[i].ID > items[j].ID
	})
	return window(items, limit, offset), nil
}

func (r *memoryLeads) FieldValues(ctx context.Context, quizID uint, perFieldLimit int) (map[string][]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	seen := make(map[string]map[string]bool)
	for _, l := range r.s.leads {
		if l.QuizID != quizID {
			continue
		}
		for k, v := range l.Answers {
			if seen[k] == nil {
				seen[k] = make(map[string]bool)
			}
			seen[k][v] = true
		}
	}

	out := make(map[string][]string, len(seen))
	for k, values := range seen {
		list := make([]string, 0, len(values))
		for v := range values {
			list = append(list, v)
		}
		sort.Strings(list)
		if perFieldLimit > 0 && len(list) > perFieldLimit {
			list = list[:perFieldLimit]
		}
		out[k] = list
	}
	return out, nil
}

// Campaigns

func (s *MemoryStore) Campaigns() repository.CampaignRepository { return &memoryCampaigns{s} }

type memoryCampaigns struct{ s *MemoryStore }

func matchCampaign(c *models.Campaign, f models.CampaignFilter) bool {
	if f.ID != nil && c.ID != *f.ID {
		return false
	}
	if f.OwnerID != nil && c.OwnerID != *f.OwnerID {
		return false
	}
	if f.Channel != nil && c.Channel != *f.Channel {
		return false
	}
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.PauseReason != nil && (c.PauseReason == nil || *c.PauseReason != *f.PauseReason) {
		return false
	}
	if f.ScheduledBefore != nil && (c.ScheduledAt == nil || c.ScheduledAt.After(*f.ScheduledBefore)) {
		return false
	}
	return true
}

func (r *memoryCampaigns) live() map[uint]*models.Campaign {
	out := make(map[uint]*models.Campaign, len(r.s.campaigns))
	for id, c := range r.s.campaigns {
		if !r.s.deleted[id] {
			out[id] = c
		}
	}
	return out
}

func (r *memoryCampaigns) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.deleted[id] {
		return nil, nil
	}
	return clone(r.s.campaigns[id]), nil
}

func (r *memoryCampaigns) ByFilter(ctx context.Context, f models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Campaign.ByFilter"); err != nil {
		return nil, err
	}
	return window(collect(r.live(), func(c *models.Campaign) bool { return matchCampaign(c, f) }), limit, offset), nil
}

func (r *memoryCampaigns) Save(ctx context.Context, c *models.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Campaign.Save"); err != nil {
		return err
	}
	_ = c.BeforeCreate(nil)
	if c.ID == 0 {
		c.ID = r.s.next("campaigns")
	}
	now := r.s.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	r.s.campaigns[c.ID] = clone(c)
	return nil
}

func (r *memoryCampaigns) SaveBatch(ctx context.Context, cs []*models.Campaign) error {
	for _, c := range cs {
		if err := r.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryCampaigns) Count(ctx context.Context, f models.CampaignFilter) (int64, error) {
	items, err := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(items)), err
}

func (r *memoryCampaigns) Exists(ctx context.Context, f models.CampaignFilter) (bool, error) {
	n, err := r.Count(ctx, f)
	return n > 0, err
}

func (r *memoryCampaigns) ListByOwner(ctx context.Context, ownerID uint, channel *models.Channel, limit, offset int) ([]*models.Campaign, int64, error) {
	items, err := r.ByFilter(ctx, models.CampaignFilter{OwnerID: &ownerID, Channel: channel}, "", 0, 0)
	if err != nil {
		return nil, 0, err
	}
	reverse(items)
	return window(items, limit, offset), int64(len(items)), nil
}

func (r *memoryCampaigns) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	status := models.CampaignStatusDraft
	return r.ByFilter(ctx, models.CampaignFilter{Status: &status, ScheduledBefore: &now}, "", 0, 0)
}

func (r *memoryCampaigns) ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	return r.ByFilter(ctx, models.CampaignFilter{Status: &status}, "", 0, 0)
}

func (r *memoryCampaigns) ListPausedForCredits(ctx context.Context, ownerID uint) ([]*models.Campaign, error) {
	status := models.CampaignStatusPaused
	reason := models.PauseReasonInsufficientCredits
	return r.ByFilter(ctx, models.CampaignFilter{OwnerID: &ownerID, Status: &status, PauseReason: &reason}, "", 0, 0)
}

func (r *memoryCampaigns) TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, changes map[string]any) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("TransitionStatus"); err != nil {
		return false, err
	}

	c, ok := r.s.campaigns[id]
	if !ok || r.s.deleted[id] {
		return false, nil
	}
	allowed := false
	for _, st := range from {
		if c.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	next := clone(c)
	next.Status = to
	next.UpdatedAt = r.s.Now()
	for k, v := range changes {
		if err := applyCampaignChange(next, k, v); err != nil {
			return false, err
		}
	}
	r.s.campaigns[id] = next
	return true, nil
}

func applyCampaignChange(c *models.Campaign, column string, v any) error {
	switch column {
	case "pause_reason":
		switch reason := v.(type) {
		case nil:
			c.PauseReason = nil
		case models.PauseReason:
			c.PauseReason = &reason
		case *models.PauseReason:
			c.PauseReason = reason
		default:
			return fmt.Errorf("unsupported pause_reason value %T", v)
		}
	case "activated_at", "completed_at":
		var at *time.Time
		switch t := v.(type) {
		case time.Time:
			at = &t
		case *time.Time:
			at = t
		case nil:
		default:
			return fmt.Errorf("unsupported %s value %T", column, v)
		}
		if column == "activated_at" {
			c.ActivatedAt = at
		} else {
			c.CompletedAt = at
		}
	default:
		return fmt.Errorf("unsupported campaign column %q", column)
	}
	return nil
}

func (r *memoryCampaigns) SoftDelete(ctx context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("SoftDelete"); err != nil {
		return err
	}
	if _, ok := r.s.campaigns[id]; ok {
		r.s.deleted[id] = true
	}
	return nil
}

// Dispatch log

func (s *MemoryStore) DispatchLogs() repository.DispatchLogRepository { return &memoryDispatchLogs{s} }

type memoryDispatchLogs struct{ s *MemoryStore }

func matchEntry(e *models.DispatchLogEntry, f models.DispatchLogFilter) bool {
	return (f.CampaignID == nil || e.CampaignID == *f.CampaignID) &&
		(f.LeadID == nil || e.LeadID == *f.LeadID) &&
		(f.Status == nil || e.Status == *f.Status)
}

func (r *memoryDispatchLogs) find(campaignID, leadID uint) *models.DispatchLogEntry {
	for _, e := range r.s.logs {
		if e.CampaignID == campaignID && e.LeadID == leadID {
			return e
		}
	}
	return nil
}

func (r *memoryDispatchLogs) ByID(ctx context.Context, id uint) (*models.DispatchLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return clone(r.s.logs[id]), nil
}

func (r *memoryDispatchLogs) ByFilter(ctx context.Context, f models.DispatchLogFilter, orderBy string, limit, offset int) ([]*models.DispatchLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := collect(r.s.logs, func(e *models.DispatchLogEntry) bool { return matchEntry(e, f) })
	sort.SliceStable(items, func(i, j int) bool { return items[i].LeadID < items[j].LeadID })
	return window(items, limit, offset), nil
}

func (r *memoryDispatchLogs) Save(ctx context.Context, e *models.DispatchLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.find(e.CampaignID, e.LeadID) != nil {
		return fmt.Errorf("duplicate dispatch log for campaign %d lead %d", e.CampaignID, e.LeadID)
	}
	if e.ID == 0 {
		e.ID = r.s.next("dispatch_logs")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.s.Now()
	}
	r.s.logs[e.ID] = clone(e)
	return nil
}

func (r *memoryDispatchLogs) SaveBatch(ctx context.Context, es []*models.DispatchLogEntry) error {
	for _, e := range es {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryDispatchLogs) Count(ctx context.Context, f models.DispatchLogFilter) (int64, error) {
	items, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(items)), nil
}

func (r *memoryDispatchLogs) Exists(ctx context.Context, f models.DispatchLogFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *memoryDispatchLogs) StatesByCampaign(ctx context.Context, campaignID uint) (map[uint]models.LeadDispatchState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uint]models.LeadDispatchState)
	for _, e := range r.s.logs {
		if e.CampaignID == campaignID {
			out[e.LeadID] = models.LeadDispatchState{LeadID: e.LeadID, Status: e.Status, ClaimedAt: e.ClaimedAt}
		}
	}
	return out, nil
}

func (r *memoryDispatchLogs) Claim(ctx context.Context, entry *models.DispatchLogEntry, staleBefore time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Claim"); err != nil {
		return false, err
	}

	now := r.s.Now()
	entry.Status = models.DispatchStatusPending
	entry.ClaimedAt = &now
	entry.UpdatedAt = now

	existing := r.find(entry.CampaignID, entry.LeadID)
	if existing == nil {
		entry.ID = r.s.next("dispatch_logs")
		entry.CreatedAt = now
		r.s.logs[entry.ID] = clone(entry)
		return true, nil
	}
	if existing.Status != models.DispatchStatusPending {
		return false, nil
	}
	if existing.ClaimedAt != nil && !existing.ClaimedAt.Before(staleBefore) {
		return false, nil
	}

	existing.Recipient = entry.Recipient
	existing.RenderedMessage = entry.RenderedMessage
	existing.RenderedSubject = entry.RenderedSubject
	existing.DueAt = entry.DueAt
	existing.ClaimedAt = entry.ClaimedAt
	existing.UpdatedAt = now
	entry.ID = existing.ID
	entry.CreatedAt = existing.CreatedAt
	return true, nil
}

// update mutates the row when its status is one of allowed; otherwise it is a no-op like the SQL
func (r *memoryDispatchLogs) update(id uint, op string, fn func(*models.DispatchLogEntry), allowed ...models.DispatchStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(op); err != nil {
		return err
	}
	e, ok := r.s.logs[id]
	if !ok {
		return nil
	}
	for _, st := range allowed {
		if e.Status == st {
			fn(e)
			e.UpdatedAt = r.s.Now()
			return nil
		}
	}
	return nil
}

func (r *memoryDispatchLogs) Unclaim(ctx context.Context, id uint) error {
	return r.update(id, "Unclaim", func(e *models.DispatchLogEntry) {
		e.ClaimedAt = nil
	}, models.DispatchStatusPending)
}

func (r *memoryDispatchLogs) MarkSent(ctx context.Context, id uint, sentAt time.Time, providerMessageID *string) error {
	return r.update(id, "MarkSent", func(e *models.DispatchLogEntry) {
		e.Status = models.DispatchStatusSent
		e.SentAt = &sentAt
		e.ProviderMessageID = providerMessageID
		e.ErrorMessage = nil
		e.ClaimedAt = nil
	}, models.DispatchStatusPending)
}

func (r *memoryDispatchLogs) MarkFailed(ctx context.Context, id uint, errorMessage string) error {
	return r.update(id, "MarkFailed", func(e *models.DispatchLogEntry) {
		e.Status = models.DispatchStatusFailed
		e.ErrorMessage = &errorMessage
		e.ClaimedAt = nil
	}, models.DispatchStatusPending, models.DispatchStatusSent)
}

func (r *memoryDispatchLogs) MarkDelivered(ctx context.Context, id uint, deliveredAt time.Time) error {
	return r.update(id, "MarkDelivered", func(e *models.DispatchLogEntry) {
		e.Status = models.DispatchStatusDelivered
		e.DeliveredAt = &deliveredAt
	}, models.DispatchStatusSent)
}

func (r *memoryDispatchLogs) EnsurePending(ctx context.Context, entries []*models.DispatchLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.Now()
	for _, e := range entries {
		if r.find(e.CampaignID, e.LeadID) != nil {
			continue
		}
		e.ID = r.s.next("dispatch_logs")
		e.Status = models.DispatchStatusPending
		e.ClaimedAt = nil
		e.CreatedAt = now
		e.UpdatedAt = now
		r.s.logs[e.ID] = clone(e)
	}
	return nil
}

func (r *memoryDispatchLogs) ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.DispatchLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range sortedKeys(r.s.logs) {
		e := r.s.logs[id]
		if e.ProviderMessageID != nil && *e.ProviderMessageID == providerMessageID {
			return clone(e), nil
		}
	}
	return nil, nil
}

func (r *memoryDispatchLogs) ListByCampaign(ctx context.Context, campaignID uint, status *models.DispatchStatus, limit, offset int) ([]*models.DispatchLogEntry, int64, error) {
	all, _ := r.ByFilter(ctx, models.DispatchLogFilter{CampaignID: &campaignID, Status: status}, "", 0, 0)
	return window(all, limit, offset), int64(len(all)), nil
}

func (r *memoryDispatchLogs) Stats(ctx context.Context, campaignID uint) (models.DispatchStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var stats models.DispatchStats
	for _, e := range r.s.logs {
		if e.CampaignID != campaignID {
			continue
		}
		switch e.Status {
		case models.DispatchStatusPending:
			stats.Pending++
		case models.DispatchStatusSent:
			stats.Sent++
		case models.DispatchStatusDelivered:
			stats.Delivered++
		case models.DispatchStatusFailed:
			stats.Failed++
		}
		if e.SentAt != nil {
			stats.Charged++
		}
		if e.SentAt != nil && (stats.LastSentAt == nil || e.SentAt.After(*stats.LastSentAt)) {
			at := *e.SentAt
			stats.LastSentAt = &at
		}
	}
	return stats, nil
}

// Credits

func (s *MemoryStore) Credits() repository.CreditBalanceRepository { return &memoryCredits{s} }

type memoryCredits struct{ s *MemoryStore }

func (r *memoryCredits) ByOwner(ctx context.Context, ownerID uint) (*models.CreditBalance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return clone(r.s.balances[ownerID]), nil
}

func (r *memoryCredits) Reserve(ctx context.Context, ownerID uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Reserve"); err != nil {
		return false, err
	}
	b, ok := r.s.balances[ownerID]
	if !ok || b.Available() <= 0 {
		return false, nil
	}
	b.Reserved++
	return true, nil
}

func (r *memoryCredits) settle(ownerID uint, op string, fn func(*models.CreditBalance)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Credits." + op); err != nil {
		return err
	}
	b, ok := r.s.balances[ownerID]
	if !ok || b.Reserved <= 0 {
		return fmt.Errorf("failed to %s credit for owner %d: %w", op, ownerID, repository.ErrNoReservation)
	}
	fn(b)
	b.UpdatedAt = r.s.Now()
	return nil
}

func (r *memoryCredits) Commit(ctx context.Context, ownerID uint) error {
	return r.settle(ownerID, "commit", func(b *models.CreditBalance) {
		b.Used++
		b.Reserved--
	})
}

func (r *memoryCredits) Release(ctx context.Context, ownerID uint) error {
	return r.settle(ownerID, "release", func(b *models.CreditBalance) {
		b.Reserved--
	})
}

func (r *memoryCredits) AddCredits(ctx context.Context, ownerID uint, amount int64) (*models.CreditBalance, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive: %d", amount)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("AddCredits"); err != nil {
		return nil, err
	}
	now := r.s.Now()
	b, ok := r.s.balances[ownerID]
	if !ok {
		b = &models.CreditBalance{ID: r.s.next("credit_balances"), OwnerID: ownerID, CreatedAt: now}
		r.s.balances[ownerID] = b
	}
	b.Total += amount
	b.UpdatedAt = now
	return clone(b), nil
}

func (r *memoryCredits) ResetReservations(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, b := range r.s.balances {
		if b.Reserved > 0 {
			b.Reserved = 0
			n++
		}
	}
	return n, nil
}

// Credit purchases

func (s *MemoryStore) Purchases() repository.CreditPurchaseRepository { return &memoryPurchases{s} }

type memoryPurchases struct{ s *MemoryStore }

func matchPurchase(p *models.CreditPurchase, f models.CreditPurchaseFilter) bool {
	return (f.OwnerID == nil || p.OwnerID == *f.OwnerID) &&
		(f.CreatedAfter == nil || !p.CreatedAt.Before(*f.CreatedAfter)) &&
		(f.CreatedBefore == nil || !p.CreatedAt.After(*f.CreatedBefore))
}

func (r *memoryPurchases) ByID(ctx context.Context, id uint) (*models.CreditPurchase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return clone(r.s.purchases[id]), nil
}

func (r *memoryPurchases) ByFilter(ctx context.Context, f models.CreditPurchaseFilter, orderBy string, limit, offset int) ([]*models.CreditPurchase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return window(collect(r.s.purchases, func(p *models.CreditPurchase) bool { return matchPurchase(p, f) }), limit, offset), nil
}

func (r *memoryPurchases) Save(ctx context.Context, p *models.CreditPurchase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Purchase.Save"); err != nil {
		return err
	}
	_ = p.BeforeCreate(nil)
	if p.ID == 0 {
		p.ID = r.s.next("credit_purchases")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.s.Now()
	}
	r.s.purchases[p.ID] = clone(p)
	return nil
}

func (r *memoryPurchases) SaveBatch(ctx context.Context, ps []*models.CreditPurchase) error {
	for _, p := range ps {
		if err := r.Save(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryPurchases) Count(ctx context.Context, f models.CreditPurchaseFilter) (int64, error) {
	items, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(items)), nil
}

func (r *memoryPurchases) Exists(ctx context.Context, f models.CreditPurchaseFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *memoryPurchases) ListByOwner(ctx context.Context, ownerID uint, limit, offset int) ([]*models.CreditPurchase, error) {
	items, _ := r.ByFilter(ctx, models.CreditPurchaseFilter{OwnerID: &ownerID}, "", 0, 0)
	reverse(items)
	return window(items, limit, offset), nil
}

// Audit log

func (s *MemoryStore) Audit() repository.AuditLogRepository { return &memoryAudit{s} }

type memoryAudit struct{ s *MemoryStore }

func matchAudit(a *models.AuditLog, f models.AuditLogFilter) bool {
	if f.ID != nil && a.ID != *f.ID {
		return false
	}
	if f.OwnerID != nil && (a.OwnerID == nil || *a.OwnerID != *f.OwnerID) {
		return false
	}
	if f.CampaignID != nil && (a.CampaignID == nil || *a.CampaignID != *f.CampaignID) {
		return false
	}
	if f.Action != nil && a.Action != *f.Action {
		return false
	}
	if f.Success != nil && utils.IsTrue(a.Success) != *f.Success {
		return false
	}
	if f.RequestID != nil && (a.RequestID == nil || *a.RequestID != *f.RequestID) {
		return false
	}
	if f.CreatedAfter != nil && a.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && a.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

func (r *memoryAudit) ByID(ctx context.Context, id uint) (*models.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return clone(r.s.audits[id]), nil
}

func (r *memoryAudit) ByFilter(ctx context.Context, f models.AuditLogFilter, orderBy string, limit, offset int) ([]*models.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return window(collect(r.s.audits, func(a *models.AuditLog) bool { return matchAudit(a, f) }), limit, offset), nil
}

func (r *memoryAudit) Save(ctx context.Context, a *models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == 0 {
		a.ID = r.s.next("audit_log")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.s.Now()
	}
	r.s.audits[a.ID] = clone(a)
	return nil
}

func (r *memoryAudit) SaveBatch(ctx context.Context, as []*models.AuditLog) error {
	for _, a := range as {
		if err := r.Save(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryAudit) Count(ctx context.Context, f models.AuditLogFilter) (int64, error) {
	items, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(items)), nil
}

func (r *memoryAudit) Exists(ctx context.Context, f models.AuditLogFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *memoryAudit) ListByOwner(ctx context.Context, ownerID uint, limit, offset int) ([]*models.AuditLog, error) {
	items, _ := r.ByFilter(ctx, models.AuditLogFilter{OwnerID: &ownerID}, "", 0, 0)
	reverse(items)
	return window(items, limit, offset), nil
}

func (r *memoryAudit) ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.AuditLog, error) {
	return r.ByFilter(ctx, models.AuditLogFilter{CampaignID: &campaignID}, "", limit, offset)
}

// Inspection helpers for assertions

// Entries returns the campaign's dispatch log ordered by lead id
func (s *MemoryStore) Entries(campaignID uint) []*models.DispatchLogEntry {
	items, _ := s.DispatchLogs().ByFilter(context.Background(), models.DispatchLogFilter{CampaignID: &campaignID}, "", 0, 0)
	return items
}

// CountByStatus counts the campaign's dispatch entries in the given status
func (s *MemoryStore) CountByStatus(campaignID uint, status models.DispatchStatus) int {
	n := 0
	for _, e := range s.Entries(campaignID) {
		if e.Status == status {
			n++
		}
	}
	return n
}

// Campaign returns the stored campaign, including soft-deleted ones
func (s *MemoryStore) Campaign(id uint) *models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.campaigns[id])
}

// IsDeleted reports whether the campaign was soft-deleted
func (s *MemoryStore) IsDeleted(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted[id]
}

// Balance returns the owner's credit balance or nil
func (s *MemoryStore) Balance(ownerID uint) *models.CreditBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.balances[ownerID])
}

// AuditActions lists recorded audit actions in insertion order
func (s *MemoryStore) AuditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range sortedKeys(s.audits) {
		out = append(out, s.audits[id].Action)
	}
	return out
}
