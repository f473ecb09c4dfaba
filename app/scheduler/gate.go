package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// campaignGate serializes sends of one campaign against a pause.
// Each send holds mu shared; Quiesce holds it exclusively while the new status is persisted.
type campaignGate struct {
	mu sync.RWMutex

	state    sync.Mutex
	halted   bool
	haltedAt time.Time // zero while a local quiesce is still persisting
}

func (g *campaignGate) isHalted() bool {
	g.state.Lock()
	defer g.state.Unlock()
	return g.halted
}

func (g *campaignGate) setHalted(halted bool, at time.Time) {
	g.state.Lock()
	defer g.state.Unlock()
	g.halted = halted
	g.haltedAt = at
}

// HaltEvent is broadcast when a campaign is halted or reopened
type HaltEvent struct {
	CampaignID uint   `json:"campaign_id"`
	Halted     bool   `json:"halted"`
	Origin     string `json:"origin"`
}

// HaltBus fans halt events out to every process running a scheduler
type HaltBus interface {
	Publish(ctx context.Context, ev HaltEvent) error
	Subscribe(ctx context.Context, fn func(HaltEvent)) error
}

// GateRegistry holds one gate per campaign for this process
type GateRegistry struct {
	mu     sync.Mutex
	gates  map[uint]*campaignGate
	bus    HaltBus
	origin string
	logger *log.Logger
	now    func() time.Time
}

// NewGateRegistry creates the registry. bus may be nil for a single process.
func NewGateRegistry(bus HaltBus, logger *log.Logger) *GateRegistry {
	if logger == nil {
		logger = log.Default()
	}
	return &GateRegistry{
		gates:  make(map[uint]*campaignGate),
		bus:    bus,
		origin: uuid.NewString(),
		logger: logger,
		now:    time.Now,
	}
}

func (r *GateRegistry) gate(campaignID uint) *campaignGate {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[campaignID]
	if !ok {
		g = &campaignGate{}
		r.gates[campaignID] = g
	}
	return g
}

// Acquire admits one send. It returns false once the campaign is halted; otherwise release must be called.
func (r *GateRegistry) Acquire(campaignID uint) (release func(), ok bool) {
	g := r.gate(campaignID)
	if g.isHalted() {
		return nil, false
	}
	g.mu.RLock()
	if g.isHalted() {
		g.mu.RUnlock()
		return nil, false
	}
	return g.mu.RUnlock, true
}

// Halted reports whether sends for the campaign are currently refused
func (r *GateRegistry) Halted(campaignID uint) bool {
	return r.gate(campaignID).isHalted()
}

// Quiesce halts the campaign, waits for in-flight sends, then runs persist while no send can start.
// If persist fails the gate is reopened and the error returned.
func (r *GateRegistry) Quiesce(ctx context.Context, campaignID uint, persist func(context.Context) error) error {
	g := r.gate(campaignID)
	g.setHalted(true, time.Time{})

	g.mu.Lock()
	err := persist(ctx)
	g.mu.Unlock()

	if err != nil {
		g.setHalted(false, time.Time{})
		return err
	}
	g.setHalted(true, r.now())
	r.publish(ctx, HaltEvent{CampaignID: campaignID, Halted: true, Origin: r.origin})
	return nil
}

// Reopen lets sends for the campaign start again, here and on every subscribed process
func (r *GateRegistry) Reopen(ctx context.Context, campaignID uint) {
	r.gate(campaignID).setHalted(false, time.Time{})
	r.publish(ctx, HaltEvent{CampaignID: campaignID, Halted: false, Origin: r.origin})
}

// Reconcile clears a settled halt when the campaign was read back as active after it.
// That happens when a resume was broadcast while this process was not listening.
func (r *GateRegistry) Reconcile(campaignID uint, activeReadAt time.Time) {
	g := r.gate(campaignID)
	g.state.Lock()
	defer g.state.Unlock()
	if g.halted && !g.haltedAt.IsZero() && g.haltedAt.Before(activeReadAt) {
		g.halted = false
		g.haltedAt = time.Time{}
	}
}

// Listen applies events from other processes until ctx is done
func (r *GateRegistry) Listen(ctx context.Context) error {
	if r.bus == nil {
		return nil
	}
	return r.bus.Subscribe(ctx, r.apply)
}

func (r *GateRegistry) apply(ev HaltEvent) {
	if ev.Origin == r.origin {
		return
	}
	g := r.gate(ev.CampaignID)
	if ev.Halted {
		g.setHalted(true, r.now())
		return
	}
	g.setHalted(false, time.Time{})
}

func (r *GateRegistry) publish(ctx context.Context, ev HaltEvent) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Printf("scheduler: publish halt event for campaign %d failed: %v", ev.CampaignID, err)
	}
}
