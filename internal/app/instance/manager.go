// Package instance owns the database instance lifecycle: admission, pricing,
// asynchronous provisioning, stop/start, deletion, and the hourly billing
// sweep that keeps running instances paid for.
//
// Creation is pay-first: the creation fee plus the first hour are debited
// before the provisioner runs, and refunded in full if provisioning fails.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grovekit/grove/internal/app/capacity"
	"github.com/grovekit/grove/internal/app/ledger"
	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/observability"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

// Config controls manager behavior.
type Config struct {
	BillingInterval  time.Duration // billing sweep cadence
	BillingSkipUnder time.Duration // skip instances billed more recently than this
	ProvisionTimeout time.Duration
}

// DefaultConfig returns the production lifecycle policy.
func DefaultConfig() Config {
	return Config{
		BillingInterval:  time.Hour,
		BillingSkipUnder: 50 * time.Minute,
		ProvisionTimeout: 2 * time.Minute,
	}
}

// Manager runs the instance lifecycle.
type Manager struct {
	cfg    Config
	db     *sqlite.DB
	ledger *ledger.Service
	cap    *capacity.Controller
	prov   Provisioner

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	running bool
	wg      sync.WaitGroup
}

// New creates a manager and rebuilds the capacity controller from persisted
// instances.
func New(cfg Config, db *sqlite.DB, led *ledger.Service, cap *capacity.Controller, prov Provisioner) (*Manager, error) {
	cpu, memMB, count, err := db.ActiveResourceUsage()
	if err != nil {
		return nil, fmt.Errorf("rebuild capacity: %w", err)
	}
	cap.Rebuild(cpu, memMB, count)
	return &Manager{cfg: cfg, db: db, ledger: led, cap: cap, prov: prov}, nil
}

// CreateRequest is what the client asks for. Exactly one of PresetID or
// Custom must be set.
type CreateRequest struct {
	Name     string               `json:"name"`
	Type     domain.DBType        `json:"type"`
	Mode     domain.DBMode        `json:"mode,omitempty"`
	PresetID string               `json:"presetId,omitempty"`
	Custom   *domain.ResourceSpec `json:"custom,omitempty"`
}

// resolved is a priced, canonical instance shape.
type resolved struct {
	dbType     domain.DBType
	mode       domain.DBMode
	size       domain.DBSize
	spec       domain.ResourceSpec
	cost       domain.LemonCost
	fromPreset *string
}

func (m *Manager) resolve(req CreateRequest) (*resolved, error) {
	if req.PresetID != "" {
		if req.Custom != nil {
			return nil, domain.ErrInvalidInstanceSpec
		}
		p, err := m.db.Preset(req.PresetID)
		if err != nil {
			return nil, err
		}
		id := p.ID
		return &resolved{
			dbType:     p.Type,
			mode:       p.Mode,
			size:       p.Size,
			spec:       p.Resources,
			cost:       p.Cost,
			fromPreset: &id,
		}, nil
	}

	if req.Custom == nil || !req.Type.Valid() {
		return nil, domain.ErrInvalidInstanceSpec
	}
	spec := *req.Custom
	if spec.CPU <= 0 || spec.CPU > 4 || spec.MemoryMB < 128 || spec.MemoryMB > 16384 ||
		spec.DiskGB < 1 || spec.DiskGB > 100 {
		return nil, domain.ErrInvalidInstanceSpec
	}
	mode := req.Mode
	if mode == "" {
		mode = req.Type.DefaultMode()
	}
	return &resolved{
		dbType: req.Type,
		mode:   mode,
		size:   spec.SizeClass(),
		spec:   spec,
		cost:   domain.CustomCost(req.Type, spec),
	}, nil
}

// EstimateCost prices a request without creating anything.
func (m *Manager) EstimateCost(req CreateRequest) (*domain.LemonCost, error) {
	r, err := m.resolve(req)
	if err != nil {
		return nil, err
	}
	cost := r.cost
	return &cost, nil
}

// Create admits, debits, and inserts a Provisioning instance, then kicks off
// the provisioner in the background. The debit covers the creation fee plus
// the first hour of runtime; a failed insert or failed provisioning refunds
// it entirely.
func (m *Manager) Create(accountID string, req CreateRequest, now time.Time) (*domain.Instance, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 63 {
		return nil, domain.ErrInvalidInstanceSpec
	}
	r, err := m.resolve(req)
	if err != nil {
		return nil, err
	}

	// The account's stripe lock spans the quota check, the debit, and the
	// insert, so two concurrent creates by one owner cannot both pass the
	// quota count.
	unlock := m.ledger.Lock(accountID)
	defer unlock()

	active, err := m.db.CountActiveInstances(accountID)
	if err != nil {
		return nil, err
	}
	if active >= domain.MaxInstancesPerAccount {
		return nil, domain.ErrOwnerQuotaExceeded
	}

	token, err := m.cap.Reserve(r.spec)
	if err != nil {
		return nil, err
	}

	externalID := uuid.New().String()
	debit := r.cost.CreationCost + r.cost.HourlyLemons
	note := fmt.Sprintf("create %s instance %q", r.dbType, name)
	if _, err := m.ledger.ApplyLocked(accountID, domain.ActionInstanceCreate, -debit, &externalID, note, now); err != nil {
		m.cap.Rollback(token)
		return nil, err
	}

	billed := now
	inst := &domain.Instance{
		ExternalID:   externalID,
		AccountID:    accountID,
		Name:         name,
		Type:         r.dbType,
		Size:         r.size,
		Mode:         r.mode,
		FromPreset:   r.fromPreset,
		Resources:    r.spec,
		Cost:         r.cost,
		Status:       domain.StatusProvisioning,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastBilledAt: &billed,
	}
	if err := m.db.CreateInstance(inst); err != nil {
		if _, rerr := m.ledger.ApplyLocked(accountID, domain.ActionInstanceCreateRefund, debit, &externalID, "creation aborted", now); rerr != nil {
			log.Printf("[instance] refund %d lemons to %s: %v", debit, accountID, rerr)
		}
		m.cap.Rollback(token)
		return nil, err
	}

	m.wg.Add(1)
	go m.provision(inst, token, debit)
	return inst, nil
}

// provision drives one instance from Provisioning to Running or Error.
func (m *Manager) provision(inst *domain.Instance, token string, debit int64) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProvisionTimeout)
	defer cancel()

	now := func() time.Time { return time.Now().UTC() }

	endpoint, port, err := m.prov.Provision(ctx, inst)
	if err != nil {
		log.Printf("[instance] provision failed %s: %v", inst.ExternalID, err)
		if terr := m.db.UpdateInstanceStatus(inst.ID, domain.StatusProvisioning, domain.StatusError, err.Error(), now()); terr != nil {
			log.Printf("[instance] mark error %s: %v", inst.ExternalID, terr)
		}
		m.refund(inst.AccountID, inst.ExternalID, debit, "provisioning failed")
		m.cap.Rollback(token)
		observability.ProvisionsTotal.WithLabelValues("failure").Inc()
		return
	}

	if err := m.db.SetInstanceEndpoint(inst.ID, endpoint, port, now()); err != nil {
		log.Printf("[instance] set endpoint %s: %v", inst.ExternalID, err)
	}
	if err := m.db.UpdateInstanceStatus(inst.ID, domain.StatusProvisioning, domain.StatusRunning, "", now()); err != nil {
		// The instance left Provisioning underneath us (deleted mid-flight,
		// or swept elsewhere). The reservation and the debit belong to a
		// run state that will never exist; hand them back.
		log.Printf("[instance] mark running %s: %v", inst.ExternalID, err)
		m.refund(inst.AccountID, inst.ExternalID, debit, "provisioning aborted")
		m.cap.Rollback(token)
		observability.ProvisionsTotal.WithLabelValues("aborted").Inc()
		return
	}
	m.cap.Commit(token)
	observability.ProvisionsTotal.WithLabelValues("success").Inc()
}

func (m *Manager) refund(accountID, externalID string, amount int64, reason string) {
	if _, err := m.ledger.Apply(accountID, domain.ActionInstanceCreateRefund, amount, &externalID, reason, time.Now().UTC()); err != nil {
		log.Printf("[instance] refund %d lemons to %s: %v", amount, accountID, err)
	}
}

// Get loads an instance owned by the account.
func (m *Manager) Get(accountID, externalID string) (*domain.Instance, error) {
	inst, err := m.db.InstanceByExternalID(externalID)
	if err != nil {
		return nil, err
	}
	if inst.AccountID != accountID {
		return nil, domain.ErrInstanceNotFound
	}
	return inst, nil
}

// List returns the account's instances.
func (m *Manager) List(accountID string) ([]*domain.Instance, error) {
	return m.db.InstancesByAccount(accountID)
}

// Presets returns the preset catalog.
func (m *Manager) Presets() ([]*domain.Preset, error) {
	return m.db.Presets()
}

// Stop halts a running instance. Its resources return to the pool; billing
// pauses until restart.
func (m *Manager) Stop(accountID, externalID string, now time.Time) (*domain.Instance, error) {
	inst, err := m.Get(accountID, externalID)
	if err != nil {
		return nil, err
	}
	if err := m.db.UpdateInstanceStatus(inst.ID, domain.StatusRunning, domain.StatusStopped, "stopped by owner", now); err != nil {
		return nil, err
	}
	if err := m.db.SetStoppedAt(inst.ID, &now, now); err != nil {
		log.Printf("[instance] set stopped_at %s: %v", externalID, err)
	}
	m.cap.Release(inst.Resources)
	return m.Get(accountID, externalID)
}

// Start resumes a stopped instance. Capacity is re-admitted and the first
// hour charged up front; either failing leaves the instance stopped.
func (m *Manager) Start(accountID, externalID string, now time.Time) (*domain.Instance, error) {
	inst, err := m.Get(accountID, externalID)
	if err != nil {
		return nil, err
	}
	if inst.Status != domain.StatusStopped {
		return nil, domain.ErrInvalidTransition
	}

	if err := m.cap.Acquire(inst.Resources); err != nil {
		return nil, err
	}
	note := fmt.Sprintf("restart instance %q", inst.Name)
	if _, err := m.ledger.Apply(accountID, domain.ActionInstanceMaintain, -inst.Cost.HourlyLemons, &inst.ExternalID, note, now); err != nil {
		m.cap.Release(inst.Resources)
		return nil, err
	}
	if err := m.db.UpdateInstanceStatus(inst.ID, domain.StatusStopped, domain.StatusRunning, "", now); err != nil {
		m.cap.Release(inst.Resources)
		return nil, err
	}
	if err := m.db.SetStoppedAt(inst.ID, nil, now); err != nil {
		log.Printf("[instance] clear stopped_at %s: %v", externalID, err)
	}
	if err := m.db.SetLastBilled(inst.ID, now); err != nil {
		log.Printf("[instance] set last_billed %s: %v", externalID, err)
	}
	return m.Get(accountID, externalID)
}

// Delete tears an instance down and removes its record. Deleting an instance
// that is still provisioning is allowed: the provisioner finds the state gone
// when it reports and hands back its reservation and the creation debit.
func (m *Manager) Delete(accountID, externalID string, now time.Time) error {
	inst, err := m.Get(accountID, externalID)
	if err != nil {
		return err
	}
	wasRunning := inst.Status == domain.StatusRunning
	if err := m.db.UpdateInstanceStatus(inst.ID, inst.Status, domain.StatusDeleting, "deleted by owner", now); err != nil {
		return err
	}
	// A provisioning instance's capacity is still a pending token owned by
	// the provision goroutine; only committed (running) capacity is released
	// here.
	if wasRunning {
		m.cap.Release(inst.Resources)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProvisionTimeout)
		defer cancel()
		if err := m.prov.Teardown(ctx, inst); err != nil {
			log.Printf("[instance] teardown %s: %v", externalID, err)
		}
		if err := m.db.DeleteInstance(inst.ID); err != nil {
			log.Printf("[instance] delete record %s: %v", externalID, err)
		}
	}()
	return nil
}

// ─── Billing Sweep ──────────────────────────────────────────────────────────

// StartBilling launches the hourly billing sweep.
func (m *Manager) StartBilling() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.ticker = time.NewTicker(m.cfg.BillingInterval)
	m.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-m.ticker.C:
				m.RunBilling(time.Now().UTC())
			case <-m.done:
				return
			}
		}
	}()
	log.Printf("[instance] billing sweep started (interval=%s)", m.cfg.BillingInterval)
}

// StopBilling halts the sweep and waits for in-flight provisioning work.
func (m *Manager) StopBilling() {
	m.mu.Lock()
	if m.running {
		m.running = false
		m.ticker.Stop()
		close(m.done)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// RunBilling charges every running instance one hour of runtime. Instances
// billed recently are skipped so a sweep shortly after a restart does not
// double-charge. An account that cannot pay gets the instance stopped, never
// deleted; its data survives until the owner tops up and restarts it.
func (m *Manager) RunBilling(now time.Time) {
	instances, err := m.db.InstancesByStatus(domain.StatusRunning)
	if err != nil {
		log.Printf("[instance] billing sweep failed: %v", err)
		return
	}

	for _, inst := range instances {
		last := inst.CreatedAt
		if inst.LastBilledAt != nil {
			last = *inst.LastBilledAt
		}
		if now.Sub(last) < m.cfg.BillingSkipUnder {
			observability.BillingCycles.WithLabelValues("skipped").Inc()
			continue
		}

		note := fmt.Sprintf("hourly runtime for %q", inst.Name)
		_, err := m.ledger.Apply(inst.AccountID, domain.ActionInstanceMaintain, -inst.Cost.HourlyLemons, &inst.ExternalID, note, now)
		switch {
		case err == nil:
			if err := m.db.SetLastBilled(inst.ID, now); err != nil {
				log.Printf("[instance] set last_billed %s: %v", inst.ExternalID, err)
			}
			observability.BillingCycles.WithLabelValues("charged").Inc()
		case errors.Is(err, domain.ErrInsufficientBalance):
			log.Printf("[instance] stopping %s: owner %s cannot pay %d lemons", inst.ExternalID, inst.AccountID, inst.Cost.HourlyLemons)
			if terr := m.db.UpdateInstanceStatus(inst.ID, domain.StatusRunning, domain.StatusStopped, "insufficient lemons", now); terr != nil {
				log.Printf("[instance] stop %s: %v", inst.ExternalID, terr)
				continue
			}
			if serr := m.db.SetStoppedAt(inst.ID, &now, now); serr != nil {
				log.Printf("[instance] set stopped_at %s: %v", inst.ExternalID, serr)
			}
			m.cap.Release(inst.Resources)
			observability.BillingCycles.WithLabelValues("stopped").Inc()
		default:
			log.Printf("[instance] bill %s: %v", inst.ExternalID, err)
		}
	}

	m.publishGauges()
}

func (m *Manager) publishGauges() {
	counts, err := m.db.CountInstancesByStatus()
	if err != nil {
		return
	}
	for _, status := range []domain.InstanceStatus{
		domain.StatusProvisioning, domain.StatusRunning, domain.StatusStopped,
		domain.StatusError, domain.StatusMaintenance, domain.StatusDeleting,
	} {
		observability.InstancesByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
