package instance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/grovekit/grove/internal/app/capacity"
	"github.com/grovekit/grove/internal/app/ledger"
	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

type harness struct {
	db     *sqlite.DB
	ledger *ledger.Service
	cap    *capacity.Controller
	mgr    *Manager
}

func newHarness(t *testing.T, prov Provisioner) *harness {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	led := ledger.New(db, domain.DefaultHarvestRules())
	capc := capacity.New(domain.DefaultCapacityLimits())

	if prov == nil {
		sim := NewSimProvisioner()
		sim.Latency = 0
		prov = sim
	}
	mgr, err := New(DefaultConfig(), db, led, capc, prov)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	t.Cleanup(mgr.StopBilling) // drains in-flight provisioning goroutines
	return &harness{db: db, ledger: led, cap: capc, mgr: mgr}
}

func (h *harness) fundedAccount(t *testing.T, id string, balance int64) {
	t.Helper()
	now := time.Now().UTC()
	if _, err := h.ledger.EnsureAccount(id, "", now); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if balance > 30 {
		if _, err := h.ledger.Apply(id, domain.ActionHarvest, balance-30, nil, "top up", now); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
}

// waitStatus polls until the instance leaves Provisioning.
func (h *harness) waitStatus(t *testing.T, externalID string) *domain.Instance {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := h.db.InstanceByExternalID(externalID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if inst.Status != domain.StatusProvisioning {
			return inst
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("instance stuck in provisioning")
	return nil
}

func customRedis() CreateRequest {
	return CreateRequest{
		Name:   "cache",
		Type:   domain.Redis,
		Custom: &domain.ResourceSpec{CPU: 0.25, MemoryMB: 512, DiskGB: 5},
	}
}

func TestCreateDebitsAndProvisions(t *testing.T) {
	h := newHarness(t, nil)
	h.fundedAccount(t, "u1", 100)
	now := time.Now().UTC()

	inst, err := h.mgr.Create("u1", customRedis(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Status != domain.StatusProvisioning {
		t.Errorf("initial status = %s", inst.Status)
	}
	// creation 10 + first hour 1
	acct, _ := h.ledger.Account("u1")
	if acct.LemonBalance != 89 {
		t.Errorf("balance after create = %d, want 89", acct.LemonBalance)
	}

	got := h.waitStatus(t, inst.ExternalID)
	if got.Status != domain.StatusRunning {
		t.Fatalf("status = %s (%s), want running", got.Status, got.StatusReason)
	}
	if got.Endpoint == "" || got.Port == 0 {
		t.Errorf("endpoint not recorded: %q:%d", got.Endpoint, got.Port)
	}

	snap := h.cap.Snapshot()
	if snap.ActiveInstances != 1 || snap.Used.CPU != 0.25 {
		t.Errorf("capacity after provision: %+v instances=%d", snap.Used, snap.ActiveInstances)
	}
}

type failingProvisioner struct{}

func (failingProvisioner) Provision(ctx context.Context, inst *domain.Instance) (string, int, error) {
	return "", 0, fmt.Errorf("no hosts available")
}
func (failingProvisioner) Teardown(ctx context.Context, inst *domain.Instance) error { return nil }

func TestProvisionFailureRefunds(t *testing.T) {
	h := newHarness(t, failingProvisioner{})
	h.fundedAccount(t, "u1", 100)
	now := time.Now().UTC()

	inst, err := h.mgr.Create("u1", customRedis(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got := h.waitStatus(t, inst.ExternalID)
	if got.Status != domain.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}

	h.mgr.StopBilling() // wait for the refund goroutine
	acct, _ := h.ledger.Account("u1")
	if acct.LemonBalance != 100 {
		t.Errorf("balance after refund = %d, want 100", acct.LemonBalance)
	}

	snap := h.cap.Snapshot()
	if snap.Used.CPU != 0 || snap.ActiveInstances != 0 {
		t.Errorf("capacity not rolled back: %+v instances=%d", snap.Used, snap.ActiveInstances)
	}
}

func TestCreateGuards(t *testing.T) {
	h := newHarness(t, nil)
	h.fundedAccount(t, "u1", 200)
	now := time.Now().UTC()

	// insufficient balance
	h.fundedAccount(t, "poor", 30)
	big := CreateRequest{Name: "big", Type: domain.MongoDB, Custom: &domain.ResourceSpec{CPU: 0.5, MemoryMB: 2048, DiskGB: 10}}
	if _, err := h.mgr.Create("poor", big, now); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("underfunded create err = %v, want ErrInsufficientBalance", err)
	}

	// invalid specs
	for _, req := range []CreateRequest{
		{Name: "", Type: domain.Redis, Custom: &domain.ResourceSpec{CPU: 0.25, MemoryMB: 512, DiskGB: 5}},
		{Name: "x", Type: domain.Redis},
		{Name: "x", Type: "mysql", Custom: &domain.ResourceSpec{CPU: 0.25, MemoryMB: 512, DiskGB: 5}},
		{Name: "x", Type: domain.Redis, Custom: &domain.ResourceSpec{CPU: 8, MemoryMB: 512, DiskGB: 5}},
		{Name: "x", PresetID: "redis-small", Custom: &domain.ResourceSpec{CPU: 0.25, MemoryMB: 512, DiskGB: 5}},
	} {
		if _, err := h.mgr.Create("u1", req, now); !errors.Is(err, domain.ErrInvalidInstanceSpec) {
			t.Errorf("create %+v err = %v, want ErrInvalidInstanceSpec", req, err)
		}
	}

	// duplicate name refunds the debit
	if _, err := h.mgr.Create("u1", customRedis(), now); err != nil {
		t.Fatalf("first create: %v", err)
	}
	before, _ := h.ledger.Account("u1")
	if _, err := h.mgr.Create("u1", customRedis(), now); !errors.Is(err, domain.ErrInstanceNameConflict) {
		t.Fatalf("duplicate err = %v, want ErrInstanceNameConflict", err)
	}
	h.mgr.StopBilling()
	after, _ := h.ledger.Account("u1")
	if after.LemonBalance != before.LemonBalance {
		t.Errorf("balance changed on failed create: %d -> %d", before.LemonBalance, after.LemonBalance)
	}
}

func TestOwnerQuota(t *testing.T) {
	h := newHarness(t, nil)
	h.fundedAccount(t, "u1", 500)
	now := time.Now().UTC()

	for i := 0; i < domain.MaxInstancesPerAccount; i++ {
		req := customRedis()
		req.Name = fmt.Sprintf("cache-%d", i)
		if _, err := h.mgr.Create("u1", req, now); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	req := customRedis()
	req.Name = "one-too-many"
	if _, err := h.mgr.Create("u1", req, now); !errors.Is(err, domain.ErrOwnerQuotaExceeded) {
		t.Fatalf("quota err = %v, want ErrOwnerQuotaExceeded", err)
	}
}

func TestConcurrentCreatesRespectQuota(t *testing.T) {
	h := newHarness(t, nil)
	h.fundedAccount(t, "u1", 500)
	now := time.Now().UTC()

	const callers = 6
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			req := customRedis()
			req.Name = fmt.Sprintf("cache-%d", i)
			_, err := h.mgr.Create("u1", req, now)
			errs <- err
		}(i)
	}

	var created, refused int
	for i := 0; i < callers; i++ {
		switch err := <-errs; {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrOwnerQuotaExceeded):
			refused++
		default:
			t.Fatalf("create: %v", err)
		}
	}
	if created != domain.MaxInstancesPerAccount || refused != callers-domain.MaxInstancesPerAccount {
		t.Fatalf("created=%d refused=%d, want %d/%d", created, refused,
			domain.MaxInstancesPerAccount, callers-domain.MaxInstancesPerAccount)
	}

	active, err := h.db.CountActiveInstances("u1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if active != domain.MaxInstancesPerAccount {
		t.Errorf("active instances = %d, want %d", active, domain.MaxInstancesPerAccount)
	}
}

// blockingProvisioner holds every Provision call until the gate opens.
type blockingProvisioner struct {
	gate chan struct{}
}

func (p *blockingProvisioner) Provision(ctx context.Context, inst *domain.Instance) (string, int, error) {
	<-p.gate
	return fmt.Sprintf("%s.grove.local", inst.Name), 30001, nil
}
func (p *blockingProvisioner) Teardown(ctx context.Context, inst *domain.Instance) error {
	return nil
}

func TestDeleteWhileProvisioning(t *testing.T) {
	prov := &blockingProvisioner{gate: make(chan struct{})}
	h := newHarness(t, prov)
	h.fundedAccount(t, "u1", 100)
	now := time.Now().UTC()

	inst, err := h.mgr.Create("u1", customRedis(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Status != domain.StatusProvisioning {
		t.Fatalf("status = %s, want provisioning", inst.Status)
	}

	if err := h.mgr.Delete("u1", inst.ExternalID, now.Add(time.Second)); err != nil {
		t.Fatalf("delete while provisioning: %v", err)
	}

	// the provisioner reports into a deleted instance; its reservation and
	// the creation debit must come back
	close(prov.gate)
	h.mgr.StopBilling()

	if _, err := h.db.InstanceByExternalID(inst.ExternalID); !errors.Is(err, domain.ErrInstanceNotFound) {
		t.Fatalf("get after delete err = %v, want ErrInstanceNotFound", err)
	}
	acct, _ := h.ledger.Account("u1")
	if acct.LemonBalance != 100 {
		t.Errorf("balance = %d, want full refund to 100", acct.LemonBalance)
	}
	snap := h.cap.Snapshot()
	if snap.Used.CPU != 0 || snap.Used.MemoryMB != 0 || snap.ActiveInstances != 0 {
		t.Errorf("capacity reservation leaked: %+v instances=%d", snap.Used, snap.ActiveInstances)
	}
}

func TestStopStartLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.fundedAccount(t, "u1", 100)
	now := time.Now().UTC()

	inst, err := h.mgr.Create("u1", customRedis(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.waitStatus(t, inst.ExternalID)

	stopped, err := h.mgr.Stop("u1", inst.ExternalID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != domain.StatusStopped || stopped.StoppedAt == nil {
		t.Errorf("stopped = %+v", stopped)
	}
	if snap := h.cap.Snapshot(); snap.Used.CPU != 0 {
		t.Errorf("capacity not released on stop: %+v", snap.Used)
	}

	// double stop: not running anymore
	if _, err := h.mgr.Stop("u1", inst.ExternalID, now.Add(2*time.Minute)); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("double stop err = %v, want ErrInvalidTransition", err)
	}

	balBefore, _ := h.ledger.Account("u1")
	restarted, err := h.mgr.Start("u1", inst.ExternalID, now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if restarted.Status != domain.StatusRunning || restarted.StoppedAt != nil {
		t.Errorf("restarted = %+v", restarted)
	}
	balAfter, _ := h.ledger.Account("u1")
	if balAfter.LemonBalance != balBefore.LemonBalance-inst.Cost.HourlyLemons {
		t.Errorf("restart charge: %d -> %d", balBefore.LemonBalance, balAfter.LemonBalance)
	}
}

func TestBillingSweep(t *testing.T) {
	h := newHarness(t, nil)
	h.fundedAccount(t, "u1", 100)
	now := time.Now().UTC()

	inst, err := h.mgr.Create("u1", customRedis(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.waitStatus(t, inst.ExternalID)

	// recently billed at creation: sweep skips it
	h.mgr.RunBilling(now.Add(10 * time.Minute))
	acct, _ := h.ledger.Account("u1")
	if acct.LemonBalance != 89 {
		t.Fatalf("balance after skipped sweep = %d, want 89", acct.LemonBalance)
	}

	// an hour later it charges
	h.mgr.RunBilling(now.Add(time.Hour + time.Minute))
	acct, _ = h.ledger.Account("u1")
	if acct.LemonBalance != 88 {
		t.Fatalf("balance after charged sweep = %d, want 88", acct.LemonBalance)
	}
}

func TestBillingStopsWhenBroke(t *testing.T) {
	h := newHarness(t, nil)
	h.fundedAccount(t, "u1", 100)
	now := time.Now().UTC()

	inst, err := h.mgr.Create("u1", customRedis(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.waitStatus(t, inst.ExternalID)

	// drain the balance so the next charge cannot be paid
	acct, _ := h.ledger.Account("u1")
	if _, err := h.ledger.Apply("u1", domain.ActionInstanceMaintain, -acct.LemonBalance, nil, "drain", now); err != nil {
		t.Fatalf("drain: %v", err)
	}

	h.mgr.RunBilling(now.Add(2 * time.Hour))

	got, _ := h.db.InstanceByExternalID(inst.ExternalID)
	if got.Status != domain.StatusStopped {
		t.Fatalf("status = %s, want stopped (never deleted)", got.Status)
	}
	if got.StatusReason != "insufficient lemons" {
		t.Errorf("reason = %q", got.StatusReason)
	}
	if snap := h.cap.Snapshot(); snap.Used.CPU != 0 {
		t.Errorf("capacity not released: %+v", snap.Used)
	}
}

func TestDeleteLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.fundedAccount(t, "u1", 100)
	now := time.Now().UTC()

	inst, err := h.mgr.Create("u1", customRedis(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.waitStatus(t, inst.ExternalID)

	if err := h.mgr.Delete("u1", inst.ExternalID, now.Add(time.Minute)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	h.mgr.StopBilling() // wait for teardown

	if _, err := h.db.InstanceByExternalID(inst.ExternalID); !errors.Is(err, domain.ErrInstanceNotFound) {
		t.Fatalf("get after delete err = %v, want ErrInstanceNotFound", err)
	}
	if snap := h.cap.Snapshot(); snap.Used.CPU != 0 || snap.ActiveInstances != 0 {
		t.Errorf("capacity after delete: %+v instances=%d", snap.Used, snap.ActiveInstances)
	}
}

func TestDeleteOwnership(t *testing.T) {
	h := newHarness(t, nil)
	h.fundedAccount(t, "u1", 100)
	h.fundedAccount(t, "u2", 100)
	now := time.Now().UTC()

	inst, err := h.mgr.Create("u1", customRedis(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.mgr.Delete("u2", inst.ExternalID, now); !errors.Is(err, domain.ErrInstanceNotFound) {
		t.Fatalf("foreign delete err = %v, want ErrInstanceNotFound", err)
	}
}

func TestEstimateCost(t *testing.T) {
	h := newHarness(t, nil)

	cost, err := h.mgr.EstimateCost(CreateRequest{PresetID: "mongodb-medium"})
	if err != nil {
		t.Fatalf("preset estimate: %v", err)
	}
	if cost.HourlyLemons != 4 || cost.CreationCost != 40 {
		t.Errorf("preset cost = %+v", cost)
	}

	cost, err = h.mgr.EstimateCost(CreateRequest{
		Type:   domain.MongoDB,
		Name:   "x",
		Custom: &domain.ResourceSpec{CPU: 0.5, MemoryMB: 1024, DiskGB: 10},
	})
	if err != nil {
		t.Fatalf("custom estimate: %v", err)
	}
	if cost.HourlyLemons != 3 || cost.CreationCost != 30 {
		t.Errorf("custom cost = %+v", cost)
	}

	if _, err := h.mgr.EstimateCost(CreateRequest{PresetID: "nope"}); !errors.Is(err, domain.ErrPresetNotFound) {
		t.Errorf("missing preset err = %v, want ErrPresetNotFound", err)
	}
}
