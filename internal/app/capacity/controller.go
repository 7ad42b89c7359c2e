// Package capacity is the admission controller for instance resources. The
// host budget is fixed; reservations bridge the gap between the admission
// decision and the instance row existing, so two concurrent creates can
// never oversubscribe the host.
package capacity

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/observability"
)

// Controller tracks committed and in-flight resource usage.
type Controller struct {
	limits domain.CapacityLimits

	mu        sync.Mutex
	usedCPU   float64
	usedMemMB int
	instances int
	pending   map[string]domain.ResourceSpec // reservation token → spec
}

// New creates a controller with empty usage.
func New(limits domain.CapacityLimits) *Controller {
	return &Controller{
		limits:  limits,
		pending: make(map[string]domain.ResourceSpec),
	}
}

// Rebuild resets committed usage from persisted instance rows. Called once
// at startup before the API accepts traffic.
func (c *Controller) Rebuild(cpu float64, memMB, instances int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usedCPU = cpu
	c.usedMemMB = memMB
	c.instances = instances
	c.publish()
	log.Printf("[capacity] rebuilt usage: cpu=%.2f mem=%dMB instances=%d", cpu, memMB, instances)
}

// Reserve admits a spec and holds its resources under a token until Commit
// or Rollback. Fails with ErrInsufficientCapacity when the allocatable
// budget cannot fit the spec.
func (c *Controller) Reserve(spec domain.ResourceSpec) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.usedCPU+c.pendingCPU()+spec.CPU > c.limits.AllocatableCPU() ||
		c.usedMemMB+c.pendingMemMB()+spec.MemoryMB > c.limits.AllocatableMemoryMB() {
		return "", domain.ErrInsufficientCapacity
	}
	token := uuid.New().String()
	c.pending[token] = spec
	return token, nil
}

// Commit converts a reservation into committed usage.
func (c *Controller) Commit(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	spec, ok := c.pending[token]
	if !ok {
		return
	}
	delete(c.pending, token)
	c.usedCPU += spec.CPU
	c.usedMemMB += spec.MemoryMB
	c.instances++
	c.publish()
}

// Rollback drops a reservation without committing it.
func (c *Controller) Rollback(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, token)
}

// Release returns committed resources when an instance stops or is deleted.
func (c *Controller) Release(spec domain.ResourceSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usedCPU -= spec.CPU
	c.usedMemMB -= spec.MemoryMB
	c.instances--
	if c.usedCPU < 0 {
		c.usedCPU = 0
	}
	if c.usedMemMB < 0 {
		c.usedMemMB = 0
	}
	if c.instances < 0 {
		c.instances = 0
	}
	c.publish()
}

// Acquire admits and commits in one step, for restarts of stopped instances
// where no asynchronous step sits between admission and use.
func (c *Controller) Acquire(spec domain.ResourceSpec) error {
	token, err := c.Reserve(spec)
	if err != nil {
		return err
	}
	c.Commit(token)
	return nil
}

// Snapshot reports the current budget for the capacity endpoint.
func (c *Controller) Snapshot() domain.CapacitySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	usedCPU := c.usedCPU + c.pendingCPU()
	usedMem := c.usedMemMB + c.pendingMemMB()
	availCPU := c.limits.AllocatableCPU() - usedCPU
	availMem := c.limits.AllocatableMemoryMB() - usedMem

	fits := func(spec domain.ResourceSpec) bool {
		return spec.CPU <= availCPU && spec.MemoryMB <= availMem
	}
	return domain.CapacitySnapshot{
		Total:           domain.ResourceSpec{CPU: c.limits.TotalCPU, MemoryMB: c.limits.TotalMemoryMB},
		Reserved:        domain.ResourceSpec{CPU: c.limits.ReservedCPU, MemoryMB: c.limits.ReservedMemoryMB},
		Used:            domain.ResourceSpec{CPU: usedCPU, MemoryMB: usedMem},
		Available:       domain.ResourceSpec{CPU: availCPU, MemoryMB: availMem},
		ActiveInstances: c.instances,
		CanCreateTiny:   fits(domain.TierTiny),
		CanCreateSmall:  fits(domain.TierSmall),
		CanCreateMedium: fits(domain.TierMedium),
	}
}

func (c *Controller) pendingCPU() float64 {
	var sum float64
	for _, s := range c.pending {
		sum += s.CPU
	}
	return sum
}

func (c *Controller) pendingMemMB() int {
	var sum int
	for _, s := range c.pending {
		sum += s.MemoryMB
	}
	return sum
}

// publish pushes gauges; callers hold c.mu.
func (c *Controller) publish() {
	observability.CapacityCPUUsed.Set(c.usedCPU)
	observability.CapacityMemoryUsedMB.Set(float64(c.usedMemMB))
}
