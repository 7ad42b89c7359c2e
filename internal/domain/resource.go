package domain

// ─── Cluster Capacity Types ─────────────────────────────────────────────────
// Admission control budgets a single small cluster. Totals are configuration,
// not discovery: the operator states what the cluster can hold and the
// admission controller keeps creations inside it.

// CapacityLimits is the configured cluster budget.
type CapacityLimits struct {
	TotalCPU         float64
	TotalMemoryMB    int
	ReservedCPU      float64 // held back for system components
	ReservedMemoryMB int
}

// DefaultCapacityLimits returns the production single-node budget.
func DefaultCapacityLimits() CapacityLimits {
	return CapacityLimits{
		TotalCPU:         2.0,
		TotalMemoryMB:    8192,
		ReservedCPU:      0.5,
		ReservedMemoryMB: 1536,
	}
}

// AllocatableCPU is the budget minus the system reserve.
func (c CapacityLimits) AllocatableCPU() float64 { return c.TotalCPU - c.ReservedCPU }

// AllocatableMemoryMB is the budget minus the system reserve.
func (c CapacityLimits) AllocatableMemoryMB() int { return c.TotalMemoryMB - c.ReservedMemoryMB }

// Tier reference specs used for the "can I still create X?" booleans.
var (
	TierTiny   = ResourceSpec{CPU: 0.1, MemoryMB: 256}
	TierSmall  = ResourceSpec{CPU: 0.25, MemoryMB: 512}
	TierMedium = ResourceSpec{CPU: 0.5, MemoryMB: 1024}
)

// CapacitySnapshot is the public view of cluster headroom.
type CapacitySnapshot struct {
	Total           ResourceSpec `json:"total"`
	Reserved        ResourceSpec `json:"reserved"`
	Used            ResourceSpec `json:"used"`
	Available       ResourceSpec `json:"available"`
	ActiveInstances int          `json:"activeInstances"`
	CanCreateTiny   bool         `json:"canCreateTiny"`
	CanCreateSmall  bool         `json:"canCreateSmall"`
	CanCreateMedium bool         `json:"canCreateMedium"`
}
