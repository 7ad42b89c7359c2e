package domain

import "time"

// ─── Database Instance Types ────────────────────────────────────────────────
// Instances are what lemons buy. An instance moves through an explicit state
// machine; provisioning is asynchronous, so creation returns a Provisioning
// record and the real outcome arrives later via the provisioner callback.

// DBType is the database engine of an instance.
type DBType string

const (
	MongoDB DBType = "mongodb"
	Redis   DBType = "redis"
)

// Valid reports whether t is a supported engine.
func (t DBType) Valid() bool { return t == MongoDB || t == Redis }

// DBMode is the topology of an instance.
type DBMode string

const (
	// MongoDB
	ModeStandalone DBMode = "standalone"
	ModeReplicaSet DBMode = "replica_set"

	// Redis
	ModeBasic    DBMode = "basic"
	ModeSentinel DBMode = "sentinel"
)

// DefaultMode returns the default topology for an engine.
func (t DBType) DefaultMode() DBMode {
	switch t {
	case MongoDB:
		return ModeStandalone
	case Redis:
		return ModeBasic
	default:
		return ""
	}
}

// DBSize is a coarse size class computed from the resource spec.
type DBSize string

const (
	SizeSmall  DBSize = "small"
	SizeMedium DBSize = "medium"
	SizeLarge  DBSize = "large"
)

// InstanceStatus is a node in the instance state machine.
type InstanceStatus string

const (
	StatusProvisioning InstanceStatus = "provisioning"
	StatusRunning      InstanceStatus = "running"
	StatusStopped      InstanceStatus = "stopped"
	StatusError        InstanceStatus = "error"
	StatusMaintenance  InstanceStatus = "maintenance"
	StatusDeleting     InstanceStatus = "deleting"
)

// instanceTransitions is the full edge set of the state machine.
var instanceTransitions = map[InstanceStatus][]InstanceStatus{
	StatusProvisioning: {StatusRunning, StatusError, StatusDeleting},
	StatusRunning:      {StatusStopped, StatusMaintenance, StatusError, StatusDeleting},
	StatusStopped:      {StatusRunning, StatusError, StatusDeleting},
	StatusMaintenance:  {StatusRunning},
	StatusError:        {StatusDeleting},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to InstanceStatus) bool {
	for _, s := range instanceTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ─── Resources & Cost ───────────────────────────────────────────────────────

// ResourceSpec is the canonical resource request of an instance.
type ResourceSpec struct {
	CPU      float64 `json:"cpu"`
	MemoryMB int     `json:"memoryMB"`
	DiskGB   int     `json:"diskGB"`
}

// SizeClass computes the coarse size class for a spec.
func (r ResourceSpec) SizeClass() DBSize {
	switch {
	case r.MemoryMB <= 512 && r.CPU <= 1:
		return SizeSmall
	case r.MemoryMB <= 2048 && r.CPU <= 2:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// LemonCost is the price of an instance in lemons.
type LemonCost struct {
	CreationCost  int64 `json:"creationCost"`
	HourlyLemons  int64 `json:"hourlyLemons"`
	MinimumLemons int64 `json:"minimumLemons"` // recommended reserve: one day of runtime
}

// CustomCost prices a non-preset spec. Memory dominates; CPU above one core
// and disk above 10GB add surcharges. Minimum base of 1 lemon/hour.
func CustomCost(dbType DBType, r ResourceSpec) LemonCost {
	var base int64
	switch dbType {
	case Redis:
		base = int64(r.MemoryMB / 512)
	case MongoDB:
		base = int64(r.MemoryMB/1024) * 3
	}
	if r.CPU > 1 {
		base += int64(r.CPU-1) * 2
	}
	if r.DiskGB > 10 {
		base += int64((r.DiskGB - 10) / 10)
	}
	if base < 1 {
		base = 1
	}
	return LemonCost{
		CreationCost:  base * 10,
		HourlyLemons:  base,
		MinimumLemons: base * 24,
	}
}

// ─── Instance ───────────────────────────────────────────────────────────────

// Instance is a provisioned (or provisioning) database record.
type Instance struct {
	ID           int64          `json:"-"`
	ExternalID   string         `json:"id"` // UUID exposed to clients
	AccountID    string         `json:"accountId"`
	Name         string         `json:"name"`
	Type         DBType         `json:"type"`
	Size         DBSize         `json:"size"`
	Mode         DBMode         `json:"mode"`
	FromPreset   *string        `json:"createdFromPreset,omitempty"`
	Resources    ResourceSpec   `json:"resources"`
	Cost         LemonCost      `json:"cost"`
	Status       InstanceStatus `json:"status"`
	StatusReason string         `json:"statusReason,omitempty"`
	Endpoint     string         `json:"endpoint,omitempty"`
	Port         int            `json:"port,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	LastBilledAt *time.Time     `json:"lastBilledAt,omitempty"`
	StoppedAt    *time.Time     `json:"stoppedAt,omitempty"`
}

// Active reports whether the instance consumes admission capacity.
func (i *Instance) Active() bool {
	return i.Status == StatusProvisioning || i.Status == StatusRunning
}

// MaxInstancesPerAccount is the concurrent non-deleted instance quota.
const MaxInstancesPerAccount = 2

// Preset is a curated instance shape with a fixed price.
type Preset struct {
	ID          string       `json:"id"`
	Type        DBType       `json:"type"`
	Size        DBSize       `json:"size"`
	Mode        DBMode       `json:"mode"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Resources   ResourceSpec `json:"resources"`
	Cost        LemonCost    `json:"cost"`
	SortOrder   int          `json:"sortOrder"`
	Active      bool         `json:"-"`
}
