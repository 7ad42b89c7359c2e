package sqlite

import (
	"database/sql"
	"strings"
	"time"

	"github.com/grovekit/grove/internal/domain"
)

type seedPreset struct {
	id          string
	dbType      domain.DBType
	size        domain.DBSize
	mode        domain.DBMode
	name        string
	description string
	spec        domain.ResourceSpec
	cost        domain.LemonCost
	sortOrder   int
}

var seedPresetCatalog = []seedPreset{
	{
		id:          "mongodb-small",
		dbType:      domain.MongoDB,
		size:        domain.SizeSmall,
		mode:        domain.ModeStandalone,
		name:        "MongoDB Small",
		description: "Standalone MongoDB for prototypes and coursework",
		spec:        domain.ResourceSpec{CPU: 0.25, MemoryMB: 512, DiskGB: 10},
		cost:        domain.LemonCost{CreationCost: 10, HourlyLemons: 1, MinimumLemons: 24},
		sortOrder:   1,
	},
	{
		id:          "mongodb-medium",
		dbType:      domain.MongoDB,
		size:        domain.SizeMedium,
		mode:        domain.ModeStandalone,
		name:        "MongoDB Medium",
		description: "Standalone MongoDB with room for real datasets",
		spec:        domain.ResourceSpec{CPU: 0.5, MemoryMB: 1024, DiskGB: 20},
		cost:        domain.LemonCost{CreationCost: 40, HourlyLemons: 4, MinimumLemons: 96},
		sortOrder:   2,
	},
	{
		id:          "redis-small",
		dbType:      domain.Redis,
		size:        domain.SizeSmall,
		mode:        domain.ModeBasic,
		name:        "Redis Small",
		description: "Single Redis node for caching experiments",
		spec:        domain.ResourceSpec{CPU: 0.1, MemoryMB: 256, DiskGB: 1},
		cost:        domain.LemonCost{CreationCost: 10, HourlyLemons: 1, MinimumLemons: 24},
		sortOrder:   3,
	},
	{
		id:          "redis-medium",
		dbType:      domain.Redis,
		size:        domain.SizeMedium,
		mode:        domain.ModeBasic,
		name:        "Redis Medium",
		description: "Single Redis node with a bigger working set",
		spec:        domain.ResourceSpec{CPU: 0.25, MemoryMB: 512, DiskGB: 5},
		cost:        domain.LemonCost{CreationCost: 10, HourlyLemons: 1, MinimumLemons: 24},
		sortOrder:   4,
	},
}

// seedPresets loads the built-in preset catalog once.
func (d *DB) seedPresets() error {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM presets`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, p := range seedPresetCatalog {
		if _, err := d.db.Exec(`
			INSERT INTO presets (id, type, size, mode, name, description,
				cpu, memory_mb, disk_gb, creation_cost, hourly_lemons, minimum_lemons,
				sort_order, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`, p.id, string(p.dbType), string(p.size), string(p.mode), p.name, p.description,
			p.spec.CPU, p.spec.MemoryMB, p.spec.DiskGB,
			p.cost.CreationCost, p.cost.HourlyLemons, p.cost.MinimumLemons,
			p.sortOrder); err != nil {
			return err
		}
	}
	return nil
}

// Presets returns the active preset catalog in display order.
func (d *DB) Presets() ([]*domain.Preset, error) {
	rows, err := d.db.Query(`
		SELECT id, type, size, mode, name, description,
		       cpu, memory_mb, disk_gb, creation_cost, hourly_lemons, minimum_lemons, sort_order
		FROM presets WHERE active = 1 ORDER BY sort_order
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Preset
	for rows.Next() {
		var p domain.Preset
		if err := rows.Scan(&p.ID, &p.Type, &p.Size, &p.Mode, &p.Name, &p.Description,
			&p.Resources.CPU, &p.Resources.MemoryMB, &p.Resources.DiskGB,
			&p.Cost.CreationCost, &p.Cost.HourlyLemons, &p.Cost.MinimumLemons, &p.SortOrder); err != nil {
			return nil, err
		}
		p.Active = true
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Preset fetches one active preset by ID.
func (d *DB) Preset(id string) (*domain.Preset, error) {
	var p domain.Preset
	err := d.db.QueryRow(`
		SELECT id, type, size, mode, name, description,
		       cpu, memory_mb, disk_gb, creation_cost, hourly_lemons, minimum_lemons, sort_order
		FROM presets WHERE id = ? AND active = 1
	`, id).Scan(&p.ID, &p.Type, &p.Size, &p.Mode, &p.Name, &p.Description,
		&p.Resources.CPU, &p.Resources.MemoryMB, &p.Resources.DiskGB,
		&p.Cost.CreationCost, &p.Cost.HourlyLemons, &p.Cost.MinimumLemons, &p.SortOrder)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPresetNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Active = true
	return &p, nil
}

// ─── Instances ──────────────────────────────────────────────────────────────

const instanceColumns = `
	id, external_id, account_id, name, type, size, mode, from_preset,
	cpu, memory_mb, disk_gb, creation_cost, hourly_lemons, minimum_lemons,
	status, status_reason, endpoint, port, created_at, updated_at, last_billed_at, stopped_at`

func scanInstance(scan func(dest ...any) error) (*domain.Instance, error) {
	var i domain.Instance
	var fromPreset sql.NullString
	var created, updated string
	var billed, stopped sql.NullString
	if err := scan(&i.ID, &i.ExternalID, &i.AccountID, &i.Name, &i.Type, &i.Size, &i.Mode, &fromPreset,
		&i.Resources.CPU, &i.Resources.MemoryMB, &i.Resources.DiskGB,
		&i.Cost.CreationCost, &i.Cost.HourlyLemons, &i.Cost.MinimumLemons,
		&i.Status, &i.StatusReason, &i.Endpoint, &i.Port, &created, &updated, &billed, &stopped); err != nil {
		return nil, err
	}
	if fromPreset.Valid {
		i.FromPreset = &fromPreset.String
	}
	i.CreatedAt = parseTime(created)
	i.UpdatedAt = parseTime(updated)
	i.LastBilledAt = parseTimePtr(billed)
	i.StoppedAt = parseTimePtr(stopped)
	return &i, nil
}

// CreateInstance inserts a new record and fills in its row ID. A name the
// account already uses maps to ErrInstanceNameConflict.
func (d *DB) CreateInstance(inst *domain.Instance) error {
	var fromPreset any
	if inst.FromPreset != nil {
		fromPreset = *inst.FromPreset
	}
	res, err := d.db.Exec(`
		INSERT INTO instances (external_id, account_id, name, type, size, mode, from_preset,
			cpu, memory_mb, disk_gb, creation_cost, hourly_lemons, minimum_lemons,
			status, status_reason, endpoint, port, created_at, updated_at, last_billed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.ExternalID, inst.AccountID, inst.Name, string(inst.Type), string(inst.Size), string(inst.Mode), fromPreset,
		inst.Resources.CPU, inst.Resources.MemoryMB, inst.Resources.DiskGB,
		inst.Cost.CreationCost, inst.Cost.HourlyLemons, inst.Cost.MinimumLemons,
		string(inst.Status), inst.StatusReason, inst.Endpoint, inst.Port,
		fmtTime(inst.CreatedAt), fmtTime(inst.UpdatedAt), fmtTimePtr(inst.LastBilledAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrInstanceNameConflict
		}
		return err
	}
	inst.ID, err = res.LastInsertId()
	return err
}

// InstanceByExternalID loads an instance by its client-facing UUID.
func (d *DB) InstanceByExternalID(externalID string) (*domain.Instance, error) {
	row := d.db.QueryRow(`SELECT`+instanceColumns+` FROM instances WHERE external_id = ?`, externalID)
	inst, err := scanInstance(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrInstanceNotFound
	}
	return inst, err
}

// InstancesByAccount lists an account's instances, newest first.
func (d *DB) InstancesByAccount(accountID string) ([]*domain.Instance, error) {
	rows, err := d.db.Query(`
		SELECT`+instanceColumns+` FROM instances
		WHERE account_id = ? ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInstances(rows)
}

// InstancesByStatus lists all instances in one status.
func (d *DB) InstancesByStatus(status domain.InstanceStatus) ([]*domain.Instance, error) {
	rows, err := d.db.Query(`
		SELECT`+instanceColumns+` FROM instances
		WHERE status = ? ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInstances(rows)
}

func collectInstances(rows *sql.Rows) ([]*domain.Instance, error) {
	var out []*domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// CountActiveInstances counts an account's instances that still consume
// admission capacity or remain visible (everything not yet deleted).
func (d *DB) CountActiveInstances(accountID string) (int, error) {
	var n int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM instances
		WHERE account_id = ? AND status != 'deleting'
	`, accountID).Scan(&n)
	return n, err
}

// UpdateInstanceStatus performs a guarded state machine transition. The
// current status is part of the WHERE clause, so a concurrent transition
// cannot be overwritten; an illegal or lost transition reports
// ErrInvalidTransition.
func (d *DB) UpdateInstanceStatus(id int64, from, to domain.InstanceStatus, reason string, now time.Time) error {
	if !domain.CanTransition(from, to) {
		return domain.ErrInvalidTransition
	}
	res, err := d.db.Exec(`
		UPDATE instances SET status = ?, status_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), reason, fmtTime(now), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// SetInstanceEndpoint records the connection endpoint after provisioning.
func (d *DB) SetInstanceEndpoint(id int64, endpoint string, port int, now time.Time) error {
	_, err := d.db.Exec(`
		UPDATE instances SET endpoint = ?, port = ?, updated_at = ? WHERE id = ?
	`, endpoint, port, fmtTime(now), id)
	return err
}

// SetLastBilled advances the billing watermark.
func (d *DB) SetLastBilled(id int64, t time.Time) error {
	_, err := d.db.Exec(`
		UPDATE instances SET last_billed_at = ?, updated_at = ? WHERE id = ?
	`, fmtTime(t), fmtTime(t), id)
	return err
}

// SetStoppedAt records when the instance stopped (nil clears it on restart).
func (d *DB) SetStoppedAt(id int64, stoppedAt *time.Time, now time.Time) error {
	_, err := d.db.Exec(`
		UPDATE instances SET stopped_at = ?, updated_at = ? WHERE id = ?
	`, fmtTimePtr(stoppedAt), fmtTime(now), id)
	return err
}

// DeleteInstance removes the record entirely.
func (d *DB) DeleteInstance(id int64) error {
	_, err := d.db.Exec(`DELETE FROM instances WHERE id = ?`, id)
	return err
}

// ActiveResourceUsage sums the resources of capacity-consuming instances.
// Used to rebuild the admission controller's counters at startup.
func (d *DB) ActiveResourceUsage() (cpu float64, memoryMB int, count int, err error) {
	err = d.db.QueryRow(`
		SELECT COALESCE(SUM(cpu), 0), COALESCE(SUM(memory_mb), 0), COUNT(*)
		FROM instances WHERE status IN ('provisioning', 'running')
	`).Scan(&cpu, &memoryMB, &count)
	return
}

// CountInstancesByStatus returns per-status instance counts.
func (d *DB) CountInstancesByStatus() (map[domain.InstanceStatus]int, error) {
	rows, err := d.db.Query(`SELECT status, COUNT(*) FROM instances GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.InstanceStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.InstanceStatus(status)] = n
	}
	return counts, rows.Err()
}
