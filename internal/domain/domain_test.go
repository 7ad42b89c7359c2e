package domain

import (
	"testing"
	"time"
)

func TestCustomCost(t *testing.T) {
	tests := []struct {
		name       string
		dbType     DBType
		spec       ResourceSpec
		wantHourly int64
	}{
		{"redis 512MB", Redis, ResourceSpec{CPU: 0.25, MemoryMB: 512, DiskGB: 5}, 1},
		{"redis 2GB", Redis, ResourceSpec{CPU: 0.5, MemoryMB: 2048, DiskGB: 5}, 4},
		{"mongo 1GB", MongoDB, ResourceSpec{CPU: 0.5, MemoryMB: 1024, DiskGB: 10}, 3},
		{"mongo 2GB", MongoDB, ResourceSpec{CPU: 1, MemoryMB: 2048, DiskGB: 10}, 6},
		{"mongo 2GB 2cpu", MongoDB, ResourceSpec{CPU: 2, MemoryMB: 2048, DiskGB: 10}, 8},
		{"mongo big disk", MongoDB, ResourceSpec{CPU: 1, MemoryMB: 1024, DiskGB: 30}, 5},
		{"tiny floors at 1", Redis, ResourceSpec{CPU: 0.1, MemoryMB: 128, DiskGB: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost := CustomCost(tt.dbType, tt.spec)
			if cost.HourlyLemons != tt.wantHourly {
				t.Errorf("HourlyLemons = %d, want %d", cost.HourlyLemons, tt.wantHourly)
			}
			if cost.CreationCost != tt.wantHourly*10 {
				t.Errorf("CreationCost = %d, want %d", cost.CreationCost, tt.wantHourly*10)
			}
			if cost.MinimumLemons != tt.wantHourly*24 {
				t.Errorf("MinimumLemons = %d, want %d", cost.MinimumLemons, tt.wantHourly*24)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to InstanceStatus
		want     bool
	}{
		{StatusProvisioning, StatusRunning, true},
		{StatusProvisioning, StatusError, true},
		{StatusProvisioning, StatusDeleting, true},
		{StatusProvisioning, StatusStopped, false},
		{StatusRunning, StatusStopped, true},
		{StatusRunning, StatusDeleting, true},
		{StatusStopped, StatusRunning, true},
		{StatusStopped, StatusDeleting, true},
		{StatusError, StatusDeleting, true},
		{StatusError, StatusRunning, false},
		{StatusMaintenance, StatusRunning, true},
		{StatusDeleting, StatusRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSizeClass(t *testing.T) {
	tests := []struct {
		spec ResourceSpec
		want DBSize
	}{
		{ResourceSpec{CPU: 0.25, MemoryMB: 512}, SizeSmall},
		{ResourceSpec{CPU: 0.5, MemoryMB: 1024}, SizeMedium},
		{ResourceSpec{CPU: 2, MemoryMB: 2048}, SizeMedium},
		{ResourceSpec{CPU: 3, MemoryMB: 4096}, SizeLarge},
	}
	for _, tt := range tests {
		if got := tt.spec.SizeClass(); got != tt.want {
			t.Errorf("SizeClass(%+v) = %s, want %s", tt.spec, got, tt.want)
		}
	}
}

func TestDefaultModes(t *testing.T) {
	if MongoDB.DefaultMode() != ModeStandalone {
		t.Errorf("mongodb default mode = %s", MongoDB.DefaultMode())
	}
	if Redis.DefaultMode() != ModeBasic {
		t.Errorf("redis default mode = %s", Redis.DefaultMode())
	}
	if DBType("mysql").Valid() {
		t.Error("mysql should not be a valid engine")
	}
}

func TestAttemptStatusTerminal(t *testing.T) {
	if AttemptStarted.Terminal() {
		t.Error("started must not be terminal")
	}
	if !AttemptDone.Terminal() || !AttemptTimeout.Terminal() {
		t.Error("done and timeout must be terminal")
	}
}

func TestDefaultRules(t *testing.T) {
	hr := DefaultHarvestRules()
	if hr.BaseAmount != 5 || hr.WelcomeBonus != 30 || hr.MaxStoredLemons != 500 {
		t.Errorf("unexpected harvest rules: %+v", hr)
	}
	if hr.CooldownPeriod != 6*time.Hour || hr.WindowDuration != 5*time.Second {
		t.Errorf("unexpected harvest timings: %+v", hr)
	}

	rr := DefaultRegrowthRules()
	if rr.MaxPositions != 10 || rr.RegrowDuration != 6*time.Hour {
		t.Errorf("unexpected regrowth rules: %+v", rr)
	}

	cl := DefaultCapacityLimits()
	if cl.AllocatableCPU() != 1.5 {
		t.Errorf("AllocatableCPU = %v, want 1.5", cl.AllocatableCPU())
	}
	if cl.AllocatableMemoryMB() != 6656 {
		t.Errorf("AllocatableMemoryMB = %v, want 6656", cl.AllocatableMemoryMB())
	}
}
