package monitoring

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Pinger reports backing store connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker produces health snapshots for the health endpoint
type HealthChecker struct {
	logger  *zap.Logger
	db      Pinger
	dataDir string
	started time.Time
}

// HealthSnapshot is one point-in-time health report
type HealthSnapshot struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Database      string  `json:"database"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	Goroutines    int     `json:"goroutines"`
}

// NewHealthChecker creates a health checker. dataDir is the filesystem whose
// free space is reported.
func NewHealthChecker(logger *zap.Logger, db Pinger, dataDir string) *HealthChecker {
	if dataDir == "" {
		dataDir = "."
	}
	return &HealthChecker{
		logger:  logger,
		db:      db,
		dataDir: dataDir,
		started: time.Now(),
	}
}

// Check gathers a snapshot. The snapshot degrades to unhealthy only when the
// database is unreachable; resource readings are informational.
func (h *HealthChecker) Check(ctx context.Context) *HealthSnapshot {
	snapshot := &HealthSnapshot{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.started).Seconds(),
		Database:      "up",
		Goroutines:    runtime.NumGoroutine(),
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			snapshot.Status = "unhealthy"
			snapshot.Database = "down"
			h.logger.Warn("Database ping failed", zap.Error(err))
		}
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snapshot.MemoryPercent = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, h.dataDir); err == nil {
		snapshot.DiskPercent = usage.UsedPercent
	}

	return snapshot
}
