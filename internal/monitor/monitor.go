// Package monitor samples local system stats for the dashboard status line:
// CPU, memory, load and network throughput. Samples are cached briefly so a
// fast render loop never hammers the OS.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsutilNet "github.com/shirou/gopsutil/v4/net"
)

const (
	cacheTTL      = 2 * time.Second
	speedWindow   = 6 * time.Second
	rateSampleMax = 10
)

// Stats is one snapshot of system state.
type Stats struct {
	CPUUsage    float64   `json:"cpu_usage"`
	CPUCores    int       `json:"cpu_cores"`
	LoadAverage []float64 `json:"load_average,omitempty"`

	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`

	NetworkBytesReceived uint64  `json:"network_bytes_received"`
	NetworkBytesSent     uint64  `json:"network_bytes_sent"`
	NetworkSpeedReceived float64 `json:"network_speed_received"`
	NetworkSpeedSent     float64 `json:"network_speed_sent"`

	Platform    string `json:"platform"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type Service struct {
	log *slog.Logger

	mu      sync.Mutex
	hasSnap bool
	snap    Stats
	procs   []processMetrics
	takenAt time.Time

	rates *rateTracker
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:   log,
		rates: newRateTracker(rateSampleMax, speedWindow),
	}
}

// Snapshot returns the current stats, reusing the last sample while it is
// fresh.
func (s *Service) Snapshot(ctx context.Context) Stats {
	now := time.Now()

	s.mu.Lock()
	if s.hasSnap && now.Sub(s.takenAt) < cacheTTL {
		out := s.snap
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	snap, procs := s.collect(ctx)

	s.mu.Lock()
	s.snap = snap
	s.procs = procs
	s.hasSnap = true
	s.takenAt = now
	s.mu.Unlock()

	return snap
}

// TopProcesses returns the heaviest processes from the most recent snapshot,
// sorted by "cpu" or "memory". Call Snapshot first to refresh the sample.
func (s *Service) TopProcesses(sortBy string) []ProcessInfo {
	s.mu.Lock()
	procs := s.procs
	s.mu.Unlock()
	return selectTopProcesses(procs, sortBy, processLimit)
}

func (s *Service) collect(ctx context.Context) (Stats, []processMetrics) {
	collectedAt := time.Now()
	stats := Stats{
		Platform:    runtime.GOOS,
		TimestampMs: collectedAt.UnixMilli(),
	}

	if usage, err := readCPUUsage(ctx); err == nil {
		stats.CPUUsage = usage
	} else {
		s.log.Warn("monitor: cpu percent failed", "error", err)
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats.CPUCores = cores
	} else {
		s.log.Warn("monitor: cpu cores failed", "error", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		stats.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else if err != nil {
		s.log.Warn("monitor: load average failed", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		stats.MemoryUsedBytes = vm.Used
		stats.MemoryTotalBytes = vm.Total
		stats.MemoryPercent = vm.UsedPercent
	} else if err != nil {
		s.log.Warn("monitor: virtual memory failed", "error", err)
	}

	if ioStats, err := gopsutilNet.IOCountersWithContext(ctx, false); err == nil && len(ioStats) > 0 {
		stats.NetworkBytesReceived = ioStats[0].BytesRecv
		stats.NetworkBytesSent = ioStats[0].BytesSent

		s.rates.Add(rateSample{
			bytesReceived: ioStats[0].BytesRecv,
			bytesSent:     ioStats[0].BytesSent,
			at:            collectedAt,
		})
		stats.NetworkSpeedReceived, stats.NetworkSpeedSent = s.rates.Speed(collectedAt)
	} else if err != nil {
		s.log.Warn("monitor: network io failed", "error", err)
	}

	procs, err := collectProcessMetrics(ctx)
	if err != nil {
		s.log.Warn("monitor: process list failed", "error", err)
		procs = nil
	}

	return stats, procs
}

// readCPUUsage prefers non-blocking sampling (diff from the last call); a
// short blocking interval bootstraps the baseline when that yields nothing.
func readCPUUsage(ctx context.Context) (float64, error) {
	var errs []error

	if p, err := cpu.PercentWithContext(ctx, 0, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}
	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	if p, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, fmt.Errorf("cpu percent unavailable")
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
