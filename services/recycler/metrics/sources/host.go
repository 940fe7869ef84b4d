// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sources provides host-level metric sources for the publisher.
package sources

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/AleutianAI/AleutianRecycler/services/recycler/metrics"
)

// Metric names published by Host.
const (
	CPUUtilization    = "cpu_utilization"
	MemoryUtilization = "memory_utilization"
	DiskUtilization   = "disk_utilization"
	Load1             = "load1"
)

// Host returns the standard host metrics read through gopsutil.
//
// # Inputs
//
//   - diskPath: Mount point for disk utilization. Empty means "/".
//
// # Outputs
//
//   - []metrics.Metric: CPU, memory and disk utilization in percent, and
//     the one-minute load average.
func Host(diskPath string) []metrics.Metric {
	if diskPath == "" {
		diskPath = "/"
	}
	return []metrics.Metric{
		metrics.NewMetric(CPUUtilization, cpuPercent),
		metrics.NewMetric(MemoryUtilization, memPercent),
		metrics.NewMetric(DiskUtilization, func(ctx context.Context) (float64, error) {
			usage, err := disk.UsageWithContext(ctx, diskPath)
			if err != nil {
				return 0, fmt.Errorf("disk usage %s: %w", diskPath, err)
			}
			return usage.UsedPercent, nil
		}),
		metrics.NewMetric(Load1, func(ctx context.Context) (float64, error) {
			avg, err := load.AvgWithContext(ctx)
			if err != nil {
				return 0, fmt.Errorf("load average: %w", err)
			}
			return avg.Load1, nil
		}),
	}
}

// cpuPercent returns overall CPU utilization since the previous call.
// The first call compares against boot time.
func cpuPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("cpu percent: no data")
	}
	return pct[0], nil
}

func memPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("virtual memory: %w", err)
	}
	return vm.UsedPercent, nil
}
