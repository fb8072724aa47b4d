package agent

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/drksbr/intratun/internal/protocol"
)

// sampleSystemInfo builds a SystemInfo frame from live OS metrics via
// gopsutil, matching the relay's own self-monitoring in
// internal/relay/resources.go. The payload is opaque to the relay core;
// it's carried purely for operator-facing display.
func sampleSystemInfo() (*protocol.Frame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	var cpuUsage float32
	if err == nil && len(cpuPercents) > 0 {
		cpuUsage = float32(cpuPercents[0])
	}

	var memUsage float32
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memUsage = float32(vm.UsedPercent)
	}

	var diskUsage float32
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		diskUsage = float32(usage.UsedPercent)
	}

	hostname, _ := os.Hostname()

	return &protocol.Frame{
		Type:         protocol.FrameTypeSystemInfo,
		CPUUsage:     cpuUsage,
		MemoryUsage:  memUsage,
		DiskUsage:    diskUsage,
		ComputerName: hostname,
	}, nil
}
