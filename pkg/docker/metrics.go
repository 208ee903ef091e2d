package docker

import (
	"github.com/docker/docker/api/types/container"

	"github.com/hemostat/hemostat/pkg/models"
)

// CPUPercent derives the CPU utilization percentage from a stats snapshot
// using the delta between the current and previous readings:
//
//	(cpu_delta / system_delta) × online_cpus × 100
//
// Returns 0 when the system delta is zero (first sample after start).
// Values above 100 are possible on multi-core hosts and are not clamped.
func CPUPercent(s *container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if sysDelta <= 0 || cpuDelta < 0 {
		return 0
	}
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / sysDelta * cpus * 100
}

// MemoryPercent derives memory utilization against the cgroup limit,
// excluding the page cache the kernel can reclaim (inactive_file on
// cgroup v2, total_inactive_file on v1). Returns 0 when no limit is set;
// the result is clamped to [0, 100].
func MemoryPercent(m container.MemoryStats) float64 {
	if m.Limit == 0 {
		return 0
	}
	usage := workingSet(m)
	pct := float64(usage) / float64(m.Limit) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func workingSet(m container.MemoryStats) uint64 {
	usage := m.Usage
	if v, ok := m.Stats["inactive_file"]; ok && v < usage {
		return usage - v
	}
	if v, ok := m.Stats["total_inactive_file"]; ok && v < usage {
		return usage - v
	}
	return usage
}

// MetricsFromStats flattens a runtime stats snapshot into the bus metrics
// record: derived CPU and memory percentages, raw memory numbers, and
// network/block IO totals summed across interfaces and devices.
func MetricsFromStats(s *container.StatsResponse) models.Metrics {
	m := models.Metrics{
		CPUPercent:    CPUPercent(s),
		MemoryPercent: MemoryPercent(s.MemoryStats),
		MemoryUsage:   workingSet(s.MemoryStats),
		MemoryLimit:   s.MemoryStats.Limit,
	}
	for _, n := range s.Networks {
		m.NetworkRxBytes += n.RxBytes
		m.NetworkTxBytes += n.TxBytes
	}
	for _, e := range s.BlkioStats.IoServiceBytesRecursive {
		switch e.Op {
		case "read", "Read":
			m.BlkioReadBytes += e.Value
		case "write", "Write":
			m.BlkioWriteBytes += e.Value
		}
	}
	return m
}
