// Package fleet computes cross-entity aggregate statistics from the latest
// per-entity snapshots, coalescing bursts of updates into one pass.
package fleet

import (
	"github.com/orchestra-mcp/pulse/src/types"
	"github.com/orchestra-mcp/pulse/src/view"
)

// StatusUnknown counts entities that have not reported a status.
const StatusUnknown = "unknown"

// Metric names used in AggregateStats.Samples.
const (
	MetricCPU    = view.FieldCPU
	MetricMemory = view.FieldMemoryPercent
	MetricDisk   = view.FieldDiskPercent
	MetricLoad   = view.FieldLoad1
)

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

// Recompute derives fleet statistics for ids from snapshots. It is a pure
// function of its inputs; snapshots for ids not listed are ignored and
// ComputedAt is left zero.
func Recompute(ids []string, snapshots map[string]types.Snapshot) types.AggregateStats {
	stats := types.AggregateStats{
		StatusCount: make(map[string]int),
		Samples:     make(map[string]int),
	}

	var cpu, mem, disk, load mean
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		stats.Entities++

		snap, ok := snapshots[id]
		if !ok {
			stats.StatusCount[StatusUnknown]++
			continue
		}
		stats.Reporting++

		if st, ok := snap.Str(view.FieldStatus); ok && st != "" {
			stats.StatusCount[st]++
		} else {
			stats.StatusCount[StatusUnknown]++
		}
		if v, ok := snap.Num(view.FieldCPU); ok {
			cpu.add(v)
		}
		if v, ok := view.MemoryPercent(snap); ok {
			mem.add(v)
		}
		if v, ok := view.DiskPercent(snap); ok {
			disk.add(v)
		}
		if v, ok := snap.Num(view.FieldLoad1); ok {
			load.add(v)
		}
	}

	stats.Samples[MetricCPU] = cpu.n
	stats.Samples[MetricMemory] = mem.n
	stats.Samples[MetricDisk] = disk.n
	stats.Samples[MetricLoad] = load.n
	stats.AvgCPU = cpu.value()
	stats.AvgMemory = mem.value()
	stats.AvgDisk = disk.value()
	stats.AvgLoad = load.value()
	return stats
}

// retain keeps previous non-nil averages wherever next has none, so a pass
// over placeholder-only input never blanks a value that was showing.
func retain(prev, next types.AggregateStats) types.AggregateStats {
	keep := func(p, n *float64) *float64 {
		if n == nil && p != nil {
			v := *p
			return &v
		}
		return n
	}
	next.AvgCPU = keep(prev.AvgCPU, next.AvgCPU)
	next.AvgMemory = keep(prev.AvgMemory, next.AvgMemory)
	next.AvgDisk = keep(prev.AvgDisk, next.AvgDisk)
	next.AvgLoad = keep(prev.AvgLoad, next.AvgLoad)
	return next
}

func cloneStats(s types.AggregateStats) types.AggregateStats {
	out := s
	out.StatusCount = make(map[string]int, len(s.StatusCount))
	for k, v := range s.StatusCount {
		out.StatusCount[k] = v
	}
	out.Samples = make(map[string]int, len(s.Samples))
	for k, v := range s.Samples {
		out.Samples[k] = v
	}
	for _, p := range []**float64{&out.AvgCPU, &out.AvgMemory, &out.AvgDisk, &out.AvgLoad} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	return out
}
