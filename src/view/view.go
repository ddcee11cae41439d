// Package view derives display values from snapshots at the point where
// they are consumed. Aggregators store fields exactly as producers sent
// them; percentages are recomputed here from byte counters when both are
// available, since producers' own percentage fields can lag the counters.
package view

import "github.com/orchestra-mcp/pulse/src/types"

// Field names understood by the normalisation helpers.
const (
	FieldCPU           = "cpu_usage"
	FieldLoad1         = "load_1"
	FieldStatus        = "status"
	FieldMemoryPercent = "memory_percent"
	FieldMemoryUsed    = "memory_used"
	FieldMemoryTotal   = "memory_total"
	FieldDiskPercent   = "disk_percent"
	FieldDiskUsed      = "disk_used"
	FieldDiskTotal     = "disk_total"
)

// MemoryPercent returns the memory utilisation of s in percent.
func MemoryPercent(s types.Snapshot) (float64, bool) {
	return percent(s, FieldMemoryUsed, FieldMemoryTotal, FieldMemoryPercent)
}

// DiskPercent returns the disk utilisation of s in percent.
func DiskPercent(s types.Snapshot) (float64, bool) {
	return percent(s, FieldDiskUsed, FieldDiskTotal, FieldDiskPercent)
}

func percent(s types.Snapshot, used, total, raw string) (float64, bool) {
	u, okUsed := s.Num(used)
	tot, okTotal := s.Num(total)
	if okUsed && okTotal && tot > 0 {
		return clamp(u / tot * 100), true
	}
	return s.Num(raw)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// Normalize returns a copy of s whose percentage fields are recomputed from
// byte counters where possible.
func Normalize(s types.Snapshot) types.Snapshot {
	out := s.Clone()
	if v, ok := MemoryPercent(s); ok {
		out.Fields[FieldMemoryPercent] = types.Number(v)
	}
	if v, ok := DiskPercent(s); ok {
		out.Fields[FieldDiskPercent] = types.Number(v)
	}
	return out
}
