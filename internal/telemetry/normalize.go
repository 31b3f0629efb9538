// Package telemetry turns raw stats documents from the daemon (or the
// panel's resources endpoint) into a canonical Snapshot.
package telemetry

import (
	"encoding/json"
	"math"
	"time"
)

const mib = 1024 * 1024

// Snapshot is one immutable resource usage observation. Every accepted
// stats event produces a new Snapshot that replaces the previous one.
type Snapshot struct {
	CPUPercent   float64   `json:"cpu_percent"`
	MemoryBytes  uint64    `json:"memory_bytes"`
	DiskBytes    uint64    `json:"disk_bytes"`
	UptimeMillis uint64    `json:"uptime_millis"`
	NetworkRx    uint64    `json:"network_rx"`
	NetworkTx    uint64    `json:"network_tx"`
	ObservedAt   time.Time `json:"observed_at"`

	// MemoryLimitBytes is the daemon-reported limit, or the panel limit
	// when the daemon omits it. Zero means unlimited.
	MemoryLimitBytes uint64 `json:"memory_limit_bytes,omitempty"`

	// MemoryPercent and DiskPercent are relative to the limits and
	// clamped to [0, 100]. Zero when unlimited.
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// Limits are the server's configured allocations as returned by the
// panel, in MiB (memory, disk) and percent (cpu). Zero means unlimited.
type Limits struct {
	MemoryMiB uint64 `json:"memory"`
	DiskMiB   uint64 `json:"disk"`
	CPU       uint64 `json:"cpu"`
}

// Uptime returns the uptime as a duration.
func (s *Snapshot) Uptime() time.Duration {
	return time.Duration(s.UptimeMillis) * time.Millisecond
}

// field lists the keys that may carry a value and the multiplier that
// converts each key's unit to the canonical one.
type field struct {
	keys  []string
	scale []float64
	// floor clamps negative values to zero instead of rejecting them.
	floor bool
}

var (
	cpuField    = field{keys: []string{"cpu_absolute"}, scale: []float64{1}, floor: true}
	memoryField = field{keys: []string{"memory_bytes", "memory_mb"}, scale: []float64{1, mib}}
	diskField   = field{keys: []string{"disk_bytes", "disk_mb"}, scale: []float64{1, mib}}
	uptimeField = field{keys: []string{"uptime"}, scale: []float64{1}}
	rxField     = field{keys: []string{"rx_bytes"}, scale: []float64{1}}
	txField     = field{keys: []string{"tx_bytes"}, scale: []float64{1}}
	limitField  = field{keys: []string{"memory_limit_bytes", "memory_limit_mb"}, scale: []float64{1, mib}}
	flatRxField = field{keys: []string{"network_rx_bytes"}, scale: []float64{1}}
	flatTxField = field{keys: []string{"network_tx_bytes"}, scale: []float64{1}}
)

// Normalize converts a stats document into a Snapshot. It returns nil
// when any required value is missing, not a number, not finite, or
// negative: a nil result means "no update", never "usage is zero".
// Negative CPU is the exception and reads as 0.
//
// Two shapes are accepted: the daemon's stats event, with a nested
// "network" object, and the panel's resources response, which wraps
// the values in "resources" and flattens the network counters.
func Normalize(raw []byte, observedAt time.Time, limits Limits) *Snapshot {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	if inner, ok := doc["resources"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err != nil {
			return nil
		}
		doc = nested
	}

	cpu, ok := cpuField.lookup(doc)
	if !ok {
		return nil
	}
	memory, ok := memoryField.lookup(doc)
	if !ok {
		return nil
	}
	disk, ok := diskField.lookup(doc)
	if !ok {
		return nil
	}
	uptime, ok := uptimeField.lookup(doc)
	if !ok {
		return nil
	}

	var rx, tx float64
	if netRaw, present := doc["network"]; present {
		var network map[string]json.RawMessage
		if err := json.Unmarshal(netRaw, &network); err != nil {
			return nil
		}
		if rx, ok = rxField.lookup(network); !ok {
			return nil
		}
		if tx, ok = txField.lookup(network); !ok {
			return nil
		}
	} else {
		if rx, ok = flatRxField.lookup(doc); !ok {
			return nil
		}
		if tx, ok = flatTxField.lookup(doc); !ok {
			return nil
		}
	}

	snap := &Snapshot{
		CPUPercent:   cpu,
		MemoryBytes:  toUint(memory),
		DiskBytes:    toUint(disk),
		UptimeMillis: toUint(uptime),
		NetworkRx:    toUint(rx),
		NetworkTx:    toUint(tx),
		ObservedAt:   observedAt,
	}

	if limit, ok := limitField.lookup(doc); ok && limit > 0 {
		snap.MemoryLimitBytes = toUint(limit)
	} else if limits.MemoryMiB > 0 {
		snap.MemoryLimitBytes = limits.MemoryMiB * mib
	}
	if snap.MemoryLimitBytes > 0 {
		snap.MemoryPercent = ClampPercent(float64(snap.MemoryBytes) / float64(snap.MemoryLimitBytes) * 100)
	}
	if limits.DiskMiB > 0 {
		snap.DiskPercent = ClampPercent(float64(snap.DiskBytes) / float64(limits.DiskMiB*mib) * 100)
	}
	return snap
}

// lookup returns the first present key, scaled to the canonical unit.
// A present key with an invalid value fails the lookup rather than
// falling through to the next key.
func (f field) lookup(doc map[string]json.RawMessage) (float64, bool) {
	for i, key := range f.keys {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		var v *float64
		if err := json.Unmarshal(raw, &v); err != nil || v == nil {
			return 0, false
		}
		scaled := *v * f.scale[i]
		if math.IsNaN(scaled) || math.IsInf(scaled, 0) {
			return 0, false
		}
		if scaled < 0 {
			if !f.floor {
				return 0, false
			}
			scaled = 0
		}
		return scaled, true
	}
	return 0, false
}

// ClampPercent bounds a relative percentage to [0, 100]. CPU usage is
// an absolute figure and is not passed through here.
func ClampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func toUint(v float64) uint64 {
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(math.Round(v))
}
