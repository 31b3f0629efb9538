package telemetry

import (
	"testing"
	"time"
)

var observed = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeDaemonStats(t *testing.T) {
	raw := `{"cpu_absolute":42.5,"memory_bytes":104857600,"disk_bytes":524288000,"uptime":360000,"network":{"rx_bytes":100,"tx_bytes":200}}`
	s := Normalize([]byte(raw), observed, Limits{})
	if s == nil {
		t.Fatal("Normalize returned nil")
	}
	want := Snapshot{
		CPUPercent:   42.5,
		MemoryBytes:  104857600,
		DiskBytes:    524288000,
		UptimeMillis: 360000,
		NetworkRx:    100,
		NetworkTx:    200,
		ObservedAt:   observed,
	}
	if *s != want {
		t.Errorf("Normalize = %+v, want %+v", *s, want)
	}
	if s.Uptime() != 6*time.Minute {
		t.Errorf("Uptime = %v", s.Uptime())
	}
}

func TestNormalizeMissingFieldReturnsNil(t *testing.T) {
	full := map[string]string{
		"cpu_absolute": `"cpu_absolute":1`,
		"memory_bytes": `"memory_bytes":2`,
		"disk_bytes":   `"disk_bytes":3`,
		"uptime":       `"uptime":4`,
		"network":      `"network":{"rx_bytes":5,"tx_bytes":6}`,
	}
	order := []string{"cpu_absolute", "memory_bytes", "disk_bytes", "uptime", "network"}

	for _, skip := range order {
		t.Run(skip, func(t *testing.T) {
			raw := "{"
			first := true
			for _, k := range order {
				if k == skip {
					continue
				}
				if !first {
					raw += ","
				}
				raw += full[k]
				first = false
			}
			raw += "}"
			if s := Normalize([]byte(raw), observed, Limits{}); s != nil {
				t.Errorf("Normalize(%s) = %+v, want nil", raw, s)
			}
		})
	}

	for _, raw := range []string{
		`{"cpu_absolute":1,"memory_bytes":2,"disk_bytes":3,"uptime":4,"network":{"rx_bytes":5}}`,
		`{"cpu_absolute":"high","memory_bytes":2,"disk_bytes":3,"uptime":4,"network":{"rx_bytes":5,"tx_bytes":6}}`,
		`{"cpu_absolute":1,"memory_bytes":-2,"disk_bytes":3,"uptime":4,"network":{"rx_bytes":5,"tx_bytes":6}}`,
		`{"cpu_absolute":null,"memory_bytes":2,"disk_bytes":3,"uptime":4,"network":{"rx_bytes":5,"tx_bytes":6}}`,
		`{"cpu_absolute":1,"memory_bytes":2,"disk_bytes":3,"uptime":4,"network":"none"}`,
		`[1,2,3]`,
		``,
	} {
		if s := Normalize([]byte(raw), observed, Limits{}); s != nil {
			t.Errorf("Normalize(%s) = %+v, want nil", raw, s)
		}
	}
}

func TestNormalizeCPUIsNotCappedAtHundred(t *testing.T) {
	raw := `{"cpu_absolute":385.2,"memory_bytes":0,"disk_bytes":0,"uptime":0,"network":{"rx_bytes":0,"tx_bytes":0}}`
	s := Normalize([]byte(raw), observed, Limits{})
	if s == nil || s.CPUPercent != 385.2 {
		t.Fatalf("Normalize = %+v, want cpu 385.2", s)
	}

	raw = `{"cpu_absolute":-0.5,"memory_bytes":10,"disk_bytes":0,"uptime":0,"network":{"rx_bytes":0,"tx_bytes":0}}`
	s = Normalize([]byte(raw), observed, Limits{})
	if s == nil {
		t.Fatal("negative cpu rejected the whole event")
	}
	if s.CPUPercent != 0 || s.MemoryBytes != 10 {
		t.Errorf("Normalize = %+v, want cpu clamped to 0", s)
	}
}

func TestNormalizeConvertsMiBAndResourcesShape(t *testing.T) {
	raw := `{"current_state":"running","resources":{"cpu_absolute":3,"memory_mb":512,"disk_mb":1024,"uptime":1000,"network_rx_bytes":7,"network_tx_bytes":8}}`
	s := Normalize([]byte(raw), observed, Limits{MemoryMiB: 1024, DiskMiB: 512})
	if s == nil {
		t.Fatal("Normalize returned nil")
	}
	if s.MemoryBytes != 512*mib || s.DiskBytes != 1024*mib {
		t.Errorf("memory=%d disk=%d", s.MemoryBytes, s.DiskBytes)
	}
	if s.NetworkRx != 7 || s.NetworkTx != 8 {
		t.Errorf("network rx=%d tx=%d", s.NetworkRx, s.NetworkTx)
	}
	if s.MemoryPercent != 50 {
		t.Errorf("MemoryPercent = %v, want 50", s.MemoryPercent)
	}
	if s.DiskPercent != 100 {
		t.Errorf("DiskPercent = %v, want clamped 100", s.DiskPercent)
	}
}

func TestNormalizePrefersDaemonMemoryLimit(t *testing.T) {
	raw := `{"cpu_absolute":1,"memory_bytes":268435456,"memory_limit_bytes":1073741824,"disk_bytes":0,"uptime":0,"network":{"rx_bytes":0,"tx_bytes":0}}`
	s := Normalize([]byte(raw), observed, Limits{MemoryMiB: 512})
	if s == nil {
		t.Fatal("Normalize returned nil")
	}
	if s.MemoryLimitBytes != 1073741824 || s.MemoryPercent != 25 {
		t.Errorf("limit=%d percent=%v", s.MemoryLimitBytes, s.MemoryPercent)
	}
}

func TestClampPercent(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-5, 0},
		{0, 0},
		{42, 42},
		{100, 100},
		{150, 100},
	}
	for _, tt := range tests {
		if got := ClampPercent(tt.in); got != tt.want {
			t.Errorf("ClampPercent(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTrackerDiscardsOlderSnapshots(t *testing.T) {
	var tr Tracker
	newer := &Snapshot{CPUPercent: 2, ObservedAt: observed.Add(time.Second)}
	older := &Snapshot{CPUPercent: 1, ObservedAt: observed}

	if !tr.Accept(newer) {
		t.Fatal("first snapshot rejected")
	}
	if tr.Accept(older) {
		t.Error("older snapshot accepted")
	}
	if tr.Accept(nil) {
		t.Error("nil snapshot accepted")
	}
	if tr.Current() != newer {
		t.Errorf("Current = %+v, want the newer snapshot", tr.Current())
	}

	same := &Snapshot{CPUPercent: 3, ObservedAt: newer.ObservedAt}
	if !tr.Accept(same) {
		t.Error("snapshot with equal timestamp rejected")
	}
	tr.Reset()
	if tr.Current() != nil {
		t.Error("Reset kept a snapshot")
	}
}
