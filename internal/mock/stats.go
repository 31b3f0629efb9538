package mock

import (
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Usage is one resource sample for a simulated server.
type Usage struct {
	CPUPercent  float64
	MemoryBytes uint64
	RxBytes     uint64
	TxBytes     uint64
}

type Sampler interface {
	Sample() (Usage, error)
}

type SamplerFunc func() (Usage, error)

func (f SamplerFunc) Sample() (Usage, error) { return f() }

// HostSampler reports the usage of the emulator process itself and the
// host's network counters, so the numbers move like a real server's.
func HostSampler() Sampler {
	return &hostSampler{}
}

type hostSampler struct {
	once sync.Once
	proc *process.Process
	err  error
}

func (h *hostSampler) Sample() (Usage, error) {
	h.once.Do(func() {
		h.proc, h.err = process.NewProcess(int32(os.Getpid()))
	})
	if h.err != nil {
		return Usage{}, h.err
	}

	var u Usage
	cpu, err := h.proc.Percent(0)
	if err != nil {
		return Usage{}, err
	}
	u.CPUPercent = cpu

	memInfo, err := h.proc.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	u.MemoryBytes = memInfo.RSS

	counters, err := net.IOCounters(false)
	if err == nil && len(counters) > 0 {
		u.RxBytes = counters[0].BytesRecv
		u.TxBytes = counters[0].BytesSent
	}
	return u, nil
}
