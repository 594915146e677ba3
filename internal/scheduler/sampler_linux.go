//go:build linux

package scheduler

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// loadScale is the fixed-point scale of sysinfo load averages.
const loadScale = 1 << 16

const meminfoPath = "/proc/meminfo"

type sysinfoSampler struct {
	meminfo string
}

// HostSampler returns the sysinfo-based sampler. Free memory is the
// kernel's MemAvailable estimate, which counts reclaimable page cache.
func HostSampler() Sampler {
	return sysinfoSampler{meminfo: meminfoPath}
}

func (s sysinfoSampler) Sample() (Sample, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Sample{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit

	out := Sample{
		LoadRatio:    float64(info.Loads[0]) / loadScale / float64(runtime.NumCPU()),
		FreeMemRatio: 1,
	}
	if total > 0 {
		out.FreeMemRatio = min(float64(s.available(info, unit))/float64(total), 1)
	}
	return out, nil
}

// available prefers MemAvailable and falls back to free plus buffer memory
// on kernels that lack it.
func (s sysinfoSampler) available(info unix.Sysinfo_t, unit uint64) uint64 {
	if f, err := os.Open(s.meminfo); err == nil {
		defer func() { _ = f.Close() }()
		if avail, ok, err := parseMemAvailable(f); err == nil && ok {
			return avail
		}
	}
	return (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
}
