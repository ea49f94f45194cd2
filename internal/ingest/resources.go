package ingest

import (
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Guard enforces the engine's resource ceilings: a memory limit measured
// over a baseline taken at startup, and a CPU limit scaled by the
// cgroup-aware effective core count. Scaling by the cgroup quota rather
// than the host core count matters in containers, where a raw host-wide
// percentage wildly overstates the process's real headroom.
type Guard struct {
	baselineRSS          uint64
	operationalLimit     uint64
	maxCPUPercentPerCore int
	ncpuEffective        int

	mu         sync.Mutex
	cpuSamples []float64
}

// NewGuard measures baseline RSS and resolves the effective core count.
// Call it after the embedding provider is initialized so the model's
// footprint lands in the baseline instead of eating the operational
// limit. automaxprocs has already run by this point (blank-imported in
// cmd/recalld), so GOMAXPROCS reflects the cgroup quota, not the host
// core count.
func NewGuard(operationalLimitMB, maxCPUPercentPerCore int) *Guard {
	ncpu := runtime.GOMAXPROCS(0)
	if ncpu < 1 {
		ncpu = 1
	}
	return &Guard{
		baselineRSS:          currentRSS(),
		operationalLimit:     uint64(operationalLimitMB) * 1024 * 1024,
		maxCPUPercentPerCore: maxCPUPercentPerCore,
		ncpuEffective:        ncpu,
	}
}

// OverMemory reports whether current RSS exceeds baseline by more than the
// operational limit. On a true result the caller should trigger a GC pass
// and a heap-trim before re-checking.
func (g *Guard) OverMemory() bool {
	cur := currentRSS()
	if cur <= g.baselineRSS {
		return false
	}
	return cur-g.baselineRSS > g.operationalLimit
}

// ReleaseMemory runs a forced GC pass and returns freed pages to the OS.
func (g *Guard) ReleaseMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

// RecordCPUSample feeds one CPU-percent observation into the sliding
// average used by OverCPU.
func (g *Guard) RecordCPUSample(percent float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cpuSamples = append(g.cpuSamples, percent)
	if len(g.cpuSamples) > 10 {
		g.cpuSamples = g.cpuSamples[len(g.cpuSamples)-10:]
	}
}

// OverCPU reports whether the sliding average CPU percentage exceeds
// MaxCPUPercentPerCore * ncpu_effective.
func (g *Guard) OverCPU() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.cpuSamples) == 0 {
		return false
	}
	var sum float64
	for _, s := range g.cpuSamples {
		sum += s
	}
	avg := sum / float64(len(g.cpuSamples))
	return avg > float64(g.maxCPUPercentPerCore*g.ncpuEffective)
}

func (g *Guard) NCPUEffective() int { return g.ncpuEffective }

// AvgCPUPercent reports the current sliding-average CPU percentage, for
// status reporting.
func (g *Guard) AvgCPUPercent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.cpuSamples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range g.cpuSamples {
		sum += s
	}
	return sum / float64(len(g.cpuSamples))
}

// CurrentRSSMB reports current process RSS in megabytes, for status
// reporting.
func (g *Guard) CurrentRSSMB() float64 {
	return float64(currentRSS()) / (1024 * 1024)
}

// currentRSS reads resident set size from /proc/self/statm, falling back
// to the Go runtime's own accounting where procfs is unavailable. The
// memory limit is phrased in RSS terms because the native ONNX runtime's
// arenas are invisible to Go's heap stats.
func currentRSS() uint64 {
	if b, err := os.ReadFile("/proc/self/statm"); err == nil {
		fields := strings.Fields(string(b))
		if len(fields) >= 2 {
			if pages, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return pages * uint64(os.Getpagesize())
			}
		}
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

// clockTicksPerSecond is the kernel's USER_HZ; fixed at 100 on every Linux
// port Go supports.
const clockTicksPerSecond = 100

// CPUSampler periodically measures process CPU usage from /proc/self/stat
// deltas and feeds Guard's sliding average. On platforms without procfs the
// read fails silently and the guard simply never throttles on CPU.
func CPUSampler(g *Guard, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastTicks, lastOK := processCPUTicks()
	lastAt := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ticks, ok := processCPUTicks()
			now := time.Now()
			if ok && lastOK {
				elapsed := now.Sub(lastAt).Seconds()
				if elapsed > 0 {
					cpuSeconds := float64(ticks-lastTicks) / clockTicksPerSecond
					g.RecordCPUSample(100 * cpuSeconds / elapsed)
				}
			}
			lastTicks, lastOK = ticks, ok
			lastAt = now
		}
	}
}

// processCPUTicks reads utime+stime (fields 14 and 15) from /proc/self/stat.
func processCPUTicks() (uint64, bool) {
	b, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, false
	}
	// The comm field (2nd) may contain spaces; fields are stable only after
	// the closing paren.
	s := string(b)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(s[idx+1:])
	// After the paren: state is field 1, utime is field 12, stime field 13.
	if len(fields) < 13 {
		return 0, false
	}
	utime, err1 := strconv.ParseUint(fields[11], 10, 64)
	stime, err2 := strconv.ParseUint(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return utime + stime, true
}
