package sdk

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/coral-mesh/remoteprof/internal/safe"
	"github.com/coral-mesh/remoteprof/internal/story"
)

// Measurement is one resource sample of the profiled process.
type Measurement struct {
	CPUUsage    float64
	MemoryUsage int64
	ThreadCount int64
	DiskReads   int64
	DiskWrites  int64
}

// Sampler measures the profiled process.
type Sampler interface {
	Sample(ctx context.Context) (Measurement, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Measurement, error)

func (f SamplerFunc) Sample(ctx context.Context) (Measurement, error) { return f(ctx) }

// ProcessSampler samples the current process with gopsutil.
type ProcessSampler struct {
	mu   sync.Mutex
	proc *process.Process
}

// NewProcessSampler returns a sampler for the calling process.
func NewProcessSampler() (*ProcessSampler, error) {
	p, err := process.NewProcess(safe.Int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: p}, nil
}

// Sample returns CPU usage since the previous call, resident memory, the
// thread count and cumulative disk operations. Counters the platform does
// not expose are left at zero.
func (s *ProcessSampler) Sample(ctx context.Context) (Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpuPct, err := s.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return Measurement{}, err
	}
	m := Measurement{CPUUsage: cpuPct}

	if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
		m.MemoryUsage = safe.Int64(mem.RSS)
	}
	if n, err := s.proc.NumThreadsWithContext(ctx); err == nil {
		m.ThreadCount = int64(n)
	}
	if io, err := s.proc.IOCountersWithContext(ctx); err == nil {
		m.DiskReads = safe.Int64(io.ReadCount)
		m.DiskWrites = safe.Int64(io.WriteCount)
	}
	return m, nil
}

// hostDeviceInfo collects the device info keys reported by GetDeviceInfo.
func hostDeviceInfo(ctx context.Context) map[string]string {
	info := map[string]string{
		"pid":  strconv.Itoa(os.Getpid()),
		"arch": runtime.GOARCH,
	}
	if h, err := host.InfoWithContext(ctx); err == nil {
		info["deviceName"] = h.Hostname
		info["deviceOS"] = osDescription(h)
		info["kernelVersion"] = h.KernelVersion
	} else {
		info["deviceOS"] = runtime.GOOS
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info["cpuCount"] = strconv.Itoa(n)
	}
	info["deviceOSType"] = strconv.Itoa(int(osTypeOf(runtime.GOOS)))
	return info
}

func osDescription(h *host.InfoStat) string {
	s := h.OS
	if h.Platform != "" && h.Platform != h.OS {
		s += " " + h.Platform
	}
	if h.PlatformVersion != "" {
		s += " " + h.PlatformVersion
	}
	return s
}

func osTypeOf(goos string) story.OSType {
	switch goos {
	case "ios":
		return story.OSiOS
	case "android":
		return story.OSAndroid
	case "darwin":
		return story.OSMacOS
	case "linux":
		return story.OSLinux
	case "windows":
		return story.OSWindows
	}
	return story.OSUnknown
}
