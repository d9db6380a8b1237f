package monitoring

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// SystemSample is one point-in-time process resource reading
type SystemSample struct {
	CPUPercent float64
	RSSBytes   uint64
}

// SystemSampler reads CPU and memory usage for this process.
// Used by the periodic metrics summary log.
type SystemSampler struct {
	proc *process.Process
}

// NewSystemSampler creates a sampler bound to the current process
func NewSystemSampler() (*SystemSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &SystemSampler{proc: proc}, nil
}

// Sample reads current CPU percent and resident memory
func (s *SystemSampler) Sample() (SystemSample, error) {
	cpu, err := s.proc.CPUPercent()
	if err != nil {
		return SystemSample{}, err
	}
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return SystemSample{}, err
	}
	return SystemSample{CPUPercent: cpu, RSSBytes: mem.RSS}, nil
}
