//go:build linux

package monitor

import (
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

type procSampler struct {
	proc procfs.Proc
	err  error
}

func newProcessSampler() Sampler {
	p, err := procfs.Self()
	return &procSampler{proc: p, err: err}
}

// Sample reads /proc/self/stat, the fd directory and the RLIMIT_NOFILE soft limit.
func (s *procSampler) Sample() (RawSample, error) {
	if s.err != nil {
		return RawSample{}, s.err
	}
	stat, err := s.proc.Stat()
	if err != nil {
		return RawSample{}, err
	}
	fds, err := s.proc.FileDescriptorsLen()
	if err != nil {
		return RawSample{}, err
	}

	var rl unix.Rlimit
	var limit uint64
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err == nil {
		limit = rl.Cur
	}

	return RawSample{
		RSSBytes:   uint64(stat.ResidentMemory()),
		Threads:    stat.NumThreads,
		FDs:        fds,
		FDLimit:    limit,
		CPUSeconds: stat.CPUTime(),
	}, nil
}
