//go:build !linux

package monitor

import (
	"runtime"
	"runtime/pprof"
)

type runtimeSampler struct{}

func newProcessSampler() Sampler { return runtimeSampler{} }

// Sample approximates memory with the Go heap footprint and threads with
// the number created. Descriptors and CPU are not available.
func (runtimeSampler) Sample() (RawSample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RawSample{
		RSSBytes: ms.Sys,
		Threads:  pprof.Lookup("threadcreate").Count(),
	}, nil
}
