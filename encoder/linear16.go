package encoder

import (
	"sync/atomic"
	"time"
)

// Linear16 passes PCM through as little-endian signed 16-bit samples.
type Linear16 struct {
	totalSamples atomic.Uint64
}

func NewLinear16() *Linear16 {
	return &Linear16{}
}

func (e *Linear16) Encode(samples []int16) ([]byte, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	e.totalSamples.Add(uint64(len(samples)))
	return SamplesToPCM(samples), nil
}

func (e *Linear16) Flush() ([]byte, error) { return nil, nil }

func (e *Linear16) Format() string { return FormatLinear16 }

func (e *Linear16) TotalSamples() uint64 { return e.totalSamples.Load() }

func (e *Linear16) EncodeTime() time.Duration { return 0 }
