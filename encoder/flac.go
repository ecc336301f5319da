package encoder

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacStream emits a FLAC stream incrementally. The signature and STREAMINFO
// block ride along with the first chunk; every chunk after that holds whole
// frames.
type FlacStream struct {
	mu           sync.Mutex
	buf          bytes.Buffer
	enc          *flac.Encoder
	totalSamples uint64
	encodeTime   time.Duration
	closed       bool
}

func NewFlacStream(blockSize int) (*FlacStream, error) {
	if blockSize <= 0 || blockSize > 65535 {
		blockSize = BlockSize
	}
	e := &FlacStream{}
	info := &meta.StreamInfo{
		BlockSizeMin:  uint16(blockSize),
		BlockSizeMax:  uint16(blockSize),
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
		NSamples:      0,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func (e *FlacStream) Encode(samples []int16) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("flac stream already flushed")
	}
	if len(samples) > 0 {
		start := time.Now()
		if err := e.writeFrame(samples); err != nil {
			return nil, err
		}
		e.encodeTime += time.Since(start)
	}
	return e.drain(), nil
}

func (e *FlacStream) writeFrame(block []int16) error {
	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalSamples += uint64(len(block))
	return nil
}

// Flush closes the stream and returns whatever has not been handed out yet.
// Calling it again returns nothing.
func (e *FlacStream) Flush() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, nil
	}
	e.closed = true
	if err := e.enc.Close(); err != nil {
		return nil, fmt.Errorf("closing flac encoder: %w", err)
	}
	return e.drain(), nil
}

func (e *FlacStream) drain() []byte {
	if e.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	e.buf.Reset()
	return out
}

func (e *FlacStream) Format() string { return FormatFLAC }

func (e *FlacStream) TotalSamples() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalSamples
}

func (e *FlacStream) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
