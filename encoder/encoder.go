package encoder

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatFLAC     = "flac"
	FormatLinear16 = "linear16"
)

// Encoder turns consecutive PCM chunks into wire chunks. Concatenating every
// returned slice, including the one from Flush, yields a complete stream.
type Encoder interface {
	Encode(samples []int16) ([]byte, error)
	Flush() ([]byte, error)
	Format() string
	TotalSamples() uint64
	EncodeTime() time.Duration
}

// New returns the encoder for format. blockSize is the number of samples per
// chunk the caller intends to feed.
func New(format string, blockSize int) (Encoder, error) {
	switch format {
	case FormatFLAC, "":
		return NewFlacStream(blockSize)
	case FormatLinear16:
		return NewLinear16(), nil
	default:
		return nil, fmt.Errorf("unknown audio encoding %q", format)
	}
}

func PCMToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func SamplesToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
