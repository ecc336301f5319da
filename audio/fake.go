package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"evichat/encoder"
)

const (
	fakeFrameSize     = 160 // 10ms at 16 kHz
	fakeBytesPerFrame = 2   // 16-bit mono
)

// FakeContext replays fixed PCM instead of opening hardware. Once the PCM
// runs out it keeps delivering silence until stopped.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu      sync.Mutex
	openErr error
	opened  int
	last    *FakeCapture
	config  CaptureConfig
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContextPCM(data, realtime), nil
}

func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

// FailOpen makes every later NewCapture return err.
func (f *FakeContext) FailOpen(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

// Opened counts successful NewCapture calls.
func (f *FakeContext) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	f.config = config
	f.last = &FakeCapture{pcm: f.pcm, realtime: f.realtime, gain: config.Gain, audioDone: make(chan struct{})}
	return f.last, nil
}

// LastConfig returns the settings of the most recent NewCapture call.
func (f *FakeContext) LastConfig() CaptureConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}

// LastCapture returns the most recently opened capture, or nil.
func (f *FakeContext) LastCapture() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	gain      int32
	audioDone chan struct{}
	doneOnce  sync.Once

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
	closed   bool
}

// AudioDone is closed once the whole PCM buffer has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("fake capture closed")
	}
	if f.stopCh != nil {
		return fmt.Errorf("fake capture already started")
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	f.stopCh, f.feedDone = stop, done
	go f.feed(stop, done)
	return nil
}

func (f *FakeCapture) feed(stop, done chan struct{}) {
	defer close(done)

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(encoder.SampleRate)
	if !f.realtime {
		interval = 0
	}
	pos := 0

	for {
		select {
		case <-stop:
			return
		default:
		}

		if cb := f.callback(); cb != nil {
			if pos < len(f.pcm) {
				end := min(pos+chunkBytes, len(f.pcm))
				chunk := make([]byte, end-pos)
				copy(chunk, f.pcm[pos:end])
				pos = end
				for i := 0; i+1 < len(chunk); i += 2 {
					s := applyGain(int16(binary.LittleEndian.Uint16(chunk[i:])), f.gain)
					binary.LittleEndian.PutUint16(chunk[i:], uint16(s))
				}
				cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
			} else {
				f.doneOnce.Do(func() { close(f.audioDone) })
				cb(make([]byte, chunkBytes), fakeFrameSize)
			}
		}

		select {
		case <-stop:
			return
		case <-time.After(max(interval, time.Millisecond)):
		}
	}
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stop, done := f.stopCh, f.feedDone
	f.stopCh, f.feedDone = nil, nil
	f.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
