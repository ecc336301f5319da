//go:build !linux

package cue

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	initOnce sync.Once
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	playMu  sync.Mutex
	playBuf atomic.Pointer[[]byte]
	playPos atomic.Uint32
)

func initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(malgoCtx.Context, config, malgo.DeviceCallbacks{Data: fill})
	return err
}

func initSound() {
	var err error
	malgoCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return
	}
	if err := initDevice(); err != nil {
		malgoCtx.Uninit()
		malgoCtx = nil
	}
}

// fill runs on the audio thread.
func fill(out, _ []byte, frameCount uint32) {
	want := frameCount * 2
	buf := playBuf.Load()
	var n uint32
	if buf != nil {
		pos := playPos.Load()
		n = min(want, uint32(len(*buf))-pos)
		copy(out[:n], (*buf)[pos:pos+n])
		playPos.Store(pos + n)
		if pos+n >= uint32(len(*buf)) {
			playBuf.Store(nil)
		}
	}
	clear(out[n:want])
}

func play(samples []int16) {
	initOnce.Do(initSound)
	if malgoCtx == nil {
		return
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	playMu.Lock()
	defer playMu.Unlock()
	if device == nil {
		return
	}
	device.Stop()
	playPos.Store(0)
	playBuf.Store(&pcm)

	if err := device.Start(); err != nil {
		// the device can go stale across sleep/wake; rebuild it once
		device.Uninit()
		if err := initDevice(); err != nil {
			device = nil
			playBuf.Store(nil)
			return
		}
		if err := device.Start(); err != nil {
			playBuf.Store(nil)
		}
	}
}
