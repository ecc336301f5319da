// Package cue plays short synthesized tones for recording and connection
// events.
package cue

import (
	"math"
	"sync/atomic"
)

type Cue int

const (
	Start Cue = iota
	Stop
	Error
	Disconnected
)

func (c Cue) String() string {
	switch c {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Error:
		return "error"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

const sampleRate = 44100

type tone struct {
	freq   float64
	dur    float64 // seconds per beep
	gap    float64 // silence between beeps, seconds
	beeps  int
	volume float64
	decay  float64
}

var tones = map[Cue]tone{
	Start:        {freq: 1200, dur: 0.2, beeps: 1, volume: 0.5, decay: 60},
	Stop:         {freq: 900, dur: 0.2, beeps: 1, volume: 0.5, decay: 40},
	Error:        {freq: 350, dur: 0.08, gap: 0.05, beeps: 2, volume: 0.6, decay: 30},
	Disconnected: {freq: 520, dur: 0.12, gap: 0.06, beeps: 2, volume: 0.5, decay: 25},
}

var disabled atomic.Bool

// Disable silences every later Play call.
func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

// Play starts the tone for c and returns without waiting for it to finish.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	samples := render(c)
	if len(samples) == 0 {
		return
	}
	play(samples)
}

// render returns mono S16 samples at sampleRate.
func render(c Cue) []int16 {
	t, ok := tones[c]
	if !ok {
		return nil
	}
	beep := synth(t.freq, t.dur, t.volume, t.decay)
	gap := make([]int16, int(sampleRate*t.gap))
	out := make([]int16, 0, t.beeps*len(beep)+(t.beeps-1)*len(gap))
	for i := 0; i < t.beeps; i++ {
		if i > 0 {
			out = append(out, gap...)
		}
		out = append(out, beep...)
	}
	return out
}

// synth is an exponentially decaying sine.
func synth(freq, dur, volume, decay float64) []int16 {
	n := int(sampleRate * dur)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}
