// Package recorder turns a capture device into a stream of encoded audio
// chunks for the live session.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"evichat/audio"
	"evichat/conversation"
	"evichat/encoder"
	"evichat/log"
)

const DefaultChunkInterval = 100 * time.Millisecond

var ErrAlreadyRecording = errors.New("already recording")

type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Sink receives encoded chunks in capture order.
type Sink interface {
	SendAudio(chunk []byte) error
}

type Config struct {
	ChunkInterval time.Duration
	Encoding      string
}

type Stats struct {
	SentChunks    int
	DroppedChunks int
	FailedChunks  int
	SentBytes     int64
	AudioSeconds  float64
}

type Option func(*Pipeline)

// WithLevelHook reports the loudest RMS seen in each 100ms tick.
func WithLevelHook(fn func(level float64)) Option {
	return func(p *Pipeline) { p.levelHook = fn }
}

func WithSilenceHook(fn func(SilenceEvent)) Option {
	return func(p *Pipeline) { p.silenceHook = fn }
}

// WithStateHook observes Start and Stop, including auto-stops. It runs with
// the pipeline locked and must not call back into it.
func WithStateHook(fn func(State)) Option {
	return func(p *Pipeline) { p.onState = fn }
}

// WithAutoStop ends the recording after a long stretch without voice.
func WithAutoStop(on bool) Option {
	return func(p *Pipeline) { p.autoStop = on }
}

type Pipeline struct {
	cfg   Config
	open  func() (audio.CaptureDevice, error)
	sink  Sink
	convo *conversation.Log

	levelHook   func(float64)
	silenceHook func(SilenceEvent)
	autoStop    bool
	onState     func(State)

	mu    sync.Mutex // serializes Start and Stop
	state State
	cur   *run

	statsMu sync.Mutex
	stats   Stats
}

// run is one Start..Stop cycle.
type run struct {
	dev          audio.CaptureDevice
	enc          encoder.Encoder
	chunkSamples int

	bufMu   sync.Mutex
	pending []int16
	peak    float64
	stopped bool

	queue      chan []int16
	senderDone chan struct{}
	quit       chan struct{}
	tickDone   chan struct{}
}

func New(cfg Config, open func() (audio.CaptureDevice, error), sink Sink, convo *conversation.Log, opts ...Option) *Pipeline {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = DefaultChunkInterval
	}
	if cfg.Encoding == "" {
		cfg.Encoding = encoder.FormatFLAC
	}
	p := &Pipeline{cfg: cfg, open: open, sink: sink, convo: convo}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Recording() bool { return p.State() == Recording }

// Stats covers the current or most recent recording.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Recording {
		return ErrAlreadyRecording
	}

	dev, err := p.open()
	if err != nil {
		log.Errorf("microphone open failed: %v", err)
		p.convo.System(fmt.Sprintf("Error accessing microphone: %v", err))
		return fmt.Errorf("opening microphone: %w", err)
	}

	chunkSamples := int(int64(encoder.SampleRate) * int64(p.cfg.ChunkInterval) / int64(time.Second))
	enc, err := encoder.New(p.cfg.Encoding, chunkSamples)
	if err != nil {
		dev.Close()
		p.convo.System(fmt.Sprintf("Error accessing microphone: %v", err))
		return err
	}

	r := &run{
		dev:          dev,
		enc:          enc,
		chunkSamples: chunkSamples,
		queue:        make(chan []int16, 1),
		senderDone:   make(chan struct{}),
		quit:         make(chan struct{}),
		tickDone:     make(chan struct{}),
	}

	p.statsMu.Lock()
	p.stats = Stats{}
	p.statsMu.Unlock()

	dev.SetCallback(func(data []byte, _ uint32) { p.capture(r, data) })
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		log.Errorf("microphone start failed: %v", err)
		p.convo.System(fmt.Sprintf("Error accessing microphone: %v", err))
		return fmt.Errorf("starting microphone: %w", err)
	}

	go p.send(r)
	go p.tick(r)

	p.cur = r
	p.state = Recording
	log.Info("recording_start")
	p.convo.System("Started recording...")
	if p.onState != nil {
		p.onState(Recording)
	}
	return nil
}

// Stop is a no-op when idle.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Pipeline) stopIf(r *run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == r {
		p.stopLocked()
	}
}

func (p *Pipeline) stopLocked() {
	r := p.cur
	if p.state != Recording || r == nil {
		return
	}

	close(r.quit)
	<-r.tickDone

	r.dev.Stop()
	r.dev.ClearCallback()

	r.bufMu.Lock()
	r.stopped = true
	tail := r.pending
	r.pending = nil
	r.bufMu.Unlock()

	if len(tail) > 0 {
		r.queue <- tail
	}
	close(r.queue)
	<-r.senderDone

	r.dev.Close()

	p.cur = nil
	p.state = Idle

	st := p.Stats()
	log.RecordingMetrics(log.RecordingMetricsData{
		Format:        r.enc.Format(),
		AudioS:        st.AudioSeconds,
		SentChunks:    st.SentChunks,
		DroppedChunks: st.DroppedChunks,
		SentKB:        float64(st.SentBytes) / 1024,
		EncodeMs:      float64(r.enc.EncodeTime().Microseconds()) / 1000,
	})
	log.Info("recording_stop")
	p.convo.System("Stopped recording.")
	if p.onState != nil {
		p.onState(Idle)
	}
}

// capture runs on the device callback. It never blocks on the sink.
func (p *Pipeline) capture(r *run, data []byte) {
	if len(data) < 2 {
		return
	}
	level := audio.RMS(data)
	samples := encoder.PCMToSamples(data)

	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	if r.stopped {
		return
	}
	r.peak = max(r.peak, level)
	r.pending = append(r.pending, samples...)
	for len(r.pending) >= r.chunkSamples {
		chunk := make([]int16, r.chunkSamples)
		copy(chunk, r.pending)
		r.pending = r.pending[r.chunkSamples:]
		select {
		case r.queue <- chunk:
		default:
			p.statsMu.Lock()
			p.stats.DroppedChunks++
			p.statsMu.Unlock()
		}
	}
}

func (p *Pipeline) send(r *run) {
	defer close(r.senderDone)

	failing := false
	deliver := func(data []byte) {
		if len(data) == 0 {
			return
		}
		if err := p.sink.SendAudio(data); err != nil {
			p.statsMu.Lock()
			p.stats.FailedChunks++
			p.statsMu.Unlock()
			if !failing {
				log.Warnf("audio chunk not sent: %v", err)
				failing = true
			}
			return
		}
		failing = false
		p.statsMu.Lock()
		p.stats.SentChunks++
		p.stats.SentBytes += int64(len(data))
		p.statsMu.Unlock()
	}

	for chunk := range r.queue {
		data, err := r.enc.Encode(chunk)
		if err != nil {
			log.Errorf("encoding audio: %v", err)
			continue
		}
		p.statsMu.Lock()
		p.stats.AudioSeconds += float64(len(chunk)) / encoder.SampleRate
		p.statsMu.Unlock()
		deliver(data)
	}

	data, err := r.enc.Flush()
	if err != nil {
		log.Errorf("flushing audio encoder: %v", err)
		return
	}
	deliver(data)
}

func (p *Pipeline) tick(r *run) {
	defer close(r.tickDone)

	mon := newSilenceMonitor(p.autoStop)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
		}

		r.bufMu.Lock()
		level := r.peak
		r.peak = 0
		r.bufMu.Unlock()

		if p.levelHook != nil {
			p.levelHook(level)
		}

		ev := mon.Tick(level >= speechLevel)
		switch ev {
		case SilenceNone:
			continue
		case SilenceWarn:
			log.Info("no_voice_warning")
		case SilenceRepeat:
			log.Info("silence_during_warning")
		case SilenceAutoClose:
			log.Info("silence_auto_close")
		}
		if p.silenceHook != nil {
			p.silenceHook(ev)
		}
		if ev == SilenceAutoClose {
			go p.stopIf(r)
			return
		}
	}
}
