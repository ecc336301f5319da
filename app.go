package main

import (
	"context"
	"fmt"

	"evichat/audio"
	"evichat/config"
	"evichat/conversation"
	"evichat/cue"
	"evichat/encoder"
	"evichat/log"
	"evichat/lookup"
	"evichat/recorder"
	"evichat/session"
)

// app ties one voice session to one recording pipeline and a display.
type app struct {
	convo  *conversation.Log
	client *session.Client
	rec    *recorder.Pipeline
	sink   EventSink
}

type appDeps struct {
	cfg      *config.Config
	dialer   session.Dialer
	audioCtx audio.Context
	device   *audio.DeviceInfo
	autoStop bool
	sink     EventSink
}

func newApp(d appDeps) *app {
	a := &app{convo: conversation.NewLog(), sink: d.sink}

	a.convo.Subscribe(func(t conversation.Turn) {
		log.Turn(t.At, string(t.Role), t.Content, t.Emotions)
		a.sink.Turn(t)
	})

	records := lookup.New(d.cfg.LookupURL, lookup.WithTimeout(d.cfg.LookupTimeout))
	a.client = session.New(session.Config{
		Credentials: session.Credentials{
			APIKey:    d.cfg.APIKey,
			SecretKey: d.cfg.SecretKey,
			ConfigID:  d.cfg.ConfigID,
		},
		ReconnectDelay: d.cfg.ReconnectDelay,
		LookupTimeout:  d.cfg.LookupTimeout,
	}, d.dialer, a.convo,
		session.WithLookup(records),
		session.WithStateHook(a.connectionChanged),
	)

	open := func() (audio.CaptureDevice, error) {
		return d.audioCtx.NewCapture(d.device, audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
			Gain:       int32(d.cfg.MicGain),
		})
	}
	a.rec = recorder.New(recorder.Config{
		ChunkInterval: d.cfg.ChunkInterval,
		Encoding:      d.cfg.Encoding,
	}, open, a.client, a.convo,
		recorder.WithAutoStop(d.autoStop),
		recorder.WithLevelHook(a.sink.AudioLevel),
		recorder.WithSilenceHook(a.silence),
		recorder.WithStateHook(a.recordingChanged),
	)
	return a
}

func (a *app) start(ctx context.Context) error {
	return a.client.Start(ctx)
}

// shutdown stops recording before the session so the tail of the audio still
// has somewhere to go.
func (a *app) shutdown() {
	a.rec.Stop()
	a.client.Close()
	a.convo.Close()
	log.SessionEnd(a.convo.Len())
}

// Start begins recording. It is refused while the session is not connected.
func (a *app) Start() error {
	if !a.client.Connected() {
		return session.ErrNotConnected
	}
	if err := a.rec.Start(); err != nil {
		cue.Play(cue.Error)
		return err
	}
	return nil
}

func (a *app) Stop() { a.rec.Stop() }

func (a *app) Recording() bool { return a.rec.Recording() }

func (a *app) Toggle() error {
	if a.rec.Recording() {
		a.rec.Stop()
		return nil
	}
	return a.Start()
}

func (a *app) recordingChanged(s recorder.State) {
	if s == recorder.Recording {
		cue.Play(cue.Start)
	} else {
		cue.Play(cue.Stop)
	}
	a.sink.Recording(s == recorder.Recording)
}

func (a *app) silence(ev recorder.SilenceEvent) {
	switch ev {
	case recorder.SilenceWarn, recorder.SilenceRepeat:
		cue.Play(cue.Error)
	}
	a.sink.Silence(ev)
}

func (a *app) connectionChanged(from, to session.State) {
	a.sink.ConnectionState(to)
	if from == session.Connected && to != session.Connected {
		// a new connection is a new chat; audio from this one cannot carry over
		cue.Play(cue.Disconnected)
		go a.rec.Stop()
	}
}

func statusText(s session.State) string {
	switch s {
	case session.Connected:
		return "Connected"
	case session.Connecting:
		return "Connecting"
	case session.ReconnectPending:
		return "Reconnecting"
	case session.Disconnected:
		return "Disconnected"
	}
	return fmt.Sprint(s)
}
