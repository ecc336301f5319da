// Package doctor runs non-destructive checks against the microphone, the
// voice session endpoint and the patient record service.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"evichat/audio"
	"evichat/encoder"
	"evichat/lookup"
	"evichat/session"
)

const (
	defaultMicDuration   = 2 * time.Second
	defaultFirstEventMax = 10 * time.Second

	// anything above this peak level counts as a live microphone
	micFloor = 0.0005
)

type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Checker holds the dependencies each check talks to. Nil dependencies skip
// their check.
type Checker struct {
	Audio       audio.Context
	Device      *audio.DeviceInfo
	Dialer      session.Dialer
	Credentials session.Credentials
	Lookup      session.PatientLookup
	Hotkey      func() (string, error)

	MicDuration   time.Duration
	FirstEventMax time.Duration
}

// Run prints each check to w and returns 0 when all of them pass.
func (c *Checker) Run(ctx context.Context, w io.Writer) int {
	fmt.Fprintln(w, "evichat doctor - system diagnostics")
	fmt.Fprintln(w, "===================================")

	checks := c.All(ctx, func(i, n int, name string) {
		fmt.Fprintf(w, "\n[%d/%d] %s\n", i, n, name)
	}, func(ch Check) {
		status := "PASS"
		if !ch.OK {
			status = "FAIL"
		}
		fmt.Fprintf(w, "  %s: %s\n", status, ch.Detail)
	})

	fmt.Fprintln(w)
	for _, ch := range checks {
		if !ch.OK {
			fmt.Fprintln(w, "Some checks failed. See details above.")
			return 1
		}
	}
	fmt.Fprintln(w, "All checks passed!")
	return 0
}

// All runs every configured check in order.
func (c *Checker) All(ctx context.Context, begin func(i, n int, name string), done func(Check)) []Check {
	type step struct {
		name string
		run  func(context.Context) Check
	}
	var steps []step
	if c.Hotkey != nil {
		steps = append(steps, step{"Hotkey", c.CheckHotkey})
	}
	if c.Audio != nil {
		steps = append(steps, step{"Microphone", c.CheckMicrophone})
	}
	if c.Dialer != nil {
		steps = append(steps, step{"Voice session", c.CheckSession})
	}
	if c.Lookup != nil {
		steps = append(steps, step{"Patient records", c.CheckRecords})
	}

	var out []Check
	for i, s := range steps {
		if begin != nil {
			begin(i+1, len(steps), s.name)
		}
		ch := s.run(ctx)
		ch.Name = s.name
		if done != nil {
			done(ch)
		}
		out = append(out, ch)
	}
	return out
}

func (c *Checker) CheckHotkey(_ context.Context) Check {
	msg, err := c.Hotkey()
	if err != nil {
		return Check{Detail: err.Error()}
	}
	return Check{OK: true, Detail: msg}
}

func (c *Checker) CheckMicrophone(ctx context.Context) Check {
	dur := c.MicDuration
	if dur <= 0 {
		dur = defaultMicDuration
	}

	dev, err := c.Audio.NewCapture(c.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return Check{Detail: fmt.Sprintf("cannot open microphone: %v", err)}
	}
	defer dev.Close()

	var mu sync.Mutex
	var total int
	var peak float64
	dev.SetCallback(func(data []byte, _ uint32) {
		level := audio.RMS(data)
		mu.Lock()
		total += len(data)
		peak = max(peak, level)
		mu.Unlock()
	})
	if err := dev.Start(); err != nil {
		return Check{Detail: fmt.Sprintf("cannot start capture: %v", err)}
	}

	select {
	case <-ctx.Done():
	case <-time.After(dur):
	}
	dev.Stop()
	dev.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	if total == 0 {
		return Check{Detail: fmt.Sprintf("no audio captured from %s", dev.DeviceName())}
	}
	secs := float64(total) / 2 / encoder.SampleRate
	if peak < micFloor {
		return Check{Detail: fmt.Sprintf("%s delivered %.1fs of digital silence (muted?)", dev.DeviceName(), secs)}
	}
	return Check{OK: true, Detail: fmt.Sprintf("%s captured %.1fs, peak level %.3f", dev.DeviceName(), secs, peak)}
}

// CheckSession connects, authenticates and waits for the first server event.
func (c *Checker) CheckSession(ctx context.Context) Check {
	wait := c.FirstEventMax
	if wait <= 0 {
		wait = defaultFirstEventMax
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	conn, err := c.Dialer.Dial(ctx)
	if err != nil {
		return Check{Detail: fmt.Sprintf("handshake failed: %v", err)}
	}
	defer conn.Close()

	if err := conn.WriteJSON(session.NewAuthFrame(c.Credentials)); err != nil {
		return Check{Detail: fmt.Sprintf("sending credentials: %v", err)}
	}

	type read struct {
		data []byte
		err  error
	}
	ch := make(chan read, 1)
	go func() {
		data, err := conn.ReadMessage()
		ch <- read{data, err}
	}()

	var r read
	select {
	case <-ctx.Done():
		return Check{Detail: fmt.Sprintf("no reply within %s", wait)}
	case r = <-ch:
	}
	if r.err != nil {
		if session.IsCleanClose(r.err) {
			return Check{Detail: "server closed the connection after authentication"}
		}
		return Check{Detail: fmt.Sprintf("reading first event: %v", r.err)}
	}

	msg, err := session.Decode(r.data)
	if err != nil {
		var de *session.DecodeError
		if errors.As(err, &de) {
			return Check{Detail: fmt.Sprintf("malformed %s event", de.Type)}
		}
		return Check{Detail: err.Error()}
	}
	switch m := msg.(type) {
	case session.ChatMetadata:
		return Check{OK: true, Detail: "authenticated, chat " + m.ChatID}
	case session.ErrorMessage:
		return Check{Detail: fmt.Sprintf("server error: %s (Code: %s)", m.Message, m.Code)}
	default:
		return Check{OK: true, Detail: "connected, first event " + msg.MessageType()}
	}
}

// CheckRecords issues a lookup for a name that should not exist. Any answer
// from the service, including not-found, means it is reachable.
func (c *Checker) CheckRecords(ctx context.Context) Check {
	res := c.Lookup.Lookup(ctx, "Doctor", "Check")
	if res.Failed() {
		return Check{Detail: "record service unreachable: " + res.Error}
	}
	if res.Found() {
		return Check{OK: true, Detail: "reachable, test name matched " + res.Patient.Name}
	}
	return Check{OK: true, Detail: "reachable"}
}
