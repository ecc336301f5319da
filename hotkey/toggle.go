package hotkey

import (
	"context"
	"sync/atomic"
	"time"
)

// Control is the recording surface a Toggler drives.
type Control interface {
	Start() error
	Stop()
	Recording() bool
}

// Toggler turns shortcut presses into recording toggles. A short tap flips
// recording on or off. Holding the shortcut past the long-press threshold
// after starting a recording makes it push-to-talk: releasing stops it.
type Toggler struct {
	hk        Hotkey
	longPress time.Duration
	ctl       Control
	held      atomic.Bool
}

func NewToggler(hk Hotkey, longPress time.Duration, ctl Control) *Toggler {
	return &Toggler{hk: hk, longPress: longPress, ctl: ctl}
}

// PushToTalk reports whether the current recording ends on key release.
func (t *Toggler) PushToTalk() bool { return t.held.Load() }

// Run handles presses until ctx is done.
func (t *Toggler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.hk.Keydown():
		}

		started := false
		if t.ctl.Recording() {
			t.ctl.Stop()
		} else {
			started = t.ctl.Start() == nil
		}

		timer := time.NewTimer(t.longPress)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.hk.Keyup():
			timer.Stop()
			continue
		case <-timer.C:
		}

		if started {
			t.held.Store(true)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.hk.Keyup():
		}
		if started && t.ctl.Recording() {
			t.ctl.Stop()
		}
		t.held.Store(false)
	}
}
