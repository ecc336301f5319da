package main

import (
	"evichat/conversation"
	"evichat/recorder"
	"evichat/session"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI and the
// headless runner receive the same session and recording events.
type EventSink interface {
	Turn(t conversation.Turn)
	ConnectionState(s session.State)
	Recording(on bool)
	AudioLevel(level float64)
	Silence(ev recorder.SilenceEvent)
}
