package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"evichat/audio"
	"evichat/conversation"
	"evichat/log"
	"evichat/recorder"
	"evichat/session"
)

const headlessWait = 10 * time.Second

// headlessSink prints turns as plain lines.
type headlessSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *headlessSink) Turn(t conversation.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "[%s] %s\n", t.Role, t.Content)
	if t.Emotions != "" {
		fmt.Fprintf(s.out, "  Emotions: %s\n", t.Emotions)
	}
}

func (s *headlessSink) ConnectionState(st session.State) {
	log.Info("headless_connection: " + st.String())
}

func (s *headlessSink) Recording(bool)     {}
func (s *headlessSink) AudioLevel(float64) {}

func (s *headlessSink) Silence(ev recorder.SilenceEvent) {
	log.Info("headless_silence: " + ev.String())
}

// runHeadless drives a from line commands on in:
//
//	START | STOP | SLEEP <ms> | WAIT_CONNECTED | WAIT_TURNS <n> | WAIT_AUDIO_DONE | QUIT
//
// Unknown commands and failures are reported on out prefixed with "!".
func runHeadless(ctx context.Context, a *app, fake *audio.FakeContext, in io.Reader, out io.Writer) {
	complain := func(format string, args ...any) {
		fmt.Fprintf(out, "! "+format+"\n", args...)
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, arg := strings.ToUpper(fields[0]), ""
		if len(fields) > 1 {
			arg = fields[1]
		}

		switch cmd {
		case "START":
			if err := a.Start(); err != nil {
				complain("start: %v", err)
			}
		case "STOP":
			a.Stop()
		case "SLEEP":
			ms, err := strconv.Atoi(arg)
			if err != nil {
				complain("SLEEP needs milliseconds, got %q", arg)
				continue
			}
			sleepCtx(ctx, time.Duration(ms)*time.Millisecond)
		case "WAIT_CONNECTED":
			if !waitUntil(ctx, headlessWait, a.client.Connected) {
				complain("not connected after %s", headlessWait)
			}
		case "WAIT_TURNS":
			n, err := strconv.Atoi(arg)
			if err != nil {
				complain("WAIT_TURNS needs a count, got %q", arg)
				continue
			}
			if !waitUntil(ctx, headlessWait, func() bool { return a.convo.Len() >= n }) {
				complain("only %d turns after %s", a.convo.Len(), headlessWait)
			}
		case "WAIT_AUDIO_DONE":
			capture := fake.LastCapture()
			if capture == nil {
				complain("no recording started")
				continue
			}
			select {
			case <-capture.AudioDone():
			case <-ctx.Done():
				return
			}
		case "QUIT":
			return
		default:
			complain("unknown command %q", cmd)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func waitUntil(ctx context.Context, limit time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(limit)
	for !cond() {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		sleepCtx(ctx, 10*time.Millisecond)
	}
	return true
}
