package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"evichat/audio"
	"evichat/config"
	"evichat/conversation"
	"evichat/cue"
	"evichat/encoder"
	"evichat/session"

	"github.com/gorilla/websocket"
)

// eviServer authenticates one client, announces a chat, and answers the first
// audio frame with a user and an assistant message.
type eviServer struct {
	*httptest.Server

	mu     sync.Mutex
	auth   session.AuthFrame
	chunks int
}

func newEVIServer(t *testing.T) *eviServer {
	t.Helper()
	s := &eviServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var auth session.AuthFrame
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		s.mu.Lock()
		s.auth = auth
		s.mu.Unlock()
		conn.WriteJSON(map[string]any{"type": "chat_metadata", "chat_id": "chat-1", "chat_group_id": "group-1"})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if _, err := session.DecodeAudioFrame(data); err != nil {
				continue
			}
			s.mu.Lock()
			s.chunks++
			first := s.chunks == 1
			s.mu.Unlock()
			if first {
				conn.WriteJSON(map[string]any{
					"type":      "user_message",
					"message":   map[string]any{"role": "user", "content": "I feel great today"},
					"from_text": false,
					"models":    map[string]any{"prosody": map[string]any{"scores": map[string]float64{"Joy": 0.8, "Calmness": 0.3, "Doubt": 0.1}}},
				})
				conn.WriteJSON(map[string]any{
					"type":    "assistant_message",
					"message": map[string]any{"role": "assistant", "content": "Glad to hear it."},
				})
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *eviServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *eviServer) received() (session.AuthFrame, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth, s.chunks
}

func tone(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(9000)
		if (i/8)%2 == 1 {
			v = -9000
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(endpoint string) *config.Config {
	return &config.Config{
		Endpoint:       endpoint,
		APIKey:         "key-123",
		SecretKey:      "secret-456",
		ConfigID:       "cfg-789",
		LookupURL:      "http://127.0.0.1:0",
		ReconnectDelay: 50 * time.Millisecond,
		ChunkInterval:  100 * time.Millisecond,
		Encoding:       encoder.FormatLinear16,
		LookupTimeout:  time.Second,
	}
}

func TestHeadlessConversation(t *testing.T) {
	cue.Disable()
	srv := newEVIServer(t)
	cfg := testConfig(srv.wsURL())

	fake := audio.NewFakeContextPCM(tone(encoder.SampleRate/2), true)
	out := &syncBuffer{}
	a := newApp(appDeps{
		cfg:      cfg,
		dialer:   session.NewWebSocketDialer(cfg.Endpoint, session.DialOptions{HandshakeTimeout: time.Second}),
		audioCtx: fake,
		sink:     &headlessSink{out: out},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	script := strings.Join([]string{
		"WAIT_CONNECTED",
		"START",
		"WAIT_AUDIO_DONE",
		"WAIT_TURNS 4",
		"STOP",
		"QUIT",
		"START",
	}, "\n")
	replies := &syncBuffer{}
	runHeadless(ctx, a, fake, strings.NewReader(script), replies)
	a.client.WaitLookups()
	a.shutdown()

	if r := replies.String(); r != "" {
		t.Errorf("headless runner complained:\n%s", r)
	}

	auth, chunks := srv.received()
	if auth.Type != "auth" || auth.APIKey != "key-123" || auth.SecretKey != "secret-456" || auth.ConfigID != "cfg-789" {
		t.Errorf("auth frame = %+v", auth)
	}
	if chunks == 0 {
		t.Error("server received no audio")
	}

	got := out.String()
	for _, want := range []string{
		"[system] Chat started - ID: chat-1",
		"[system] Started recording...",
		"[user] I feel great today",
		"  Emotions: Joy: 0.80, Calmness: 0.30, Doubt: 0.10",
		"[assistant] Glad to hear it.",
		"[system] Stopped recording.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if a.rec.Recording() {
		t.Error("commands after QUIT were executed")
	}
}

func TestHeadlessStartRefusedWhileDisconnected(t *testing.T) {
	cue.Disable()
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	cfg := testConfig(endpoint)
	fake := audio.NewFakeContextPCM(nil, false)
	a := newApp(appDeps{
		cfg:      cfg,
		dialer:   session.NewWebSocketDialer(endpoint, session.DialOptions{HandshakeTimeout: 200 * time.Millisecond}),
		audioCtx: fake,
		sink:     &headlessSink{out: &syncBuffer{}},
	})
	defer a.shutdown()

	replies := &syncBuffer{}
	runHeadless(context.Background(), a, fake, strings.NewReader("START\nWAIT_AUDIO_DONE\nBOGUS\nSLEEP x\n"), replies)

	got := replies.String()
	for _, want := range []string{
		"! start: " + session.ErrNotConnected.Error(),
		"! no recording started",
		`! unknown command "BOGUS"`,
		`! SLEEP needs milliseconds, got "x"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("replies missing %q:\n%s", want, got)
		}
	}
	if fake.Opened() != 0 {
		t.Error("microphone opened while disconnected")
	}
}

func TestAppConnectionLossStopsRecording(t *testing.T) {
	cue.Disable()
	fake := audio.NewFakeContextPCM(tone(encoder.SampleRate*5), true)
	sink := &recordingSink{}
	convoCfg := testConfig("ws://unused")

	conns := make(chan *scriptedConn, 4)
	dialer := session.DialerFunc(func(ctx context.Context) (session.Conn, error) {
		c := newScriptedConn()
		conns <- c
		return c, nil
	})
	a := newApp(appDeps{cfg: convoCfg, dialer: dialer, audioCtx: fake, sink: sink})
	defer a.shutdown()

	if err := a.start(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := <-conns
	first.in <- []byte(`{"type":"chat_metadata","chat_id":"c1"}`)
	waitUntilT(t, "connected", a.client.Connected)

	if err := a.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	waitUntilT(t, "recording", a.Recording)

	first.drop()
	waitUntilT(t, "recording stopped", func() bool { return !a.Recording() })

	states := sink.states()
	if !slices.Contains(states, session.ReconnectPending) {
		t.Errorf("sink states = %v, want a reconnect", states)
	}
}

func TestAppPassesMicGainToCapture(t *testing.T) {
	cue.Disable()
	fake := audio.NewFakeContextPCM(tone(encoder.SampleRate), true)
	cfg := testConfig("ws://unused")
	cfg.MicGain = 4

	dialer := session.DialerFunc(func(ctx context.Context) (session.Conn, error) {
		return newScriptedConn(), nil
	})
	a := newApp(appDeps{cfg: cfg, dialer: dialer, audioCtx: fake, sink: &recordingSink{}})
	defer a.shutdown()

	if err := a.start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitUntilT(t, "connected", a.client.Connected)
	if err := a.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	waitUntilT(t, "recording", a.Recording)

	if got := fake.LastConfig().Gain; got != 4 {
		t.Errorf("capture gain = %d, want 4", got)
	}
	a.Stop()
}

func waitUntilT(t *testing.T, what string, cond func() bool) {
	t.Helper()
	if !waitUntil(context.Background(), 3*time.Second, cond) {
		t.Fatalf("timed out waiting for %s", what)
	}
}

type scriptedConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *scriptedConn) WriteJSON(any) error { return nil }

func (c *scriptedConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.closed:
		return nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "dropped"}
	}
}

func (c *scriptedConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptedConn) drop() { c.Close() }

type recordingSink struct {
	headlessSink
	mu   sync.Mutex
	seen []session.State
}

func (s *recordingSink) Turn(t conversation.Turn) {}

func (s *recordingSink) ConnectionState(st session.State) {
	s.mu.Lock()
	s.seen = append(s.seen, st)
	s.mu.Unlock()
}

func (s *recordingSink) states() []session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.State(nil), s.seen...)
}
