// Package session keeps a persistent connection to the voice service,
// dispatches its events into a conversation log and reconnects forever on a
// fixed delay.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"evichat/conversation"
	"evichat/log"
	"evichat/lookup"

	"github.com/google/uuid"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultLookupTimeout  = 10 * time.Second

	codeInvalidMessage = "invalid_message"
)

var (
	ErrNotConnected = errors.New("session not connected")
	ErrClosed       = errors.New("session closed")
)

// Credentials are sent verbatim in the auth frame and never inspected.
type Credentials struct {
	APIKey    string
	SecretKey string
	ConfigID  string
}

type Config struct {
	Credentials
	ReconnectDelay time.Duration
	LookupTimeout  time.Duration
}

type PatientLookup interface {
	Lookup(ctx context.Context, firstName, lastName string) lookup.Result
}

type Option func(*Client)

func WithLookup(l PatientLookup) Option {
	return func(c *Client) { c.lookup = l }
}

// WithStateHook registers fn to observe state changes. It runs outside the
// client lock.
func WithStateHook(fn func(from, to State)) Option {
	return func(c *Client) { c.onState = fn }
}

type transition struct {
	from, to State
	attempt  string
}

type Client struct {
	cfg     Config
	dialer  Dialer
	log     *conversation.Log
	lookup  PatientLookup
	onState func(from, to State)

	mu      sync.Mutex
	state   State
	conn    Conn
	gen     uint64 // bumped whenever the current connection is abandoned
	attempt string
	ctx     context.Context
	cancel  context.CancelFunc
	timer   *time.Timer
	chatID  string
	closed  bool
	authing bool // auth frame not yet written on conn
	pending []transition

	lookups sync.WaitGroup
}

func New(cfg Config, dialer Dialer, convo *conversation.Log, opts ...Option) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	c := &Client{
		cfg:    cfg,
		dialer: dialer,
		log:    convo,
		state:  Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins the first connection attempt and returns immediately. Once
// ctx is done no further attempt is made and the session settles in
// Disconnected.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.attempt = uuid.NewString()
	if err := c.transitionLocked(TriggerStart); err != nil {
		c.mu.Unlock()
		return err
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	dial := c.connectLocked()
	c.unlockAndNotify()
	dial()
	return nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool {
	return c.State() == Connected
}

// SessionID is the chat id announced by the most recent chat_metadata event.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// SendAudio sends one encoded chunk as an audio frame.
func (c *Client) SendAudio(chunk []byte) error {
	c.mu.Lock()
	conn := c.conn
	ok := c.state == Connected && conn != nil && !c.authing
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	if err := conn.WriteJSON(NewAudioFrame(chunk)); err != nil {
		return fmt.Errorf("sending audio: %w", err)
	}
	return nil
}

// Close tears the session down. A pending reconnect never fires afterwards
// and events from the old connection are ignored. Lookups already in flight
// finish but their results are dropped.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.transitionLocked(TriggerTeardown)
	c.unlockAndNotify()

	if conn != nil {
		conn.Close()
	}
}

// WaitLookups blocks until every patient lookup started so far has finished.
func (c *Client) WaitLookups() {
	c.lookups.Wait()
}

// HandleEvent applies a transport event to the current connection.
func (c *Client) HandleEvent(ev Event) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.dispatch(gen, ev)
}

func (c *Client) dispatch(gen uint64, ev Event) {
	switch ev := ev.(type) {
	case Opened:
		c.opened(gen, ev.Conn)
	case Received:
		c.received(gen, ev.Data)
	case Failed:
		c.failed(gen, ev.Err)
	case Closed:
		c.lost(gen, ev.Err)
	}
}

// current reports whether gen still names the live connection. Caller holds mu.
func (c *Client) current(gen uint64) bool {
	return !c.closed && gen == c.gen
}

func (c *Client) transitionLocked(t Trigger) error {
	next, err := Next(c.state, t)
	if err != nil {
		return err
	}
	if next != c.state {
		c.pending = append(c.pending, transition{from: c.state, to: next, attempt: c.attempt})
		c.state = next
	}
	return nil
}

// unlockAndNotify releases mu, then delivers the transitions queued while it
// was held.
func (c *Client) unlockAndNotify() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, tr := range pending {
		log.StateChange(tr.from.String(), tr.to.String(), tr.attempt)
		if c.onState != nil {
			c.onState(tr.from, tr.to)
		}
	}
}

// ctxDoneLocked reports whether the context given to Start has ended.
func (c *Client) ctxDoneLocked() bool {
	return c.ctx != nil && c.ctx.Err() != nil
}

// connectLocked opens a new attempt generation. The returned func starts
// the dial and must be called after mu is released.
func (c *Client) connectLocked() func() {
	c.gen++
	gen := c.gen
	ctx := c.ctx
	return func() {
		go func() {
			conn, err := c.dialer.Dial(ctx)
			if err != nil {
				c.dispatch(gen, Failed{Err: err})
				c.dispatch(gen, Closed{Err: err})
				return
			}
			c.dispatch(gen, Opened{Conn: conn})
		}()
	}
}

func (c *Client) opened(gen uint64, conn Conn) {
	if conn == nil {
		return
	}
	c.mu.Lock()
	if !c.current(gen) || c.transitionLocked(TriggerOpened) != nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.authing = true
	auth := NewAuthFrame(c.cfg.Credentials)
	c.unlockAndNotify()

	if err := conn.WriteJSON(auth); err != nil {
		c.failed(gen, fmt.Errorf("sending auth: %w", err))
		c.lost(gen, err)
		return
	}
	c.mu.Lock()
	if c.current(gen) {
		c.authing = false
	}
	c.mu.Unlock()
	go c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !IsCleanClose(err) {
				c.dispatch(gen, Failed{Err: err})
			}
			c.dispatch(gen, Closed{Err: err})
			return
		}
		c.dispatch(gen, Received{Data: data})
	}
}

func (c *Client) received(gen uint64, data []byte) {
	c.mu.Lock()
	ok := c.current(gen) && c.state == Connected
	c.mu.Unlock()
	if !ok {
		return
	}

	msg, err := Decode(data)
	if err != nil {
		log.Warnf("inbound: %v", err)
		c.log.System(fmt.Sprintf("Error: %v (Code: %s)", err, codeInvalidMessage))
		return
	}
	c.apply(msg)
}

func (c *Client) apply(msg Message) {
	switch m := msg.(type) {
	case ChatMetadata:
		c.mu.Lock()
		c.chatID = m.ChatID
		c.mu.Unlock()
		c.log.System("Chat started - ID: " + m.ChatID)

	case UserMessage:
		turn := conversation.Turn{Role: conversation.RoleUser, Content: m.Content}
		if m.FromVoice() {
			turn.Emotions = TopEmotions(m.Prosody, topEmotionCount)
		}
		c.log.Append(turn)
		if first, last, ok := PatientName(m.Content); ok {
			c.augment(first, last)
		}

	case AssistantMessage:
		c.log.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: m.Content})

	case ErrorMessage:
		log.Warnf("server error %s (%s): %s", m.Code, m.Slug, m.Message)
		c.log.System(fmt.Sprintf("Error: %s (Code: %s)", m.Message, m.Code))
	}
}

// augment runs the lookup off the dispatch path; its turn may land after
// later server messages.
func (c *Client) augment(first, last string) {
	if c.lookup == nil {
		return
	}
	c.lookups.Add(1)
	go func() {
		defer c.lookups.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.LookupTimeout)
		defer cancel()

		res := c.lookup.Lookup(ctx, first, last)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			log.Info("patient lookup finished after teardown, result dropped")
			return
		}
		c.log.System(res.String())
	}()
}

func (c *Client) failed(gen uint64, err error) {
	c.mu.Lock()
	ok := c.current(gen)
	c.mu.Unlock()
	if !ok {
		return
	}
	log.Errorf("websocket error: %v", err)
	c.log.System(fmt.Sprintf("WebSocket error: %v", err))
}

func (c *Client) lost(gen uint64, err error) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	stopped := c.ctxDoneLocked()
	trigger := TriggerLost
	if stopped {
		trigger = TriggerTeardown
	}
	if c.transitionLocked(trigger) != nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.authing = false
	c.gen++
	retryGen := c.gen
	if !stopped {
		c.timer = time.AfterFunc(c.cfg.ReconnectDelay, func() { c.retry(retryGen) })
	}
	c.unlockAndNotify()

	if conn != nil {
		conn.Close()
	}
	switch {
	case stopped:
		log.Info("session context done, not reconnecting")
	case err != nil:
		log.Warnf("connection lost, retrying in %s: %v", c.cfg.ReconnectDelay, err)
	}
}

func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if !c.current(gen) || c.state != ReconnectPending {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.ctxDoneLocked() {
		c.gen++
		c.transitionLocked(TriggerTeardown)
		c.unlockAndNotify()
		log.Info("session context done, not reconnecting")
		return
	}
	c.attempt = uuid.NewString()
	c.transitionLocked(TriggerRetry)
	dial := c.connectLocked()
	c.unlockAndNotify()
	dial()
}
