// Package conversation holds the ordered record of a voice session.
package conversation

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is immutable once appended.
type Turn struct {
	Role     Role
	Content  string
	Emotions string
	At       time.Time
}

// Log is an append-only sequence of turns. Appends are serialized so every
// subscriber observes turns in log order. Growth is unbounded for the life of
// the session.
type Log struct {
	mu     sync.Mutex
	turns  []Turn
	subs   []func(Turn)
	closed bool
	now    func() time.Time
}

func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append adds t to the end of the log. It reports false and does nothing
// once the log has been closed.
func (l *Log) Append(t Turn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	if t.At.IsZero() {
		t.At = l.now()
	}
	l.turns = append(l.turns, t)
	for _, fn := range l.subs {
		fn(t)
	}
	return true
}

func (l *Log) System(content string) bool {
	return l.Append(Turn{Role: RoleSystem, Content: content})
}

func (l *Log) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

func (l *Log) Last() (Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}

// Subscribe registers fn to be called for every later append. fn runs while
// the log is locked and must not call back into the log.
func (l *Log) Subscribe(fn func(Turn)) {
	l.mu.Lock()
	l.subs = append(l.subs, fn)
	l.mu.Unlock()
}

func (l *Log) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
