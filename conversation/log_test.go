package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAppendPreservesOrder(t *testing.T) {
	l := NewLog()
	for i := 0; i < 5; i++ {
		if !l.Append(Turn{Role: RoleUser, Content: fmt.Sprintf("m%d", i)}) {
			t.Fatalf("append %d rejected", i)
		}
	}
	turns := l.Turns()
	if len(turns) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(turns))
	}
	for i, tr := range turns {
		if want := fmt.Sprintf("m%d", i); tr.Content != want {
			t.Errorf("turn %d: got %q, want %q", i, tr.Content, want)
		}
		if tr.At.IsZero() {
			t.Errorf("turn %d: timestamp not set", i)
		}
	}
}

func TestAppendKeepsExplicitTimestamp(t *testing.T) {
	l := NewLog()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	l.Append(Turn{Role: RoleSystem, Content: "x", At: at})
	got, ok := l.Last()
	if !ok || !got.At.Equal(at) {
		t.Fatalf("timestamp overwritten: %v", got.At)
	}
}

func TestNoDedup(t *testing.T) {
	l := NewLog()
	l.System("same")
	l.System("same")
	if l.Len() != 2 {
		t.Fatalf("expected duplicates kept, got %d turns", l.Len())
	}
}

func TestTurnsReturnsCopy(t *testing.T) {
	l := NewLog()
	l.System("a")
	turns := l.Turns()
	turns[0].Content = "mutated"
	if got, _ := l.Last(); got.Content != "a" {
		t.Fatalf("log mutated through copy: %q", got.Content)
	}
}

func TestAppendAfterCloseIsNoop(t *testing.T) {
	l := NewLog()
	l.System("before")
	l.Close()
	if l.System("after") {
		t.Fatal("append after close reported success")
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 turn, got %d", l.Len())
	}
	l.Close()
	if !l.Closed() {
		t.Fatal("expected closed")
	}
}

func TestLastEmpty(t *testing.T) {
	if _, ok := NewLog().Last(); ok {
		t.Fatal("expected no last turn")
	}
}

func TestSubscribersSeeLogOrder(t *testing.T) {
	l := NewLog()
	var seen []string
	l.Subscribe(func(tr Turn) { seen = append(seen, tr.Content) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.System(fmt.Sprintf("%d", i))
		}(i)
	}
	wg.Wait()

	turns := l.Turns()
	if len(seen) != len(turns) {
		t.Fatalf("subscriber saw %d turns, log has %d", len(seen), len(turns))
	}
	for i := range turns {
		if seen[i] != turns[i].Content {
			t.Fatalf("order mismatch at %d: %q vs %q", i, seen[i], turns[i].Content)
		}
	}
}
