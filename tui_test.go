package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"evichat/conversation"
	"evichat/recorder"
	"evichat/session"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeToggler struct {
	calls int
	err   error
}

func (f *fakeToggler) Toggle() error {
	f.calls++
	return f.err
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m tuiModel, msg tea.Msg) (tuiModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(tuiModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

func sized(ctl recordToggler) tuiModel {
	m := newTUIModel(ctl, "")
	m.width, m.height = 80, 24
	return m
}

func TestToggleRefusedWhileDisconnected(t *testing.T) {
	ctl := &fakeToggler{}
	m := sized(ctl)

	m, cmd := update(t, m, key("r"))
	if cmd != nil {
		t.Fatal("toggle command issued while disconnected")
	}
	if ctl.calls != 0 {
		t.Errorf("Toggle called %d times", ctl.calls)
	}
	if m.notice == "" {
		t.Error("no notice shown for refused toggle")
	}
}

func TestToggleRunsInCommand(t *testing.T) {
	ctl := &fakeToggler{}
	m := sized(ctl)
	m, _ = update(t, m, ConnectionMsg{State: session.Connected})

	_, cmd := update(t, m, key(" "))
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if ctl.calls != 0 {
		t.Fatal("Toggle ran inside Update")
	}
	if msg := cmd(); msg != nil {
		t.Errorf("successful toggle produced %#v", msg)
	}
	if ctl.calls != 1 {
		t.Errorf("Toggle called %d times, want 1", ctl.calls)
	}
}

func TestToggleErrorBecomesNotice(t *testing.T) {
	ctl := &fakeToggler{err: errors.New("microphone busy")}
	m := sized(ctl)
	m, _ = update(t, m, ConnectionMsg{State: session.Connected})

	_, cmd := update(t, m, key("r"))
	msg := cmd()
	n, ok := msg.(NoticeMsg)
	if !ok || n.Text != "microphone busy" {
		t.Fatalf("cmd() = %#v", msg)
	}
}

func TestStopAllowedAfterDisconnect(t *testing.T) {
	ctl := &fakeToggler{}
	m := sized(ctl)
	m, _ = update(t, m, RecordingMsg{On: true})
	m, _ = update(t, m, ConnectionMsg{State: session.ReconnectPending})

	_, cmd := update(t, m, key("r"))
	if cmd == nil {
		t.Fatal("stop refused while recording")
	}
	cmd()
	if ctl.calls != 1 {
		t.Errorf("Toggle called %d times", ctl.calls)
	}
}

func TestQuitKeys(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		_, cmd := update(t, sized(&fakeToggler{}), key(k))
		if cmd == nil {
			t.Errorf("%s: no command", k)
			continue
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: command is not quit", k)
		}
	}
}

func TestSilenceFlag(t *testing.T) {
	m := sized(&fakeToggler{})
	m, _ = update(t, m, RecordingMsg{On: true})

	steps := []struct {
		ev   recorder.SilenceEvent
		want bool
	}{
		{recorder.SilenceWarn, true},
		{recorder.SilenceWarnClear, false},
		{recorder.SilenceRepeat, true},
		{recorder.SilenceAutoClose, false},
	}
	for _, s := range steps {
		m, _ = update(t, m, SilenceMsg{Event: s.ev})
		if m.noVoice != s.want {
			t.Errorf("after %s noVoice = %v, want %v", s.ev, m.noVoice, s.want)
		}
	}
}

func TestAudioLevelIgnoredWhenIdle(t *testing.T) {
	m := sized(&fakeToggler{})
	m, _ = update(t, m, AudioLevelMsg{Level: 0.5})
	if m.level != 0 {
		t.Errorf("level = %f while idle", m.level)
	}
	m, _ = update(t, m, RecordingMsg{On: true})
	m, _ = update(t, m, AudioLevelMsg{Level: 0.5})
	if m.level <= 0 {
		t.Error("level not updated while recording")
	}
}

func TestScrollClampsAtBottom(t *testing.T) {
	m := sized(&fakeToggler{})
	m, _ = update(t, m, key("down"))
	if m.scroll != 0 {
		t.Errorf("scroll = %d", m.scroll)
	}
	m, _ = update(t, m, key("up"))
	m, _ = update(t, m, key("up"))
	m, _ = update(t, m, key("G"))
	if m.scroll != 0 {
		t.Errorf("scroll after G = %d", m.scroll)
	}
}

func TestCopyWithoutReply(t *testing.T) {
	m := sized(&fakeToggler{})
	m, cmd := update(t, m, key("y"))
	if cmd != nil {
		t.Error("copy command issued with no assistant turn")
	}
	if m.notice != "Nothing to copy yet" {
		t.Errorf("notice = %q", m.notice)
	}
}

func TestLastAssistant(t *testing.T) {
	turns := []conversation.Turn{
		{Role: conversation.RoleAssistant, Content: "first"},
		{Role: conversation.RoleUser, Content: "hi"},
		{Role: conversation.RoleAssistant, Content: "second"},
		{Role: conversation.RoleSystem, Content: "Stopped recording."},
	}
	got, ok := lastAssistant(turns)
	if !ok || got != "second" {
		t.Errorf("lastAssistant = %q, %v", got, ok)
	}
	if _, ok := lastAssistant(turns[1:2]); ok {
		t.Error("found an assistant turn among user turns")
	}
}

func TestRenderTurns(t *testing.T) {
	turns := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "hello there", Emotions: "Joy: 0.80"},
		{Role: conversation.RoleAssistant, Content: "hi"},
		{Role: conversation.RoleSystem, Content: "Connected to EVI"},
	}
	lines := renderTurns(turns, 60)
	text := strings.Join(lines, "\n")

	for _, want := range []string{"You: ", "hello there", "Emotions: Joy: 0.80", "EVI: ", "Connected to EVI"} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered output missing %q:\n%s", want, text)
		}
	}
	if len(lines) != 4 {
		t.Errorf("got %d lines, want 4", len(lines))
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"fits", "short", 10, []string{"short"}},
		{"word boundary", "hello big world", 9, []string{"hello big", "world"}},
		{"hard break", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline", "a\n\nb", 5, []string{"a", "", "b"}},
		{"runes", "ééééé", 2, []string{"éé", "éé", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapText(tt.text, tt.width)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestViewShowsState(t *testing.T) {
	m := newTUIModel(&fakeToggler{}, "Ctrl+Shift+Space")
	if m.View() != "Loading..." {
		t.Error("unsized view should be a placeholder")
	}

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 20})
	m, _ = update(t, m, ConnectionMsg{State: session.Connected})
	m, _ = update(t, m, tickMsg(time.Now()))
	m, _ = update(t, m, RecordingMsg{On: true})
	m, _ = update(t, m, TurnMsg{Turn: conversation.Turn{Role: conversation.RoleAssistant, Content: "How can I help?"}})

	view := m.View()
	for _, want := range []string{"Connected", "REC", "How can I help?", "Ctrl+Shift+Space"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if n := strings.Count(view, "\n") + 1; n != 20 {
		t.Errorf("view has %d lines, want 20", n)
	}
}

func TestStatusText(t *testing.T) {
	want := map[session.State]string{
		session.Connected:        "Connected",
		session.Connecting:       "Connecting",
		session.ReconnectPending: "Reconnecting",
		session.Disconnected:     "Disconnected",
	}
	for s, w := range want {
		if got := statusText(s); got != w {
			t.Errorf("statusText(%v) = %q, want %q", s, got, w)
		}
	}
}
