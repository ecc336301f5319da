package main

import (
	"fmt"
	"strings"
	"time"

	"evichat/conversation"
	"evichat/recorder"
	"evichat/session"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI message types
type TurnMsg struct{ Turn conversation.Turn }
type ConnectionMsg struct{ State session.State }
type RecordingMsg struct{ On bool }
type AudioLevelMsg struct{ Level float64 }
type SilenceMsg struct{ Event recorder.SilenceEvent }
type NoticeMsg struct{ Text string }
type DeviceLineMsg struct{ Text string }
type tickMsg time.Time

// recordToggler is what the r key drives.
type recordToggler interface {
	Toggle() error
}

type tuiModel struct {
	ctl recordToggler

	turns      []conversation.Turn
	conn       session.State
	recording  bool
	recStart   time.Time
	now        time.Time
	level      float64
	noVoice    bool
	notice     string
	deviceLine string
	hotkeyHelp string
	scroll     int // lines scrolled up from the bottom
	width      int
	height     int
}

var (
	styleUser      = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	styleAssistant = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleSystem    = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	styleEmotions  = lipgloss.NewStyle().Foreground(lipgloss.Color("177"))
	styleDim       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleHelp      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleRec       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleWarn      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	connColors = map[session.State]string{
		session.Connected:        "42",
		session.Connecting:       "220",
		session.ReconnectPending: "208",
		session.Disconnected:     "196",
	}
)

func newTUIModel(ctl recordToggler, hotkeyHelp string) tuiModel {
	return tuiModel{ctl: ctl, conn: session.Disconnected, hotkeyHelp: hotkeyHelp, now: time.Now()}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.now = time.Time(msg)
		return m, tuiTick()

	case TurnMsg:
		m.turns = append(m.turns, msg.Turn)

	case ConnectionMsg:
		m.conn = msg.State
		if msg.State == session.Connected {
			m.notice = ""
		}

	case RecordingMsg:
		m.recording = msg.On
		m.level = 0
		m.noVoice = false
		if msg.On {
			m.recStart = m.now
		}

	case AudioLevelMsg:
		if m.recording {
			m.level = m.level*0.6 + msg.Level*0.4
		}

	case SilenceMsg:
		switch msg.Event {
		case recorder.SilenceWarn, recorder.SilenceRepeat:
			m.noVoice = true
		case recorder.SilenceWarnClear, recorder.SilenceAutoClose:
			m.noVoice = false
		}

	case NoticeMsg:
		m.notice = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "r", " ":
		if m.conn != session.Connected && !m.recording {
			m.notice = "Recording is available once connected"
			return m, nil
		}
		ctl := m.ctl
		return m, func() tea.Msg {
			if err := ctl.Toggle(); err != nil {
				return NoticeMsg{Text: err.Error()}
			}
			return nil
		}

	case "y":
		text, ok := lastAssistant(m.turns)
		if !ok {
			m.notice = "Nothing to copy yet"
			return m, nil
		}
		return m, func() tea.Msg {
			if err := clipboard.WriteAll(text); err != nil {
				return NoticeMsg{Text: "Copy failed: " + err.Error()}
			}
			return NoticeMsg{Text: "Copied last reply"}
		}

	case "up", "k":
		m.scroll++
	case "down", "j":
		m.scroll = max(m.scroll-1, 0)
	case "pgup":
		m.scroll += max(m.height/2, 1)
	case "pgdown":
		m.scroll = max(m.scroll-max(m.height/2, 1), 0)
	case "end", "G":
		m.scroll = 0
	}
	return m, nil
}

func lastAssistant(turns []conversation.Turn) (string, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == conversation.RoleAssistant {
			return turns[i].Content, true
		}
	}
	return "", false
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	header := m.renderHeader()
	footer := m.renderFooter()
	bodyHeight := max(m.height-len(header)-len(footer), 1)

	lines := renderTurns(m.turns, max(m.width-2, 10))
	end := max(len(lines)-m.scroll, 0)
	start := max(end-bodyHeight, 0)
	body := lines[start:end]
	for len(body) < bodyHeight {
		body = append(body, "")
	}

	out := make([]string, 0, m.height)
	out = append(out, header...)
	out = append(out, body...)
	out = append(out, footer...)
	return strings.Join(out, "\n")
}

func (m tuiModel) renderHeader() []string {
	conn := lipgloss.NewStyle().
		Foreground(lipgloss.Color(connColors[m.conn])).
		Render("● " + statusText(m.conn))

	var rec string
	if m.recording {
		secs := m.now.Sub(m.recStart).Seconds()
		rec = styleRec.Render(fmt.Sprintf("● REC %.1fs", max(secs, 0))) + " " + levelBar(m.level, 12)
		if m.noVoice {
			rec += styleWarn.Render("  ⚠ no voice detected")
		}
	} else {
		rec = styleDim.Render("○ STANDBY")
	}

	lines := []string{conn + "   " + rec}
	if m.deviceLine != "" {
		lines = append(lines, styleDim.Render(m.deviceLine))
	}
	lines = append(lines, styleDim.Render(strings.Repeat("─", max(m.width, 1))))
	return lines
}

func (m tuiModel) renderFooter() []string {
	lines := []string{styleDim.Render(strings.Repeat("─", max(m.width, 1)))}
	if m.notice != "" {
		lines = append(lines, styleWarn.Render(m.notice))
	}
	help := "r record · y copy reply · ↑/↓ scroll · q quit"
	if m.hotkeyHelp != "" {
		help = m.hotkeyHelp + " or " + help
	}
	lines = append(lines, styleHelp.Render(help))
	return lines
}

// levelBar draws an RMS level, full at 0.3.
func levelBar(level float64, width int) string {
	filled := 0
	switch {
	case level >= 0.3:
		filled = width
	case level > 0.001:
		filled = int(float64(width) * (level / 0.3))
		filled = max(filled, 1)
	}
	return styleRec.Render(strings.Repeat("▮", filled)) + styleDim.Render(strings.Repeat("▯", width-filled))
}

func renderTurns(turns []conversation.Turn, width int) []string {
	var lines []string
	for _, t := range turns {
		var label string
		var style lipgloss.Style
		switch t.Role {
		case conversation.RoleUser:
			label, style = "You: ", styleUser
		case conversation.RoleAssistant:
			label, style = "EVI: ", styleAssistant
		default:
			for _, l := range wrapText(t.Content, width) {
				lines = append(lines, styleSystem.Render(l))
			}
			continue
		}

		wrapped := wrapText(t.Content, width-len(label))
		for i, l := range wrapped {
			if i == 0 {
				lines = append(lines, style.Render(label)+l)
			} else {
				lines = append(lines, strings.Repeat(" ", len(label))+l)
			}
		}
		if t.Emotions != "" {
			for _, l := range wrapText("Emotions: "+t.Emotions, width-len(label)) {
				lines = append(lines, strings.Repeat(" ", len(label))+styleEmotions.Render(l))
			}
		}
	}
	return lines
}

// wrapText splits on spaces, hard-breaking words longer than width.
func wrapText(text string, width int) []string {
	width = max(width, 1)
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		runes := []rune(para)
		if len(runes) == 0 {
			lines = append(lines, "")
			continue
		}
		for len(runes) > width {
			splitAt := width
			for i := width; i > 0; i-- {
				if runes[i] == ' ' {
					splitAt = i
					break
				}
			}
			lines = append(lines, string(runes[:splitAt]))
			runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
		}
		if len(runes) > 0 {
			lines = append(lines, string(runes))
		}
	}
	return lines
}

// tuiSink forwards events into a running program.
type tuiSink struct {
	program *tea.Program
}

func (s *tuiSink) Turn(t conversation.Turn)         { s.program.Send(TurnMsg{Turn: t}) }
func (s *tuiSink) ConnectionState(st session.State) { s.program.Send(ConnectionMsg{State: st}) }
func (s *tuiSink) Recording(on bool)                { s.program.Send(RecordingMsg{On: on}) }
func (s *tuiSink) AudioLevel(level float64)         { s.program.Send(AudioLevelMsg{Level: level}) }
func (s *tuiSink) Silence(ev recorder.SilenceEvent) { s.program.Send(SilenceMsg{Event: ev}) }
