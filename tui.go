package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/seanesla/kanari-sub001/dispatch"
	"github.com/seanesla/kanari-sub001/session"
	"github.com/seanesla/kanari-sub001/transcript"
)

// TUI message types
type StateMsg struct{ From, To session.State }
type LevelMsg struct{ Level float64 }
type TranscriptMsg struct{ Messages []transcript.Message }
type WidgetsMsg struct{ Widgets []dispatch.Widget }
type LogMsg struct{ Text string }
type tickMsg time.Time

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

var (
	styleTitle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	styleDim       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleHelp      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleErr       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleUser      = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleAssistant = lipgloss.NewStyle().Foreground(lipgloss.Color("249"))
	styleStreaming = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	styleMismatch  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleMeterOn   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleMeterHot  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleWidgetOK  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWidgetBad = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

var stateColors = map[session.State]string{
	session.StateIdle:              "241",
	session.StateInitializing:      "226",
	session.StateConnecting:        "226",
	session.StateReady:             "42",
	session.StateAIGreeting:        "45",
	session.StateListening:         "42",
	session.StateUserSpeaking:      "46",
	session.StateProcessing:        "226",
	session.StateAssistantSpeaking: "45",
	session.StateEnding:            "241",
	session.StateComplete:          "241",
	session.StateError:             "196",
}

type tuiModel struct {
	orch       *session.Orchestrator
	deviceName string

	state         session.State
	level         float64
	peak          float64
	messages      []transcript.Message
	widgets       []dispatch.Widget
	errText       string
	starting      bool
	width, height int
}

func NewTUIProgram(orch *session.Orchestrator, deviceName string) *tea.Program {
	m := tuiModel{orch: orch, deviceName: deviceName, state: orch.State()}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func startCmd(orch *session.Orchestrator) tea.Cmd {
	return func() tea.Msg {
		err := orch.Start(session.StartOptions{UserGesture: true})
		if err != nil && !errors.Is(err, session.ErrSuperseded) {
			return LogMsg{Text: err.Error()}
		}
		return LogMsg{}
	}
}

func endCmd(orch *session.Orchestrator) tea.Cmd {
	return func() tea.Msg {
		if err := orch.End(); err != nil {
			return LogMsg{Text: err.Error()}
		}
		return LogMsg{}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.peak *= 0.95
		return m, tuiTick()

	case StateMsg:
		m.state = msg.To
		if msg.To == session.StateError {
			m.errText = m.orch.LastError()
		}
		if msg.To == session.StateIdle || msg.To == session.StateInitializing {
			m.errText = ""
		}
		m.starting = false

	case LevelMsg:
		m.level = m.level*0.6 + msg.Level*0.4
		if msg.Level > m.peak {
			m.peak = msg.Level
		}

	case TranscriptMsg:
		m.messages = msg.Messages

	case WidgetsMsg:
		m.widgets = msg.Widgets

	case LogMsg:
		if msg.Text != "" {
			m.errText = msg.Text
		}
		m.starting = false
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "enter", " ":
		switch m.state {
		case session.StateIdle, session.StateComplete, session.StateError:
			if !m.starting {
				m.starting = true
				m.errText = ""
				return m, startCmd(m.orch)
			}
		default:
			return m, endCmd(m.orch)
		}

	case "i":
		m.orch.InterruptAssistant()

	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		idx := int(key[0] - '1')
		if idx < len(m.widgets) {
			m.orch.DismissWidget(m.widgets[idx].ID)
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const leftWidth = 34
	left := m.renderStatus(leftWidth)
	right := m.renderConversation(m.width - leftWidth - 1)

	leftPanel := lipgloss.NewStyle().
		Width(leftWidth).
		Height(m.height).
		Render(left)
	rightPanel := lipgloss.NewStyle().
		Width(m.width - leftWidth - 1).
		Height(m.height).
		PaddingLeft(1).
		Render(right)

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel)
}

func (m tuiModel) renderStatus(width int) string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("kanari "+version) + "\n\n")

	color := stateColors[m.state]
	if color == "" {
		color = "241"
	}
	stateStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
	b.WriteString(stateStyle.Render("● "+m.state.String()) + "\n")

	if m.starting {
		b.WriteString(styleDim.Render("  starting...") + "\n")
	}
	if m.errText != "" {
		for _, line := range wrapText(m.errText, width-2) {
			b.WriteString(styleErr.Render(line) + "\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(m.renderMeter(width-6) + "\n")
	b.WriteString(styleDim.Render("mic: "+m.deviceName) + "\n")
	if n := m.orch.MismatchCount(); n > 0 {
		b.WriteString(styleMismatch.Render(fmt.Sprintf("mismatches: %d", n)) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(styleHelp.Render("enter  start / end session") + "\n")
	b.WriteString(styleHelp.Render("i      interrupt assistant") + "\n")
	b.WriteString(styleHelp.Render("1-9    dismiss widget") + "\n")
	b.WriteString(styleHelp.Render("q      quit") + "\n")
	return b.String()
}

func (m tuiModel) renderMeter(width int) string {
	if width < 4 {
		width = 4
	}
	filled := int(m.level * float64(width) * 4)
	if filled > width {
		filled = width
	}
	peakPos := int(m.peak * float64(width) * 4)
	if peakPos >= width {
		peakPos = width - 1
	}

	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i < filled && i >= width*3/4:
			b.WriteString(styleMeterHot.Render("█"))
		case i < filled:
			b.WriteString(styleMeterOn.Render("█"))
		case i == peakPos && m.peak > 0.01:
			b.WriteString(styleDim.Render("│"))
		default:
			b.WriteString(styleDim.Render("·"))
		}
	}
	return b.String()
}

func (m tuiModel) renderConversation(width int) string {
	wrapWidth := width - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	var b strings.Builder
	if len(m.messages) == 0 {
		b.WriteString(styleDim.Render("No conversation yet. Press enter to check in.") + "\n")
	}
	for _, msg := range m.messages {
		label := "you"
		style := styleUser
		if msg.Role == transcript.RoleAssistant {
			label = "coach"
			style = styleAssistant
		}
		if msg.IsStreaming {
			style = styleStreaming
		}
		b.WriteString(styleDim.Render(label+":") + "\n")
		for _, line := range wrapText(msg.Content, wrapWidth) {
			b.WriteString("  " + style.Render(line) + "\n")
		}
		if mm := msg.Mismatch; mm != nil && mm.Detected {
			b.WriteString("  " + styleMismatch.Render("⚠ voice reads "+mm.UserFeeling) + "\n")
		}
	}

	if len(m.widgets) > 0 {
		b.WriteString("\n" + styleTitle.Render("Widgets") + "\n")
		for i, w := range m.widgets {
			b.WriteString(renderWidgetLine(i, w, wrapWidth))
		}
	}

	// Keep the tail visible when the transcript outgrows the panel.
	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
	if m.height > 0 && len(lines) > m.height {
		lines = lines[len(lines)-m.height:]
	}
	return strings.Join(lines, "\n")
}

func renderWidgetLine(i int, w dispatch.Widget, wrapWidth int) string {
	mark := styleWidgetOK.Render("✓")
	detail := ""
	switch w.Status {
	case dispatch.StatusFailed:
		mark = styleWidgetBad.Render("✗")
		detail = w.Error
	case dispatch.StatusActive:
		mark = styleMeterOn.Render("●")
	default:
		if w.Occurrences > 1 {
			detail = fmt.Sprintf("%d occurrences", w.Occurrences)
		}
		if w.Mutated > 0 {
			detail = fmt.Sprintf("%d updated", w.Mutated)
		}
	}

	line := fmt.Sprintf("%d %s %s", i+1, mark, w.Title)
	if detail != "" {
		line += styleDim.Render("  " + detail)
	}
	out := line + "\n"
	if w.Journal != nil && w.Status == dispatch.StatusActive {
		for _, l := range wrapText(w.Journal.Prompt, wrapWidth-4) {
			out += "    " + styleDim.Render(l) + "\n"
		}
	}
	return out
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
