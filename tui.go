package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"talkback/audio"
	"talkback/blob"
	"talkback/clipboard"
	"talkback/log"
	"talkback/pipeline"
	"talkback/player"
)

const (
	statusIdle       = "Press space to start recording"
	statusAccess     = "Please allow microphone access"
	statusProcessing = "Processing..."
	statusMicError   = "Error accessing microphone"
)

type tickMsg time.Time
type shutdownMsg struct{}
type accessMsg struct{ err error }
type submitDoneMsg struct{ err error }
type copiedMsg struct{ err error }
type playbackDoneMsg struct {
	gen int
	err error
}

type chatRole int

const (
	roleUser chatRole = iota
	roleAgent
	roleError
)

type chatLine struct {
	role  chatRole
	text  string
	audio bool
}

// session is what the update loop drives. It outlives any single model value.
type session struct {
	ctx      context.Context
	ctrl     *audio.Controller
	pipe     *pipeline.Pipeline
	player   *player.Player
	cues     *player.Cues
	store    *blob.Store
	autoplay bool
	device   string
}

func (s *session) context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

type tuiModel struct {
	s *session

	status    string
	recording bool
	elapsed   float64
	level     float64
	silent    bool
	typing    bool
	sending   bool
	playing   bool
	playGen   int
	frame     int

	lines  []chatLine
	reply  *pipeline.Message
	notice string

	width, height int
}

var (
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	agentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

func newTUIModel(s *session) tuiModel {
	return tuiModel{s: s, status: statusIdle}
}

func NewTUIProgram(s *session) *tea.Program {
	return tea.NewProgram(newTUIModel(s), tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// listenTicks forwards one controller tick; it is re-armed after each one and
// stops once the controller closes its channel.
func listenTicks(ctrl *audio.Controller) tea.Cmd {
	return func() tea.Msg {
		d, ok := <-ctrl.Ticks()
		if !ok {
			return nil
		}
		return RecordingTickMsg{Elapsed: d.Seconds()}
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tuiTick(), listenTicks(m.s.ctrl))
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case shutdownMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case " ", "enter":
			return m.toggle()
		case "r":
			if m.reply != nil && m.reply.HasAudio() && !m.recording {
				return m.play(m.reply.Audio)
			}
		case "s":
			m.s.player.Stop()
		case "ctrl+y", "c":
			if m.reply != nil && m.reply.HasText {
				text := m.reply.Text
				return m, func() tea.Msg { return copiedMsg{err: clipboard.Copy(text)} }
			}
		}

	case tickMsg:
		m.frame++
		if m.recording {
			m.level = m.level*0.6 + m.s.ctrl.Level()*0.4
		}
		return m, tuiTick()

	case accessMsg:
		if m.recording {
			return m, nil
		}
		if msg.err != nil {
			m.status = statusMicError
			m.addError(msg.err)
			return m, nil
		}
		return m.startRecording()

	case RecordingTickMsg:
		if !m.recording {
			return m, listenTicks(m.s.ctrl)
		}
		m.elapsed = msg.Elapsed
		m.status = fmt.Sprintf("Recording... %ds", int(msg.Elapsed))
		switch m.s.ctrl.Silence() {
		case audio.SilenceAutoStop:
			m.s.ctrl.StopCapture()
			m.recording = false
			m.level = 0
			m.status = statusIdle
			m.notice = "recording discarded: no voice detected"
			m.s.cues.Error()
		case audio.SilenceWarn:
			m.silent = true
		default:
			m.silent = false
		}
		return m, listenTicks(m.s.ctrl)

	case submitDoneMsg:
		m.sending = false
		if errors.Is(msg.err, pipeline.ErrBusy) {
			m.notice = "a request is already in flight"
		}

	case StatusMsg:
		m.status = msg.Status.String()

	case TypingMsg:
		m.typing = msg.On

	case ReplyMsg:
		return m.showReply(msg.Message)

	case ErrorMsg:
		m.addError(msg.Err)

	case playbackDoneMsg:
		if msg.gen != m.playGen {
			return m, nil
		}
		m.playing = false
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			log.Warnf("playback: %v", msg.err)
			m.notice = "playback failed: " + msg.err.Error()
		}
		m.status = pipeline.StatusComplete.String()

	case copiedMsg:
		if msg.err != nil {
			m.notice = "copy failed: " + msg.err.Error()
		} else {
			m.notice = "reply copied to clipboard"
		}
	}
	return m, nil
}

func (m tuiModel) toggle() (tea.Model, tea.Cmd) {
	if m.recording {
		return m.stopRecording()
	}
	if m.sending {
		m.notice = "still waiting for the last reply"
		return m, nil
	}
	m.status = statusAccess
	ctrl := m.s.ctrl
	return m, func() tea.Msg { return accessMsg{err: ctrl.RequestAccess()} }
}

func (m tuiModel) startRecording() (tea.Model, tea.Cmd) {
	if err := m.s.ctrl.StartCapture(); err != nil {
		m.status = statusMicError
		m.addError(err)
		return m, nil
	}
	m.s.player.Stop()
	m.s.cues.Start()
	m.recording = true
	m.elapsed, m.level = 0, 0
	m.silent = false
	m.notice = ""
	m.status = "Recording... 0s"
	return m, nil
}

func (m tuiModel) stopRecording() (tea.Model, tea.Cmd) {
	capture, ok := m.s.ctrl.StopCapture()
	m.recording = false
	m.level = 0
	m.s.cues.End()
	if !ok {
		m.status = statusIdle
		m.addError(errors.New("recording could not be encoded"))
		return m, nil
	}

	// A new voice message starts a fresh exchange.
	m.revokeReply()
	m.lines = []chatLine{{role: roleUser, text: fmt.Sprintf("voice message (%.1fs)", capture.Duration.Seconds())}}
	m.status = statusProcessing
	m.sending = true

	pipe, ctx := m.s.pipe, m.s.context()
	return m, func() tea.Msg {
		_, err := pipe.Submit(ctx, capture)
		return submitDoneMsg{err: err}
	}
}

func (m tuiModel) showReply(msg *pipeline.Message) (tea.Model, tea.Cmd) {
	m.revokeReply()
	kept := m.lines[:0:0]
	for _, l := range m.lines {
		if l.role == roleUser {
			kept = append(kept, l)
		}
	}
	m.lines = append(kept, chatLine{role: roleAgent, text: msg.Text, audio: msg.HasAudio()})
	m.reply = msg

	if msg.HasAudio() && m.s.autoplay {
		return m.play(msg.Audio)
	}
	m.status = pipeline.StatusComplete.String()
	return m, nil
}

func (m tuiModel) play(src pipeline.AudioSource) (tea.Model, tea.Cmd) {
	m.playGen++
	gen := m.playGen
	m.playing = true
	m.status = pipeline.StatusPlaying.String()
	p, ctx := m.s.player, m.s.context()
	return m, func() tea.Msg { return playbackDoneMsg{gen: gen, err: p.Play(ctx, src)} }
}

func (m *tuiModel) addError(err error) {
	m.lines = append(m.lines, chatLine{role: roleError, text: err.Error()})
	m.s.cues.Error()
}

// revokeReply releases the stored audio of the reply about to be superseded.
func (m *tuiModel) revokeReply() {
	if m.reply == nil {
		return
	}
	if b, ok := m.reply.Audio.(pipeline.BlobAudio); ok && m.s.store != nil {
		m.s.player.Stop()
		m.s.store.Revoke(b.URL)
	}
	m.reply = nil
}

func deviceLineText(name string) string {
	if name == "" {
		name = "system default"
	} else if audio.IsBluetooth(name) {
		name += " (BT!)"
	}
	return "mic: " + name
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	wrapWidth := max(m.width-8, 10)

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("talkback") + " " + dimStyle.Render(m.s.pipe.Endpoint()) + "\n")
	device := m.s.device
	if name := m.s.ctrl.DeviceName(); name != "" {
		device = name
	}
	b.WriteString(dimStyle.Render(deviceLineText(device)) + "\n\n")

	if len(m.lines) == 0 {
		b.WriteString(dimStyle.Render("No messages yet") + "\n")
	}
	for _, l := range m.lines {
		b.WriteString(renderLine(l, wrapWidth))
	}
	if m.typing {
		dots := strings.Repeat(".", m.frame/5%3+1)
		b.WriteString(dimStyle.Render("Agent is typing"+dots) + "\n")
	}
	b.WriteString("\n")

	if m.recording {
		b.WriteString(recStyle.Render("● "+m.status) + " " + renderLevel(m.level, 20) + "\n")
		if m.silent {
			b.WriteString(noticeStyle.Render("  ⚠ no voice detected") + "\n")
		}
	} else {
		b.WriteString(m.status + "\n")
	}
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice) + "\n")
	}
	b.WriteString("\n")

	help := helpKeyStyle.Render("space") + helpStyle.Render(" record/stop  ")
	if m.reply != nil && m.reply.HasAudio() {
		help += helpKeyStyle.Render("r") + helpStyle.Render(" replay  ") +
			helpKeyStyle.Render("s") + helpStyle.Render(" stop  ")
	}
	if m.reply != nil && m.reply.HasText {
		help += helpKeyStyle.Render("c") + helpStyle.Render(" copy  ")
	}
	help += helpKeyStyle.Render("q") + helpStyle.Render(" quit")
	b.WriteString(help + "\n")
	b.WriteString(helpStyle.Render("talkback " + version))

	return lipgloss.NewStyle().Width(m.width).MaxHeight(m.height).Render(b.String())
}

func renderLine(l chatLine, width int) string {
	var prefix string
	var style lipgloss.Style
	text := l.text
	switch l.role {
	case roleUser:
		prefix, style = "You: ", userStyle
	case roleAgent:
		prefix, style = "Agent: ", agentStyle
		if l.audio {
			if text != "" {
				text += " "
			}
			text += "[♪ audio]"
		}
	case roleError:
		prefix, style = "Error: ", errorStyle
	}

	var b strings.Builder
	for i, line := range wrapText(prefix+text, width) {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(style.Render(line) + "\n")
	}
	return b.String()
}

func renderLevel(level float64, width int) string {
	n := min(int(level*10*float64(width)), width)
	return recStyle.Render(strings.Repeat("▮", n)) + dimStyle.Render(strings.Repeat("▯", width-n))
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	r := []rune(text)
	for len(r) > width {
		// Break at the last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if r[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(r[:splitAt]))
		r = []rune(strings.TrimLeft(string(r[splitAt:]), " "))
	}
	if len(r) > 0 {
		lines = append(lines, string(r))
	}
	return lines
}
