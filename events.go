package main

import (
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"talkback/pipeline"
)

// TUI messages produced outside the update loop.
type StatusMsg struct{ Status pipeline.Status }
type TypingMsg struct{ On bool }
type ReplyMsg struct{ Message *pipeline.Message }
type ErrorMsg struct{ Err error }
type RecordingTickMsg struct{ Elapsed float64 }

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

// tuiNotifier forwards pipeline events to the running program.
type tuiNotifier struct{}

func (tuiNotifier) OnStatusChange(s pipeline.Status) { tuiSend(StatusMsg{Status: s}) }
func (tuiNotifier) OnTyping(on bool)                 { tuiSend(TypingMsg{On: on}) }
func (tuiNotifier) OnMessage(m *pipeline.Message)    { tuiSend(ReplyMsg{Message: m}) }
func (tuiNotifier) OnError(e *pipeline.Error)        { tuiSend(ErrorMsg{Err: e}) }

// lineNotifier prints one line per event, for headless runs.
type lineNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func (n *lineNotifier) printf(format string, args ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, format+"\n", args...)
}

func (n *lineNotifier) OnStatusChange(s pipeline.Status) { n.printf("STATUS %s", s) }

func (n *lineNotifier) OnTyping(on bool) {
	if on {
		n.printf("TYPING on")
	} else {
		n.printf("TYPING off")
	}
}

func (n *lineNotifier) OnMessage(m *pipeline.Message) {
	if m.HasText {
		n.printf("AGENT %s", m.Text)
	}
	if m.HasAudio() {
		n.printf("AUDIO %s", m.Audio.MIME())
	}
}

func (n *lineNotifier) OnError(e *pipeline.Error) { n.printf("ERROR %s: %s", e.Kind, e.Message) }
