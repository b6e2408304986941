package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/dimworks/modhost"
	"github.com/dimworks/modhost/config"
	"github.com/dimworks/modhost/engine"
	"github.com/dimworks/modhost/host"
	"github.com/dimworks/modhost/world"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const logTail = 10

// uiLog collects messenger lines for the in-screen log. It is only
// touched from the TUI event loop, which also runs the simulation ticks.
type uiLog struct {
	lines []string
}

func (l *uiLog) add(kind modhost.MessageKind, name, text string) {
	line := fmt.Sprintf("[%s] %s: %s", kind, name, text)
	l.lines = append(l.lines, line)
	if len(l.lines) > 200 {
		l.lines = l.lines[len(l.lines)-200:]
	}
}

type tickMsg time.Time

type uiModel struct {
	h         *host.Host
	files     []*moduleFile
	log       *uiLog
	interval  time.Duration
	pollEvery time.Duration
	lastPoll  time.Time

	selected int
	input    textinput.Model
	entering bool
	quitting bool
}

func newUIModel(h *host.Host, files []*moduleFile, log *uiLog, cfg config.Env) *uiModel {
	input := textinput.New()
	input.Placeholder = "event name, e.g. game/restart"
	input.CharLimit = 128

	pollEvery := time.Duration(cfg.PollInterval) * time.Millisecond
	return &uiModel{
		h:         h,
		files:     files,
		log:       log,
		interval:  time.Second / time.Duration(cfg.TickRate),
		pollEvery: pollEvery,
		input:     input,
	}
}

func (m *uiModel) Init() tea.Cmd {
	return m.scheduleTick()
}

func (m *uiModel) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *uiModel) moduleIDs() []world.EntityID {
	var ids []world.EntityID
	m.h.EachModule(func(mod *host.Module) {
		ids = append(ids, mod.ID)
	})
	return ids
}

func (m *uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.pollEvery > 0 && time.Since(m.lastPoll) >= m.pollEvery {
			m.lastPoll = time.Now()
			pollModules(m.h, m.files, zap.NewNop())
		}
		m.h.Tick(m.interval)
		return m, m.scheduleTick()

	case tea.KeyMsg:
		if m.entering {
			switch msg.String() {
			case "enter":
				name := strings.TrimSpace(m.input.Value())
				if name != "" {
					m.h.Send(world.Nil, name, world.Entity{})
					m.log.add(modhost.Info, "host", "queued "+name)
				}
				m.entering = false
				m.input.Reset()
				return m, nil
			case "esc":
				m.entering = false
				m.input.Reset()
				return m, nil
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}

		ids := m.moduleIDs()
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(ids)-1 {
				m.selected++
			}
		case "e":
			if m.selected < len(ids) {
				id := ids[m.selected]
				mod := m.h.Module(id)
				m.h.SetEnabled(id, !mod.Enabled)
			}
		case "r":
			if m.selected < len(ids) {
				m.h.Reload(ids[m.selected])
			}
		case "s":
			m.entering = true
			m.input.Focus()
			return m, textinput.Blink
		}
	}
	return m, nil
}

func (m *uiModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("modhost — t=%.1fs", m.h.Now())))
	b.WriteString("\n\n")

	row := 0
	m.h.EachModule(func(mod *host.Module) {
		status := stoppedStyle.Render("unloaded")
		switch {
		case mod.Running():
			status = runningStyle.Render("running")
		case mod.Enabled && len(mod.Bytecode) > 0:
			status = stoppedStyle.Render("loading")
		}

		line := fmt.Sprintf("%-16s %-10s enabled=%-5v errors=%d",
			mod.Name, status, mod.Enabled, len(mod.Errors))
		if last := mod.LastError(); last != "" {
			if idx := strings.IndexByte(last, '\n'); idx >= 0 {
				last = last[:idx]
			}
			if len(last) > 48 {
				last = last[:48] + "…"
			}
			line += "  " + errorStyle.Render(last)
		}

		if row == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
		row++
	})

	b.WriteString("\n")
	start := len(m.log.lines) - logTail
	if start < 0 {
		start = 0
	}
	for _, line := range m.log.lines[start:] {
		if strings.Contains(line, "[error]") {
			b.WriteString(errorStyle.Render(line))
		} else {
			b.WriteString(helpStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.entering {
		b.WriteString("send event: " + m.input.View() + "\n")
		b.WriteString(helpStyle.Render("enter: queue  esc: cancel"))
	} else {
		b.WriteString(helpStyle.Render("↑/↓: select  e: toggle enabled  r: reload  s: send event  q: quit"))
	}
	return b.String()
}

func runInteractive(ctx context.Context, eng *engine.Engine, cfg config.Env, manifest *config.Manifest, manifestPath string) error {
	log := &uiLog{}
	w := world.New()
	h := host.New(w, host.Config{
		Factory: eng.Factory(ctx),
		Messenger: func(w *world.World, id world.EntityID, kind modhost.MessageKind, text string) {
			log.add(kind, w.GetString(id, "name"), text)
		},
	})
	files := loadModules(h, manifest, manifestPath, zap.NewNop())

	program := tea.NewProgram(newUIModel(h, files, log, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	return err
}
