package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"panelctl/internal/bus"
	"panelctl/internal/channel"
	"panelctl/internal/console"
	"panelctl/internal/dispatch"
	"panelctl/internal/power"
	"panelctl/internal/telemetry"
	"panelctl/internal/transport"
	"panelctl/internal/wire"
	"panelctl/pkg/sdk"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/browser"
)

// Channel is what the console view needs from an open server channel.
type Channel interface {
	Dispatch(action wire.PowerAction) (dispatch.Result, error)
	ConfirmKill() error
	CancelKill() error
	SendCommand(line string) error
	ApplyPanel(srv *sdk.Server) error
}

// ServerSource looks up the panel's record of a server.
type ServerSource interface {
	GetServer(ctx context.Context, id string) (*sdk.Server, error)
}

// serverRefreshInterval matches the dashboard's refresh tick.
const serverRefreshInterval = 5 * time.Second

type consoleKeyMap struct {
	Start   key.Binding
	Stop    key.Binding
	Restart key.Binding
	Kill    key.Binding
	Open    key.Binding
	Back    key.Binding
	Quit    key.Binding
}

var consoleKeys = consoleKeyMap{
	Start:   key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "start")),
	Stop:    key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "stop")),
	Restart: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "restart")),
	Kill:    key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("ctrl+k", "kill")),
	Open:    key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "browser")),
	Back:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

type actionResultMsg struct {
	action wire.PowerAction
	result dispatch.Result
	err    error
}

type commandResultMsg struct{ err error }

type serverTickMsg struct{}

type serverInfoMsg struct {
	srv *sdk.Server
	err error
}

type consoleModel struct {
	ch        Channel
	panel     ServerSource
	server    *sdk.Server
	serverURL string
	buf       *console.Buffer
	bridge    *bridge

	viewport  viewport.Model
	textInput textinput.Model
	ready     bool
	rendered  uint64

	view      power.View
	metrics   *telemetry.Snapshot
	lifecycle *transport.Lifecycle
	progress  bus.Progress

	message  string
	back     bool
	quitting bool
	width    int
	height   int
}

func newConsoleModel(ch Channel, panel ServerSource, srv *sdk.Server, serverURL string, buf *console.Buffer, br *bridge) consoleModel {
	ti := textinput.New()
	ti.Placeholder = "Type a command..."
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 40

	return consoleModel{
		ch:        ch,
		panel:     panel,
		server:    srv,
		serverURL: serverURL,
		buf:       buf,
		bridge:    br,
		textInput: ti,
	}
}

func (m consoleModel) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.serverTick()}
	if m.bridge != nil {
		cmds = append(cmds, m.bridge.cmds())
	}
	return tea.Batch(cmds...)
}

// serverTick schedules the next panel lookup. Without a panel source
// the view relies on what it was opened with.
func (m consoleModel) serverTick() tea.Cmd {
	if m.panel == nil {
		return nil
	}
	return tea.Tick(serverRefreshInterval, func(time.Time) tea.Msg { return serverTickMsg{} })
}

func fetchServerCmd(panel ServerSource, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv, err := panel.GetServer(ctx, id)
		return serverInfoMsg{srv: srv, err: err}
	}
}

func (m consoleModel) controls() power.Controls { return power.ControlsFor(m.view) }

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.view.ConfirmingKill {
			return m.updateConfirm(msg)
		}
		switch {
		case key.Matches(msg, consoleKeys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, consoleKeys.Back):
			m.back = true
			return m, tea.Quit
		case key.Matches(msg, consoleKeys.Start):
			return m, m.dispatch(wire.ActionStart, m.controls().Start)
		case key.Matches(msg, consoleKeys.Stop):
			return m, m.dispatch(wire.ActionStop, m.controls().Stop)
		case key.Matches(msg, consoleKeys.Restart):
			return m, m.dispatch(wire.ActionRestart, m.controls().Restart)
		case key.Matches(msg, consoleKeys.Kill):
			return m, m.dispatch(wire.ActionKill, m.controls().Kill)
		case key.Matches(msg, consoleKeys.Open):
			if err := browser.OpenURL(m.serverURL); err != nil {
				m.message = fmt.Sprintf("Could not open browser: %v", err)
			}
			return m, nil
		case msg.Type == tea.KeyEnter:
			line := m.textInput.Value()
			if strings.TrimSpace(line) == "" {
				return m, nil
			}
			m.textInput.SetValue("")
			ch := m.ch
			return m, func() tea.Msg { return commandResultMsg{err: ch.SendCommand(line)} }
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 14
		contentWidth := msg.Width - 6
		contentHeight := msg.Height - headerHeight
		if contentHeight < 3 {
			contentHeight = 3
		}

		if !m.ready {
			m.viewport = viewport.New(contentWidth, contentHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = contentWidth
			m.viewport.Height = contentHeight
		}
		m.textInput.Width = contentWidth - 4
		m.refreshConsole()

	case consoleMsg:
		m.refreshConsole()
		return m, m.bridge.next(msg)

	case powerMsg:
		m.view = power.View(msg)
		return m, m.bridge.next(msg)

	case metricsMsg:
		s := telemetry.Snapshot(msg)
		m.metrics = &s
		return m, m.bridge.next(msg)

	case lifecycleMsg:
		l := transport.Lifecycle(msg)
		m.lifecycle = &l
		return m, m.bridge.next(msg)

	case progressMsg:
		m.progress = bus.Progress(msg)
		return m, m.bridge.next(msg)

	case daemonErrorMsg:
		e := bus.DaemonError(msg)
		if e.Intent != nil {
			m.message = fmt.Sprintf("%s failed: %s", e.Intent.Action, e.Message)
		} else {
			m.message = e.Message
		}
		return m, m.bridge.next(msg)

	case actionResultMsg:
		switch {
		case msg.err != nil:
			m.message = describeError(msg.err)
		case msg.result == dispatch.NeedsConfirmation:
			m.message = ""
		default:
			m.message = fmt.Sprintf("Sent %s.", msg.action)
		}
		return m, nil

	case commandResultMsg:
		if msg.err != nil {
			m.message = describeError(msg.err)
		}
		return m, nil

	case serverTickMsg:
		if m.panel == nil {
			return m, nil
		}
		return m, fetchServerCmd(m.panel, m.server.Identifier)

	case serverInfoMsg:
		if msg.err != nil || msg.srv == nil {
			return m, m.serverTick()
		}
		m.server = msg.srv
		ch, srv := m.ch, msg.srv
		return m, tea.Batch(func() tea.Msg {
			ch.ApplyPanel(srv)
			return nil
		}, m.serverTick())
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m consoleModel) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ch := m.ch
	switch msg.String() {
	case "y", "Y":
		return m, func() tea.Msg {
			return actionResultMsg{action: wire.ActionKill, err: ch.ConfirmKill()}
		}
	case "n", "N", "esc":
		m.message = "Kill cancelled."
		return m, func() tea.Msg {
			ch.CancelKill()
			return nil
		}
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// dispatch sends action off the UI goroutine. Disabled controls do
// nothing.
func (m consoleModel) dispatch(action wire.PowerAction, enabled bool) tea.Cmd {
	if !enabled {
		return nil
	}
	ch := m.ch
	return func() tea.Msg {
		res, err := ch.Dispatch(action)
		return actionResultMsg{action: action, result: res, err: err}
	}
}

func describeError(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrNotConnected):
		return "Not connected to the daemon."
	case errors.Is(err, channel.ErrClosed):
		return "Console closed."
	default:
		return err.Error()
	}
}

func (m *consoleModel) refreshConsole() {
	if !m.ready || m.buf == nil {
		return
	}
	if v := m.buf.Version(); v != m.rendered || m.rendered == 0 {
		m.rendered = v
		atBottom := m.viewport.AtBottom()
		m.viewport.SetContent(m.buf.Text())
		if atBottom {
			m.viewport.GotoBottom()
		}
	}
}

func (m consoleModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	title := headerStyle.Width(m.width).Render("SERVER CONSOLE")

	state := m.view.State
	statusStyle := lipgloss.NewStyle().Foreground(stateColor(state))
	info := fmt.Sprintf("%s %s  •  %s  •  ID: %s  •  Node: %s",
		stateIcon(state),
		statusStyle.Render(m.server.Name),
		statusStyle.Render(state.String()),
		m.server.Identifier,
		m.server.Node,
	)
	if m.view.Pending != nil {
		info += fmt.Sprintf("  •  %s pending", m.view.Pending.Action)
	}

	headerBox := baseStyle.
		Width(m.width-4).
		Align(lipgloss.Center).
		Render(lipgloss.JoinVertical(lipgloss.Center, info, m.statCards()))

	sections := []string{title}
	if b := m.banners(); b != "" {
		sections = append(sections, b)
	}
	sections = append(sections, headerBox, baseStyle.Width(m.width-4).Render(m.viewport.View()), m.footer())

	return lipgloss.JoinVertical(lipgloss.Center, sections...)
}

func (m consoleModel) statCards() string {
	card := func(label, value string) string {
		return cardStyle.Render(cardLabelStyle.Render(label) + "\n" + value)
	}

	cpu, mem, disk, net, uptime := "-", "-", "-", "-", "-"
	if s := m.metrics; s != nil {
		cpu = fmt.Sprintf("%.2f%%", s.CPUPercent)
		if m.server.Limits.CPU > 0 {
			cpu += fmt.Sprintf(" / %d%%", m.server.Limits.CPU)
		}
		mem = formatBytesShort(s.MemoryBytes)
		if s.MemoryLimitBytes > 0 {
			mem += " / " + formatBytesShort(s.MemoryLimitBytes)
		}
		disk = formatBytesShort(s.DiskBytes)
		if m.server.Limits.Disk > 0 {
			disk += fmt.Sprintf(" (%.0f%%)", s.DiskPercent)
		}
		net = "↓" + formatBytesShort(s.NetworkRx) + " ↑" + formatBytesShort(s.NetworkTx)
		if state := m.view.State; state == power.Running || state == power.Starting {
			uptime = s.Uptime().Truncate(time.Second).String()
		}
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		card("CPU", cpu),
		card("Memory", mem),
		card("Disk", disk),
		card("Network", net),
		card("Uptime", uptime),
	)
}

func (m consoleModel) banners() string {
	var lines []string
	if l := m.lifecycle; l != nil {
		switch {
		case l.Terminal():
			lines = append(lines, banner("196", "Access to this server was denied. Reopen the console after checking the API key."))
		case l.Degraded:
			lines = append(lines, banner("208", fmt.Sprintf("Reconnecting to the daemon (attempt %d)...", l.Attempt)))
		case l.State != transport.Connected:
			lines = append(lines, banner("220", "Connecting to the daemon..."))
		}
	}
	if m.view.Maintenance {
		lines = append(lines, banner("33", "The node is under maintenance. Power controls are disabled."))
	}
	if m.progress.Installing {
		lines = append(lines, banner("51", "Installing server..."))
	}
	if m.progress.Transferring {
		text := "Transferring server..."
		if m.progress.TransferStatus != "" {
			text = fmt.Sprintf("Transfer %s", m.progress.TransferStatus)
		}
		lines = append(lines, banner("51", text))
	}
	if m.view.Stale {
		lines = append(lines, banner("245", "Power state may be out of date."))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m consoleModel) footer() string {
	if m.view.ConfirmingKill {
		prompt := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).
			Render(fmt.Sprintf("Kill %s? Unsaved data will be lost. (y/n)", m.server.Name))
		return footerStyle.Width(m.width - 4).Render(prompt)
	}

	controls := m.controls()
	control := func(b key.Binding, enabled bool) string {
		h := b.Help()
		if !enabled {
			return disabledKeyStyle.Render(h.Key + ": " + h.Desc)
		}
		return keyStyle.Render(h.Key) + descStyle.Render(": "+h.Desc)
	}
	helpText := joinKeys(
		control(consoleKeys.Start, controls.Start),
		control(consoleKeys.Stop, controls.Stop),
		control(consoleKeys.Restart, controls.Restart),
		control(consoleKeys.Kill, controls.Kill),
		control(consoleKeys.Open, true),
		control(consoleKeys.Back, true),
		control(consoleKeys.Quit, true),
	)

	inputLine := fmt.Sprintf("→ %s", m.textInput.View())
	helpLine := lipgloss.NewStyle().
		Width(m.width - 6).
		Align(lipgloss.Center).
		Render(helpText)

	parts := []string{inputLine}
	if m.message != "" {
		parts = append(parts, messageStyle.Render(m.message))
	}
	parts = append(parts, helpLine)

	return footerStyle.
		Width(m.width - 4).
		Align(lipgloss.Left).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// RunConsole shows the live console of srv over ch until the user
// leaves. It closes ch and reports whether the user asked to go back.
func RunConsole(client *sdk.Client, ch *channel.Channel, srv *sdk.Server, retention int) (bool, error) {
	buf := console.NewBuffer(retention)
	br := newBridge(ch, buf)

	p := tea.NewProgram(
		newConsoleModel(ch, client, srv, client.ServerURL(srv.Identifier), buf, br),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	final, err := p.Run()
	ch.Close()
	br.close()
	if err != nil {
		return true, err
	}
	if cm, ok := final.(consoleModel); ok {
		return cm.back, nil
	}
	return false, nil
}
