package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"panelctl/internal/power"
	"panelctl/internal/telemetry"
	"panelctl/pkg/sdk"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/browser"
)

type serverListItem struct {
	id          string
	title       string
	description string
}

func (i serverListItem) FilterValue() string { return i.title + " " + i.description }
func (i serverListItem) Title() string       { return i.title }
func (i serverListItem) Description() string { return i.description }

// serverUsage is the panel's last resource report for one server.
type serverUsage struct {
	state    power.State
	snapshot *telemetry.Snapshot
}

type model struct {
	list     list.Model
	servers  []sdk.Server
	usage    map[string]serverUsage
	err      error
	width    int
	height   int
	loading  bool
	message  string
	selected string
	client   *sdk.Client
}

type serverDataMsg struct {
	servers []sdk.Server
	usage   map[string]serverUsage
}

type errMsg error

type clearMessageMsg struct{}

var openKey = key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open in browser"))
var refreshKey = key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh"))

// RunDashboard shows the servers visible to the client and returns the
// identifier the user opened, or "" when they quit.
func RunDashboard(client *sdk.Client) string {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Servers"
	l.SetShowStatusBar(false)
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	l.Styles.HelpStyle = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	l.AdditionalShortHelpKeys = func() []key.Binding { return []key.Binding{openKey, refreshKey} }

	m := model{
		list:    l,
		loading: true,
		usage:   make(map[string]serverUsage),
		client:  client,
	}

	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	finalModel, err := program.Run()
	if err != nil {
		fmt.Printf("Error running dashboard: %v", err)
		os.Exit(1)
	}

	if m, ok := finalModel.(model); ok {
		return m.selected
	}
	return ""
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		fetchDataCmd(m.client),
		tickCmd(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case msg.String() == "q", msg.String() == "ctrl+c", msg.String() == "esc":
			return m, tea.Quit
		case msg.String() == "enter":
			if i, ok := m.list.SelectedItem().(serverListItem); ok {
				m.selected = i.id
				return m, tea.Quit
			}
		case key.Matches(msg, openKey):
			if i, ok := m.list.SelectedItem().(serverListItem); ok {
				url := m.client.ServerURL(i.id)
				if err := browser.OpenURL(url); err != nil {
					m.message = fmt.Sprintf("Could not open browser: %v", err)
				} else {
					m.message = fmt.Sprintf("Opened %s", url)
				}
				return m, clearMessageAfter(2 * time.Second)
			}
		case key.Matches(msg, refreshKey):
			return m, fetchDataCmd(m.client)
		}
	case clearMessageMsg:
		m.message = ""
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetWidth(msg.Width - 4)
		m.list.SetHeight(msg.Height - 12)
	case serverDataMsg:
		m.loading = false
		m.err = nil
		m.servers = msg.servers
		m.usage = msg.usage
		m.updateList()
		return m, nil
	case tickMsg:
		return m, tea.Batch(fetchDataCmd(m.client), tickCmd())
	case errMsg:
		m.loading = false
		m.err = msg
		return m, nil
	}

	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *model) updateList() {
	var items []list.Item
	for _, s := range m.servers {
		u := m.usage[s.Identifier]
		state := u.state
		if s.IsNodeUnderMaintenance {
			state = power.OfflineMaintenance
		}

		cpu, ram, disk := "-", "-", "-"
		if u.snapshot != nil {
			cpu = fmt.Sprintf("%.1f%%", u.snapshot.CPUPercent)
			ram = formatBytesShort(u.snapshot.MemoryBytes)
			if s.Limits.Memory > 0 {
				ram = fmt.Sprintf("%s / %dMB", ram, s.Limits.Memory)
			}
			disk = formatBytesShort(u.snapshot.DiskBytes)
		}

		var tags []string
		if s.IsInstalling || s.Status == "installing" {
			tags = append(tags, "installing")
		}
		if s.IsTransferring {
			tags = append(tags, "transferring")
		}
		if s.IsSuspended {
			tags = append(tags, "suspended")
		}

		title := fmt.Sprintf("%s %s", stateIcon(state), s.Name)
		if len(tags) > 0 {
			title += " (" + strings.Join(tags, ", ") + ")"
		}
		desc := fmt.Sprintf("ID: %s • Node: %s • %s • CPU: %s • RAM: %s • Disk: %s",
			s.Identifier, s.Node, state, cpu, ram, disk)

		items = append(items, serverListItem{
			id:          s.Identifier,
			title:       title,
			description: desc,
		})
	}
	m.list.SetItems(items)
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := headerStyle.Width(m.width).Render("PANELCTL")

	running := 0
	for _, u := range m.usage {
		if u.state == power.Running {
			running++
		}
	}
	statsContent := fmt.Sprintf("Panel: %s\nServers: %d • Running: %d",
		m.client.BaseURL(), len(m.servers), running)
	if m.loading {
		statsContent += "\nLoading servers..."
	}
	if m.err != nil {
		statsContent += "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render(m.err.Error())
	}

	headerBox := baseStyle.
		Width(m.width - 4).
		Align(lipgloss.Center).
		Render(statsContent)

	listContainer := baseStyle.
		Width(m.width - 4).
		Height(m.height - 12).
		Render(m.list.View())

	statusLine := joinKeys(
		keyStyle.Render("enter")+descStyle.Render(": console"),
		keyStyle.Render("o")+descStyle.Render(": browser"),
		keyStyle.Render("r")+descStyle.Render(": refresh"),
		keyStyle.Render("q/esc")+descStyle.Render(": quit"),
	)

	footerBox := footerStyle.
		Width(m.width - 4).
		Render(statusLine)

	if m.message != "" {
		footerBox = fmt.Sprintf("%s\n%s", messageStyle.MarginLeft(2).Render(m.message), footerBox)
	}

	return lipgloss.JoinVertical(lipgloss.Center,
		title,
		headerBox,
		listContainer,
		footerBox,
	)
}

func joinKeys(keys ...string) string {
	sep := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render(" • ")
	return strings.Join(keys, sep)
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func clearMessageAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return clearMessageMsg{} })
}

func fetchDataCmd(client *sdk.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		servers, err := client.ListServers(ctx)
		if err != nil {
			return errMsg(err)
		}

		usage := make(map[string]serverUsage, len(servers))
		for _, s := range servers {
			res, err := client.Resources(ctx, s.Identifier)
			if err != nil {
				// Usage is optional; the row shows dashes.
				continue
			}
			usage[s.Identifier] = usageFromResources(res, s.Limits, time.Now())
		}

		return serverDataMsg{servers: servers, usage: usage}
	}
}

func usageFromResources(res *sdk.ResourceUsage, limits sdk.Limits, now time.Time) serverUsage {
	state, _ := power.ParseStatus(res.CurrentState)
	return serverUsage{
		state: state,
		snapshot: telemetry.Normalize(res.Raw, now, telemetry.Limits{
			MemoryMiB: limits.Memory,
			DiskMiB:   limits.Disk,
			CPU:       limits.CPU,
		}),
	}
}
