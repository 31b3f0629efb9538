package ui

import (
	"fmt"

	"panelctl/internal/power"

	"github.com/charmbracelet/lipgloss"
)

var (
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Bold(true).
			Padding(0, 1).
			Align(lipgloss.Center)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Bold(true).
			Padding(0, 1)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	descStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	disabledKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	footerStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1).
			Align(lipgloss.Center)

	cardStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(20)

	cardLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("232")).
			Bold(true).
			Padding(0, 1)

	messageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
)

func stateColor(s power.State) lipgloss.Color {
	switch s {
	case power.Running:
		return lipgloss.Color("42")
	case power.Starting:
		return lipgloss.Color("220")
	case power.Stopping:
		return lipgloss.Color("208")
	case power.Offline:
		return lipgloss.Color("160")
	case power.OfflineMaintenance:
		return lipgloss.Color("33")
	default:
		return lipgloss.Color("245")
	}
}

func stateIcon(s power.State) string {
	switch s {
	case power.Running:
		return "🟢"
	case power.Starting:
		return "🟡"
	case power.Stopping:
		return "🟠"
	case power.Offline:
		return "🔴"
	case power.OfflineMaintenance:
		return "🔵"
	default:
		return "⚪"
	}
}

func banner(color, text string) string {
	return bannerStyle.Background(lipgloss.Color(color)).Render(text)
}

func formatBytesShort(bytes uint64) string {
	if bytes == 0 {
		return "0B"
	}
	const k = 1024
	sizes := []string{"B", "K", "M", "G", "T"}
	i := 0
	fBytes := float64(bytes)
	for fBytes >= k && i < len(sizes)-1 {
		fBytes /= k
		i++
	}
	return fmt.Sprintf("%.1f%s", fBytes, sizes[i])
}
