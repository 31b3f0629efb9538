package cmd

import (
	"context"
	"fmt"
	"log"

	"panelctl/internal/cli/ui"
)

func RunDashboard() {
	requireKey()
	for {
		serverID := ui.RunDashboard(Client)
		if serverID == "" {
			break
		}
		if !RunConsole(serverID) {
			break
		}
	}
}

// RunConsole opens the console view of a server and reports whether the
// user asked to go back to the dashboard.
func RunConsole(id string) bool {
	requireKey()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, srv, err := openChannel(ctx, id)
	if err != nil {
		fmt.Printf("%v\nPress Enter to continue...", err)
		fmt.Scanln()
		return true
	}

	back, err := ui.RunConsole(Client, ch, srv, Cfg.ConsoleRetention)
	if err != nil {
		log.Printf("Error running console UI: %v", err)
		return true
	}
	return back
}
