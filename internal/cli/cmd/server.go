package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"panelctl/internal/bus"
	"panelctl/internal/channel"
	"panelctl/internal/dispatch"
	"panelctl/internal/domain"
	"panelctl/internal/power"
	"panelctl/internal/telemetry"
	"panelctl/internal/transport"
	"panelctl/internal/wire"
	"panelctl/pkg/sdk"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage servers",
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List servers visible to the API key",
	Run: func(cmd *cobra.Command, args []string) {
		handleList()
	},
}

var serverConsoleCmd = &cobra.Command{
	Use:   "console [id]",
	Short: "Open the live console of a server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		RunConsole(args[0])
	},
}

var powerYes bool
var powerTimeout time.Duration

var serverPowerCmd = &cobra.Command{
	Use:   "power [id] [start|stop|restart|kill]",
	Short: "Send a power action and wait for the server to react",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		handlePower(args[0], args[1])
	},
}

var serverStatsCmd = &cobra.Command{
	Use:   "stats [id]",
	Short: "Stream resource usage of a server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleStats(args[0])
	},
}

var serverOpenCmd = &cobra.Command{
	Use:   "open [id]",
	Short: "Open the server page in a browser",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleOpen(args[0])
	},
}

func init() {
	serverPowerCmd.Flags().BoolVarP(&powerYes, "yes", "y", false, "Confirm kill without prompting")
	serverPowerCmd.Flags().DurationVar(&powerTimeout, "timeout", 45*time.Second, "How long to wait for the server")

	serverCmd.AddCommand(serverListCmd, serverConsoleCmd, serverPowerCmd, serverStatsCmd, serverOpenCmd)
	RootCmd.AddCommand(serverCmd)
}

func handleList() {
	requireKey()
	servers, err := Client.ListServers(context.Background())
	if err != nil {
		log.Fatalf("Error listing servers: %v", err)
	}

	fmt.Println("Servers:")
	for _, s := range servers {
		status := s.Status
		if status == "" {
			status = "ready"
		}
		if s.IsNodeUnderMaintenance {
			status += ", node maintenance"
		}
		fmt.Printf("- %s (%s) [%s] Node: %s  RAM: %dMB  Disk: %dMB\n", s.Name, s.Identifier, status, s.Node, s.Limits.Memory, s.Limits.Disk)
	}
}

// openChannel looks the server up on the panel and opens a live channel
// configured from config.json.
func openChannel(ctx context.Context, id string) (*channel.Channel, *sdk.Server, error) {
	srv, err := Client.GetServer(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("error fetching server %s: %w", id, err)
	}

	opts := channel.Options{
		StaleTimeout:      Cfg.StaleTimeoutDuration(),
		IntentTimeout:     Cfg.IntentTimeoutDuration(),
		CorrelationWindow: Cfg.CorrelationWindowDuration(),
		InitialBackoff:    Cfg.InitialBackoffDuration(),
		MaxBackoff:        Cfg.MaxBackoffDuration(),
		SafetyMargin:      Cfg.SafetyMarginDuration(),
		DegradedAfter:     Cfg.DegradedAfter,
	}
	channel.ApplyServer(&opts, Client, srv)

	ch := channel.Open(ctx, srv.Identifier, channel.PanelFetcher(Client), opts)
	rememberServer(srv)
	return ch, srv, nil
}

func rememberServer(srv *sdk.Server) {
	profile := ""
	if Profile != nil {
		profile = Profile.Name
	}
	if err := Store.TouchRecent(&domain.RecentServer{
		Identifier:  srv.Identifier,
		Name:        srv.Name,
		ProfileName: profile,
	}); err != nil {
		log.Printf("Warning: could not record recent server: %v", err)
	}
}

// waitForState blocks until the channel reports a known power state.
func waitForState(ctx context.Context, ch *channel.Channel) (power.View, error) {
	views := make(chan power.View, 1)
	lifecycles := make(chan transport.Lifecycle, 1)
	unsubView := ch.SubscribePowerState(func(v power.View) { bus.Offer(views, v) })
	defer unsubView()
	unsubLife := ch.SubscribeLifecycle(func(l transport.Lifecycle) { bus.Offer(lifecycles, l) })
	defer unsubLife()

	for {
		select {
		case v := <-views:
			if v.State.Known() && !v.Stale {
				return v, nil
			}
		case l := <-lifecycles:
			if l.Terminal() {
				return power.View{}, l.Err
			}
			if l.Degraded {
				fmt.Printf("Still connecting (attempt %d): %v\n", l.Attempt, l.Err)
			}
		case <-ctx.Done():
			return power.View{}, fmt.Errorf("timed out waiting for the daemon: %w", ctx.Err())
		}
	}
}

func handlePower(id, rawAction string) {
	requireKey()
	action, err := wire.ParsePowerAction(rawAction)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), powerTimeout)
	defer cancel()

	ch, srv, err := openChannel(ctx, id)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer ch.Close()

	view, err := waitForState(ctx, ch)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("%s is %s\n", srv.Name, view.State)

	daemonErrs := make(chan string, 4)
	unsubErr := ch.SubscribeDaemonErrors(func(e bus.DaemonError) { bus.Offer(daemonErrs, e.Message) })
	defer unsubErr()
	views := make(chan power.View, 1)
	unsubView := ch.SubscribePowerState(func(v power.View) { bus.Offer(views, v) })
	defer unsubView()

	res, err := ch.Dispatch(action)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if res == dispatch.NeedsConfirmation {
		if !powerYes && !confirm(fmt.Sprintf("Kill %s? Unsaved data will be lost. [y/N] ", srv.Name)) {
			ch.CancelKill()
			fmt.Println("Kill cancelled.")
			return
		}
		if err := ch.ConfirmKill(); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}
	fmt.Printf("Sent %s to %s.\n", action, srv.Name)

	target := power.Running
	if action == wire.ActionStop || action == wire.ActionKill {
		target = power.Offline
	}

	for {
		select {
		case v := <-views:
			if v.State != view.State && v.State.Known() {
				fmt.Printf("%s is %s\n", srv.Name, v.State)
				if v.State == target {
					return
				}
			}
			view = v
		case msg := <-daemonErrs:
			log.Fatalf("Daemon error: %s", msg)
		case <-ctx.Done():
			fmt.Println("Timed out waiting for the server to change state.")
			return
		}
	}
}

func handleStats(id string) {
	requireKey()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ch, srv, err := openChannel(ctx, id)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer ch.Close()

	snapshots := make(chan telemetry.Snapshot, 1)
	unsub := ch.SubscribeMetrics(func(s telemetry.Snapshot) { bus.Offer(snapshots, s) })
	defer unsub()

	fmt.Printf("Streaming stats for %s (ctrl+c to stop)\n", srv.Name)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case s := <-snapshots:
			fmt.Println(formatSnapshot(s))
		case <-ticker.C:
			if err := ch.RequestStats(); err != nil && !errors.Is(err, channel.ErrClosed) {
				log.Printf("Warning: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func formatSnapshot(s telemetry.Snapshot) string {
	mem := formatBytes(s.MemoryBytes)
	if s.MemoryLimitBytes > 0 {
		mem = fmt.Sprintf("%s / %s (%.1f%%)", mem, formatBytes(s.MemoryLimitBytes), s.MemoryPercent)
	}
	return fmt.Sprintf("%s  CPU %6.2f%%  RAM %s  Disk %s  Net ↓%s ↑%s  Up %s",
		s.ObservedAt.Format("15:04:05"),
		s.CPUPercent,
		mem,
		formatBytes(s.DiskBytes),
		formatBytes(s.NetworkRx),
		formatBytes(s.NetworkTx),
		s.Uptime().Truncate(time.Second),
	)
}

func handleOpen(id string) {
	url := Client.ServerURL(id)
	if err := browser.OpenURL(url); err != nil {
		log.Fatalf("Error opening browser: %v", err)
	}
	fmt.Printf("Opened %s\n", url)
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	var answer string
	fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func formatBytes(bytes uint64) string {
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
