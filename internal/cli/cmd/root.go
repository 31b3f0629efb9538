package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"panelctl/internal/config"
	"panelctl/internal/domain"
	"panelctl/internal/storage"
	"panelctl/pkg/sdk"

	"github.com/spf13/cobra"
)

var (
	Client  *sdk.Client
	Cfg     *config.Config
	Store   *storage.GormStore
	Profile *domain.Profile

	BaseURL     string
	APIKey      string
	ProfileName string

	configDir string
	logFile   *os.File
)

var RootCmd = &cobra.Command{
	Use:   "panelctl",
	Short: "Terminal client for game server panels",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := setup(cmd); err != nil {
			log.Fatalf("Error: %v", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
	Run: func(cmd *cobra.Command, args []string) {
		RunDashboard()
	},
}

func Execute() {
	RootCmd.PersistentFlags().StringVar(&BaseURL, "url", "", "Panel URL (overrides profile and config)")
	RootCmd.PersistentFlags().StringVar(&APIKey, "api-key", "", "Panel client API key")
	RootCmd.PersistentFlags().StringVarP(&ProfileName, "profile", "p", "", "Saved profile to use")

	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) error {
	dir, err := config.Dir()
	if err != nil {
		return fmt.Errorf("could not resolve config dir: %w", err)
	}
	configDir = dir

	Cfg, err = config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	setupLogging()

	Store, err = storage.NewGormStore(Cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	if ProfileName != "" {
		Profile, err = Store.GetProfile(ProfileName)
		if err != nil {
			return err
		}
	} else {
		Profile, err = Store.ActiveProfile()
		if err != nil {
			return err
		}
	}

	url, key := resolveCredentials(cmd)
	Client = sdk.NewClient(url, key)
	return nil
}

// resolveCredentials picks the panel URL and key: flags first, then the
// environment, then the selected profile, then config.json.
func resolveCredentials(cmd *cobra.Command) (string, string) {
	url, key := Cfg.PanelURL, Cfg.APIKey
	if Profile != nil && os.Getenv(config.EnvPanelURL) == "" {
		url = Profile.PanelURL
	}
	if Profile != nil && os.Getenv(config.EnvAPIKey) == "" {
		key = Profile.APIKey
	}
	if cmd.Flags().Changed("url") {
		url = BaseURL
	}
	if cmd.Flags().Changed("api-key") {
		key = APIKey
	}
	return url, key
}

// setupLogging sends library logs to a file so they never draw over the
// terminal UI.
func setupLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(Cfg.LogLevel))); err != nil {
		level = slog.LevelWarn
	}

	f, err := os.OpenFile(filepath.Join(configDir, "panelctl.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}
	logFile = f
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})))
}

func teardown() {
	if Store != nil {
		Store.Close()
	}
	if logFile != nil {
		logFile.Close()
	}
}

func requireKey() {
	if Client.APIKey() == "" {
		log.Fatal("No API key configured. Use --api-key, PANELCTL_API_KEY or 'panelctl profile add'.")
	}
}
