package cmd

import (
	"fmt"
	"log"
	"strings"

	"panelctl/internal/domain"

	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved panel profiles",
}

var addURL, addKey string
var addUse bool

var profileAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Save a panel URL and API key under a name",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleProfileAdd(args[0], addURL, addKey, addUse)
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	Run: func(cmd *cobra.Command, args []string) {
		handleProfileList()
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Select the profile used when --profile is not given",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Store.SetActiveProfile(args[0]); err != nil {
			log.Fatalf("Error selecting profile: %v", err)
		}
		fmt.Printf("Now using profile %s.\n", args[0])
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Delete a saved profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Store.DeleteProfile(args[0]); err != nil {
			log.Fatalf("Error removing profile: %v", err)
		}
		fmt.Println("Profile removed.")
	},
}

var recentLimit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently opened servers",
	Run: func(cmd *cobra.Command, args []string) {
		handleRecent(recentLimit)
	},
}

func init() {
	profileAddCmd.Flags().StringVar(&addURL, "panel", "", "Panel URL")
	profileAddCmd.Flags().StringVar(&addKey, "key", "", "Client API key")
	profileAddCmd.Flags().BoolVar(&addUse, "use", false, "Select the profile after saving it")
	profileAddCmd.MarkFlagRequired("panel")
	profileAddCmd.MarkFlagRequired("key")

	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 10, "Number of entries")

	profileCmd.AddCommand(profileAddCmd, profileListCmd, profileUseCmd, profileRemoveCmd)
	RootCmd.AddCommand(profileCmd, recentCmd)
}

func handleProfileAdd(name, url, key string, use bool) {
	p := &domain.Profile{Name: name, PanelURL: strings.TrimRight(url, "/"), APIKey: key}
	if err := Store.SaveProfile(p); err != nil {
		log.Fatalf("Error saving profile: %v", err)
	}
	fmt.Printf("Profile %s saved.\n", name)

	if use {
		if err := Store.SetActiveProfile(name); err != nil {
			log.Fatalf("Error selecting profile: %v", err)
		}
		fmt.Printf("Now using profile %s.\n", name)
	}
}

func handleProfileList() {
	profiles, err := Store.ListProfiles()
	if err != nil {
		log.Fatalf("Error listing profiles: %v", err)
	}
	if len(profiles) == 0 {
		fmt.Println("No profiles saved. Add one with 'panelctl profile add'.")
		return
	}

	active := ""
	if p, _ := Store.ActiveProfile(); p != nil {
		active = p.Name
	}

	fmt.Println("Profiles:")
	for _, p := range profiles {
		marker := " "
		if p.Name == active {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  key %s\n", marker, p.Name, p.PanelURL, maskKey(p.APIKey))
	}
}

func handleRecent(limit int) {
	recent, err := Store.ListRecent(limit)
	if err != nil {
		log.Fatalf("Error listing recent servers: %v", err)
	}
	if len(recent) == 0 {
		fmt.Println("No servers opened yet.")
		return
	}

	fmt.Println("Recent servers:")
	for _, r := range recent {
		profile := r.ProfileName
		if profile == "" {
			profile = "-"
		}
		fmt.Printf("- %s (%s) profile: %s  opened %s\n", r.Name, r.Identifier, profile, r.LastOpened.Format("2006-01-02 15:04"))
	}
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
