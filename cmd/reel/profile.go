package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/config"
	"github.com/mwheeler/reelsync/internal/ui"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "maint",
	Short:   "Manage connection profiles",
	Long: `Profiles store named remote targets so you can switch servers
without retyping URLs and keys. The first profile added becomes the
default; any command accepts --profile to pick another.

Examples:
  reel profile add home --target http://localhost:9999
  reel profile add work --target https://catalog.example.com --api-key secret
  reel profile use work
  reel sync --profile home`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Run: func(cmd *cobra.Command, args []string) {
		profiles := loadProfileSet()
		names := profiles.Names()
		if len(names) == 0 {
			fmt.Println("No profiles. Add one with 'reel profile add <name> --target <url>'.")
			return
		}
		for _, name := range names {
			prof := profiles.ByName[name]
			marker := " "
			if name == profiles.Default {
				marker = ui.RenderPass("*")
			}
			line := fmt.Sprintf("   %s %-12s %s", marker, name, prof.Target)
			if prof.APIKey != "" {
				line += ui.RenderMuted("  (api key set)")
			}
			fmt.Println(line)
		}
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or update a profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target, _ := cmd.Flags().GetString("target")
		apiKey, _ := cmd.Flags().GetString("api-key")
		minVersion, _ := cmd.Flags().GetString("min-server-version")
		if target == "" {
			fmt.Fprintf(os.Stderr, "Error: --target is required\n")
			os.Exit(1)
		}

		profiles := loadProfileSet()
		profiles.Set(args[0], config.Profile{
			Target:           target,
			APIKey:           apiKey,
			MinServerVersion: minVersion,
		})
		saveProfileSet(profiles)
		fmt.Printf("%s Saved profile %s → %s\n", ui.RenderPass("✓"), args[0], target)
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		profiles := loadProfileSet()
		if !profiles.Remove(args[0]) {
			fmt.Fprintf(os.Stderr, "Error: no profile named %q\n", args[0])
			os.Exit(1)
		}
		saveProfileSet(profiles)
		fmt.Printf("%s Removed profile %s\n", ui.RenderPass("✓"), args[0])
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the default profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		profiles := loadProfileSet()
		if _, ok := profiles.ByName[args[0]]; !ok {
			fmt.Fprintf(os.Stderr, "Error: no profile named %q\n", args[0])
			os.Exit(1)
		}
		profiles.Default = args[0]
		saveProfileSet(profiles)
		fmt.Printf("%s Default profile is now %s\n", ui.RenderPass("✓"), args[0])
	},
}

func loadProfileSet() *config.Profiles {
	path, err := config.DefaultProfilesPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	profiles, err := config.LoadProfiles(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return profiles
}

func saveProfileSet(profiles *config.Profiles) {
	path, err := config.DefaultProfilesPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := profiles.Save(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving profiles: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	profileAddCmd.Flags().String("min-server-version", "", "Lowest server version this profile accepts")

	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileRemoveCmd)
	profileCmd.AddCommand(profileUseCmd)
	rootCmd.AddCommand(profileCmd)
}
