package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/config"
	"github.com/mwheeler/reelsync/internal/remote"
	"github.com/mwheeler/reelsync/internal/ui"
)

var filterCmd = &cobra.Command{
	Use:     "filter",
	GroupID: "maint",
	Short:   "Manage saved scene filters",
	Long: `Saved filters name query expressions for reuse with
'reel sync scenes --saved <name>'.

Expressions combine free text with qualifiers:
  studio:<id> performer:<id> tag:<id> organized:<bool> rating>=<n>

Examples:
  reel filter save favorites "rating>=4 organized:true"
  reel filter save acme "studio:12"
  reel sync scenes --saved favorites
  reel filter rm acme`,
}

var filterSaveCmd = &cobra.Command{
	Use:   "save <name> <expression>",
	Short: "Save a filter expression under a name",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name, expr := args[0], args[1]
		if _, err := remote.ParseQuery(expr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		filters := loadFilterSet()
		filters.Set(name, expr)
		saveFilterSet(filters)
		fmt.Printf("%s Saved filter %s = %q\n", ui.RenderPass("✓"), name, expr)
	},
}

var filterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved filters",
	Run: func(cmd *cobra.Command, args []string) {
		filters := loadFilterSet()
		names := filters.Names()
		if len(names) == 0 {
			fmt.Println("No saved filters. Add one with 'reel filter save <name> <expression>'.")
			return
		}
		for _, name := range names {
			expr, _ := filters.Get(name)
			fmt.Printf("   %-16s %s\n", name, expr)
		}
	},
}

var filterRemoveCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a saved filter",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filters := loadFilterSet()
		if !filters.Remove(args[0]) {
			fmt.Fprintf(os.Stderr, "Error: no saved filter named %q\n", args[0])
			os.Exit(1)
		}
		saveFilterSet(filters)
		fmt.Printf("%s Removed filter %s\n", ui.RenderPass("✓"), args[0])
	},
}

func loadFilterSet() *config.SavedFilters {
	path, err := config.DefaultFiltersPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	filters, err := config.LoadFilters(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return filters
}

func saveFilterSet(filters *config.SavedFilters) {
	path, err := config.DefaultFiltersPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := filters.Save(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving filters: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	filterCmd.AddCommand(filterSaveCmd)
	filterCmd.AddCommand(filterListCmd)
	filterCmd.AddCommand(filterRemoveCmd)
	rootCmd.AddCommand(filterCmd)
}
