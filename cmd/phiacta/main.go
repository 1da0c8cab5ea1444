package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phiacta/phiacta/cmd/phiacta/commands"
	"github.com/phiacta/phiacta/logger"
)

var rootCmd = &cobra.Command{
	Use:   "phiacta",
	Short: "Phiacta - claim-centric knowledge graph core",
	Long: `Phiacta - versioned claims, typed relationships, computed confidence.

Available commands:
  db      - Manage the Phiacta database
  outbox  - Run the consistency outbox worker
  claim   - Inspect claims and lineages
  version - Show version information

Examples:
  phiacta db migrate        # Apply pending schema migrations
  phiacta db stats          # Show entity counts
  phiacta outbox run        # Start the outbox worker
  phiacta claim show <id>   # Show one claim version`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.OutboxCmd)
	rootCmd.AddCommand(commands.ClaimCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
