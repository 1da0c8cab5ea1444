package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phiacta/phiacta/logger"
	"github.com/phiacta/phiacta/store"
)

// ClaimCmd groups claim inspection operations.
var ClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Inspect claims and their version history",
	Long: `Inspect claims in the entity store.

Examples:
  phiacta claim show <claim-id>        # Show a single claim version
  phiacta claim history <lineage-id>   # Show every version of a lineage
  phiacta claim latest <lineage-id>    # Show the latest version of a lineage`,
}

var claimShowCmd = &cobra.Command{
	Use:   "show <claim-id>",
	Short: "Show a single claim version",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimShow,
}

var claimHistoryCmd = &cobra.Command{
	Use:   "history <lineage-id>",
	Short: "Show every version of a claim lineage, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimHistory,
}

var claimLatestCmd = &cobra.Command{
	Use:   "latest <lineage-id>",
	Short: "Show the latest version of a claim lineage",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimLatest,
}

func init() {
	ClaimCmd.AddCommand(claimShowCmd)
	ClaimCmd.AddCommand(claimHistoryCmd)
	ClaimCmd.AddCommand(claimLatestCmd)

	claimLatestCmd.Flags().Bool("include-retracted", false, "Return the latest version even if retracted")
}

func runClaimShow(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	s := store.New(database, logger.Logger)
	claim, err := s.GetClaim(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printClaim(claim)
	return nil
}

func runClaimHistory(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	s := store.New(database, logger.Logger)
	claims, err := s.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for i, claim := range claims {
		if i > 0 {
			fmt.Println()
		}
		printClaim(claim)
	}
	return nil
}

func runClaimLatest(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	s := store.New(database, logger.Logger)
	includeRetracted, _ := cmd.Flags().GetBool("include-retracted")
	claim, err := s.Latest(cmd.Context(), args[0], includeRetracted)
	if err != nil {
		return err
	}
	printClaim(claim)
	return nil
}

func printClaim(c *store.Claim) {
	fmt.Printf("ID:        %s\n", c.ID)
	fmt.Printf("Lineage:   %s (version %d)\n", c.LineageID, c.Version)
	fmt.Printf("Type:      %s\n", c.ClaimType)
	fmt.Printf("Status:    %s\n", c.Status)
	if c.Supersedes != "" {
		fmt.Printf("Supersedes: %s\n", c.Supersedes)
	}
	if c.ExternalRef != "" {
		fmt.Printf("External:  %s\n", c.ExternalRef)
	}
	if c.RepoPath != "" {
		fmt.Printf("Repo:      %s (%s)\n", c.RepoPath, c.RepoStatus)
	}
	fmt.Printf("Created:   %s by %s\n", c.CreatedAt.Format("2006-01-02 15:04:05"), c.CreatedBy)
	fmt.Printf("Content:   %s\n", c.Content)
	if c.FormalContent != "" {
		fmt.Printf("Formal:    %s\n", c.FormalContent)
	}
}
