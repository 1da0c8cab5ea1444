package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phiacta/phiacta/config"
	"github.com/phiacta/phiacta/db"
	"github.com/phiacta/phiacta/errors"
	"github.com/phiacta/phiacta/logger"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Phiacta database",
	Long: `Manage Phiacta database operations.

Examples:
  phiacta db migrate   # Apply pending schema migrations
  phiacta db stats     # Show entity counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func openDatabase() (*sql.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "load configuration")
	}
	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	return database, cfg, nil
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	fmt.Println("Migrations applied")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	counts := []struct {
		label string
		query string
	}{
		{"Claims", "SELECT COUNT(*) FROM claims"},
		{"Lineages", "SELECT COUNT(DISTINCT lineage_id) FROM claims"},
		{"Edges", "SELECT COUNT(*) FROM edges"},
		{"Agents", "SELECT COUNT(*) FROM agents"},
		{"Sources", "SELECT COUNT(*) FROM sources"},
		{"Reviews", "SELECT COUNT(*) FROM reviews"},
		{"Bundles", "SELECT COUNT(*) FROM bundles"},
		{"Pending references", "SELECT COUNT(*) FROM pending_references"},
		{"Outbox pending", "SELECT COUNT(*) FROM outbox WHERE status = 'pending'"},
		{"Outbox failed", "SELECT COUNT(*) FROM outbox WHERE status = 'failed'"},
	}

	fmt.Println("Phiacta Database Statistics")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Database Path: %s\n\n", cfg.Database.Path)
	for _, c := range counts {
		var n int
		if err := database.QueryRow(c.query).Scan(&n); err != nil && err != sql.ErrNoRows {
			return errors.Wrapf(err, "query %s", c.label)
		}
		fmt.Printf("%-20s %d\n", c.label+":", n)
	}
	return nil
}
