package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phiacta/phiacta/contentrepo"
	"github.com/phiacta/phiacta/logger"
	"github.com/phiacta/phiacta/outbox"
	"github.com/phiacta/phiacta/store"
)

// OutboxCmd groups outbox operations.
var OutboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Manage the consistency outbox",
	Long: `Run and inspect the consistency outbox.

The outbox worker applies store-side writes to the external content
repository with retries and idempotent step execution.

Examples:
  phiacta outbox run     # Start the worker, stop with Ctrl-C`,
}

var outboxRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the outbox worker until interrupted",
	RunE:  runOutbox,
}

func init() {
	OutboxCmd.AddCommand(outboxRunCmd)
}

func runOutbox(cmd *cobra.Command, args []string) error {
	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	entityStore := store.New(database, logger.Logger)
	outboxStore := outbox.NewStore(database, cfg.Outbox.MaxAttempts, cfg.Outbox.BackoffCapSeconds, logger.Logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	worker := outbox.NewWorker(ctx, outboxStore,
		cfg.Outbox.Workers,
		time.Duration(cfg.Outbox.PollIntervalSeconds)*time.Second,
		logger.Logger,
	)

	if cfg.ContentRepo.Enabled {
		repos := contentrepo.NewGitRepository(cfg.ContentRepo.Root, logger.Logger)
		worker.Register(outbox.NewCreateRepoHandler(entityStore, repos, logger.Logger))
		worker.Register(outbox.NewCommitFilesHandler(entityStore, repos, logger.Logger))
		worker.Register(outbox.NewCreateBranchHandler(entityStore, repos, logger.Logger))
	} else {
		logger.Logger.Warnw("Content repository integration disabled; repository entries will fail")
	}

	worker.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Logger.Infow("Shutting down outbox worker")
	worker.Stop()
	return nil
}
