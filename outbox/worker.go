package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/phiacta/phiacta/db"
	"github.com/phiacta/phiacta/errors"
)

// Handler executes one named compound operation. Execute must be
// idempotent end to end: each sub-step checks whether its effect already
// exists before performing it, so re-running after a partial failure is
// safe. OnTerminalFailure runs once when an entry exhausts its attempts,
// giving the handler a chance to mark the owning entity.
type Handler interface {
	Operation() string
	Execute(ctx context.Context, payload json.RawMessage) error
	OnTerminalFailure(ctx context.Context, payload json.RawMessage, lastErr error)
}

// Worker polls the outbox and dispatches entries to registered handlers.
type Worker struct {
	store        *Store
	handlers     map[string]Handler
	workers      int
	pollInterval time.Duration
	logger       *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker pool over the outbox. Handlers must be
// registered before Start.
func NewWorker(ctx context.Context, store *Store, workers int, pollInterval time.Duration, logger *zap.SugaredLogger) *Worker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	workerCtx, cancel := context.WithCancel(ctx)
	return &Worker{
		store:        store,
		handlers:     make(map[string]Handler),
		workers:      workers,
		pollInterval: pollInterval,
		logger:       logger.Named("outbox"),
		ctx:          workerCtx,
		cancel:       cancel,
	}
}

// Register adds a handler for its operation name.
func (w *Worker) Register(h Handler) {
	w.handlers[h.Operation()] = h
}

// Start launches the polling goroutines.
func (w *Worker) Start() {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(i)
	}
	w.logger.Infow("Outbox workers started",
		"workers", w.workers,
		"poll_interval", w.pollInterval,
	)
}

// Stop cancels the workers and waits for in-flight entries to finish.
func (w *Worker) Stop() {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Infow("Outbox workers stopped")
	case <-time.After(30 * time.Second):
		w.logger.Warnw("Outbox worker stop timed out")
	}
}

func (w *Worker) run(id int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			// Drain everything currently due before sleeping again.
			for {
				processed, err := w.processNext()
				if err != nil {
					select {
					case <-w.ctx.Done():
						return
					default:
					}
					if errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
						// The database went away under us, likely a
						// shutdown race. Nothing left to do.
						return
					}
					w.logger.Errorw("Outbox worker error",
						"worker_id", id,
						"error", err,
					)
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// processNext claims and executes one entry. Returns false when nothing
// was due.
func (w *Worker) processNext() (bool, error) {
	entry, err := w.store.ClaimNext(w.ctx)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	handler, ok := w.handlers[entry.Operation]
	if !ok {
		// No handler will ever exist for this entry; fail it now.
		noHandler := errors.Newf("no handler registered for operation %q", entry.Operation)
		entry.Attempts = entry.MaxAttempts
		if _, err := w.store.MarkFailure(w.ctx, entry, noHandler); err != nil {
			return true, err
		}
		return true, nil
	}

	if execErr := handler.Execute(w.ctx, entry.Payload); execErr != nil {
		terminal, err := w.store.MarkFailure(w.ctx, entry, execErr)
		if err != nil {
			return true, err
		}
		if terminal {
			handler.OnTerminalFailure(w.ctx, entry.Payload, execErr)
		}
		return true, nil
	}

	if err := w.store.MarkCompleted(w.ctx, entry.ID); err != nil {
		return true, err
	}
	w.logger.Debugw("Outbox entry completed",
		"entry_id", entry.ID,
		"operation", entry.Operation,
		"attempts", entry.Attempts,
	)
	return true, nil
}
