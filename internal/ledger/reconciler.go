package ledger

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// reconcileConcurrency bounds remote reads per pass
const reconcileConcurrency = 4

// Reconciler periodically re-reads remote balances so local drift after a
// failed write does not last forever
type Reconciler struct {
	ledger   *Ledger
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewReconciler creates a reconciler that runs every interval
func NewReconciler(ledger *Ledger, interval time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the background reconciliation loop
func (r *Reconciler) Start() {
	go r.loop()
	r.logger.Info("Ledger reconciler started", zap.Duration("interval", r.interval))
}

// Stop halts the loop and waits for a running pass to finish
func (r *Reconciler) Stop() {
	close(r.stopChan)
	<-r.doneChan
	r.logger.Info("Ledger reconciler stopped")
}

func (r *Reconciler) loop() {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.RunOnce(context.Background())
		}
	}
}

// RunOnce reconciles every open account
func (r *Reconciler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	var reconciled atomic.Int64
	var g errgroup.Group
	g.SetLimit(reconcileConcurrency)
	for _, id := range r.ledger.AccountIDs() {
		g.Go(func() error {
			if err := r.ledger.Reconcile(ctx, id); err != nil {
				r.logger.Warn("Failed to reconcile balance", zap.String("accountID", id), zap.Error(err))
				return nil
			}
			reconciled.Add(1)
			return nil
		})
	}
	g.Wait()

	r.logger.Debug("Ledger reconciliation pass completed", zap.Int64("accounts", reconciled.Load()))
}
