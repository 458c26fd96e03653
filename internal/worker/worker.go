package worker

import (
	"log"
	"time"

	"github.com/sokoni/payouts/internal/domain"
	"github.com/sokoni/payouts/internal/repository"
	"github.com/sokoni/payouts/internal/settlement"
)

// DefaultLease is how long a PROCESSING batch may go without a heartbeat
// before another worker may reclaim it.
const DefaultLease = 30 * time.Minute

// Worker claims one payout batch at a time and drives every order in it
// through the settlement engine. Multiple Worker instances coordinate purely
// through the store: claims and reclaims are atomic conditional updates, and
// racing two workers onto the same order is safe because per-order
// settlement is idempotent.
type Worker struct {
	batches *repository.BatchRepo
	engine  *settlement.Engine
	Lease   time.Duration
}

func New(batches *repository.BatchRepo, engine *settlement.Engine) *Worker {
	return &Worker{
		batches: batches,
		engine:  engine,
		Lease:   DefaultLease,
	}
}

// CycleResult summarises one RunCycle invocation.
type CycleResult struct {
	Idle      bool   `json:"idle"`
	Reclaimed bool   `json:"reclaimed"`
	BatchID   string `json:"batch_id,omitempty"`
	Settled   int    `json:"settled"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// RunCycle claims the next available batch (or reclaims an abandoned one),
// processes it, and finalizes it. It never panics or returns an error: a
// scheduling failure must not crash the hosting process, so everything is
// caught and logged here.
func (w *Worker) RunCycle() (result *CycleResult) {
	result = &CycleResult{Idle: true}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker] PANIC in cycle: %v", r)
		}
	}()

	batch, err := w.batches.ClaimNext(time.Now().UTC())
	if err != nil {
		log.Printf("[worker] claim failed: %v", err)
		return result
	}

	if batch == nil {
		batch, err = w.batches.ReclaimStuck(time.Now().UTC(), w.Lease)
		if err != nil {
			log.Printf("[worker] reclaim failed: %v", err)
			return result
		}
		if batch == nil {
			return result
		}
		result.Reclaimed = true
		log.Printf("[worker] reclaimed abandoned batch %s (heartbeat older than %v)", batch.ID, w.Lease)
	}

	result.Idle = false
	result.BatchID = batch.ID

	w.ProcessBatch(batch, result)

	if err := w.batches.Finalize(batch.ID, time.Now().UTC()); err != nil {
		log.Printf("[worker] finalize %s failed: %v", batch.ID, err)
		return result
	}

	log.Printf("[worker] batch %s consumed: settled=%d skipped=%d failed=%d",
		batch.ID, result.Settled, result.Skipped, result.Failed)
	return result
}

// ProcessBatch settles every order in the batch's immutable list, in stored
// order. A heartbeat precedes each order so a long batch keeps its lease.
// Conflict errors mean the order is already settled or being settled and are
// skipped; any other failure is logged and the batch moves on; one bad
// order never aborts the rest, and failed orders are manual follow-up, not
// automatic retries.
func (w *Worker) ProcessBatch(batch *domain.PayoutBatch, result *CycleResult) {
	for _, orderID := range batch.OrderIDs {
		if err := w.batches.Heartbeat(batch.ID, time.Now().UTC()); err != nil {
			log.Printf("[worker] heartbeat for %s failed: %v", batch.ID, err)
		}

		_, err := w.engine.Settle(orderID, "worker", settlement.Options{
			BatchID: batch.ID,
			Source:  domain.SourceBatch,
		})
		switch {
		case err == nil:
			result.Settled++
		case settlement.IsConflict(err):
			result.Skipped++
			log.Printf("[worker] order %s already handled: %v", orderID, err)
		default:
			result.Failed++
			log.Printf("[worker] order %s failed: %v", orderID, err)
		}
	}
}
