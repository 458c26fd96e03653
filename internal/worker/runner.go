package worker

import (
	"log"
	"sync"
	"time"
)

// Runner invokes a Worker's RunCycle on a fixed interval, the way a cron
// trigger would. Cycles are already crash-isolated inside RunCycle; the
// runner only owns the ticker lifecycle.
type Runner struct {
	Worker   *Worker
	Interval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewRunner(w *Worker, interval time.Duration) *Runner {
	return &Runner{
		Worker:   w,
		Interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the cycle loop, running one cycle immediately.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker != nil {
		return
	}

	r.stop = make(chan struct{})
	r.ticker = time.NewTicker(r.Interval)
	r.wg.Add(1)
	go r.run()

	log.Printf("[worker] runner started, interval %v", r.Interval)
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}

	r.ticker.Stop()
	close(r.stop)
	r.wg.Wait()
	r.ticker = nil

	log.Printf("[worker] runner stopped")
}

func (r *Runner) run() {
	defer r.wg.Done()

	r.Worker.RunCycle()

	for {
		select {
		case <-r.ticker.C:
			r.Worker.RunCycle()
		case <-r.stop:
			return
		}
	}
}
