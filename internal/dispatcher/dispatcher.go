// Package dispatcher schedules detail targets over a bounded pool: FIFO
// admission, deduplication by canonical URL, a global result cap and a
// wall-clock deadline past which nothing new starts.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
	"github.com/JakeFAU/directory-crawler/internal/policy/backoff"
)

// MaxWidth caps parallelism regardless of configuration.
const MaxWidth = 10

// Processor runs one target and delivers records.
type Processor interface {
	Process(ctx context.Context, target crawler.FetchTarget) (crawler.Record, bool)
	Save(ctx context.Context, record crawler.Record) error
}

// Sleeper waits between admissions.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config controls admission.
type Config struct {
	Width          int
	Cap            int
	Deadline       time.Time
	AdmissionDelay backoff.Range
}

// Report describes what a Run did.
type Report struct {
	Admitted   int
	Duplicates int
	Saved      int
	// Dropped counts records that finished after the cap was reached.
	Dropped int
	// DeadlineHit is set when admission stopped because of the deadline.
	DeadlineHit bool
}

// Dispatcher is single-use per run.
type Dispatcher struct {
	cfg       Config
	processor Processor
	clock     crawler.Clock
	sleep     Sleeper
	logger    *zap.Logger

	mu     sync.Mutex
	report Report
}

// New builds a Dispatcher. Width is clamped to [1, MaxWidth]; a non-positive
// cap means unlimited.
func New(cfg Config, processor Processor, clock crawler.Clock, sleep Sleeper, logger *zap.Logger) *Dispatcher {
	if cfg.Width < 1 {
		cfg.Width = 1
	}
	if cfg.Width > MaxWidth {
		cfg.Width = MaxWidth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sleep == nil {
		sleep = func(context.Context, time.Duration) error { return nil }
	}
	return &Dispatcher{
		cfg:       cfg,
		processor: processor,
		clock:     clock,
		sleep:     sleep,
		logger:    logger.Named("dispatcher"),
	}
}

// Run admits targets in order until the list, the cap or the deadline is
// exhausted, then waits for in-flight work. In-flight targets are never
// cancelled by the deadline.
func (d *Dispatcher) Run(ctx context.Context, targets []crawler.FetchTarget) Report {
	sem := semaphore.NewWeighted(int64(d.cfg.Width))
	seen := make(map[string]struct{}, len(targets))
	var wg sync.WaitGroup

	for _, target := range targets {
		if _, dup := seen[target.CanonicalURL]; dup {
			d.update(func(r *Report) { r.Duplicates++ })
			continue
		}
		if !d.admissible() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// Re-check after waiting for a slot.
		if !d.admissible() {
			sem.Release(1)
			break
		}
		seen[target.CanonicalURL] = struct{}{}
		d.update(func(r *Report) { r.Admitted++ })

		wg.Add(1)
		go func(t crawler.FetchTarget) {
			defer wg.Done()
			defer sem.Release(1)
			d.execute(ctx, t)
		}(target)

		if err := d.sleep(ctx, d.cfg.AdmissionDelay.Sample()); err != nil {
			break
		}
	}
	wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.report
}

func (d *Dispatcher) execute(ctx context.Context, target crawler.FetchTarget) {
	record, ok := d.processor.Process(ctx, target)
	if !ok {
		return
	}
	if !d.reserve() {
		d.update(func(r *Report) { r.Dropped++ })
		return
	}
	if err := d.processor.Save(ctx, record); err != nil {
		d.update(func(r *Report) { r.Saved-- })
		d.logger.Error("save record", zap.String("url", target.CanonicalURL), zap.Error(err))
	}
}

// reserve claims an emit slot under the cap.
func (d *Dispatcher) reserve() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capReached() {
		return false
	}
	d.report.Saved++
	return true
}

func (d *Dispatcher) admissible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capReached() {
		return false
	}
	if !d.cfg.Deadline.IsZero() && !d.clock.Now().Before(d.cfg.Deadline) {
		if !d.report.DeadlineHit {
			d.logger.Info("deadline reached, no new targets admitted", zap.Int("admitted", d.report.Admitted))
		}
		d.report.DeadlineHit = true
		return false
	}
	return true
}

func (d *Dispatcher) capReached() bool {
	return d.cfg.Cap > 0 && d.report.Saved >= d.cfg.Cap
}

func (d *Dispatcher) update(fn func(*Report)) {
	d.mu.Lock()
	fn(&d.report)
	d.mu.Unlock()
}
