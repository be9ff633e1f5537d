/*
scheduler.go - Periodic balance audit

PURPOSE:
  Account balances are maintained incrementally by every command. The
  auditor periodically rebuilds them from history (opening balance plus
  every leg) and logs any account whose stored balance had drifted. Drift
  should never happen; when it does, the audit corrects it and leaves a
  warning behind.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Keeps the last MaxRuns outcomes in memory for GET /api/admin/audits

CONFIGURATION:
  - CheckInterval: How often to audit (default: 1 hour)
  - Enabled: Whether the auditor is active (default: true)

USAGE:
  auditor := NewBalanceAuditor(svc, log)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - handlers.go: RecalculateAll endpoint (manual audit)
  - ledger/balance.go: RecalculateAllBalances
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/ledger-engine/ledger"
)

// AuditRun is the outcome of one audit.
type AuditRun struct {
	StartedAt   time.Time
	Duration    time.Duration
	Corrections []ledger.BalanceCorrection
	Err         error
}

// BalanceAuditor periodically recalculates every balance.
type BalanceAuditor struct {
	Service       *ledger.Service
	CheckInterval time.Duration
	Enabled       bool
	MaxRuns       int

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.Mutex
	runs   []AuditRun // newest first
}

// NewBalanceAuditor creates a new auditor.
func NewBalanceAuditor(svc *ledger.Service, log zerolog.Logger) *BalanceAuditor {
	return &BalanceAuditor{
		Service:       svc,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		MaxRuns:       20,
		log:           log.With().Str("component", "balance_auditor").Logger(),
	}
}

// Start begins the auditor.
func (a *BalanceAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled || a.CheckInterval <= 0 {
		a.log.Info().Msg("disabled, not starting")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.CheckInterval)
	a.stop = make(chan struct{})
	a.wg.Add(1)

	go a.run(a.ticker, a.stop)

	a.log.Info().Dur("interval", a.CheckInterval).Msg("started")
}

// Stop stops the auditor and waits for a running audit to finish.
func (a *BalanceAuditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
		close(a.stop)
		a.wg.Wait()
		a.ticker = nil
		a.log.Info().Msg("stopped")
	}
}

func (a *BalanceAuditor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	a.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			a.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one audit synchronously (for testing/admin).
func (a *BalanceAuditor) RunNow(ctx context.Context) AuditRun {
	run := AuditRun{StartedAt: time.Now()}
	run.Corrections, run.Err = a.Service.RecalculateAllBalances(ctx)
	run.Duration = time.Since(run.StartedAt)

	switch {
	case run.Err != nil:
		a.log.Error().Err(run.Err).Msg("balance audit failed")
	case len(run.Corrections) > 0:
		for _, c := range run.Corrections {
			a.log.Warn().
				Str("account_id", string(c.AccountID)).
				Str("previous", c.Previous.String()).
				Str("recomputed", c.Recomputed.String()).
				Str("drift", c.Drift().String()).
				Msg("balance drift corrected")
		}
	default:
		a.log.Debug().Dur("duration", run.Duration).Msg("balances consistent")
	}

	a.record(run)
	return run
}

func (a *BalanceAuditor) record(run AuditRun) {
	a.runsMu.Lock()
	defer a.runsMu.Unlock()

	a.runs = append([]AuditRun{run}, a.runs...)
	if a.MaxRuns > 0 && len(a.runs) > a.MaxRuns {
		a.runs = a.runs[:a.MaxRuns]
	}
}

// Runs returns recorded audits, newest first.
func (a *BalanceAuditor) Runs() []AuditRun {
	a.runsMu.Lock()
	defer a.runsMu.Unlock()

	out := make([]AuditRun, len(a.runs))
	copy(out, a.runs)
	return out
}

// GetNextRunTime returns when the next scheduled audit will occur.
func (a *BalanceAuditor) GetNextRunTime() time.Time {
	return time.Now().Add(a.CheckInterval)
}
