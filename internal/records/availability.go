package records

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultDebounce = 500 * time.Millisecond

// AvailabilityFunc asks the backend whether a custom code is still free.
type AvailabilityFunc func(ctx context.Context, code string) (bool, error)

// AvailabilityResult is delivered for the latest input once it has settled.
type AvailabilityResult struct {
	Code      string
	Available bool
	// Reason explains why a code was rejected locally. Empty when the backend was asked.
	Reason string
	Err    error
}

// AvailabilityChecker debounces availability checks for a custom code being typed.
// Each Input cancels the pending check and any in-flight request, so only the result for
// the latest input is ever delivered.
type AvailabilityChecker struct {
	check    AvailabilityFunc
	debounce time.Duration
	onResult func(AvailabilityResult)
	logger   *slog.Logger

	mu     sync.Mutex
	seq    uint64
	timer  *time.Timer
	cancel context.CancelFunc
}

// NewAvailabilityChecker returns a checker that waits debounce after the last Input
// before calling check. A non-positive debounce uses 500ms.
func NewAvailabilityChecker(check AvailabilityFunc, debounce time.Duration, logger *slog.Logger, onResult func(AvailabilityResult)) *AvailabilityChecker {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	return &AvailabilityChecker{
		check:    check,
		debounce: debounce,
		onResult: onResult,
		logger:   logger,
	}
}

// Input records the latest value of the custom code field. An empty value cancels
// everything and reports nothing. Malformed or reserved codes are reported right away
// without a request.
func (a *AvailabilityChecker) Input(code string) {
	a.mu.Lock()
	a.stopLocked()
	a.seq++
	seq := a.seq

	if code == "" {
		a.mu.Unlock()
		return
	}

	if reason := rejectCode(code); reason != "" {
		a.mu.Unlock()
		a.onResult(AvailabilityResult{Code: code, Reason: reason})
		return
	}

	a.timer = time.AfterFunc(a.debounce, func() {
		a.run(seq, code)
	})
	a.mu.Unlock()
}

// Stop cancels the pending check and suppresses any in-flight result.
func (a *AvailabilityChecker) Stop() {
	a.mu.Lock()
	a.stopLocked()
	a.seq++
	a.mu.Unlock()
}

func (a *AvailabilityChecker) run(seq uint64, code string) {
	a.mu.Lock()
	if seq != a.seq {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.timer = nil
	a.mu.Unlock()

	available, err := a.check(ctx, code)
	cancel()

	a.mu.Lock()
	stale := seq != a.seq
	a.mu.Unlock()

	if stale {
		return
	}

	if err != nil {
		a.logger.Debug("availability check failed", slog.String("code", code), slog.Any("err", err))
		err = fmt.Errorf("records.AvailabilityChecker: %w", err)
	}

	a.onResult(AvailabilityResult{Code: code, Available: available && err == nil, Err: err})
}

func (a *AvailabilityChecker) stopLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func rejectCode(code string) string {
	if !shortCodeRegexp.MatchString(code) {
		return "must be 3-20 characters of letters, digits, '-' or '_'"
	}
	if IsReserved(code) {
		return "is a reserved word"
	}
	return ""
}
