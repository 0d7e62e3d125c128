package validate

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"petition-watcher/internal/config"
	"petition-watcher/internal/tick"
)

var (
	// ErrFutureTimestamp rejects samples beyond the clock-skew tolerance.
	ErrFutureTimestamp = errors.New("validate: timestamp too far in the future")
	// ErrStaleTimestamp rejects samples past the staleness bound.
	ErrStaleTimestamp = errors.New("validate: timestamp too old")
	// ErrCountOutOfRange rejects negative counts and counts above the ceiling.
	ErrCountOutOfRange = errors.New("validate: count out of range")
	// ErrImplausibleRate rejects samples whose implied growth since the
	// previous sample exceeds the configured ceiling.
	ErrImplausibleRate = errors.New("validate: implied rate exceeds ceiling")
	// ErrCountDecreased rejects shrinking counts inside the grace period.
	// Past the grace period a decrease is accepted as an upstream reset.
	ErrCountDecreased = errors.New("validate: count decreased")
)

// Validator applies the acceptance rules to candidate samples. Checks are
// pure: the last accepted tick is supplied by the caller.
type Validator struct {
	cfg config.ValidationConfig
}

// New builds a validator from config thresholds.
func New(cfg config.ValidationConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Check returns nil when the candidate (ts, count) is acceptable given the
// previous accepted tick (nil when none exists). Rules run in a fixed order
// so the first violated bound names the rejection.
func (v *Validator) Check(now time.Time, prev *tick.Tick, ts, count int64) error {
	nowMs := now.UnixMilli()

	if skew := v.cfg.MaxFutureSkew; skew > 0 && ts > nowMs+skew.Milliseconds() {
		return fmt.Errorf("%w: ts %d is %s ahead", ErrFutureTimestamp, ts, time.Duration(ts-nowMs)*time.Millisecond)
	}
	if stale := v.cfg.MaxStaleness; stale > 0 && ts < nowMs-stale.Milliseconds() {
		return fmt.Errorf("%w: ts %d is %s behind", ErrStaleTimestamp, ts, time.Duration(nowMs-ts)*time.Millisecond)
	}
	if count < 0 {
		return fmt.Errorf("%w: %d is negative", ErrCountOutOfRange, count)
	}
	if v.cfg.MaxCount > 0 && count > v.cfg.MaxCount {
		return fmt.Errorf("%w: %d exceeds ceiling %d", ErrCountOutOfRange, count, v.cfg.MaxCount)
	}

	if prev == nil {
		return nil
	}

	gap := ts - prev.TS
	delta := count - prev.Count

	if delta < 0 {
		if grace := v.cfg.DecreaseGrace; grace > 0 && gap <= grace.Milliseconds() {
			return fmt.Errorf("%w: %d -> %d within %s", ErrCountDecreased, prev.Count, count, grace)
		}
		// Past the grace gap: upstream reset, recalibrate.
		return nil
	}

	if gap > 0 && v.cfg.MaxRatePerSecond > 0 {
		implied := decimal.NewFromInt(delta).
			Div(decimal.NewFromInt(gap)).
			Mul(decimal.NewFromInt(1000))
		ceiling := decimal.NewFromFloat(v.cfg.MaxRatePerSecond)
		if implied.GreaterThan(ceiling) {
			return fmt.Errorf("%w: %s/s over %v/s", ErrImplausibleRate, implied.StringFixed(2), v.cfg.MaxRatePerSecond)
		}
	}

	return nil
}
