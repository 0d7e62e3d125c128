package validate

import (
	"errors"
	"testing"
	"time"

	"petition-watcher/internal/config"
	"petition-watcher/internal/tick"
)

func testConfig() config.ValidationConfig {
	return config.ValidationConfig{
		MaxFutureSkew:    60 * time.Second,
		MaxStaleness:     24 * time.Hour,
		MaxCount:         100_000_000,
		MaxRatePerSecond: 1000,
		DecreaseGrace:    10 * time.Minute,
	}
}

func TestCheckRules(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	nowMs := now.UnixMilli()
	prev := &tick.Tick{TS: nowMs - 60_000, Count: 1000}

	cases := []struct {
		name    string
		prev    *tick.Tick
		ts      int64
		count   int64
		wantErr error
	}{
		{"first sample accepted", nil, nowMs, 500, nil},
		{"future within skew", nil, nowMs + 30_000, 500, nil},
		{"future beyond skew", nil, nowMs + 120_000, 500, ErrFutureTimestamp},
		{"stale beyond bound", nil, nowMs - 25*3600*1000, 500, ErrStaleTimestamp},
		{"negative count", nil, nowMs, -1, ErrCountOutOfRange},
		{"count above ceiling", nil, nowMs, 200_000_000, ErrCountOutOfRange},
		{"plausible growth", prev, nowMs, 1600, nil},
		{"implausible growth", prev, nowMs, 80_000_000, ErrImplausibleRate},
		{"decrease within grace", prev, nowMs, 900, ErrCountDecreased},
		{"decrease past grace is a reset", &tick.Tick{TS: nowMs - 3600_000, Count: 1000}, nowMs, 100, nil},
	}

	v := New(testConfig())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Check(now, tc.prev, tc.ts, tc.count)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("expected accept, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCheckRateAtBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	nowMs := now.UnixMilli()
	prev := &tick.Tick{TS: nowMs - 1000, Count: 0}

	v := New(testConfig())
	// Exactly the ceiling is allowed; one signature over is not.
	if err := v.Check(now, prev, nowMs, 1000); err != nil {
		t.Fatalf("rate at ceiling should pass: %v", err)
	}
	if err := v.Check(now, prev, nowMs, 1001); !errors.Is(err, ErrImplausibleRate) {
		t.Fatalf("rate over ceiling should fail, got %v", err)
	}
}
