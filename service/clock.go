package service

import (
	"context"
	"time"
)

// Clock supplies current time and sleeping to the workflow engine, so
// deadline and cadence logic can run against a virtual clock in tests.
type Clock interface {
	Now() time.Time
	// Sleep suspends the calling goroutine for d, or until ctx is
	// canceled, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
	// Deadline computes when an invoice issued at start falls due.
	Deadline(start time.Time, daysUntilDue int) time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (SystemClock) Deadline(start time.Time, daysUntilDue int) time.Time {
	return start.AddDate(0, 0, daysUntilDue)
}
