package agentrouter

import (
	"context"
	"math/rand"
	"time"
)

// sleepBackoff waits the exponential-backoff-with-jitter interval for the
// given retry attempt (§4.C: "exponential backoff with jitter 100-800ms"),
// or returns ctx.Err() if the context is cancelled first.
func sleepBackoff(ctx context.Context, attempt int) error {
	base := 100 * time.Millisecond
	ceiling := 800 * time.Millisecond
	d := base << uint(attempt-1)
	if d > ceiling {
		d = ceiling
	}
	wait := base + time.Duration(rand.Int63n(int64(d-base)+1))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
