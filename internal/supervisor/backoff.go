package supervisor

import (
	"github.com/cenkalti/backoff/v4"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// newBackOff builds the exponential-with-jitter policy for one server's
// Backoff state (§4.D, §5 defaults: base 1s, ceiling 60s, ±20% jitter).
// cenkalti/backoff/v4 applies RandomizationFactor as a symmetric jitter
// band around each computed interval, matching the "±20%" target directly
// instead of re-deriving it by hand.
func newBackOff(policy models.RestartPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseBackoff
	b.MaxInterval = policy.Ceiling
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0 // unbounded: the Supervisor decides when to give up, not the backoff policy
	b.Reset()
	return b
}
