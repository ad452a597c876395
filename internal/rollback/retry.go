package rollback

import "time"

// RetryPolicy configures retries of failed compensations.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls per compensation.
	// Default: 1 (no retry)
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	// Default: 200 milliseconds
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	// Default: 5 seconds
	MaxBackoff time.Duration

	// Multiplier grows the backoff after each retry.
	// Default: 2
	Multiplier float64
}

// DefaultRetryPolicy returns the default policy: a single attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    1,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (p *RetryPolicy) ApplyDefaults() {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
}

func (p RetryPolicy) next(current time.Duration) time.Duration {
	n := time.Duration(float64(current) * p.Multiplier)
	if n > p.MaxBackoff {
		return p.MaxBackoff
	}
	return n
}
