package store

import (
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultLeaseTTL     = 2 * time.Minute
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 10 * time.Second
)

// LedgerOptions tune lease and retry behaviour shared by every ledger backend.
type LedgerOptions struct {
	LeaseTTL     time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	Clock        clockwork.Clock
}

func DefaultLedgerOptions() LedgerOptions {
	return LedgerOptions{
		LeaseTTL:     DefaultLeaseTTL,
		MaxAttempts:  DefaultMaxAttempts,
		RetryBackoff: DefaultRetryBackoff,
		Clock:        clockwork.NewRealClock(),
	}
}

func (o LedgerOptions) withDefaults() LedgerOptions {
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = DefaultLeaseTTL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}
