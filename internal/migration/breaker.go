package migration

import (
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker rejects a batch write
// because the target has failed too many times in a row.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes the batch-write circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive batch-write failures
	// required to trip the circuit. Default: 3.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before allowing a
	// probe batch through. Default: 30 seconds.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes in
	// half-open state needed to close the circuit. Default: 2.
	HalfOpenMaxSuccesses uint32
}

func (c *BreakerConfig) normalize() {
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HalfOpenMaxSuccesses == 0 {
		c.HalfOpenMaxSuccesses = 2
	}
}

// batchBreaker wraps gobreaker around the per-batch upsert so a dying
// target stops being hammered after repeated failures. Rejected batches
// are still accounted as errors by the engine; the breaker only changes
// how fast they fail.
type batchBreaker struct {
	breaker *gobreaker.CircuitBreaker
}

func newBatchBreaker(config BreakerConfig) *batchBreaker {
	config.normalize()

	settings := gobreaker.Settings{
		Name:        "membridge-batch-writes",
		MaxRequests: config.HalfOpenMaxSuccesses,
		Interval:    0, // never clear counts periodically
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("migration: batch-write breaker %s -> %s", from, to)
		},
	}

	return &batchBreaker{breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. When the circuit is open it
// returns ErrCircuitOpen without invoking fn.
func (b *batchBreaker) Execute(fn func() error) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the breaker state as "closed", "open", or "half-open".
func (b *batchBreaker) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
