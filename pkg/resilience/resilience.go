package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"schoolportal-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig tunes a Breaker
type BreakerConfig struct {
	// MaxAttempts bounds tries per Execute, including the first
	MaxAttempts int
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial call
	Cooldown time.Duration
	// Backoff is the base delay between attempts; it grows linearly
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultBreakerConfig is tuned for short database writes
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxAttempts:      3,
		FailureThreshold: 5,
		Cooldown:         10 * time.Second,
		Backoff:          100 * time.Millisecond,
		MaxBackoff:       time.Second,
	}
}

// Breaker wraps an unreliable dependency with retry and a circuit breaker
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	now                 func() time.Time
}

// NewBreaker creates a breaker; name identifies it in logs
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: CircuitBreakerClosed,
		now:   time.Now,
	}
}

// Execute runs fn with retry, honoring ctx and the circuit state
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if !b.allow() {
			return fmt.Errorf("%s %s: %w", b.name, operation, ErrCircuitOpen)
		}

		err := fn(ctx)
		if err == nil {
			b.onSuccess(operation)
			return nil
		}
		lastErr = err
		b.onFailure(operation, err)

		if attempt == b.cfg.MaxAttempts {
			break
		}

		backoff := time.Duration(attempt) * b.cfg.Backoff
		if b.cfg.MaxBackoff > 0 && backoff > b.cfg.MaxBackoff {
			backoff = b.cfg.MaxBackoff
		}
		logger.Warn("Operation failed, backing off",
			zap.String("breaker", b.name),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.String("error_class", classifyError(err)),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s %s: %w", b.name, operation, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w", b.name, operation, b.cfg.MaxAttempts, lastErr)
}

// State returns the current circuit breaker state
func (b *Breaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitBreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = CircuitBreakerHalfOpen
		logger.Warn("Circuit breaker HALF-OPEN - allowing trial request", zap.String("breaker", b.name))
		return true
	default:
		return true
	}
}

func (b *Breaker) onSuccess(operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != CircuitBreakerClosed {
		logger.Info("Circuit breaker CLOSED - recovered",
			zap.String("breaker", b.name),
			zap.String("operation", operation),
		)
	}
	b.state = CircuitBreakerClosed
	b.consecutiveFailures = 0
}

func (b *Breaker) onFailure(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		if b.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker OPEN - too many consecutive failures",
				zap.String("breaker", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.Error(err),
			)
		}
		b.state = CircuitBreakerOpen
		b.openedAt = b.now()
	}
}

// classifyError classifies errors for log fields
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	default:
		return "unknown"
	}
}
