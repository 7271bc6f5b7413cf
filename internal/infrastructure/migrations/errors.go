package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// MigrationError wraps a failure with the operation and version it occurred at.
type MigrationError struct {
	Operation string
	Version   int64
	Cause     error
	Timestamp time.Time
	Context   map[string]any
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed at version %d: %v", e.Operation, e.Version, e.Cause)
}

func (e *MigrationError) Unwrap() error {
	return e.Cause
}

// ErrorHandler classifies migration failures and retries the retryable ones.
type ErrorHandler struct {
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewErrorHandler builds an error handler with the given retry budget.
func NewErrorHandler(logger *slog.Logger, maxRetries int, retryDelay time.Duration) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		logger:     logger,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// HandleError wraps err as a MigrationError and logs it.
func (eh *ErrorHandler) HandleError(ctx context.Context, err error, operation string, version int64) error {
	migrationErr := &MigrationError{
		Operation: operation,
		Version:   version,
		Cause:     err,
		Timestamp: time.Now(),
		Context: map[string]any{
			"operation": operation,
			"version":   version,
			"timestamp": time.Now(),
		},
	}

	eh.logger.Error("migration error",
		"operation", operation,
		"version", version,
		"error", err,
		"timestamp", migrationErr.Timestamp)

	if eh.isRetryable(err) {
		eh.logger.Info("error is retryable, attempting recovery",
			"operation", operation,
			"version", version)
	}

	return migrationErr
}

// ExecuteWithRetry runs operation, retrying up to maxRetries times while the
// error it returns is classified as retryable.
func (eh *ErrorHandler) ExecuteWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= eh.maxRetries; attempt++ {
		if attempt > 0 {
			eh.logger.Info("retrying migration operation",
				"attempt", attempt,
				"max_retries", eh.maxRetries)

			select {
			case <-time.After(eh.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := operation(); err != nil {
			lastErr = err

			if !eh.isRetryable(err) {
				break
			}

			eh.logger.Warn("migration operation failed, retrying",
				"attempt", attempt+1,
				"error", err)
			continue
		}

		if attempt > 0 {
			eh.logger.Info("migration operation succeeded after retry",
				"attempts", attempt+1)
		}
		return nil
	}

	eh.logger.Error("migration operation failed after all retries",
		"max_retries", eh.maxRetries,
		"last_error", lastErr)

	return lastErr
}

// isRetryable reports whether err looks like a transient connection, lock,
// or resource-exhaustion failure worth retrying.
func (eh *ErrorHandler) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		// Network errors
		"connection refused",
		"connection reset",
		"connection lost",
		"timeout",
		"deadline exceeded",

		// Database lock errors
		"lock wait timeout",
		"deadlock",
		"serialization failure",
		"could not serialize access",

		// Temporary errors
		"temporary failure",
		"service unavailable",
		"server closed the connection unexpectedly",

		// Resource errors
		"too many connections",
		"out of memory",
		"disk full",

		// PostgreSQL specific
		"pq: ",
		"sqlstate",
		"current transaction is aborted",

		// SQLite specific
		"database is locked",
		"database busy",
		"interrupted",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// RecoveryHandler attempts to recover a manager's connection after an
// operation fails, then retries the operation once.
type RecoveryHandler struct {
	logger  *slog.Logger
	manager *MigrationManager
}

// NewRecoveryHandler builds a recovery handler bound to manager.
func NewRecoveryHandler(logger *slog.Logger, manager *MigrationManager) *RecoveryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryHandler{
		logger:  logger,
		manager: manager,
	}
}

// ExecuteWithRecovery runs operation once, and on failure attempts recovery
// before retrying it a single additional time.
func (rh *RecoveryHandler) ExecuteWithRecovery(ctx context.Context, operation func() error) error {
	if err := operation(); err != nil {
		rh.logger.Warn("operation failed, attempting recovery", "error", err)

		if recoveryErr := rh.attemptRecovery(ctx, err); recoveryErr != nil {
			rh.logger.Error("recovery failed", "original_error", err, "recovery_error", recoveryErr)
			return fmt.Errorf("operation failed and recovery unsuccessful: %w", recoveryErr)
		}

		rh.logger.Info("recovery successful, retrying operation")
		if err := operation(); err != nil {
			rh.logger.Error("operation failed again after recovery", "error", err)
			return err
		}
	}

	rh.logger.Info("operation completed successfully")
	return nil
}

// attemptRecovery dispatches to a recovery strategy based on err's message.
func (rh *RecoveryHandler) attemptRecovery(ctx context.Context, err error) error {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout") {
		return rh.recoverConnection(ctx)
	}

	if strings.Contains(errStr, "lock") || strings.Contains(errStr, "deadlock") {
		return rh.recoverLock(ctx)
	}

	if strings.Contains(errStr, "disk") || strings.Contains(errStr, "space") {
		return rh.recoverDiskSpace(ctx)
	}

	return rh.recoverGeneric(ctx)
}

// recoverConnection closes and reopens the manager's database connection.
func (rh *RecoveryHandler) recoverConnection(ctx context.Context) error {
	rh.logger.Info("attempting connection recovery")

	if err := rh.manager.Disconnect(ctx); err != nil {
		rh.logger.Warn("failed to disconnect during recovery", "error", err)
	}

	time.Sleep(2 * time.Second)

	if err := rh.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}

	rh.logger.Info("connection recovery successful")
	return nil
}

// recoverLock waits out a lock contention window.
func (rh *RecoveryHandler) recoverLock(ctx context.Context) error {
	rh.logger.Info("attempting lock recovery")

	time.Sleep(5 * time.Second)

	rh.logger.Info("lock recovery completed")
	return nil
}

// recoverDiskSpace cannot self-heal; it surfaces the condition for an operator.
func (rh *RecoveryHandler) recoverDiskSpace(ctx context.Context) error {
	rh.logger.Warn("disk space issue detected - manual intervention required")
	return fmt.Errorf("disk space issue requires manual intervention")
}

// recoverGeneric falls back to a connection reset for unclassified errors.
func (rh *RecoveryHandler) recoverGeneric(ctx context.Context) error {
	rh.logger.Info("attempting generic recovery")
	return rh.recoverConnection(ctx)
}

// CircuitBreaker trips after threshold consecutive failures and refuses
// further calls until resetTimeout has elapsed.
type CircuitBreaker struct {
	state        string // "closed", "open", "half-open"
	failureCount int
	lastFailure  time.Time
	threshold    int
	timeout      time.Duration
	resetTimeout time.Duration
	logger       *slog.Logger
}

// NewCircuitBreaker builds a closed circuit breaker with the given failure threshold.
func NewCircuitBreaker(threshold int, timeout, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:        "closed",
		threshold:    threshold,
		timeout:      timeout,
		resetTimeout: resetTimeout,
		logger:       slog.Default(),
	}
}

// Call runs operation through the breaker, tripping or resetting state as needed.
func (cb *CircuitBreaker) Call(operation func() error) error {
	if cb.state == "open" {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = "half-open"
			cb.logger.Info("circuit breaker moving to half-open state")
		} else {
			return fmt.Errorf("circuit breaker is open")
		}
	}

	err := operation()

	if err != nil {
		cb.failureCount++
		cb.lastFailure = time.Now()

		if cb.failureCount >= cb.threshold {
			cb.state = "open"
			cb.logger.Warn("circuit breaker opened", "failures", cb.failureCount)
		}
		return err
	}

	if cb.state == "half-open" {
		cb.state = "closed"
		cb.failureCount = 0
		cb.logger.Info("circuit breaker closed after successful operation")
	} else {
		cb.failureCount = 0
	}

	return nil
}

// GetState returns the breaker's current state.
func (cb *CircuitBreaker) GetState() string {
	return cb.state
}

// Reset forces the breaker back to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.state = "closed"
	cb.failureCount = 0
	cb.logger.Info("circuit breaker manually reset")
}
