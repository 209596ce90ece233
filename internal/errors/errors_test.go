package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetryConfig keeps backoff delays out of test runtime.
func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestTransientClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205}, true},
		{"deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"server gone away", &mysql.MySQLError{Number: 2006}, true},
		{"too many connections", &mysql.MySQLError{Number: 1040}, true},
		{"duplicate entry", &mysql.MySQLError{Number: 1062}, false},
		{"access denied", &mysql.MySQLError{Number: 1045}, false},
		{"invalid connection", mysql.ErrInvalidConn, true},
		{"connection done", sql.ErrConnDone, true},
		{"network timeout", &net.DNSError{IsTimeout: true}, true},
		{"dial failure", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"write failure", &net.OpError{Op: "write", Err: errors.New("broken pipe")}, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"plain error", errors.New("no such category"), false},
		{"wrapped transient", fmt.Errorf("upload failed: %w", &mysql.MySQLError{Number: 2006}), true},
		{"wrapped permanent", fmt.Errorf("insert failed: %w", &mysql.MySQLError{Number: 1062}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, Transient(tt.err))
		})
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	h := NewRetryHandler(fastRetryConfig(3))

	attempts := 0
	err := h.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return &mysql.MySQLError{Number: 2006, Message: "server has gone away"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	h := NewRetryHandler(fastRetryConfig(5))
	permanent := errors.New("artifact checksum mismatch")

	attempts := 0
	err := h.Retry(context.Background(), func() error {
		attempts++
		return permanent
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, permanent, err)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	h := NewRetryHandler(fastRetryConfig(3))
	transient := &net.OpError{Op: "write", Err: errors.New("connection reset")}

	attempts := 0
	err := h.Retry(context.Background(), func() error {
		attempts++
		return transient
	})

	assert.Equal(t, 3, attempts)
	// The last error comes back unchanged, not rewrapped.
	assert.Equal(t, error(transient), err)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	h := NewRetryHandler(RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   time.Hour, // the cancel must cut the backoff short
		MaxDelay:    time.Hour,
		Multiplier:  2.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := h.Retry(ctx, func() error {
		attempts++
		cancel()
		return &mysql.MySQLError{Number: 2006}
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryCanceledBeforeFirstAttempt(t *testing.T) {
	h := NewRetryHandler(fastRetryConfig(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := h.Retry(ctx, func() error {
		attempts++
		return nil
	})

	assert.Equal(t, 0, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	h := NewRetryHandler(RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    25 * time.Millisecond,
		Multiplier:  2.0,
	})

	assert.Equal(t, 10*time.Millisecond, h.delay(1))
	assert.Equal(t, 20*time.Millisecond, h.delay(2))
	// 40ms uncapped, held at the configured ceiling.
	assert.Equal(t, 25*time.Millisecond, h.delay(3))
}

func TestShutdownRunsFuncsInReverseOrder(t *testing.T) {
	h := NewGracefulShutdownHandler()

	var order []string
	h.RegisterShutdownFunc(func() error {
		order = append(order, "first")
		return nil
	})
	h.RegisterShutdownFunc(func() error {
		order = append(order, "second")
		return errors.New("cleanup hiccup") // must not stop the remaining funcs
	})

	h.Start()
	h.signals <- syscall.SIGTERM
	h.WaitForShutdown()

	assert.Equal(t, []string{"second", "first"}, order)
}

func TestStopDetachesWithoutRunningFuncs(t *testing.T) {
	h := NewGracefulShutdownHandler()

	ran := false
	h.RegisterShutdownFunc(func() error {
		ran = true
		return nil
	})

	h.Start()
	h.Stop()

	select {
	case <-h.done:
		t.Fatal("shutdown ran without a signal")
	case <-time.After(10 * time.Millisecond):
	}
	assert.False(t, ran)
}
