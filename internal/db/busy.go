package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrBusy wraps the last SQLITE_BUSY error once every retry has failed.
var ErrBusy = errors.New("database busy: retries exhausted")

// IsBusy reports whether err means the SQLite database was locked by another
// connection. Driver errors are matched by result code; wrapped or
// re-formatted errors by message.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

var busyRetries atomic.Int64

// BusyRetries is the number of busy back-offs since the last ResetBusyRetries.
func BusyRetries() int64 { return busyRetries.Load() }

// ResetBusyRetries zeroes the counter; a batch run calls it when it starts.
func ResetBusyRetries() { busyRetries.Store(0) }

// backoff retries on SQLITE_BUSY with a doubling delay.
type backoff struct {
	attempts int // total calls, first one included
	initial  time.Duration
	max      time.Duration
}

// writeBackoff covers batch workers and HTTP handlers sharing one SQLite file.
var writeBackoff = backoff{attempts: 8, initial: 100 * time.Millisecond, max: 5 * time.Second}

// RetryOnBusy runs fn, retrying while it fails with a busy error. Other errors
// and context cancellation are returned as they are.
func RetryOnBusy(ctx context.Context, fn func() error) error {
	return writeBackoff.retry(ctx, fn)
}

func (b backoff) retry(ctx context.Context, fn func() error) error {
	delay := b.initial
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !IsBusy(err) {
			return err
		}
		if attempt >= b.attempts {
			return fmt.Errorf("%w: %w", ErrBusy, err)
		}
		busyRetries.Add(1)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(2*delay, b.max)
	}
}
