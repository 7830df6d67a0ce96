package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// progressLogInterval: log "N/M files" every this many files.
	progressLogInterval = 50
	// fileLogInterval: at most one per-file log line every this long.
	fileLogInterval = 5 * time.Second
)

// throttledLog writes at most one line per interval across all workers so
// per-file logging does not flood large runs.
type throttledLog struct {
	l        *log.Logger
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func newThrottledLog(l *log.Logger, interval time.Duration) *throttledLog {
	return &throttledLog{l: l, interval: interval}
}

func (t *throttledLog) Debugf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Since(t.last) < t.interval {
		return
	}
	t.last = time.Now()
	t.l.Debugf(format, args...)
}

// progress logs "N/M files (X%)" and an ETA every progressLogInterval files
// and when done. Callers serialize step.
type progress struct {
	l     *log.Logger
	total int64
	start time.Time
	n     int64
}

func newProgress(l *log.Logger, total int64, start time.Time) *progress {
	return &progress{l: l, total: total, start: start}
}

func (p *progress) step() {
	p.n++
	if msg, ok := progressLine(p.n, p.total, time.Since(p.start), time.Now()); ok {
		p.l.Debug(msg)
	}
}

// progressLine formats the progress message for n of total done after
// elapsed. ok is false when nothing should be logged for this n.
// Rate = n/elapsed; remaining = (total-n)/rate; ETA = now+remaining.
func progressLine(n, total int64, elapsed time.Duration, now time.Time) (string, bool) {
	if total <= 0 {
		return "", false
	}
	if n%progressLogInterval != 0 && n != total {
		return "", false
	}
	if n > total {
		n = total
	}
	pct := float64(100) * float64(n) / float64(total)
	msg := fmt.Sprintf("progress: %d/%d files (%.1f%%)", n, total, pct)
	if n >= total {
		return msg + fmt.Sprintf(" | done in %s", formatDuration(elapsed)), true
	}
	if n <= 0 || elapsed <= time.Second {
		return msg, true
	}
	rate := float64(n) / elapsed.Seconds()
	remaining := time.Duration(float64(total-n) / rate * float64(time.Second))
	if remaining < 0 {
		remaining = 0
	}
	msg += fmt.Sprintf(" | elapsed %s | remaining ~%s | ETA ~%s",
		formatDuration(elapsed), formatDuration(remaining), formatETA(now.Add(remaining), now))
	return msg, true
}

// formatETA returns t as "15:04:05" when it falls on now's day, or with the
// date prepended otherwise.
func formatETA(t, now time.Time) string {
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04:05")
	}
	return t.Format("Jan _2 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}
