package store

import (
	"context"
	"sync"
	"time"
)

// ReportKey identifies a report for cooldown purposes.
type ReportKey struct {
	Reporter string
	Reported string
	Room     string
}

// Report is a moderation report that reached the backend.
type Report struct {
	ReportKey
	IssuedAt time.Time
}

// ReportLedger remembers when reports were last issued so repeats inside the
// cooldown window can be answered locally.
type ReportLedger interface {
	// LastReport returns the most recent successful report for key.
	LastReport(ctx context.Context, key ReportKey) (time.Time, bool, error)

	// RecordReport stores a successful report.
	RecordReport(ctx context.Context, report Report) error

	// PruneBefore forgets reports issued before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryLedger is a ReportLedger that lives for the process lifetime.
type MemoryLedger struct {
	mu      sync.Mutex
	reports map[ReportKey]time.Time
}

// NewMemoryLedger constructs an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{reports: make(map[ReportKey]time.Time)}
}

func (l *MemoryLedger) LastReport(_ context.Context, key ReportKey) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.reports[key]
	return at, ok, nil
}

func (l *MemoryLedger) RecordReport(_ context.Context, report Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.reports[report.ReportKey]; !ok || report.IssuedAt.After(prev) {
		l.reports[report.ReportKey] = report.IssuedAt
	}
	return nil
}

func (l *MemoryLedger) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, at := range l.reports {
		if at.Before(cutoff) {
			delete(l.reports, key)
			removed++
		}
	}
	return removed, nil
}
