package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SlowQueryLog keeps the most recent queries that ran longer than a
// threshold and reports each one to a structured logger
type SlowQueryLog struct {
	threshold  time.Duration
	maxEntries int
	logger     *slog.Logger
	entries    []SlowQueryEntry
	mu         sync.RWMutex
}

// SlowQueryEntry describes one slow operation
type SlowQueryEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration_ns"`
	Operation    string        `json:"operation"` // "find", "count", "aggregate"
	Collection   string        `json:"collection"`
	Filter       string        `json:"filter,omitempty"` // JSON rendering of the filter descriptor
	Stage        string        `json:"stage,omitempty"`
	IndexUsed    string        `json:"index_used,omitempty"`
	DocsExamined int           `json:"docs_examined"`
	DocsReturned int           `json:"docs_returned"`
}

// SlowQueryLogConfig holds configuration for the slow query log
type SlowQueryLogConfig struct {
	Threshold  time.Duration // Minimum duration to record (default: 100ms)
	MaxEntries int           // Entries kept in memory (default: 1000)
	Logger     *slog.Logger  // Optional; entries are also logged at WARN
}

// DefaultSlowQueryLogConfig returns default configuration
func DefaultSlowQueryLogConfig() *SlowQueryLogConfig {
	return &SlowQueryLogConfig{
		Threshold:  100 * time.Millisecond,
		MaxEntries: 1000,
	}
}

// NewSlowQueryLog creates a new slow query log
func NewSlowQueryLog(config *SlowQueryLogConfig) *SlowQueryLog {
	if config == nil {
		config = DefaultSlowQueryLogConfig()
	}
	maxEntries := config.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &SlowQueryLog{
		threshold:  config.Threshold,
		maxEntries: maxEntries,
		logger:     config.Logger,
		entries:    make([]SlowQueryEntry, 0, maxEntries),
	}
}

// Record keeps the entry if it is at or above the threshold and reports
// whether it was kept
func (l *SlowQueryLog) Record(entry SlowQueryEntry) bool {
	if l == nil {
		return false
	}

	l.mu.Lock()
	if entry.Duration < l.threshold {
		l.mu.Unlock()
		return false
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if len(l.entries) >= l.maxEntries {
		// Drop the oldest entry (FIFO)
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)
	logger := l.logger
	l.mu.Unlock()

	if logger != nil {
		logger.LogAttrs(context.Background(), slog.LevelWarn, "slow query",
			slog.String("collection", entry.Collection),
			slog.String("op", entry.Operation),
			slog.Duration("duration", entry.Duration),
			slog.String("stage", entry.Stage),
			slog.String("index", entry.IndexUsed),
			slog.Int("examined", entry.DocsExamined),
			slog.Int("returned", entry.DocsReturned),
		)
	}
	return true
}

// Entries returns a copy of every kept entry, oldest first
func (l *SlowQueryLog) Entries() []SlowQueryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]SlowQueryEntry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// RecentEntries returns the n most recent entries
func (l *SlowQueryLog) RecentEntries(n int) []SlowQueryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.entries) {
		n = len(l.entries)
	}
	entries := make([]SlowQueryEntry, n)
	copy(entries, l.entries[len(l.entries)-n:])
	return entries
}

// EntriesByCollection returns the entries recorded for one collection
func (l *SlowQueryLog) EntriesByCollection(collection string) []SlowQueryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var filtered []SlowQueryEntry
	for _, entry := range l.entries {
		if entry.Collection == collection {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// TopSlowest returns the n slowest entries, slowest first
func (l *SlowQueryLog) TopSlowest(n int) []SlowQueryEntry {
	entries := l.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Duration > entries[j].Duration
	})
	if n < len(entries) {
		entries = entries[:n]
	}
	return entries
}

// Clear removes all entries
func (l *SlowQueryLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// SetThreshold updates the threshold duration
func (l *SlowQueryLog) SetThreshold(threshold time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.threshold = threshold
}

// Threshold returns the current threshold
func (l *SlowQueryLog) Threshold() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.threshold
}
