// Package errorlog retains a bounded history of classified provider errors
// together with running aggregate statistics.
package errorlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/logging"
)

// DefaultCapacity is the default ring buffer size
const DefaultCapacity = 1000

// Entry is one recorded error occurrence
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Severity  errors.Severity   `json:"severity"`
	Type      errors.ErrorType  `json:"type"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Provider  string            `json:"provider,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// Stats holds running aggregates over everything ever logged, not just the
// entries still held in the ring buffer.
type Stats struct {
	Total        uint64                      `json:"total"`
	BySeverity   map[errors.Severity]uint64  `json:"by_severity"`
	ByType       map[errors.ErrorType]uint64 `json:"by_type"`
	ByProvider   map[string]uint64           `json:"by_provider"`
	Retryable    uint64                      `json:"retryable"`
	NonRetryable uint64                      `json:"non_retryable"`
}

// Log keeps a bounded drop-oldest ring buffer of classified errors and
// maintains running aggregates. Safe for concurrent use. Logging never fails.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	start    int
	count    int
	capacity int

	total        uint64
	bySeverity   map[errors.Severity]uint64
	byType       map[errors.ErrorType]uint64
	byProvider   map[string]uint64
	retryable    uint64
	nonRetryable uint64

	logger *logging.Logger
}

// New creates an error log with the given ring buffer capacity.
// A capacity of zero or less falls back to DefaultCapacity.
func New(capacity int, logger *logging.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Log{
		entries:    make([]Entry, capacity),
		capacity:   capacity,
		bySeverity: make(map[errors.Severity]uint64),
		byType:     make(map[errors.ErrorType]uint64),
		byProvider: make(map[string]uint64),
		logger:     logger,
	}
}

// Record classifies and appends an error. The oldest entry is evicted when
// the buffer is full. Never returns an error and never panics.
func (l *Log) Record(err error, context map[string]string) {
	defer func() {
		// Recording an error must never take the caller down with it.
		_ = recover()
	}()

	if err == nil {
		return
	}

	classified := errors.Classify(err)

	entry := Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Severity:  classified.Severity,
		Type:      classified.Type,
		Message:   classified.Message,
		Retryable: classified.Retryable,
		Provider:  classified.Provider,
		Context:   context,
	}

	l.mu.Lock()
	l.append(entry)
	l.total++
	l.bySeverity[entry.Severity]++
	l.byType[entry.Type]++
	if entry.Provider != "" {
		l.byProvider[entry.Provider]++
	}
	if entry.Retryable {
		l.retryable++
	} else {
		l.nonRetryable++
	}
	l.mu.Unlock()

	l.logger.WithFields(map[string]interface{}{
		"error_id":   entry.ID,
		"error_type": string(entry.Type),
		"severity":   string(entry.Severity),
		"retryable":  entry.Retryable,
		"provider":   entry.Provider,
	}).Warn(entry.Message)
}

// append adds an entry to the ring, evicting the oldest when full.
// Caller must hold the mutex.
func (l *Log) append(entry Entry) {
	if l.count < l.capacity {
		l.entries[(l.start+l.count)%l.capacity] = entry
		l.count++
		return
	}
	l.entries[l.start] = entry
	l.start = (l.start + 1) % l.capacity
}

// Recent returns up to n entries, newest first
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.count {
		n = l.count
	}

	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.start + l.count - 1 - i + l.capacity) % l.capacity
		out = append(out, l.entries[idx])
	}
	return out
}

// Len returns the number of entries currently retained
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Stats returns a snapshot of the running aggregates
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		Total:        l.total,
		BySeverity:   make(map[errors.Severity]uint64, len(l.bySeverity)),
		ByType:       make(map[errors.ErrorType]uint64, len(l.byType)),
		ByProvider:   make(map[string]uint64, len(l.byProvider)),
		Retryable:    l.retryable,
		NonRetryable: l.nonRetryable,
	}
	for k, v := range l.bySeverity {
		stats.BySeverity[k] = v
	}
	for k, v := range l.byType {
		stats.ByType[k] = v
	}
	for k, v := range l.byProvider {
		stats.ByProvider[k] = v
	}
	return stats
}
