package scanner

import (
	"sort"
	"sync"
	"time"

	"kama-scannerv1/internal/model"
)

// Latest keeps the evaluations of the most recent completed cycle and the
// last published signal per symbol. Safe for concurrent use.
type Latest struct {
	mu        sync.RWMutex
	cycleAt   time.Time
	evals     map[string]model.Signal
	published map[string]publishedKey
}

type publishedKey struct {
	TS     time.Time
	Action model.Action
}

// NewLatest creates an empty store.
func NewLatest() *Latest {
	return &Latest{
		evals:     make(map[string]model.Signal),
		published: make(map[string]publishedKey),
	}
}

// Commit replaces the stored cycle with evals.
func (l *Latest) Commit(at time.Time, evals []model.Signal) {
	m := make(map[string]model.Signal, len(evals))
	for _, s := range evals {
		m[s.Symbol] = s
	}
	l.mu.Lock()
	l.cycleAt = at
	l.evals = m
	l.mu.Unlock()
}

// CycleAt returns the start time of the last committed cycle (zero if none).
func (l *Latest) CycleAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cycleAt
}

// Signals returns the BUY/SELL evaluations of the last cycle, by symbol.
func (l *Latest) Signals() []model.Signal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Signal, 0, len(l.evals))
	for _, s := range l.evals {
		if s.Actionable() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Evaluations returns every evaluation of the last cycle, by symbol.
func (l *Latest) Evaluations() []model.Signal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Signal, 0, len(l.evals))
	for _, s := range l.evals {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Evaluation returns the last cycle's evaluation of symbol.
func (l *Latest) Evaluation(symbol string) (model.Signal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.evals[symbol]
	return s, ok
}

// markPublished records sig and reports false if the same action on the
// same bar was already published for its symbol.
func (l *Latest) markPublished(sig model.Signal) bool {
	key := publishedKey{TS: sig.TS, Action: sig.Action}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.published[sig.Symbol]; ok && prev.TS.Equal(key.TS) && prev.Action == key.Action {
		return false
	}
	l.published[sig.Symbol] = key
	return true
}
