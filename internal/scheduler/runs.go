package scheduler

import (
	"context"
	"sync"
	"time"

	"finledger/internal/core"
)

// RunStore remembers when each schedule last fired, so a restarted process
// neither repeats nor skips a period. *storage.SQLiteRepository satisfies it.
type RunStore interface {
	LastRun(ctx context.Context, user string, period core.PeriodKind) (time.Time, bool, error)
	SaveRun(ctx context.Context, user string, period core.PeriodKind, at time.Time) error
}

// MemoryRuns keeps markers for the life of the process.
type MemoryRuns struct {
	mu   sync.Mutex
	runs map[key]time.Time
}

func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{runs: make(map[key]time.Time)}
}

func (m *MemoryRuns) LastRun(_ context.Context, user string, period core.PeriodKind) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.runs[key{user, period}]
	return at, ok, nil
}

func (m *MemoryRuns) SaveRun(_ context.Context, user string, period core.PeriodKind, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[key{user, period}] = at
	return nil
}
