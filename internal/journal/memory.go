package journal

import (
	"context"
	"slices"
	"strings"
	"sync"
)

var _ Journal = (*Memory)(nil)

// Memory is an in-process [Journal] bounded to a fixed number of entries.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
}

// NewMemory returns a Memory journal keeping at most max entries. max <= 0
// keeps everything.
func NewMemory(max int) *Memory {
	return &Memory{max: max}
}

// Record implements [Journal].
func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if m.max > 0 && len(m.entries) > m.max {
		m.entries = slices.Delete(m.entries, 0, len(m.entries)-m.max)
	}
	return nil
}

// Recent implements [Journal].
func (m *Memory) Recent(_ context.Context, q Query) ([]Entry, error) {
	return m.filter(q, func(Entry) bool { return true }), nil
}

// Search implements [Journal] with a case-insensitive substring match.
func (m *Memory) Search(_ context.Context, text string, q Query) ([]Entry, error) {
	needle := strings.ToLower(text)
	return m.filter(q, func(e Entry) bool {
		return strings.Contains(strings.ToLower(e.Text), needle)
	}), nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) filter(q Query, match func(Entry) bool) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Entry{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if q.ChannelID != "" && e.ChannelID != q.ChannelID {
			continue
		}
		if q.Cause != "" && e.Cause != q.Cause {
			continue
		}
		if !q.After.IsZero() && !e.CompletedAt.After(q.After) {
			continue
		}
		if !match(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}
