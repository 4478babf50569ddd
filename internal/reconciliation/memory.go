package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryJournal struct {
	mu     sync.Mutex
	events []Event
}

// NewInMemory returns a process-local journal for development and tests.
func NewInMemory() Journal {
	return &memoryJournal{}
}

func (j *memoryJournal) Append(_ context.Context, e Event) (Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.ID = uuid.NewString()
	e.Status = StatusOpen
	e.CreatedAt = time.Now().UTC()
	e.ResolvedAt = nil
	j.events = append(j.events, e)
	return e, nil
}

func (j *memoryJournal) List(_ context.Context, status Status) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, 0, len(j.events))
	for _, e := range j.events {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *memoryJournal) Resolve(_ context.Context, id, note string) (Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.events {
		if j.events[i].ID != id {
			continue
		}
		if j.events[i].Status == StatusResolved {
			return j.events[i], ErrAlreadyResolved
		}
		now := time.Now().UTC()
		j.events[i].Status = StatusResolved
		j.events[i].Note = note
		j.events[i].ResolvedAt = &now
		return j.events[i], nil
	}
	return Event{}, ErrEventNotFound
}
