// Package queue persists form submissions that could not be sent
// while offline, until a background sync delivers them.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("pending form not found")

// Form is a deferred form submission.
type Form struct {
	ID          string
	Tag         string
	URL         string
	ContentType string
	Body        []byte
	CreatedAt   time.Time
	Attempts    int
}

// Queue is a durable FIFO of pending forms.
//
// Implementations must be thread-safe.
type Queue interface {
	// Enqueue appends the form and returns it with ID and CreatedAt set.
	Enqueue(ctx context.Context, f Form) (Form, error)
	// Pending returns the forms queued for tag, oldest first.
	Pending(ctx context.Context, tag string) ([]Form, error)
	// Remove deletes a delivered form.
	Remove(ctx context.Context, id string) error
	// MarkAttempt records a failed delivery attempt.
	MarkAttempt(ctx context.Context, id string) error
	Close() error
}

func prepare(f Form) Form {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	return f
}

// MemQueue keeps pending forms in memory.
type MemQueue struct {
	mutex *sync.Mutex
	forms *[]Form
}

func NewMemQueue() MemQueue {
	return MemQueue{
		mutex: &sync.Mutex{},
		forms: &[]Form{},
	}
}

func (m MemQueue) Enqueue(ctx context.Context, f Form) (Form, error) {
	f = prepare(f)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	*m.forms = append(*m.forms, cloneForm(f))
	return f, nil
}

func (m MemQueue) Pending(ctx context.Context, tag string) ([]Form, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	pending := make([]Form, 0)
	for _, f := range *m.forms {
		if f.Tag == tag {
			pending = append(pending, cloneForm(f))
		}
	}
	return pending, nil
}

func (m MemQueue) Remove(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i, f := range *m.forms {
		if f.ID == id {
			*m.forms = append((*m.forms)[:i], (*m.forms)[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m MemQueue) MarkAttempt(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i := range *m.forms {
		if (*m.forms)[i].ID == id {
			(*m.forms)[i].Attempts++
			return nil
		}
	}
	return ErrNotFound
}

func (m MemQueue) Close() error {
	return nil
}

func cloneForm(f Form) Form {
	body := make([]byte, len(f.Body))
	copy(body, f.Body)
	f.Body = body
	return f
}
