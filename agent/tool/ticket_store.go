package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

// MemTicketStore keeps tickets in process. The Postgres-backed store lives
// in agent/memory.
type MemTicketStore struct {
	mu      sync.Mutex
	tickets map[string]Ticket
}

var _ TicketStore = (*MemTicketStore)(nil)

func NewMemTicketStore() *MemTicketStore {
	return &MemTicketStore{tickets: make(map[string]Ticket)}
}

func (s *MemTicketStore) Create(ctx context.Context, t Ticket) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = "TCK-" + uuid.NewString()[:8]
	}
	s.tickets[t.ID] = t
	return t.ID, nil
}

func (s *MemTicketStore) Get(ctx context.Context, id string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: ticket %s not found", contractx.ErrValidation, id)
	}
	out := t
	return &out, nil
}
