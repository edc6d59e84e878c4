package memory

import (
	"context"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

type inboundRepo struct{ s *Store }

func (r inboundRepo) MarkProcessed(_ context.Context, e *repository.InboundEvent) (bool, error) {
	inserted := false
	err := r.s.do(func(st *state) error {
		if _, ok := st.inbound[e.EventID]; ok {
			return nil
		}
		c := *e
		st.inbound[e.EventID] = &c
		inserted = true
		return nil
	})
	return inserted, err
}

func (r inboundRepo) Get(_ context.Context, eventID string) (*repository.InboundEvent, error) {
	var out *repository.InboundEvent
	err := r.s.do(func(st *state) error {
		e, ok := st.inbound[eventID]
		if !ok {
			return repository.ErrNotFound
		}
		c := *e
		out = &c
		return nil
	})
	return out, err
}
