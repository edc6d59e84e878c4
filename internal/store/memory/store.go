// Package memory implementa repository.Store en memoria.
//
// Pensado para desarrollo y tests. Las transacciones (InTx) toman el lock
// global, trabajan sobre una copia del estado y la publican sólo si fn no
// falla: rollback = descartar la copia.
package memory

import (
	"context"
	"sync"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

type database struct {
	mu sync.Mutex
	st *state
}

// Store implementa repository.Store. Dentro de InTx, tx apunta a la copia de trabajo.
type Store struct {
	db *database
	tx *state
}

var _ repository.Store = (*Store)(nil)

// New crea un store vacío.
func New() *Store {
	return &Store{db: &database{st: newState()}}
}

// do ejecuta fn sobre el estado correcto: la copia de la tx o el estado
// global bajo lock.
func (s *Store) do(fn func(st *state) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return fn(s.db.st)
}

func (s *Store) Authorizations() repository.AuthorizationRepository { return authRepo{s} }
func (s *Store) Audit() repository.AuditRepository                  { return auditRepo{s} }
func (s *Store) Webhooks() repository.WebhookRepository             { return webhookRepo{s} }
func (s *Store) InboundEvents() repository.InboundEventRepository   { return inboundRepo{s} }
func (s *Store) TrustedKeys() repository.TrustedKeyRepository       { return keyRepo{s} }

// InTx ejecuta fn de forma atómica. Las tx anidadas se aplanan en la externa.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	work := s.db.st.clone()
	if err := fn(&Store{db: s.db, tx: work}); err != nil {
		return err
	}
	s.db.st = work
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }
