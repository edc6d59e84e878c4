package memory

import (
	"context"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

type auditRepo struct{ s *Store }

func (r auditRepo) Append(_ context.Context, e *repository.AuditEvent) error {
	return r.s.do(func(st *state) error {
		c := *e
		st.audit = append(st.audit, &c)
		return nil
	})
}

func (r auditRepo) ListByAuthorization(_ context.Context, tenantID, authorizationID string) ([]*repository.AuditEvent, error) {
	var out []*repository.AuditEvent
	err := r.s.do(func(st *state) error {
		for _, e := range st.audit {
			if e.TenantID == tenantID && e.AuthorizationID == authorizationID {
				c := *e
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}
