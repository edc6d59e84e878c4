package memory

import (
	"context"
	"sort"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
)

type authRepo struct{ s *Store }

func (r authRepo) Create(_ context.Context, a *repository.Authorization) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.auths[a.ID]; ok {
			return repository.ErrConflict
		}
		if a.ExternalRef != "" {
			for _, x := range st.auths {
				if x.Protocol == a.Protocol && x.ExternalRef == a.ExternalRef {
					return repository.ErrConflict
				}
			}
		}
		a.Version = 1
		st.auths[a.ID] = a.Clone()
		return nil
	})
}

func (r authRepo) Get(_ context.Context, tenantID, id string) (*repository.Authorization, error) {
	var out *repository.Authorization
	err := r.s.do(func(st *state) error {
		a, ok := st.auths[id]
		if !ok || a.TenantID != tenantID {
			return repository.ErrNotFound
		}
		out = a.Clone()
		return nil
	})
	return out, err
}

func (r authRepo) GetByExternalRef(_ context.Context, protocol types.Protocol, ref string) (*repository.Authorization, error) {
	var out *repository.Authorization
	err := r.s.do(func(st *state) error {
		for _, a := range st.auths {
			if a.Protocol == protocol && a.ExternalRef == ref && ref != "" {
				out = a.Clone()
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r authRepo) Update(_ context.Context, a *repository.Authorization, expectedVersion int64) error {
	return r.s.do(func(st *state) error {
		cur, ok := st.auths[a.ID]
		if !ok || cur.TenantID != a.TenantID {
			return repository.ErrNotFound
		}
		if cur.Version != expectedVersion {
			return repository.ErrPreconditionFailed
		}
		next := cur.Clone()
		next.Status = a.Status
		next.VerificationStatus = a.VerificationStatus
		next.VerificationReason = a.VerificationReason
		next.VerifiedAt = a.VerifiedAt
		next.UpdatedAt = a.UpdatedAt
		next.Version = expectedVersion + 1
		st.auths[a.ID] = next.Clone()
		a.Version = next.Version
		return nil
	})
}

func (r authRepo) Search(_ context.Context, f repository.SearchFilter) (*repository.SearchResult, error) {
	res := &repository.SearchResult{}
	err := r.s.do(func(st *state) error {
		matched := make([]*repository.Authorization, 0)
		for _, a := range st.auths {
			if matches(a, f) {
				matched = append(matched, a)
			}
		}
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].ID > matched[j].ID
			}
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
		res.Total = len(matched)
		if f.Offset >= len(matched) {
			return nil
		}
		end := len(matched)
		if f.Limit > 0 && f.Offset+f.Limit < end {
			end = f.Offset + f.Limit
		}
		for _, a := range matched[f.Offset:end] {
			res.Items = append(res.Items, a.Clone())
		}
		return nil
	})
	return res, err
}

func matches(a *repository.Authorization, f repository.SearchFilter) bool {
	if a.TenantID != f.TenantID {
		return false
	}
	if f.Protocol != "" && a.Protocol != f.Protocol {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.MinAmount != nil && (a.AmountLimit == nil || a.AmountLimit.LessThan(*f.MinAmount)) {
		return false
	}
	if f.MaxAmount != nil && (a.AmountLimit == nil || a.AmountLimit.GreaterThan(*f.MaxAmount)) {
		return false
	}
	if f.CreatedFrom != nil && a.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && a.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return true
}
