package memory

import (
	"context"
	"sort"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

type keyRepo struct{ s *Store }

func (r keyRepo) ListByIssuer(_ context.Context, issuer string) ([]*repository.TrustedKey, error) {
	var out []*repository.TrustedKey
	err := r.s.do(func(st *state) error {
		for _, k := range st.keys {
			if k.Issuer == issuer {
				c := *k
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (r keyRepo) Upsert(_ context.Context, k *repository.TrustedKey) error {
	return r.s.do(func(st *state) error {
		c := *k
		st.keys[k.Issuer+"|"+k.KID] = &c
		return nil
	})
}
