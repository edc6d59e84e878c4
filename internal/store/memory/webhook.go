package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

type webhookRepo struct{ s *Store }

func cloneSub(s *repository.Subscription) *repository.Subscription {
	c := *s
	c.Events = append([]string(nil), s.Events...)
	return &c
}

func cloneDelivery(d *repository.Delivery) *repository.Delivery {
	c := *d
	c.Payload = append([]byte(nil), d.Payload...)
	return &c
}

// ─── Suscripciones ───

func (r webhookRepo) CreateSubscription(_ context.Context, s *repository.Subscription) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.subs[s.ID]; ok {
			return repository.ErrConflict
		}
		st.subs[s.ID] = cloneSub(s)
		return nil
	})
}

func (r webhookRepo) GetSubscription(_ context.Context, tenantID, id string) (*repository.Subscription, error) {
	var out *repository.Subscription
	err := r.s.do(func(st *state) error {
		s, ok := st.subs[id]
		if !ok || s.TenantID != tenantID {
			return repository.ErrNotFound
		}
		out = cloneSub(s)
		return nil
	})
	return out, err
}

func (r webhookRepo) ListActiveSubscriptions(_ context.Context, tenantID string) ([]*repository.Subscription, error) {
	var out []*repository.Subscription
	err := r.s.do(func(st *state) error {
		for _, s := range st.subs {
			if s.TenantID == tenantID && s.IsActive {
				out = append(out, cloneSub(s))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// ─── Cola de entregas ───

func (r webhookRepo) CreateDeliveries(_ context.Context, ds []*repository.Delivery) error {
	return r.s.do(func(st *state) error {
		for _, d := range ds {
			if _, ok := st.deliveries[d.ID]; ok {
				return repository.ErrConflict
			}
		}
		for _, d := range ds {
			st.deliveries[d.ID] = cloneDelivery(d)
		}
		return nil
	})
}

func (r webhookRepo) ClaimDue(_ context.Context, now time.Time, limit int, leaseUntil time.Time, skipSubscriptions []string) ([]*repository.Delivery, error) {
	skip := make(map[string]bool, len(skipSubscriptions))
	for _, id := range skipSubscriptions {
		skip[id] = true
	}
	var out []*repository.Delivery
	err := r.s.do(func(st *state) error {
		due := make([]*repository.Delivery, 0)
		for _, d := range st.deliveries {
			if skip[d.SubscriptionID] {
				continue
			}
			if !d.Status.IsTerminal() && !d.NextAttemptAt.After(now) {
				due = append(due, d)
			}
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
				return due[i].CreatedAt.Before(due[j].CreatedAt)
			}
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		})
		if limit > 0 && len(due) > limit {
			due = due[:limit]
		}
		for _, d := range due {
			leased := cloneDelivery(d)
			leased.NextAttemptAt = leaseUntil
			st.deliveries[d.ID] = leased
			out = append(out, cloneDelivery(leased))
		}
		return nil
	})
	return out, err
}

func (r webhookRepo) RecordAttempt(_ context.Context, d *repository.Delivery, a *repository.DeliveryAttempt) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.deliveries[d.ID]; !ok {
			return repository.ErrNotFound
		}
		st.deliveries[d.ID] = cloneDelivery(d)
		c := *a
		st.attempts = append(st.attempts, &c)
		return nil
	})
}

func (r webhookRepo) GetDelivery(_ context.Context, tenantID, id string) (*repository.Delivery, error) {
	var out *repository.Delivery
	err := r.s.do(func(st *state) error {
		d, ok := st.deliveries[id]
		if !ok || d.TenantID != tenantID {
			return repository.ErrNotFound
		}
		out = cloneDelivery(d)
		return nil
	})
	return out, err
}

func (r webhookRepo) ListAttempts(_ context.Context, tenantID, subscriptionID string, limit int) ([]*repository.DeliveryAttempt, error) {
	var out []*repository.DeliveryAttempt
	err := r.s.do(func(st *state) error {
		// attempts es append-only: recorrer al revés da "más reciente primero".
		for i := len(st.attempts) - 1; i >= 0; i-- {
			a := st.attempts[i]
			if a.TenantID != tenantID || a.SubscriptionID != subscriptionID {
				continue
			}
			c := *a
			out = append(out, &c)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r webhookRepo) RequeueFailed(_ context.Context, tenantID, subscriptionID string, now time.Time) (int, error) {
	n := 0
	err := r.s.do(func(st *state) error {
		for id, d := range st.deliveries {
			if d.TenantID != tenantID || d.Status != repository.DeliveryFailed {
				continue
			}
			if subscriptionID != "" && d.SubscriptionID != subscriptionID {
				continue
			}
			c := cloneDelivery(d)
			c.Status = repository.DeliveryPending
			c.AttemptBase = c.Attempts
			c.NextAttemptAt = now
			c.LastError = ""
			c.UpdatedAt = now
			st.deliveries[id] = c
			n++
		}
		return nil
	})
	return n, err
}
