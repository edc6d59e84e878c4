package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
)

func newAuth(id, tenant string, created time.Time) *repository.Authorization {
	return &repository.Authorization{
		ID:        id,
		TenantID:  tenant,
		Protocol:  types.ProtocolAP2,
		Status:    types.StatusActive,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestAuthorizations_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	a := newAuth("a1", "t1", now)
	require.NoError(t, s.Authorizations().Create(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	_, err := s.Authorizations().Get(ctx, "otro-tenant", "a1")
	assert.True(t, repository.IsNotFound(err))

	got, err := s.Authorizations().Get(ctx, "t1", "a1")
	require.NoError(t, err)
	got.Status = types.StatusValid
	require.NoError(t, s.Authorizations().Update(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)

	// version vieja
	stale := a.Clone()
	stale.Status = types.StatusRevoked
	err = s.Authorizations().Update(ctx, stale, 1)
	assert.True(t, repository.IsPreconditionFailed(err))

	again, err := s.Authorizations().Get(ctx, "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusValid, again.Status)
}

func TestAuthorizations_ExternalRefUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := newAuth("a1", "t1", time.Now())
	a.Protocol = types.ProtocolACP
	a.ExternalRef = "tok_1"
	require.NoError(t, s.Authorizations().Create(ctx, a))

	b := newAuth("a2", "t2", time.Now())
	b.Protocol = types.ProtocolACP
	b.ExternalRef = "tok_1"
	assert.True(t, repository.IsConflict(s.Authorizations().Create(ctx, b)))

	got, err := s.Authorizations().GetByExternalRef(ctx, types.ProtocolACP, "tok_1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
}

func TestAuthorizations_Search(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, amt := range []string{"10", "50", "100", "500"} {
		a := newAuth(string(rune('a'+i)), "t1", base.Add(time.Duration(i)*time.Hour))
		d := decimal.RequireFromString(amt)
		a.AmountLimit = &d
		require.NoError(t, s.Authorizations().Create(ctx, a))
	}
	require.NoError(t, s.Authorizations().Create(ctx, newAuth("z", "t2", base)))

	lo := decimal.RequireFromString("50")
	hi := decimal.RequireFromString("100")
	res, err := s.Authorizations().Search(ctx, repository.SearchFilter{TenantID: "t1", MinAmount: &lo, MaxAmount: &hi})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	assert.Equal(t, "c", res.Items[0].ID) // más reciente primero
	assert.Equal(t, "b", res.Items[1].ID)

	page, err := s.Authorizations().Search(ctx, repository.SearchFilter{TenantID: "t1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c", page.Items[0].ID)
}

func TestInTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Authorizations().Create(ctx, newAuth("a1", "t1", time.Now())))
		ok, err := tx.InboundEvents().MarkProcessed(ctx, &repository.InboundEvent{EventID: "evt_1"})
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Authorizations().Get(ctx, "t1", "a1")
	assert.True(t, repository.IsNotFound(err))
	_, err = s.InboundEvents().Get(ctx, "evt_1")
	assert.True(t, repository.IsNotFound(err))
}

func TestInTx_Commit(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InTx(ctx, func(tx repository.Store) error {
		return tx.Authorizations().Create(ctx, newAuth("a1", "t1", time.Now()))
	}))
	_, err := s.Authorizations().Get(ctx, "t1", "a1")
	assert.NoError(t, err)
}

func TestInbound_MarkProcessedOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	first, err := s.InboundEvents().MarkProcessed(ctx, &repository.InboundEvent{EventID: "evt_1"})
	require.NoError(t, err)
	second, err := s.InboundEvents().MarkProcessed(ctx, &repository.InboundEvent{EventID: "evt_1"})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestWebhooks_ClaimDueLeases(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	wh := s.Webhooks()

	require.NoError(t, wh.CreateDeliveries(ctx, []*repository.Delivery{
		{ID: "d1", TenantID: "t1", SubscriptionID: "s1", Status: repository.DeliveryPending, NextAttemptAt: now.Add(-time.Second), CreatedAt: now},
		{ID: "d2", TenantID: "t1", SubscriptionID: "s1", Status: repository.DeliveryPending, NextAttemptAt: now.Add(time.Hour), CreatedAt: now},
		{ID: "d3", TenantID: "t1", SubscriptionID: "s1", Status: repository.DeliverySucceeded, NextAttemptAt: now.Add(-time.Hour), CreatedAt: now},
	}))

	claimed, err := wh.ClaimDue(ctx, now, 10, now.Add(time.Minute), nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "d1", claimed[0].ID)

	// arrendada: no se vuelve a tomar hasta que vence el lease
	again, err := wh.ClaimDue(ctx, now, 10, now.Add(time.Minute), nil)
	require.NoError(t, err)
	assert.Empty(t, again)

	later, err := wh.ClaimDue(ctx, now.Add(2*time.Minute), 10, now.Add(3*time.Minute), nil)
	require.NoError(t, err)
	require.Len(t, later, 1)
}

func TestWebhooks_ClaimDueSkipsBusySubscriptions(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	wh := s.Webhooks()

	require.NoError(t, wh.CreateDeliveries(ctx, []*repository.Delivery{
		{ID: "d1", TenantID: "t1", SubscriptionID: "busy", Status: repository.DeliveryPending, NextAttemptAt: now, CreatedAt: now},
		{ID: "d2", TenantID: "t2", SubscriptionID: "idle", Status: repository.DeliveryPending, NextAttemptAt: now, CreatedAt: now},
	}))

	claimed, err := wh.ClaimDue(ctx, now, 10, now.Add(time.Minute), []string{"busy"})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "d2", claimed[0].ID)

	// la omitida sigue vencida, sin lease
	d1, err := wh.GetDelivery(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.Equal(t, now, d1.NextAttemptAt)
}

func TestWebhooks_AttemptsAndRequeue(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	wh := s.Webhooks()

	d := &repository.Delivery{ID: "d1", TenantID: "t1", SubscriptionID: "s1", Status: repository.DeliveryPending, NextAttemptAt: now, CreatedAt: now}
	require.NoError(t, wh.CreateDeliveries(ctx, []*repository.Delivery{d}))

	for i := 1; i <= 2; i++ {
		d.Attempts = i
		d.Status = repository.DeliveryRetrying
		if i == 2 {
			d.Status = repository.DeliveryFailed
		}
		require.NoError(t, wh.RecordAttempt(ctx, d, &repository.DeliveryAttempt{
			ID: string(rune('0' + i)), DeliveryID: "d1", TenantID: "t1", SubscriptionID: "s1",
			AttemptNumber: i, Status: repository.DeliveryFailed, ResponseCode: 500,
		}))
	}

	hist, err := wh.ListAttempts(ctx, "t1", "s1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 2, hist[0].AttemptNumber)

	n, err := wh.RequeueFailed(ctx, "t1", "", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := wh.GetDelivery(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.Equal(t, repository.DeliveryPending, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 2, got.AttemptBase)
}
