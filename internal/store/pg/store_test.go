package pg_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
	"github.com/dropDatabas3/mandato/internal/security/secretbox"
	"github.com/dropDatabas3/mandato/internal/store"
	"github.com/dropDatabas3/mandato/internal/store/pg"
)

// Integración: MANDATO_TEST_PG_DSN debe apuntar a una base descartable (se truncan las tablas).
func openTestStore(t *testing.T) *pg.Store {
	t.Helper()
	dsn := os.Getenv("MANDATO_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MANDATO_TEST_PG_DSN not set")
	}
	ctx := context.Background()

	box, err := secretbox.NewFromBytes([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	st, err := pg.New(ctx, pg.Config{DSN: dsn, MaxOpenConns: 4}, box)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = store.Migrate(ctx, st)
	require.NoError(t, err)
	_, err = st.Pool().Exec(ctx, `TRUNCATE webhook_delivery_attempts, webhook_deliveries, webhook_subscriptions,
		audit_events, inbound_events, authorizations, trusted_issuer_keys`)
	require.NoError(t, err)
	return st
}

func newAuth(tenant string, protocol types.Protocol) *repository.Authorization {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &repository.Authorization{
		ID:        uuid.NewString(),
		TenantID:  tenant,
		Protocol:  protocol,
		Status:    types.StatusActive,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPG_AuthorizationVersionGuard(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := newAuth("t1", types.ProtocolACP)
	a.ExternalRef = "tok_pg_1"
	amt := decimal.RequireFromString("125.50")
	a.AmountLimit = &amt
	a.Currency = "USD"
	require.NoError(t, st.Authorizations().Create(ctx, a))

	got, err := st.Authorizations().Get(ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.True(t, amt.Equal(*got.AmountLimit))
	assert.Equal(t, int64(1), got.Version)

	_, err = st.Authorizations().Get(ctx, "t2", a.ID)
	assert.True(t, repository.IsNotFound(err))

	upd := got.Clone()
	upd.Status = types.StatusValid
	upd.VerificationStatus = types.VerificationValid
	require.NoError(t, st.Authorizations().Update(ctx, upd, 1))

	stale := got.Clone()
	stale.Status = types.StatusRevoked
	assert.True(t, repository.IsPreconditionFailed(st.Authorizations().Update(ctx, stale, 1)))

	dup := newAuth("t2", types.ProtocolACP)
	dup.ExternalRef = "tok_pg_1"
	assert.True(t, repository.IsConflict(st.Authorizations().Create(ctx, dup)))

	byRef, err := st.Authorizations().GetByExternalRef(ctx, types.ProtocolACP, "tok_pg_1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byRef.ID)
	assert.Equal(t, types.StatusValid, byRef.Status)
}

func TestPG_InTxRollsBack(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	a := newAuth("t1", types.ProtocolAP2)

	err := st.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Authorizations().Create(ctx, a); err != nil {
			return err
		}
		return repository.ErrConflict
	})
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = st.Authorizations().Get(ctx, "t1", a.ID)
	assert.True(t, repository.IsNotFound(err))
}

func TestPG_InboundIdempotency(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ev := &repository.InboundEvent{
		EventID:     "evt_pg_1",
		EventType:   repository.InboundTokenUsed,
		Timestamp:   time.Now().UTC(),
		Data:        json.RawMessage(`{"token_id":"tok"}`),
		ProcessedAt: time.Now().UTC(),
	}
	first, err := st.InboundEvents().MarkProcessed(ctx, ev)
	require.NoError(t, err)
	second, err := st.InboundEvents().MarkProcessed(ctx, ev)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestPG_DeliveryQueue(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	wh := st.Webhooks()

	sub := &repository.Subscription{
		ID: uuid.NewString(), TenantID: "t1", URL: "https://psp.example/hook",
		Events: []string{"*"}, Secret: "whsec_test", IsActive: true, CreatedAt: now,
	}
	require.NoError(t, wh.CreateSubscription(ctx, sub))

	// el secreto se guarda cifrado pero se lee en claro
	gotSub, err := wh.GetSubscription(ctx, "t1", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "whsec_test", gotSub.Secret)

	d := &repository.Delivery{
		ID: uuid.NewString(), TenantID: "t1", SubscriptionID: sub.ID, EventType: "authorization.verified",
		Payload: []byte(`{"id":"e1"}`), Status: repository.DeliveryPending,
		NextAttemptAt: now.Add(-time.Second), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, wh.CreateDeliveries(ctx, []*repository.Delivery{d}))

	claimed, err := wh.ClaimDue(ctx, now, 10, now.Add(time.Minute), nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, []byte(`{"id":"e1"}`), claimed[0].Payload)

	again, err := wh.ClaimDue(ctx, now, 10, now.Add(time.Minute), nil)
	require.NoError(t, err)
	assert.Empty(t, again)

	// lease vencido, pero el destino está ocupado en este proceso
	busy, err := wh.ClaimDue(ctx, now.Add(2*time.Minute), 10, now.Add(3*time.Minute), []string{sub.ID})
	require.NoError(t, err)
	assert.Empty(t, busy)

	failed := *claimed[0]
	failed.Status = repository.DeliveryFailed
	failed.Attempts = 1
	failed.LastResponseCode = 500
	require.NoError(t, wh.RecordAttempt(ctx, &failed, &repository.DeliveryAttempt{
		ID: uuid.NewString(), DeliveryID: d.ID, TenantID: "t1", SubscriptionID: sub.ID,
		EventType: d.EventType, AttemptNumber: 1, Status: repository.DeliveryFailed,
		ResponseCode: 500, Error: "subscriber responded 500", CreatedAt: now,
	}))

	hist, err := wh.ListAttempts(ctx, "t1", sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 500, hist[0].ResponseCode)

	n, err := wh.RequeueFailed(ctx, "t1", sub.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := wh.GetDelivery(ctx, "t1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.DeliveryPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, got.AttemptBase)
}
