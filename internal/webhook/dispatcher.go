// Package webhook implementa la entrega confiable de webhooks salientes
// (Dispatcher) y la ingesta idempotente de eventos del PSP (Ingestor).
//
// La cola es durable: cada entrega es una fila con next_attempt_at. El
// dispatcher escanea las vencidas, las arrienda (lease) y las intenta; si el
// proceso muere a mitad de un backoff, el próximo escaneo la retoma.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
)

// Config de la entrega saliente.
type Config struct {
	Timeout      time.Duration // por intento
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
	BatchSize    int
	Workers      int           // destinos en paralelo
	Lease        time.Duration // cuánto se reserva una entrega reclamada
}

// DefaultConfig 30s por intento, 5 intentos, backoff 1s..16s.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		MaxAttempts:  5,
		BaseBackoff:  time.Second,
		MaxBackoff:   16 * time.Second,
		PollInterval: time.Second,
		BatchSize:    100,
		Workers:      16,
		Lease:        2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.Lease <= 0 {
		c.Lease = d.Lease
	}
	if c.Lease < 2*c.Timeout {
		c.Lease = 2 * c.Timeout
	}
	return c
}

// Backoff retraso antes del intento attempt+1: base·2^(attempt-1), con tope.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Observer métricas del dispatcher/ingestor.
type Observer interface {
	DeliveryAttempted(eventType string, status repository.DeliveryStatus, took time.Duration)
	InboundProcessed(eventType, result string)
}

type nopObserver struct{}

func (nopObserver) DeliveryAttempted(string, repository.DeliveryStatus, time.Duration) {}
func (nopObserver) InboundProcessed(string, string)                                    {}

// Options dependencias opcionales.
type Options struct {
	HTTPClient *http.Client
	Clock      func() time.Time
	Observer   Observer
	Logger     *zap.Logger
}

// Dispatcher entrega eventos a las suscripciones activas.
//
// Cada destino se atiende en su propio worker (a lo sumo Workers a la vez) y
// mientras tiene un worker en vuelo sus entregas no se vuelven a reclamar. El
// loop de Run no espera a los workers: un endpoint colgado ocupa un slot y
// nada más.
type Dispatcher struct {
	store  repository.Store
	client *http.Client
	cfg    Config
	now    func() time.Time
	obs    Observer
	log    *zap.Logger
	wake   chan struct{}

	pool     errgroup.Group // vive lo que el dispatcher, limitado a Workers
	mu       sync.Mutex
	inflight map[string]int // subscriptionID -> workers en vuelo
}

// NewDispatcher crea el dispatcher. No arranca nada: ver Run.
func NewDispatcher(store repository.Store, cfg Config, opts Options) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		client: opts.HTTPClient,
		cfg:    cfg.withDefaults(),
		now:    opts.Clock,
		obs:    opts.Observer,
		log:    opts.Logger,
		wake:   make(chan struct{}, 1),
	}
	d.pool.SetLimit(d.cfg.Workers)
	d.inflight = make(map[string]int)
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.obs == nil {
		d.obs = nopObserver{}
	}
	if d.log == nil {
		d.log = logger.Named("webhook.dispatcher")
	}
	return d
}

func (d *Dispatcher) clock() time.Time { return d.now().UTC() }

// Wake despierta al loop de Run para que escanee la cola sin esperar al poll.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// envelope es el body de un webhook saliente. Se serializa una sola vez:
// todas las suscripciones reciben (y firman) exactamente los mismos bytes.
type envelope struct {
	ID            string `json:"id"`
	EventType     string `json:"event_type"`
	Timestamp     string `json:"timestamp"`
	TenantID      string `json:"tenant_id"`
	Authorization any    `json:"authorization"`
}

// Enqueue persiste una entrega PENDING por cada suscripción activa interesada
// y despierta al worker. No espera la entrega.
func (d *Dispatcher) Enqueue(ctx context.Context, tenantID, eventType string, authorization any) error {
	n, err := d.enqueue(ctx, d.store, tenantID, eventType, authorization)
	if err != nil {
		return err
	}
	if n > 0 {
		d.Wake()
	}
	return nil
}

// EnqueueTx es Enqueue dentro de la tx del llamador: las entregas se confirman
// o se descartan junto con el cambio de estado que las origina. El llamador
// llama Wake después del commit.
func (d *Dispatcher) EnqueueTx(ctx context.Context, tx repository.Store, tenantID, eventType string, authorization any) error {
	_, err := d.enqueue(ctx, tx, tenantID, eventType, authorization)
	return err
}

func (d *Dispatcher) enqueue(ctx context.Context, st repository.Store, tenantID, eventType string, authorization any) (int, error) {
	subs, err := st.Webhooks().ListActiveSubscriptions(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("%w: list subscriptions: %v", ErrInfrastructure, err)
	}

	now := d.clock()
	var body []byte
	var deliveries []*repository.Delivery
	for _, sub := range subs {
		if !sub.Matches(eventType) {
			continue
		}
		if body == nil {
			body, err = json.Marshal(envelope{
				ID:            uuid.NewString(),
				EventType:     eventType,
				Timestamp:     now.Format(time.RFC3339Nano),
				TenantID:      tenantID,
				Authorization: authorization,
			})
			if err != nil {
				return 0, fmt.Errorf("webhook: marshal event: %w", err)
			}
		}
		deliveries = append(deliveries, &repository.Delivery{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Payload:        body,
			Status:         repository.DeliveryPending,
			NextAttemptAt:  now,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if len(deliveries) == 0 {
		return 0, nil
	}
	if err := st.Webhooks().CreateDeliveries(ctx, deliveries); err != nil {
		return 0, fmt.Errorf("%w: create deliveries: %v", ErrInfrastructure, err)
	}

	d.log.Debug("webhook enqueued",
		logger.TenantID(tenantID), logger.EventType(eventType), logger.Count(len(deliveries)))
	return len(deliveries), nil
}

// Run procesa la cola hasta que ctx se cancela. Al cancelar deja de reclamar y
// espera a los workers en vuelo (cada intento acotado por Timeout); lo que no
// llegaron a intentar vuelve a la cola al vencer el lease.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("webhook dispatcher started",
		zap.Int("workers", d.cfg.Workers), zap.Duration("poll_interval", d.cfg.PollInterval))
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := d.dispatch(ctx, nil)
		if err != nil && ctx.Err() == nil {
			d.log.Error("webhook dispatch cycle failed", logger.Err(err))
		}
		// batch lleno: probablemente hay más vencidas, seguimos sin esperar
		if err == nil && n >= d.cfg.BatchSize && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			_ = d.pool.Wait()
			d.log.Info("webhook dispatcher stopped")
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// RunOnce reclama las entregas vencidas, las intenta y espera a que terminen.
// Retorna cuántas reclamó.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	var done sync.WaitGroup
	n, err := d.dispatch(ctx, &done)
	done.Wait()
	return n, err
}

// dispatch reclama las entregas vencidas de los destinos libres y arranca un
// worker por destino sin esperarlo. Si done no es nil, cada worker lo marca.
func (d *Dispatcher) dispatch(ctx context.Context, done *sync.WaitGroup) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := d.clock()
	leaseUntil := now.Add(d.cfg.Lease)
	claimed, err := d.store.Webhooks().ClaimDue(ctx, now, d.cfg.BatchSize, leaseUntil, d.busy())
	if err != nil {
		return 0, fmt.Errorf("%w: claim due deliveries: %v", ErrInfrastructure, err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	var order []string
	groups := make(map[string][]*repository.Delivery)
	for _, del := range claimed {
		if _, ok := groups[del.SubscriptionID]; !ok {
			order = append(order, del.SubscriptionID)
		}
		groups[del.SubscriptionID] = append(groups[del.SubscriptionID], del)
	}

	// Los intentos en vuelo no se cortan por el shutdown.
	actx := context.WithoutCancel(ctx)
	for _, subID := range order {
		subID := subID
		batch := groups[subID]
		d.track(subID, 1)
		if done != nil {
			done.Add(1)
		}
		// bloquea sólo si los Workers slots están ocupados
		d.pool.Go(func() error {
			defer func() {
				d.track(subID, -1)
				if done != nil {
					done.Done()
				}
				// el destino quedó libre: sus otras entregas vencidas ya se pueden reclamar
				d.Wake()
			}()
			d.deliverGroup(actx, ctx, batch, leaseUntil)
			return nil
		})
	}
	return len(claimed), nil
}

func (d *Dispatcher) track(subID string, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight[subID] += delta
	if d.inflight[subID] <= 0 {
		delete(d.inflight, subID)
	}
}

// busy destinos con un worker en vuelo.
func (d *Dispatcher) busy() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.inflight))
	for id := range d.inflight {
		out = append(out, id)
	}
	return out
}

// deliverGroup intenta en orden las entregas de un destino. stop corta entre
// intentos, nunca en medio de uno.
func (d *Dispatcher) deliverGroup(ctx, stop context.Context, batch []*repository.Delivery, leaseUntil time.Time) {
	first := batch[0]
	sub, err := d.store.Webhooks().GetSubscription(ctx, first.TenantID, first.SubscriptionID)
	if err != nil && !repository.IsNotFound(err) {
		// quedan arrendadas; se reintentan al vencer el lease
		d.log.Error("load subscription failed", logger.SubscriptionID(first.SubscriptionID), logger.Err(err))
		return
	}
	for _, del := range batch {
		if stop.Err() != nil {
			return
		}
		if sub == nil || !sub.IsActive {
			d.abandon(ctx, del, "subscription not found or inactive")
			continue
		}
		// sin margen para otro intento completo dentro del lease: que lo retome el próximo escaneo
		if d.clock().Add(d.cfg.Timeout).After(leaseUntil) {
			return
		}
		d.attempt(ctx, sub, del)
	}
}

// attempt hace un POST y registra el resultado.
func (d *Dispatcher) attempt(ctx context.Context, sub *repository.Subscription, del *repository.Delivery) {
	n := del.Attempts + 1
	// el tope y el backoff se cuentan dentro de la ronda (ver RequeueFailed)
	round := n - del.AttemptBase
	log := d.log.With(logger.DeliveryID(del.ID), logger.SubscriptionID(sub.ID),
		logger.EventType(del.EventType), logger.Attempt(n))

	started := d.clock()
	code, sendErr := d.send(ctx, sub, del, n, started)
	took := d.clock().Sub(started)
	now := d.clock()

	att := &repository.DeliveryAttempt{
		ID:             uuid.NewString(),
		DeliveryID:     del.ID,
		TenantID:       del.TenantID,
		SubscriptionID: del.SubscriptionID,
		EventType:      del.EventType,
		AttemptNumber:  n,
		ResponseCode:   code,
		DurationMs:     took.Milliseconds(),
		CreatedAt:      now,
	}
	upd := *del
	upd.Attempts = n
	upd.LastResponseCode = code
	upd.UpdatedAt = now

	switch {
	case sendErr == nil:
		att.Status = repository.DeliverySucceeded
		upd.Status = repository.DeliverySucceeded
		upd.LastError = ""
	case round >= d.cfg.MaxAttempts:
		att.Status = repository.DeliveryFailed
		att.Error = truncate(sendErr.Error(), 512)
		upd.Status = repository.DeliveryFailed
		upd.LastError = att.Error
	default:
		next := now.Add(Backoff(round, d.cfg.BaseBackoff, d.cfg.MaxBackoff))
		att.Status = repository.DeliveryFailed
		att.Error = truncate(sendErr.Error(), 512)
		att.NextRetryAt = &next
		upd.Status = repository.DeliveryRetrying
		upd.LastError = att.Error
		upd.NextAttemptAt = next
	}

	d.obs.DeliveryAttempted(del.EventType, att.Status, took)
	if err := d.store.Webhooks().RecordAttempt(ctx, &upd, att); err != nil {
		log.Error("record delivery attempt failed", logger.Err(err))
		return
	}

	switch upd.Status {
	case repository.DeliverySucceeded:
		log.Info("webhook delivered", logger.Status(code), logger.Duration(took))
	case repository.DeliveryFailed:
		log.Warn("webhook delivery failed permanently", logger.Status(code), logger.Err(sendErr))
	default:
		log.Info("webhook delivery failed, will retry", logger.Status(code), logger.Err(sendErr),
			zap.Time("next_attempt_at", upd.NextAttemptAt))
	}
}

// send retorna el status HTTP (0 si no hubo respuesta) y error si no fue 2xx.
func (d *Dispatcher) send(ctx context.Context, sub *repository.Subscription, del *repository.Delivery, attempt int, at time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(del.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mandato-webhooks/1.0")
	req.Header.Set(HeaderSignature, Sign(sub.Secret, del.Payload))
	req.Header.Set(HeaderEvent, del.EventType)
	req.Header.Set(HeaderDelivery, del.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(at.Unix(), 10))
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("subscriber responded %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// abandon marca FAILED una entrega cuyo destino ya no existe.
func (d *Dispatcher) abandon(ctx context.Context, del *repository.Delivery, reason string) {
	now := d.clock()
	upd := *del
	upd.Status = repository.DeliveryFailed
	upd.LastError = reason
	upd.UpdatedAt = now
	att := &repository.DeliveryAttempt{
		ID:             uuid.NewString(),
		DeliveryID:     del.ID,
		TenantID:       del.TenantID,
		SubscriptionID: del.SubscriptionID,
		EventType:      del.EventType,
		AttemptNumber:  del.Attempts,
		Status:         repository.DeliveryFailed,
		Error:          reason,
		CreatedAt:      now,
	}
	if err := d.store.Webhooks().RecordAttempt(ctx, &upd, att); err != nil {
		d.log.Error("abandon delivery failed", logger.DeliveryID(del.ID), logger.Err(err))
	}
}

// RetryFailed re-encola las entregas FAILED (subscriptionID vacío = todo el tenant)
// con una ronda nueva de MaxAttempts. La numeración de intentos sigue corrida.
func (d *Dispatcher) RetryFailed(ctx context.Context, tenantID, subscriptionID string) (int, error) {
	if subscriptionID != "" {
		if _, err := d.store.Webhooks().GetSubscription(ctx, tenantID, subscriptionID); err != nil {
			return 0, wrapStore("get subscription", err)
		}
	}
	n, err := d.store.Webhooks().RequeueFailed(ctx, tenantID, subscriptionID, d.clock())
	if err != nil {
		return 0, wrapStore("requeue failed", err)
	}
	if n > 0 {
		d.log.Info("failed deliveries requeued", logger.TenantID(tenantID), logger.Count(n))
		d.Wake()
	}
	return n, nil
}

// History intentos de entrega de una suscripción, más reciente primero.
func (d *Dispatcher) History(ctx context.Context, tenantID, subscriptionID string, limit int) ([]*repository.DeliveryAttempt, error) {
	if _, err := d.store.Webhooks().GetSubscription(ctx, tenantID, subscriptionID); err != nil {
		return nil, wrapStore("get subscription", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out, err := d.store.Webhooks().ListAttempts(ctx, tenantID, subscriptionID, limit)
	if err != nil {
		return nil, wrapStore("list attempts", err)
	}
	return out, nil
}

func wrapStore(op string, err error) error {
	if repository.IsNotFound(err) {
		return fmt.Errorf("webhook: %s: %w", op, repository.ErrNotFound)
	}
	if errors.Is(err, ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrInfrastructure, op, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
