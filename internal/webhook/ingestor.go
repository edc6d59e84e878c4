package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/mandato/internal/authz"
	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
)

// Resultados de Ingest.
const (
	IngestProcessed        = "processed"
	IngestAlreadyProcessed = "already_processed"
)

const maxApplyRetries = 3

// StateApplier aplica los efectos de un evento entrante dentro de la tx del
// ingestor, webhook saliente incluido. Lo implementa *authz.Service.
type StateApplier interface {
	RecordUsage(ctx context.Context, tx repository.Store, protocol types.Protocol, ref string, details map[string]any) (*repository.Authorization, error)
	RevokeByExternalRef(ctx context.Context, tx repository.Store, protocol types.Protocol, ref string, in authz.RevokeInput) (*repository.Authorization, bool, error)
	WakeDeliveries()
}

// IngestResult resultado de un evento entrante.
type IngestResult struct {
	Status          string `json:"status"`
	EventID         string `json:"event_id"`
	AuthorizationID string `json:"authorization_id,omitempty"`
}

// Ingestor procesa webhooks del PSP (ACP) exactamente una vez por event_id.
type Ingestor struct {
	store  repository.Store
	state  StateApplier
	secret string
	obs    Observer
	now    func() time.Time
	log    *zap.Logger
}

// NewIngestor secret es el secreto HMAC compartido con el PSP.
func NewIngestor(store repository.Store, state StateApplier, secret string, opts Options) *Ingestor {
	in := &Ingestor{store: store, state: state, secret: secret, obs: opts.Observer, now: opts.Clock, log: opts.Logger}
	if in.obs == nil {
		in.obs = nopObserver{}
	}
	if in.now == nil {
		in.now = time.Now
	}
	if in.log == nil {
		in.log = logger.Named("webhook.ingestor")
	}
	return in
}

// inboundEvent formato del body entrante.
type inboundEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp json.RawMessage `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type inboundData struct {
	TokenID string `json:"token_id"`
	Reason  string `json:"reason"`
}

// Ingest verifica la firma, parsea el evento y aplica su efecto de forma atómica
// con el registro de idempotencia.
func (in *Ingestor) Ingest(ctx context.Context, body []byte, signature string) (*IngestResult, error) {
	if !VerifySignature(in.secret, body, signature) {
		in.obs.InboundProcessed("", "signature_invalid")
		return nil, ErrSignatureInvalid
	}

	ev, data, ts, err := parseInbound(body)
	if err != nil {
		in.obs.InboundProcessed("", "invalid")
		return nil, err
	}
	log := in.log.With(logger.EventID(ev.EventID), logger.EventType(ev.EventType))

	var (
		res     *IngestResult
		changed *repository.Authorization
	)
	for i := 0; ; i++ {
		res, changed, err = in.apply(ctx, ev, data, ts)
		if err == nil || !repository.IsPreconditionFailed(err) || i+1 >= maxApplyRetries {
			break
		}
		log.Debug("inbound event raced with another write, retrying", logger.Attempt(i+1))
	}
	if err != nil {
		if repository.IsNotFound(err) {
			in.obs.InboundProcessed(ev.EventType, "not_found")
			return nil, fmt.Errorf("webhook: token %q: %w", data.TokenID, repository.ErrNotFound)
		}
		in.obs.InboundProcessed(ev.EventType, "error")
		log.Error("inbound event failed", logger.Err(err))
		return nil, fmt.Errorf("%w: apply inbound event: %v", ErrInfrastructure, err)
	}

	in.obs.InboundProcessed(ev.EventType, res.Status)
	log.Info("inbound event handled", logger.String("result", res.Status), logger.AuthorizationID(res.AuthorizationID))

	// la entrega ya quedó confirmada con el evento
	if changed != nil {
		in.state.WakeDeliveries()
	}
	return res, nil
}

func (in *Ingestor) apply(ctx context.Context, ev *inboundEvent, data *inboundData, ts time.Time) (*IngestResult, *repository.Authorization, error) {
	res := &IngestResult{EventID: ev.EventID}
	var changed *repository.Authorization

	err := in.store.InTx(ctx, func(tx repository.Store) error {
		// token desconocido: no se registra el evento, el PSP puede reintentar
		a, err := tx.Authorizations().GetByExternalRef(ctx, types.ProtocolACP, data.TokenID)
		if err != nil {
			return err
		}
		res.AuthorizationID = a.ID

		fresh, err := tx.InboundEvents().MarkProcessed(ctx, &repository.InboundEvent{
			EventID:         ev.EventID,
			EventType:       ev.EventType,
			Timestamp:       ts,
			Data:            ev.Data,
			AuthorizationID: a.ID,
			ProcessedAt:     in.now().UTC(),
		})
		if err != nil {
			return err
		}
		if !fresh {
			res.Status = IngestAlreadyProcessed
			return nil
		}
		res.Status = IngestProcessed

		details := map[string]any{"event_id": ev.EventID, "event_timestamp": ts.Format(time.RFC3339)}
		switch ev.EventType {
		case repository.InboundTokenUsed:
			_, err = in.state.RecordUsage(ctx, tx, types.ProtocolACP, data.TokenID, details)
			return err
		case repository.InboundTokenRevoked:
			reason := data.Reason
			if reason == "" {
				reason = "revoked by PSP"
			}
			upd, didChange, err := in.state.RevokeByExternalRef(ctx, tx, types.ProtocolACP, data.TokenID, authz.RevokeInput{
				Reason:  reason,
				Source:  repository.AuditSourceACPWebhook,
				Details: details,
			})
			if err != nil {
				return err
			}
			if didChange {
				changed = upd
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, changed, nil
}

func parseInbound(body []byte) (*inboundEvent, *inboundData, time.Time, error) {
	var ev inboundEvent
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("%w: malformed event body", ErrValidation)
	}
	ev.EventID = strings.TrimSpace(ev.EventID)
	if ev.EventID == "" {
		return nil, nil, time.Time{}, fmt.Errorf("%w: event_id is required", ErrValidation)
	}
	switch ev.EventType {
	case repository.InboundTokenUsed, repository.InboundTokenRevoked:
	case "":
		return nil, nil, time.Time{}, fmt.Errorf("%w: event_type is required", ErrValidation)
	default:
		return nil, nil, time.Time{}, fmt.Errorf("%w: unknown event_type %q", ErrValidation, ev.EventType)
	}
	ts, err := parseTimestamp(ev.Timestamp)
	if err != nil {
		return nil, nil, time.Time{}, err
	}

	var data inboundData
	if len(ev.Data) == 0 || json.Unmarshal(ev.Data, &data) != nil {
		return nil, nil, time.Time{}, fmt.Errorf("%w: data must be an object", ErrValidation)
	}
	data.TokenID = strings.TrimSpace(data.TokenID)
	if data.TokenID == "" {
		return nil, nil, time.Time{}, fmt.Errorf("%w: data.token_id is required", ErrValidation)
	}
	return &ev, &data, ts, nil
}

// parseTimestamp acepta RFC3339 o unix seconds (número o string).
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return time.Time{}, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", ErrValidation, s)
}
