// Package authz es el orquestador de verificación: despacha al verifier del
// protocolo, persiste el resultado con guard de versión, registra auditoría
// y, si el status cambió, encola el webhook correspondiente en la misma tx.
//
// Máquina de estados:
//
//	ACTIVE ─► {VALID, EXPIRED, INVALID} ─► REVOKED (terminal)
//	   └───────────────────────────────────────┘
package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
	"github.com/dropDatabas3/mandato/internal/verify"
)

const (
	// maxWriteAttempts reintentos ante ErrPreconditionFailed.
	maxWriteAttempts = 3

	DefaultSearchLimit = 50
	MaxSearchLimit     = 200
)

// Options dependencias opcionales del Service.
type Options struct {
	Clock    func() time.Time
	Observer Observer
}

// Service implementa las operaciones sobre autorizaciones.
type Service struct {
	store     repository.Store
	verifiers *verify.Registry
	events    Enqueuer
	now       func() time.Time
	obs       Observer
}

// NewService crea el orquestador. events puede ser nil (no se emiten webhooks).
func NewService(store repository.Store, verifiers *verify.Registry, events Enqueuer, opts Options) *Service {
	s := &Service{
		store:     store,
		verifiers: verifiers,
		events:    events,
		now:       opts.Clock,
		obs:       opts.Observer,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.obs == nil {
		s.obs = nopObserver{}
	}
	return s
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// CreateInput request de alta.
type CreateInput struct {
	TenantID string
	Protocol string
	Payload  json.RawMessage
}

// Outcome autorización + resultado de la verificación que la dejó en ese estado.
type Outcome struct {
	Authorization *repository.Authorization
	Result        verify.Result
}

// Create persiste la autorización en ACTIVE y la verifica de inmediato.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Outcome, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return nil, validationf("tenant_id is required")
	}
	protocol, ok := types.ParseProtocol(in.Protocol)
	if !ok {
		return nil, validationf("unsupported protocol %q", in.Protocol)
	}
	if len(in.Payload) == 0 || !json.Valid(in.Payload) {
		return nil, validationf("payload must be valid JSON")
	}

	desc, err := s.verifiers.Describe(protocol, in.Payload)
	if err != nil {
		if errors.Is(err, verify.ErrUnsupportedProtocol) || errors.Is(err, verify.ErrInvalidPayload) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, fmt.Errorf("%w: describe: %v", ErrInfrastructure, err)
	}

	now := s.clock()
	a := &repository.Authorization{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Protocol:    protocol,
		Issuer:      desc.Issuer,
		Subject:     desc.Subject,
		ExternalRef: desc.ExternalRef,
		Scope:       desc.Scope,
		AmountLimit: desc.AmountLimit,
		Currency:    desc.Currency,
		ExpiresAt:   desc.ExpiresAt,
		Status:      types.StatusActive,
		Payload:     append(json.RawMessage(nil), in.Payload...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Authorizations().Create(ctx, a); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, &repository.AuditEvent{
			ID:              uuid.NewString(),
			TenantID:        tenantID,
			AuthorizationID: a.ID,
			Type:            repository.AuditAuthorizationCreated,
			Source:          repository.AuditSourceAPI,
			ToStatus:        types.StatusActive,
			Reason:          "authorization created",
			Details:         map[string]any{"protocol": string(protocol)},
			CreatedAt:       now,
		})
	})
	if err != nil {
		if repository.IsConflict(err) {
			return nil, fmt.Errorf("%w: authorization with external_ref %q already exists", ErrConflict, a.ExternalRef)
		}
		return nil, storeErr("create", err)
	}

	logger.From(ctx).Info("authorization created",
		logger.TenantID(tenantID), logger.AuthorizationID(a.ID), logger.Protocol(string(protocol)))

	return s.Verify(ctx, tenantID, a.ID)
}

// Verify re-verifica la autorización. REVOKED es terminal: devuelve el resultado guardado.
func (s *Service) Verify(ctx context.Context, tenantID, id string) (*Outcome, error) {
	log := logger.From(ctx).With(logger.TenantID(tenantID), logger.AuthorizationID(id))

	for attempt := 1; ; attempt++ {
		a, err := s.store.Authorizations().Get(ctx, tenantID, id)
		if err != nil {
			return nil, storeErr("load", err)
		}
		if a.Status.IsTerminal() {
			return &Outcome{Authorization: a, Result: storedResult(a)}, nil
		}

		started := time.Now()
		res, err := s.verifiers.Verify(ctx, a.Protocol, tenantID, a.Payload)
		if err != nil {
			if errors.Is(err, verify.ErrUnsupportedProtocol) {
				return nil, fmt.Errorf("%w: %v", ErrValidation, err)
			}
			log.Error("verification infrastructure failure", logger.Err(err))
			return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
		}
		s.obs.VerificationCompleted(a.Protocol, res.Status, time.Since(started))

		prev := a.Status
		next := types.StatusFor(res.Status)
		now := s.clock()

		upd := a.Clone()
		upd.Status = next
		upd.VerificationStatus = res.Status
		upd.VerificationReason = res.Reason
		upd.VerifiedAt = &now
		upd.UpdatedAt = now

		err = s.store.InTx(ctx, func(tx repository.Store) error {
			if err := tx.Authorizations().Update(ctx, upd, a.Version); err != nil {
				return err
			}
			if err := tx.Audit().Append(ctx, &repository.AuditEvent{
				ID:                 uuid.NewString(),
				TenantID:           tenantID,
				AuthorizationID:    id,
				Type:               repository.AuditAuthorizationVerified,
				Source:             repository.AuditSourceVerifier,
				FromStatus:         prev,
				ToStatus:           next,
				VerificationStatus: res.Status,
				Reason:             res.Reason,
				Details:            res.Details,
				CreatedAt:          now,
			}); err != nil {
				return err
			}
			if prev == next {
				return nil
			}
			return s.enqueueTx(ctx, tx, upd)
		})
		if repository.IsPreconditionFailed(err) {
			if attempt < maxWriteAttempts {
				log.Debug("verification write lost the race, retrying", logger.Attempt(attempt))
				continue
			}
			return nil, fmt.Errorf("%w: concurrent verification of %s", ErrConflict, id)
		}
		if err != nil {
			return nil, storeErr("save verification", err)
		}

		log.Info("authorization verified",
			logger.Protocol(string(a.Protocol)), logger.VerificationStatus(string(res.Status)),
			zap.String("from", string(prev)), zap.String("to", string(next)))

		if prev != next {
			s.obs.StatusChanged(a.Protocol, prev, next)
			s.WakeDeliveries()
		}
		return &Outcome{Authorization: upd, Result: res}, nil
	}
}

func storedResult(a *repository.Authorization) verify.Result {
	return verify.Result{Status: a.VerificationStatus, Reason: a.VerificationReason}
}

// RevokeInput datos de una revocación.
type RevokeInput struct {
	Reason  string
	Source  string
	Details map[string]any
}

// Revoke transiciona a REVOKED. Revocar algo ya revocado es idempotente.
func (s *Service) Revoke(ctx context.Context, tenantID, id string, in RevokeInput) (*repository.Authorization, error) {
	for attempt := 1; ; attempt++ {
		var (
			out     *repository.Authorization
			changed bool
		)
		err := s.store.InTx(ctx, func(tx repository.Store) error {
			a, err := tx.Authorizations().Get(ctx, tenantID, id)
			if err != nil {
				return err
			}
			out, changed, err = s.revoke(ctx, tx, a, in)
			return err
		})
		if repository.IsPreconditionFailed(err) {
			if attempt < maxWriteAttempts {
				continue
			}
			return nil, fmt.Errorf("%w: concurrent update of %s", ErrConflict, id)
		}
		if IsValidation(err) {
			return nil, err
		}
		if err != nil {
			return nil, storeErr("revoke", err)
		}
		if changed {
			s.WakeDeliveries()
		}
		return out, nil
	}
}

// RevokeByExternalRef revoca dentro de la tx del llamador (el ingestor). El
// webhook queda encolado en esa tx; el llamador llama WakeDeliveries después
// del commit si changed.
func (s *Service) RevokeByExternalRef(ctx context.Context, tx repository.Store, protocol types.Protocol, ref string, in RevokeInput) (a *repository.Authorization, changed bool, err error) {
	a, err = tx.Authorizations().GetByExternalRef(ctx, protocol, ref)
	if err != nil {
		return nil, false, err
	}
	return s.revoke(ctx, tx, a, in)
}

func (s *Service) revoke(ctx context.Context, tx repository.Store, a *repository.Authorization, in RevokeInput) (*repository.Authorization, bool, error) {
	if a.Status == types.StatusRevoked {
		return a, false, nil
	}
	if !types.CanTransition(a.Status, types.StatusRevoked) {
		return nil, false, fmt.Errorf("%w: cannot revoke from %s", ErrValidation, a.Status)
	}
	source := in.Source
	if source == "" {
		source = repository.AuditSourceAPI
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "revoked"
	}

	now := s.clock()
	upd := a.Clone()
	upd.Status = types.StatusRevoked
	upd.UpdatedAt = now
	if err := tx.Authorizations().Update(ctx, upd, a.Version); err != nil {
		return nil, false, err
	}
	err := tx.Audit().Append(ctx, &repository.AuditEvent{
		ID:              uuid.NewString(),
		TenantID:        a.TenantID,
		AuthorizationID: a.ID,
		Type:            repository.AuditAuthorizationRevoked,
		Source:          source,
		FromStatus:      a.Status,
		ToStatus:        types.StatusRevoked,
		Reason:          reason,
		Details:         in.Details,
		CreatedAt:       now,
	})
	if err != nil {
		return nil, false, err
	}
	if err := s.enqueueTx(ctx, tx, upd); err != nil {
		return nil, false, err
	}
	s.obs.StatusChanged(a.Protocol, a.Status, types.StatusRevoked)
	logger.From(ctx).Info("authorization revoked",
		logger.TenantID(a.TenantID), logger.AuthorizationID(a.ID), zap.String("source", source))
	return upd, true, nil
}

// RecordUsage registra un token.used: sólo auditoría, el status NO cambia.
func (s *Service) RecordUsage(ctx context.Context, tx repository.Store, protocol types.Protocol, ref string, details map[string]any) (*repository.Authorization, error) {
	a, err := tx.Authorizations().GetByExternalRef(ctx, protocol, ref)
	if err != nil {
		return nil, err
	}
	err = tx.Audit().Append(ctx, &repository.AuditEvent{
		ID:              uuid.NewString(),
		TenantID:        a.TenantID,
		AuthorizationID: a.ID,
		Type:            repository.AuditTokenUsed,
		Source:          repository.AuditSourceACPWebhook,
		FromStatus:      a.Status,
		ToStatus:        a.Status,
		Reason:          "token used",
		Details:         details,
		CreatedAt:       s.clock(),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// enqueueTx encola el webhook del status actual en tx. Si falla, la tx entera
// se revierte: no hay cambio de estado sin su evento.
func (s *Service) enqueueTx(ctx context.Context, tx repository.Store, a *repository.Authorization) error {
	if s.events == nil {
		return nil
	}
	eventType := EventTypeFor(a.Status)
	if eventType == "" {
		return nil
	}
	if err := s.events.EnqueueTx(ctx, tx, a.TenantID, eventType, ViewOf(a)); err != nil {
		logger.From(ctx).Error("enqueue webhook failed",
			logger.TenantID(a.TenantID), logger.AuthorizationID(a.ID), logger.EventType(eventType), logger.Err(err))
		return err
	}
	return nil
}

// WakeDeliveries avisa al dispatcher que hay entregas nuevas confirmadas.
func (s *Service) WakeDeliveries() {
	if s.events != nil {
		s.events.Wake()
	}
}

// Get retorna una autorización del tenant.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*repository.Authorization, error) {
	a, err := s.store.Authorizations().Get(ctx, tenantID, id)
	if err != nil {
		return nil, storeErr("get", err)
	}
	return a, nil
}

// SearchInput filtros de búsqueda (strings crudos del request).
type SearchInput struct {
	TenantID    string
	Protocol    string
	Status      string
	MinAmount   string
	MaxAmount   string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// Search lista autorizaciones paginadas, más recientes primero.
func (s *Service) Search(ctx context.Context, in SearchInput) (*repository.SearchResult, error) {
	f, err := buildFilter(in)
	if err != nil {
		return nil, err
	}
	res, err := s.store.Authorizations().Search(ctx, f)
	if err != nil {
		return nil, storeErr("search", err)
	}
	return res, nil
}

// AuditTrail eventos de auditoría de una autorización, en orden cronológico.
func (s *Service) AuditTrail(ctx context.Context, tenantID, id string) ([]*repository.AuditEvent, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	evs, err := s.store.Audit().ListByAuthorization(ctx, tenantID, id)
	if err != nil {
		return nil, storeErr("audit trail", err)
	}
	return evs, nil
}
