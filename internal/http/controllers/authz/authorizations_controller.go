// Package authz contiene el controller de /v1/authorizations.
package authz

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/mandato/internal/authz"
	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/http/dto"
	"github.com/dropDatabas3/mandato/internal/http/errors"
	"github.com/dropDatabas3/mandato/internal/http/helpers"
	mw "github.com/dropDatabas3/mandato/internal/http/middlewares"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
)

// Service lo que el controller necesita del orquestador.
type Service interface {
	Create(ctx context.Context, in authz.CreateInput) (*authz.Outcome, error)
	Verify(ctx context.Context, tenantID, id string) (*authz.Outcome, error)
	Revoke(ctx context.Context, tenantID, id string, in authz.RevokeInput) (*repository.Authorization, error)
	Get(ctx context.Context, tenantID, id string) (*repository.Authorization, error)
	Search(ctx context.Context, in authz.SearchInput) (*repository.SearchResult, error)
	AuditTrail(ctx context.Context, tenantID, id string) ([]*repository.AuditEvent, error)
}

// Controller maneja /v1/authorizations.
type Controller struct {
	svc Service
}

func NewController(svc Service) *Controller { return &Controller{svc: svc} }

// Create POST /v1/authorizations
func (c *Controller) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateAuthorizationRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	out, err := c.svc.Create(r.Context(), authz.CreateInput{
		TenantID: mw.GetTenantID(r.Context()),
		Protocol: req.Protocol,
		Payload:  req.Payload,
	})
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/authorizations/"+out.Authorization.ID)
	helpers.WriteJSON(w, http.StatusCreated, verification(out))
}

// Get GET /v1/authorizations/{id}
func (c *Controller) Get(w http.ResponseWriter, r *http.Request) {
	a, err := c.svc.Get(r.Context(), mw.GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, authz.ViewOf(a))
}

// Verify POST /v1/authorizations/{id}/verify
func (c *Controller) Verify(w http.ResponseWriter, r *http.Request) {
	out, err := c.svc.Verify(r.Context(), mw.GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, verification(out))
}

// Revoke POST /v1/authorizations/{id}/revoke. Body opcional.
func (c *Controller) Revoke(w http.ResponseWriter, r *http.Request) {
	var req dto.RevokeRequest
	if r.ContentLength != 0 && r.Header.Get("Content-Type") != "" {
		if !helpers.ReadJSON(w, r, &req) {
			return
		}
	}
	a, err := c.svc.Revoke(r.Context(), mw.GetTenantID(r.Context()), chi.URLParam(r, "id"), authz.RevokeInput{
		Reason: req.Reason,
		Source: repository.AuditSourceAPI,
	})
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, authz.ViewOf(a))
}

// Search GET /v1/authorizations
func (c *Controller) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := authz.SearchInput{
		TenantID:  mw.GetTenantID(r.Context()),
		Protocol:  q.Get("protocol"),
		Status:    q.Get("status"),
		MinAmount: q.Get("min_amount"),
		MaxAmount: q.Get("max_amount"),
	}
	var perr *errors.AppError
	in.CreatedFrom, perr = timeParam(q.Get("created_from"), "created_from")
	if perr == nil {
		in.CreatedTo, perr = timeParam(q.Get("created_to"), "created_to")
	}
	if perr == nil {
		in.Limit, perr = intParam(q.Get("limit"), "limit")
	}
	if perr == nil {
		in.Offset, perr = intParam(q.Get("offset"), "offset")
	}
	if perr != nil {
		errors.WriteError(w, r, perr)
		return
	}

	res, err := c.svc.Search(r.Context(), in)
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}

	limit := in.Limit
	switch {
	case limit <= 0:
		limit = authz.DefaultSearchLimit
	case limit > authz.MaxSearchLimit:
		limit = authz.MaxSearchLimit
	}
	resp := dto.SearchResponse{Items: make([]authz.View, 0, len(res.Items)), Total: res.Total, Limit: limit, Offset: in.Offset}
	for _, a := range res.Items {
		resp.Items = append(resp.Items, authz.ViewOf(a))
	}
	logger.From(r.Context()).Debug("authorizations searched", logger.Count(len(resp.Items)))
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Audit GET /v1/authorizations/{id}/audit
func (c *Controller) Audit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := c.svc.AuditTrail(r.Context(), mw.GetTenantID(r.Context()), id)
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}
	resp := dto.AuditTrailResponse{AuthorizationID: id, Events: make([]dto.AuditEvent, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, dto.AuditEventOf(e))
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

func verification(out *authz.Outcome) dto.VerificationResponse {
	return dto.VerificationResponse{Authorization: authz.ViewOf(out.Authorization), Verification: out.Result}
}

func timeParam(raw, name string) (*time.Time, *errors.AppError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.ErrInvalidParameter.WithDetail(name + " debe ser RFC3339")
	}
	return &t, nil
}

func intParam(raw, name string) (int, *errors.AppError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.ErrInvalidParameter.WithDetail(name + " debe ser un entero >= 0")
	}
	return n, nil
}
