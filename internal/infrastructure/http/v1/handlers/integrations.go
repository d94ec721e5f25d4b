package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/integration"
	"hotelfiscal/internal/domain/routing"
	"hotelfiscal/internal/infrastructure/http/v1/dto"
)

// RoutingStore persists the routing section of the settings file.
type RoutingStore interface {
	Routing(ctx context.Context) (routing.Config, error)
	SaveRouting(ctx context.Context, cfg routing.Config) error
}

// CompanySyncer pushes emitter settings to the provider.
type CompanySyncer interface {
	SyncCompany(ctx context.Context, cnpj string) error
}

// IntegrationHandler administers emitter settings. Secrets are never returned.
type IntegrationHandler struct {
	*BaseHandler
	registry integration.Registry
	routing  RoutingStore
	syncer   CompanySyncer
}

// NewIntegrationHandler creates the handler. rs may be nil when routing is not editable.
func NewIntegrationHandler(base *BaseHandler, reg integration.Registry, rs RoutingStore, syncer CompanySyncer) *IntegrationHandler {
	return &IntegrationHandler{BaseHandler: base, registry: reg, routing: rs, syncer: syncer}
}

// List handles GET /fiscal/integrations.
func (h *IntegrationHandler) List(c *gin.Context) {
	all, err := h.registry.List(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	out := make([]integration.Settings, 0, len(all))
	for _, s := range all {
		out = append(out, s.Redacted())
	}
	h.OK(c, dto.NewListResponse(out))
}

// Get handles GET /fiscal/integrations/:cnpj.
func (h *IntegrationHandler) Get(c *gin.Context) {
	s, err := h.registry.Get(c.Request.Context(), fiscal.Digits(c.Param("cnpj")))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, s.Redacted())
}

// Put handles PUT /fiscal/integrations/:cnpj. Redacted secrets echoed
// back by the client keep their stored value.
func (h *IntegrationHandler) Put(c *gin.Context) {
	var s integration.Settings
	if !h.BindJSON(c, &s) {
		return
	}
	cnpj := fiscal.Digits(c.Param("cnpj"))
	if s.CNPJEmitente == "" {
		s.CNPJEmitente = cnpj
	}
	if fiscal.Digits(s.CNPJEmitente) != cnpj {
		h.Error(c, apperror.NewValidation("cnpj_emitente does not match the path").
			WithDetail("cnpj_emitente", s.CNPJEmitente))
		return
	}

	ctx := c.Request.Context()
	current, err := h.registry.Get(ctx, cnpj)
	switch {
	case err == nil:
		s.KeepSecrets(*current)
	case !apperror.IsNotFound(err):
		h.Error(c, err)
		return
	}

	if err := h.registry.Save(ctx, s); err != nil {
		h.Error(c, err)
		return
	}
	saved, err := h.registry.Get(ctx, cnpj)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, saved.Redacted())
}

// Sync handles POST /fiscal/integrations/:cnpj/sync.
func (h *IntegrationHandler) Sync(c *gin.Context) {
	if err := h.syncer.SyncCompany(c.Request.Context(), c.Param("cnpj")); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "company settings synchronized")
}

// GetRouting handles GET /fiscal/routing.
func (h *IntegrationHandler) GetRouting(c *gin.Context) {
	if h.routing == nil {
		h.Error(c, apperror.NewNotFound("routing", "settings"))
		return
	}
	cfg, err := h.routing.Routing(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, cfg)
}

// PutRouting handles PUT /fiscal/routing. Rules are compiled before saving.
func (h *IntegrationHandler) PutRouting(c *gin.Context) {
	if h.routing == nil {
		h.Error(c, apperror.NewNotFound("routing", "settings"))
		return
	}
	var cfg routing.Config
	if !h.BindJSON(c, &cfg) {
		return
	}
	if _, err := routing.New(cfg); err != nil {
		h.Error(c, apperror.NewValidation("invalid routing rules").WithDetail("error", err.Error()))
		return
	}
	if err := h.routing.SaveRouting(c.Request.Context(), cfg); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, cfg)
}
