// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"hotelfiscal/internal/domain/auth"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/integration"
	"hotelfiscal/internal/infrastructure/http/v1/events"
	"hotelfiscal/internal/infrastructure/http/v1/handlers"
	"hotelfiscal/internal/infrastructure/http/v1/middleware"
	"hotelfiscal/pkg/logger"
)

// EmissionService is the emission pipeline as seen by the API.
type EmissionService interface {
	handlers.Emission
	handlers.CompanySyncer
}

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Logger *logger.Logger

	// JWTValidator enables bearer auth on /api/v1. When nil, the API trusts
	// the hotel LAN and records operators by the X-User-Name header.
	JWTValidator middleware.JWTValidator

	// PeerVerifier guards /fiscal/receive. When nil, the route is not registered.
	PeerVerifier middleware.PeerVerifier

	Repo         fiscal.Repository
	Ingress      handlers.Ingress
	Emission     EmissionService
	Integrations integration.Registry
	Routing      handlers.RoutingStore
	Hub          *events.Hub

	Version      string
	HealthChecks map[string]handlers.Check
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Version, cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	v1 := router.Group("/api/v1")
	{
		registerPeerRoutes(v1, cfg)

		// Browsers cannot send headers on websocket upgrades; the feed
		// carries only ids and statuses.
		if cfg.Hub != nil {
			v1.GET("/fiscal/events", cfg.Hub.Serve)
		}

		protected := v1.Group("")
		var admin []gin.HandlerFunc
		if cfg.JWTValidator != nil {
			protected.Use(middleware.Auth(cfg.JWTValidator))
			admin = append(admin, middleware.RequireRole(auth.RoleFiscalAdmin))
		} else {
			protected.Use(middleware.OptionalAuth(nil))
		}

		registerFiscalRoutes(protected, cfg, admin)
	}

	return router
}

// registerPeerRoutes registers replication ingress. It authenticates with the
// peer token instead of operator credentials.
func registerPeerRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	if cfg.PeerVerifier == nil {
		return
	}
	handler := handlers.NewFiscalHandler(handlers.NewBaseHandler(), cfg.Repo, cfg.Ingress, cfg.Emission)
	rg.POST("/fiscal/receive", middleware.PeerAuth(cfg.PeerVerifier), handler.Receive)
}

// registerFiscalRoutes registers entry, month and integration endpoints.
func registerFiscalRoutes(rg *gin.RouterGroup, cfg RouterConfig, admin []gin.HandlerFunc) {
	base := handlers.NewBaseHandler()
	fiscalGroup := rg.Group("/fiscal")

	// --- ENTRIES ---
	{
		handler := handlers.NewFiscalHandler(base, cfg.Repo, cfg.Ingress, cfg.Emission)
		RegisterEntryRoutes(fiscalGroup.Group("/entries"), handler, admin...)
		fiscalGroup.POST("/retry-month", chain(admin, handler.RetryMonth)...)
	}

	// --- INTEGRATIONS ---
	{
		handler := handlers.NewIntegrationHandler(base, cfg.Integrations, cfg.Routing, cfg.Emission)
		RegisterIntegrationRoutes(fiscalGroup.Group("/integrations"), handler, admin...)
		fiscalGroup.GET("/routing", chain(admin, handler.GetRouting)...)
		fiscalGroup.PUT("/routing", chain(admin, handler.PutRouting)...)
	}
}
