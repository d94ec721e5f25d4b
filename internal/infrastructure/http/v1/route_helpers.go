package v1

import (
	"github.com/gin-gonic/gin"
)

// EntryRouteHandler serves the fiscal entry routes.
type EntryRouteHandler interface {
	Append(c *gin.Context)
	List(c *gin.Context)
	Get(c *gin.Context)
	Retry(c *gin.Context)
	Ignore(c *gin.Context)
	XML(c *gin.Context)
	PDF(c *gin.Context)
}

// IntegrationRouteHandler serves emitter settings administration.
type IntegrationRouteHandler interface {
	List(c *gin.Context)
	Get(c *gin.Context)
	Put(c *gin.Context)
	Sync(c *gin.Context)
}

// RegisterEntryRoutes registers the entry routes. Mutating administrative
// actions run behind admin.
//
// Usage:
//
//	handler := handlers.NewFiscalHandler(base, repo, ingressSvc, emissionSvc)
//	RegisterEntryRoutes(fiscal.Group("/entries"), handler, middleware.RequireRole(auth.RoleFiscalAdmin))
func RegisterEntryRoutes(group *gin.RouterGroup, handler EntryRouteHandler, admin ...gin.HandlerFunc) {
	group.POST("", handler.Append)
	group.GET("", handler.List)
	group.GET("/:id", handler.Get)
	group.GET("/:id/xml", handler.XML)
	group.GET("/:id/pdf", handler.PDF)
	group.POST("/:id/retry", chain(admin, handler.Retry)...)
	group.POST("/:id/ignore", chain(admin, handler.Ignore)...)
}

// RegisterIntegrationRoutes registers emitter settings routes, all behind admin.
func RegisterIntegrationRoutes(group *gin.RouterGroup, handler IntegrationRouteHandler, admin ...gin.HandlerFunc) {
	group.Use(admin...)
	group.GET("", handler.List)
	group.GET("/:cnpj", handler.Get)
	group.PUT("/:cnpj", handler.Put)
	group.POST("/:cnpj/sync", handler.Sync)
}

// chain returns mw followed by h without aliasing mw.
func chain(mw []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw)+1)
	out = append(out, mw...)
	return append(out, h)
}
