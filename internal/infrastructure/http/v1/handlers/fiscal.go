package handlers

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"

	"hotelfiscal/internal/domain/emission"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/ingress"
	"hotelfiscal/internal/infrastructure/http/v1/dto"
)

// Ingress accepts sales and peer replicas.
type Ingress interface {
	Append(ctx context.Context, sale ingress.Sale) (*ingress.Result, error)
	Receive(ctx context.Context, e *fiscal.Entry) (bool, error)
}

// Emission exposes the administrative actions of the emission pipeline.
type Emission interface {
	Retry(ctx context.Context, id string) (*emission.Outcome, error)
	RetryMonth(ctx context.Context, month string) (*emission.MonthResult, error)
	Ignore(ctx context.Context, id, reason string) (*fiscal.Entry, error)
	OpenXML(ctx context.Context, id string) (*emission.Artifact, error)
	OpenPDF(ctx context.Context, id string) (*emission.Artifact, error)
}

// FiscalHandler serves the fiscal pool.
type FiscalHandler struct {
	*BaseHandler
	repo     fiscal.Repository
	ingress  Ingress
	emission Emission
}

// NewFiscalHandler creates the handler.
func NewFiscalHandler(base *BaseHandler, repo fiscal.Repository, in Ingress, em Emission) *FiscalHandler {
	return &FiscalHandler{BaseHandler: base, repo: repo, ingress: in, emission: em}
}

// Append handles POST /fiscal/entries.
// 201 when a new entry was created, 200 when the sale was already ingested.
func (h *FiscalHandler) Append(c *gin.Context) {
	var req dto.AppendRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.ingress.Append(c.Request.Context(), req.ToSale())
	if err != nil {
		h.Error(c, err)
		return
	}
	if res.Created {
		h.Created(c, res)
		return
	}
	h.OK(c, res)
}

// List handles GET /fiscal/entries.
func (h *FiscalHandler) List(c *gin.Context) {
	var q dto.ListEntriesQuery
	if !h.BindQuery(c, &q) {
		return
	}
	f, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	entries, err := h.repo.Query(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}
	items := make([]dto.EntrySummary, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.FromEntry(e))
	}
	h.OK(c, dto.NewListResponse(items))
}

// Get handles GET /fiscal/entries/:id with full history.
func (h *FiscalHandler) Get(c *gin.Context) {
	e, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, e)
}

// Retry handles POST /fiscal/entries/:id/retry.
func (h *FiscalHandler) Retry(c *gin.Context) {
	out, err := h.emission.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, out)
}

// Ignore handles POST /fiscal/entries/:id/ignore.
func (h *FiscalHandler) Ignore(c *gin.Context) {
	var req dto.IgnoreRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}
	e, err := h.emission.Ignore(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromEntry(e))
}

// RetryMonth handles POST /fiscal/retry-month.
func (h *FiscalHandler) RetryMonth(c *gin.Context) {
	var req dto.RetryMonthRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.emission.RetryMonth(c.Request.Context(), req.Month)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromMonthResult(res))
}

// XML handles GET /fiscal/entries/:id/xml.
func (h *FiscalHandler) XML(c *gin.Context) {
	h.serveArtifact(c, h.emission.OpenXML, "application/xml")
}

// PDF handles GET /fiscal/entries/:id/pdf.
func (h *FiscalHandler) PDF(c *gin.Context) {
	h.serveArtifact(c, h.emission.OpenPDF, "application/pdf")
}

func (h *FiscalHandler) serveArtifact(c *gin.Context, open func(context.Context, string) (*emission.Artifact, error), contentType string) {
	a, err := open(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	defer a.Content.Close()

	name := path.Base(a.Path)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", `inline; filename="`+name+`"`)
	http.ServeContent(c.Writer, c.Request, name, time.Time{}, a.Content)
}

// Receive handles POST /fiscal/receive from the peer instance.
func (h *FiscalHandler) Receive(c *gin.Context) {
	var e fiscal.Entry
	if !h.BindJSON(c, &e) {
		return
	}
	created, err := h.ingress.Receive(c.Request.Context(), &e)
	if err != nil {
		h.Error(c, err)
		return
	}
	status := dto.ReceiveAlreadyExists
	if created {
		status = dto.ReceiveCreated
	}
	h.OK(c, dto.ReceiveResponse{Status: status, ID: e.ID})
}
