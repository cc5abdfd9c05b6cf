package timezone

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/pkg/errors"
	"github.com/jwalitptl/stockalert-api/pkg/httputil"
)

// Catalog lists the selectable timezones.
type Catalog interface {
	List(ctx context.Context) ([]model.Timezone, error)
}

type Handler struct {
	catalog Catalog
}

func NewHandler(catalog Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/timezones", h.List)
}

func (h *Handler) List(c *gin.Context) {
	tzs, err := h.catalog.List(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, errors.NewInternal(err))
		return
	}
	if tzs == nil {
		tzs = []model.Timezone{}
	}
	c.Header("Cache-Control", "public, max-age=3600")
	httputil.RespondWithSuccess(c, tzs)
}
