package audit

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/last-edit", h.Get)
}

// Get never fails the page: a store error is logged and answered with the
// placeholder.
func (h *Handler) Get(c echo.Context) error {
	v, err := h.svc.Last(c.Request().Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("read last edit failed")
		v = &View{Text: Placeholder}
	}
	return c.JSON(http.StatusOK, v)
}
