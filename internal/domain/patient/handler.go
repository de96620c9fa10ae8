package patient

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vxs/registro/internal/platform/session"
	"github.com/vxs/registro/internal/platform/spreadsheet"
	"github.com/vxs/registro/internal/platform/store"
)

// DefaultExportFilename names the downloaded workbook.
const DefaultExportFilename = "pacientes_valentina.xlsx"

type Handler struct {
	svc        *Service
	logger     zerolog.Logger
	exportName string
}

func NewHandler(svc *Service, logger zerolog.Logger, exportName string) *Handler {
	if exportName == "" {
		exportName = DefaultExportFilename
	}
	return &Handler{svc: svc, logger: logger, exportName: exportName}
}

// RegisterRoutes mounts the patient routes on g, which must already require
// a session.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/patients", h.List)
	g.GET("/patients/export", h.Export)
	g.POST("/patients", h.Create)
	g.GET("/patients/:id", h.Get)
	g.PATCH("/patients/:id", h.Update)

	g.POST("/patients/:id/delete", h.RequestDelete)
	g.POST("/patients/:id/delete/confirm", h.ConfirmDelete)
	g.DELETE("/patients/:id/delete", h.CancelDelete)

	g.GET("/birthdays", h.Birthdays)
}

type mutationResponse struct {
	ID      int64  `json:"id,omitempty"`
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

type listResponse struct {
	Data  []Row `json:"data"`
	Total int   `json:"total"`
}

func (h *Handler) List(c echo.Context) error {
	q, err := parseQuery(c)
	if err != nil {
		return h.fail(err, "")
	}
	rows, err := h.svc.View(c.Request().Context(), q, h.svc.Now())
	if err != nil {
		return h.fail(err, "Error leyendo pacientes")
	}
	return c.JSON(http.StatusOK, listResponse{Data: rows, Total: len(rows)})
}

func (h *Handler) Export(c echo.Context) error {
	q, err := parseQuery(c)
	if err != nil {
		return h.fail(err, "")
	}
	var buf bytes.Buffer
	n, err := h.svc.Export(c.Request().Context(), q, h.svc.Now(), &buf)
	if err != nil {
		return h.fail(err, "Error exportando pacientes")
	}
	h.logger.Info().Int("rows", n).Str("user", actor(c)).Msg("patients exported")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", h.exportName))
	return c.Blob(http.StatusOK, spreadsheet.MIMEType, buf.Bytes())
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.fail(err, "Error leyendo el paciente")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Create(c echo.Context) error {
	var p Patient
	if err := (&echo.DefaultBinder{}).BindBody(c, &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Datos del paciente inválidos")
	}
	who := actor(c)
	res, err := h.svc.Create(c.Request().Context(), who, &p)
	if err != nil {
		return h.fail(err, "Error agregando paciente")
	}
	return c.JSON(http.StatusCreated, mutationResponse{
		ID:      res.ID,
		Message: "Paciente agregado por " + who,
		Warning: res.Warning,
	})
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var u Update
	if err := (&echo.DefaultBinder{}).BindBody(c, &u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Datos del paciente inválidos")
	}
	who := actor(c)
	res, err := h.svc.Update(c.Request().Context(), who, id, &u)
	if err != nil {
		return h.fail(err, "Error guardando cambios")
	}
	return c.JSON(http.StatusOK, mutationResponse{
		ID:      res.ID,
		Message: "Cambios guardados por " + who,
		Warning: res.Warning,
	})
}

func (h *Handler) RequestDelete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := currentSession(c)
	if err != nil {
		return err
	}
	h.svc.RequestDelete(sess, id)
	return c.JSON(http.StatusAccepted, mutationResponse{
		ID:      id,
		Message: fmt.Sprintf("¿Confirmas la eliminación del paciente ID %d?", id),
	})
}

func (h *Handler) ConfirmDelete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := currentSession(c)
	if err != nil {
		return err
	}
	res, err := h.svc.ConfirmDelete(c.Request().Context(), sess, id)
	if err != nil {
		return h.fail(err, "Error eliminando paciente")
	}
	return c.JSON(http.StatusOK, mutationResponse{
		ID:      id,
		Message: fmt.Sprintf("Paciente %d eliminado.", id),
		Warning: res.Warning,
	})
}

func (h *Handler) CancelDelete(c echo.Context) error {
	if _, err := parseID(c); err != nil {
		return err
	}
	sess, err := currentSession(c)
	if err != nil {
		return err
	}
	h.svc.CancelDelete(sess)
	return c.JSON(http.StatusOK, mutationResponse{Message: "Operación cancelada."})
}

func (h *Handler) Birthdays(c echo.Context) error {
	b, err := h.svc.Birthdays(c.Request().Context(), h.svc.Now())
	if err != nil {
		return h.fail(err, "Error leyendo pacientes")
	}
	return c.JSON(http.StatusOK, b)
}

// fail maps service errors to responses. msg is what the client sees for a
// store failure.
func (h *Handler) fail(err error, msg string) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Message)
	case errors.Is(err, ErrNoStatusSelected):
		return echo.NewHTTPError(http.StatusBadRequest, "Selecciona al menos un estado para mostrar pacientes.")
	case errors.Is(err, ErrNoChanges):
		return echo.NewHTTPError(http.StatusBadRequest, "No hay cambios para guardar")
	case errors.Is(err, ErrNoPendingDelete):
		return echo.NewHTTPError(http.StatusConflict, "Primero solicita la eliminación de este paciente")
	}
	return store.HTTPError(h.logger, err, msg)
}

// parseQuery reads the status filter (repeated or comma separated estado
// parameters) and the search text.
func parseQuery(c echo.Context) (Query, error) {
	statuses, err := ParseStatuses(c.QueryParams()["estado"])
	if err != nil {
		return Query{}, err
	}
	return Query{Statuses: statuses, Search: c.QueryParam("q")}, nil
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "id inválido")
	}
	return id, nil
}

func currentSession(c echo.Context) (*session.Session, error) {
	s := session.FromContext(c.Request().Context())
	if s == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, session.ErrInvalidToken.Error())
	}
	return s, nil
}

func actor(c echo.Context) string {
	if s := session.FromContext(c.Request().Context()); s != nil {
		return s.UserName
	}
	return ""
}
