package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// LoginObserver is notified of every login attempt with outcome "ok" or
// "rejected".
type LoginObserver interface {
	Login(outcome string)
}

type Handler struct {
	gate     *Gate
	manager  *Manager
	logger   zerolog.Logger
	observer LoginObserver
}

func NewHandler(gate *Gate, manager *Manager, logger zerolog.Logger) *Handler {
	return &Handler{gate: gate, manager: manager, logger: logger}
}

// SetObserver registers o to receive login outcomes.
func (h *Handler) SetObserver(o LoginObserver) { h.observer = o }

func (h *Handler) observe(outcome string) {
	if h.observer != nil {
		h.observer.Login(outcome)
	}
}

// RegisterRoutes mounts login on g and the authenticated session routes on
// authed (a group already behind RequireSession).
func (h *Handler) RegisterRoutes(g, authed *echo.Group) {
	g.POST("/session", h.Login)
	authed.GET("/session", h.WhoAmI)
	authed.DELETE("/session", h.Logout)
}

type loginRequest struct {
	AccessKey string `json:"access_key"`
	UserName  string `json:"user_name"`
}

type sessionResponse struct {
	Token     string    `json:"token,omitempty"`
	UserName  string    `json:"user_name"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message,omitempty"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "solicitud inválida")
	}

	name, err := h.gate.Resolve(req.AccessKey, req.UserName)
	if err != nil {
		h.observe("rejected")
		if errors.Is(err, ErrNameRequired) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
				"message":       "Ingresa tu nombre para continuar",
				"name_required": true,
			})
		}
		h.logger.Info().Str("remote_ip", c.RealIP()).Msg("login rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, ErrAuthRejected.Error())
	}

	s, token, err := h.manager.Create(name)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create session")
		return echo.NewHTTPError(http.StatusInternalServerError, "no se pudo iniciar sesión")
	}
	h.observe("ok")
	h.logger.Info().Str("user", name).Str("session_id", s.ID).Msg("session started")

	return c.JSON(http.StatusCreated, sessionResponse{
		Token:     token,
		UserName:  s.UserName,
		CreatedAt: s.CreatedAt,
		Message:   "Bienvenido/a, " + s.UserName,
	})
}

func (h *Handler) WhoAmI(c echo.Context) error {
	s := FromContext(c.Request().Context())
	if s == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidToken.Error())
	}
	return c.JSON(http.StatusOK, sessionResponse{UserName: s.UserName, CreatedAt: s.CreatedAt})
}

func (h *Handler) Logout(c echo.Context) error {
	token, _ := c.Get(tokenKey).(string)
	if err := h.manager.End(token); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidToken.Error())
	}
	if s := FromContext(c.Request().Context()); s != nil {
		h.logger.Info().Str("user", s.UserName).Str("session_id", s.ID).Msg("session ended")
	}
	return c.NoContent(http.StatusNoContent)
}
