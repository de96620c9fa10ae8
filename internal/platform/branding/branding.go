// Package branding serves the program logo shown in the page corner.
package branding

import (
	"encoding/base64"
	"errors"
	"io/fs"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrLogoNotFound is returned when the configured logo file does not exist.
var ErrLogoNotFound = errors.New("logo not found")

// Logo reads the PNG at path on every call, so replacing the file on disk
// takes effect without a restart.
type Logo struct {
	path string
}

func NewLogo(path string) *Logo {
	return &Logo{path: path}
}

// Bytes returns the file content, or ErrLogoNotFound.
func (l *Logo) Bytes() ([]byte, error) {
	if l.path == "" {
		return nil, ErrLogoNotFound
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrLogoNotFound
	}
	return data, err
}

// Base64 returns the standard base64 encoding of the logo.
func (l *Logo) Base64() (string, error) {
	data, err := l.Bytes()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

type Handler struct {
	logo   *Logo
	logger zerolog.Logger
}

func NewHandler(logo *Logo, logger zerolog.Logger) *Handler {
	return &Handler{logo: logo, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/branding", h.Info)
	g.GET("/branding/logo", h.Image)
}

type infoResponse struct {
	Title      string `json:"title"`
	LogoBase64 string `json:"logo_base64,omitempty"`
}

// Info answers with the page title and, when present, the inline logo.
func (h *Handler) Info(c echo.Context) error {
	resp := infoResponse{Title: "Valentina por Siempre"}
	b64, err := h.logo.Base64()
	switch {
	case err == nil:
		resp.LogoBase64 = b64
	case !errors.Is(err, ErrLogoNotFound):
		h.logger.Warn().Err(err).Msg("read logo failed")
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Image(c echo.Context) error {
	data, err := h.logo.Bytes()
	if errors.Is(err, ErrLogoNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Logo no disponible")
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("read logo failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "Logo no disponible")
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=3600")
	return c.Blob(http.StatusOK, "image/png", data)
}
