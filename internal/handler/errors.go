package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"product-gateway/internal/config"
	"product-gateway/internal/model"
)

// NewHTTPErrorHandler returns the terminal error handler for the gateway.
// Everything that escapes the handlers — unmatched routes, body-limit
// rejections, recovered panics — lands here and is turned into a structured
// JSON response. Nothing is written when a response is already committed, and
// a single request's failure never takes the process down.
func NewHTTPErrorHandler(cfg *config.Config, logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}

		var writeErr error
		switch code {
		case http.StatusNotFound:
			writeErr = c.JSON(code, model.ErrorBody{
				Error:   "Not Found",
				Message: "no route matches the requested path",
				Path:    c.Request().URL.Path,
			})
		case http.StatusInternalServerError:
			logger.Error("unhandled error",
				"err", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
			)
			msg := "an unexpected error occurred"
			if !cfg.IsProduction() {
				msg = err.Error()
			}
			writeErr = c.JSON(code, model.ErrorBody{
				Error:   "Internal Server Error",
				Message: msg,
			})
		default:
			writeErr = c.JSON(code, model.ErrorBody{
				Error: http.StatusText(code),
			})
		}

		if writeErr != nil {
			logger.Error("writing error response", "err", writeErr)
		}
	}
}
