package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"product-gateway/internal/config"
)

// CORS returns an Echo middleware enforcing the configured cross-origin
// policy. In relaxed mode every origin is allowed; otherwise only origins on
// the allowlist are echoed back. Preflight requests from disallowed origins
// receive no Access-Control-Allow-* headers and no body, which is the CORS
// failure the browser acts on.
func CORS(cfg *config.Config) echo.MiddlewareFunc {
	origins := cfg.CORS.AllowedOrigins
	if cfg.CORS.Relaxed {
		origins = []string{"*"}
	}

	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: cfg.CORS.AllowedMethods,
		AllowHeaders: cfg.CORS.AllowedHeaders,
		MaxAge:       86400,
	})
}
