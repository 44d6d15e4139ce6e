package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS разрешает запросы дашборда с перечисленных источников.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Encoding"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
}
