package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var corsHandler = cors.Handler(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	},
	AllowedHeaders:       []string{"Accept", "Content-Type", "X-Request-Id"},
	ExposedHeaders:       []string{"Content-Disposition"},
	MaxAge:               600,
	OptionsSuccessStatus: http.StatusNoContent,
})

// CORS 允许浏览器跨域调用 API，并直接应答预检请求。
func CORS(next http.Handler) http.Handler {
	return corsHandler(next)
}
