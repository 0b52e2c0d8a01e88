package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/rs/cors"
)

// corsMaxAge is how long browsers may cache a preflight response.
const corsMaxAge = 12 * time.Hour

// corsMiddleware lets the listed origins call the API from the browser with
// the session cookie. An origin of "*" admits any origin; the request's own
// origin is echoed back, since credentialed responses cannot use a wildcard.
// With no origins the handler is returned unchanged and only same-origin
// pages can use the API.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           int(corsMaxAge.Seconds()),
	}
	if slices.Contains(origins, "*") {
		opts.AllowOriginFunc = func(string) bool { return true }
	} else {
		opts.AllowedOrigins = origins
	}
	return cors.New(opts).Handler(next)
}
