package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
)

// ThrottleByIP is the coarse per-IP limit in front of the auth routes,
// applied before any fixed-window action limit
func ThrottleByIP(requestsPerMinute int, ipCfg *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipCfg), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests, please try again later")
		}),
	)
}
