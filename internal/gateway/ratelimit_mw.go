package gateway

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/AlexKimmel/RoleGate/internal/auth"
	"github.com/AlexKimmel/RoleGate/internal/ratelimit"
	"github.com/rs/zerolog/hlog"
)

// RateLimit admits each authenticated request through lim, keyed by the
// principal's id and role. Requests without a principal are rejected.
func RateLimit(lim ratelimit.Limiter, skipPaths map[string]struct{}) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without limits
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			p, ok := auth.PrincipalFrom(r.Context())
			if !ok || p.ID == "" {
				auth.WriteError(w, http.StatusUnauthorized, "unauthenticated", "no identity for rate limiting")
				return
			}

			dec, err := lim.Allow(r.Context(), p.ID, p.Role)
			switch {
			case errors.Is(err, ratelimit.ErrUnknownRole):
				hlog.FromRequest(r).Warn().Err(err).Str("identity", p.ID).Msg("no rate limit policy for role")
				auth.WriteError(w, http.StatusForbidden, "unknown_role", "no rate limit policy for role "+strconv.Quote(p.Role))
				return
			case err != nil:
				hlog.FromRequest(r).Error().Err(err).Str("identity", p.ID).Msg("rate limiter failed")
				auth.WriteError(w, http.StatusInternalServerError, "rate_limiter_error", "internal rate limiter error")
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(dec.Remaining, 0)))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetUnixSec, 10))

			if !dec.Allowed() {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(dec.RetryAfter.Seconds()))))
				auth.WriteError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
