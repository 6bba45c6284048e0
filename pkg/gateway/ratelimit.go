package gateway

import (
	"net/http"
	"strings"

	"github.com/aegis-labs/aegis-firewall/pkg/kernel"
	"github.com/aegis-labs/aegis-firewall/pkg/rpctypes"
)

// RateLimit wraps next with a per-actor token bucket check using
// kernel.EvaluateBackpressure. The actor key is the caller-supplied user
// header, falling back to the request's remote
// address when the caller omits it (unauthenticated probing still gets
// bucketed, just coarsely). overrides supplies a per-(user,agent) policy
// loaded from an operator YAML profile; a missing entry falls back to
// defaultPolicy. Rejections are shaped like every other admission
// failure in this proxy: a 200 with a JSON-RPC error body, so upstream
// clients that only inspect the envelope behave consistently.
func RateLimit(store kernel.LimiterStore, defaultPolicy kernel.BackpressurePolicy, overrides map[string]kernel.BackpressurePolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			next.ServeHTTP(w, r)
			return
		}

		user := r.Header.Get(HeaderUser)
		actor := user
		if actor == "" {
			actor = r.RemoteAddr
		}

		policy := defaultPolicy
		if user != "" {
			key := strings.ToLower(user) + ":" + strings.ToLower(r.Header.Get(HeaderAgent))
			if override, ok := overrides[key]; ok {
				policy = override
			}
		}

		if err := kernel.EvaluateBackpressure(r.Context(), store, actor, policy); err != nil {
			writeJSON(w, http.StatusOK, rpctypes.NewErrorResponse(nil, -32099, "Aegis: RateLimited", err.Error()))
			return
		}

		next.ServeHTTP(w, r)
	})
}
