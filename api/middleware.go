/*
middleware.go - Actor identification middleware

PURPOSE:
  Resolves the acting user from request headers and stores it on the
  request context. Authorization decisions (manager-only operations)
  happen in the engine packages via core.RequireManager; this layer only
  identifies, it never authorizes.

HEADERS:
  X-Actor-ID:    Caller identifier (free-form). Defaults to "anonymous".
  X-Actor-Role:  "manager" or "staff". Anything else degrades to staff so
                 a caller cannot escalate by sending garbage.

SECURITY NOTE:
  Header-based identity is trusted as-is. In production this sits behind
  a gateway that authenticates and injects these headers.
*/
package api

import (
	"context"
	"net/http"

	"github.com/warp/cost-engine/core"
)

type contextKey string

const actorKey contextKey = "actor"

// ActorMiddleware extracts the actor from headers into the context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := core.Actor{
			ID:   r.Header.Get("X-Actor-ID"),
			Role: core.RoleStaff,
		}
		if actor.ID == "" {
			actor.ID = "anonymous"
		}
		if core.Role(r.Header.Get("X-Actor-Role")) == core.RoleManager {
			actor.Role = core.RoleManager
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

// actorFrom returns the actor placed by ActorMiddleware. Falls back to an
// anonymous staff actor when the middleware did not run (tests hitting a
// handler directly).
func actorFrom(r *http.Request) core.Actor {
	if a, ok := r.Context().Value(actorKey).(core.Actor); ok {
		return a
	}
	return core.Actor{ID: "anonymous", Role: core.RoleStaff}
}
