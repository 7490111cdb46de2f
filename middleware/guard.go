package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	authcore "github.com/taxpoynt/authcore"
	"github.com/taxpoynt/authcore/token"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the validated token claims injected by
// Guard or RequirePermission.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*token.Claims)
	return claims, ok
}

// Guard rejects requests without a valid bearer access token. Validated
// claims are placed in the request context for downstream handlers.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := validate(engine, r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission guards a route behind one permission id. The bearer
// must present a valid access token and be granted the permission;
// denials return 403 without detail.
func RequirePermission(engine *authcore.Engine, permissionID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			decision, err := engine.Authorize(r.Context(), authcore.AuthorizeRequest{
				Token:        raw,
				PermissionID: permissionID,
				IP:           remoteIP(r),
			})
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !decision.Allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			v := engine.Tokens().Validate(r.Context(), raw, token.ValidateOptions{ExpectedKind: token.KindAccess})
			if !v.Valid {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey{}, v.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validate(engine *authcore.Engine, r *http.Request) (*token.Claims, bool) {
	if engine == nil {
		return nil, false
	}
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, false
	}
	v := engine.Tokens().Validate(r.Context(), raw, token.ValidateOptions{ExpectedKind: token.KindAccess})
	if !v.Valid {
		return nil, false
	}
	return v.Claims, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	raw := value[len(bearer):]
	return raw, raw != ""
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
