package chi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	logpkg "github.com/kailas-cloud/imgdex/internal/logger"
)

// TeamHeader carries the caller's team when authentication is disabled.
const TeamHeader = "X-Team-ID"

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

type teamKey struct{}

// TeamFromContext returns the authenticated team, or "".
func TeamFromContext(ctx context.Context) string {
	team, _ := ctx.Value(teamKey{}).(string)
	return team
}

func withTeam(ctx context.Context, teamID string) context.Context {
	ctx = context.WithValue(ctx, teamKey{}, teamID)
	return logpkg.Enrich(ctx, zap.String("team_id", teamID))
}

// TeamAuthMiddleware resolves the caller's team from a Bearer API key.
// keys maps API key to team ID. If keys is empty, authentication is disabled and the
// team is taken from the X-Team-ID header.
func TeamAuthMiddleware(keys map[string]string) func(http.Handler) http.Handler {
	valid := make(map[string]string, len(keys))
	for k, team := range keys {
		if k != "" && team != "" {
			valid[k] = team
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			// Auth disabled, trust the header
			if len(valid) == 0 {
				team := strings.TrimSpace(r.Header.Get(TeamHeader))
				if team == "" {
					writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing "+TeamHeader+" header")
					return
				}
				next.ServeHTTP(w, r.WithContext(withTeam(r.Context(), team)))
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(auth, bearerPrefix) {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "authorization header must use Bearer scheme")
				return
			}

			team, ok := valid[auth[len(bearerPrefix):]]
			if !ok {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid api key")
				return
			}

			next.ServeHTTP(w, r.WithContext(withTeam(r.Context(), team)))
		})
	}
}
