package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"tutelliv/internal/config"
	"tutelliv/internal/domain"
	"tutelliv/internal/engine"
	"tutelliv/internal/token"
)

// TokenCookie is the session cookie the web client falls back to when it
// cannot set headers (PDF downloads, EventSource).
const TokenCookie = "tutelliv_token"

type claimsKey struct{}

func withClaims(ctx context.Context, c token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func claimsFromContext(ctx context.Context) (token.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(token.Claims)
	return c, ok
}

func callerFromContext(ctx context.Context) (engine.Identity, huma.StatusError) {
	c, ok := claimsFromContext(ctx)
	if !ok {
		return engine.Identity{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	return engine.Identity{UserID: c.UserID, Email: c.Email, Role: c.Role, Name: c.Name}, nil
}

// requestToken extracts the raw session token: query parameter first, then
// the Authorization header, then the session cookie.
func requestToken(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz != "" {
		parts := strings.Fields(authz)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func newAuthMiddleware(basePath string, svc token.Service) func(http.Handler) http.Handler {
	exempt := map[string]bool{
		path.Join(basePath, "health"):     true,
		path.Join(basePath, "auth/login"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "/" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if exempt[req.URL.Path] || req.URL.Path == "/docs" || strings.HasSuffix(req.URL.Path, "/openapi.json") {
				next.ServeHTTP(w, req)
				return
			}
			raw := requestToken(req)
			if raw == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			claims, err := svc.Verify(raw)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid or expired token", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withClaims(req.Context(), claims)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func registerAuth(api huma.API, cfg *config.Config, svc token.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a session token",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		u, ok := cfg.FindUser(input.Body.Email, input.Body.Password)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid email or password", nil)
		}
		signed, err := svc.Issue(u)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{AccessToken: signed, TokenType: "bearer", User: u}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/auth/me",
		Summary:     "Current user from the session token",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: domain.User{
			ID:    caller.UserID,
			Email: caller.Email,
			Role:  caller.Role,
			Name:  caller.Name,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/auth/logout",
		Summary:     "Log out",
		Description: "Tokens are stateless; logout only confirms the client should drop its copy.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "logged_out"}}, nil
	})
}
