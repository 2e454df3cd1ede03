package principal

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stockroom/stockroom-backend/pkg/config"
)

// Claims are the token claims the identity provider issues.
type Claims struct {
	RoleID       string `json:"role_id"`
	DepartmentID string `json:"department_id,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// Middleware verifies the bearer token and attaches the Principal to the
// request context. Requests without a valid token are rejected before any
// handler runs; /health is exempt for monitoring.
func Middleware(cfg *config.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(header, "Bearer ")
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(cfg.Secret), nil
			}, jwt.WithIssuer(cfg.Issuer))
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			p := &Principal{
				UserID:       claims.Subject,
				RoleID:       claims.RoleID,
				DepartmentID: claims.DepartmentID,
				DisplayName:  claims.DisplayName,
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
