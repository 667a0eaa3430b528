package httpapi

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// requireBearer rejects requests without an HS256 bearer token signed with
// secret. Tokens must carry an expiry.
func (s *Server) requireBearer(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tok == "" {
				s.writeJSON(w, http.StatusUnauthorized, errorResp{Error: "missing bearer token"})
				return
			}
			_, err := parser.Parse(tok, func(*jwt.Token) (any, error) { return secret, nil })
			if err != nil {
				s.Logger.Warn("jwt validation failed", "path", r.URL.Path, "error", err)
				s.writeJSON(w, http.StatusUnauthorized, errorResp{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
