package status

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ParseRSAPublicKey parses a PEM-encoded RSA public key for token
// verification.
func ParseRSAPublicKey(pemData []byte) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("status: parse public key: %w", err)
	}
	return key, nil
}

// JWTMiddleware enforces RS256 bearer-token authentication. On failure the
// response is HTTP 401 with a JSON error body and the next handler is never
// called.
func JWTMiddleware(pubKey *rsa.PublicKey, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			_, err := jwt.Parse(token,
				func(*jwt.Token) (any, error) { return pubKey, nil },
				jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				logger.Warn("authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Any("error", err))
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
