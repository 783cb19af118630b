// Package auth turns bearer tokens into capability values. The audit core
// never inspects tokens; it only sees the Capability this middleware builds,
// so any other authentication scheme can replace it without touching the
// core.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"chainlog/pkg/capability"
	pstrings "chainlog/pkg/platform/strings"
	"chainlog/pkg/requestcontext"
)

type contextKeyCapability struct{}

// GetCapability retrieves the caller capability from the context. The zero
// capability (granting nothing) is returned when authentication did not run.
func GetCapability(ctx context.Context) capability.Capability {
	if c, ok := ctx.Value(contextKeyCapability{}).(capability.Capability); ok {
		return c
	}
	return capability.Capability{}
}

// WithCapability injects a capability into a context. Useful for tests and
// internal callers that bypass HTTP.
func WithCapability(ctx context.Context, c capability.Capability) context.Context {
	return context.WithValue(ctx, contextKeyCapability{}, c)
}

// Validator parses and verifies HS256 capability tokens. Claims: "sub" is
// the caller subject, "scope" is a space-separated list of operations
// (e.g. "audit:append audit:verify").
type Validator struct {
	signingKey []byte
}

// NewValidator creates a validator with the given HMAC signing key.
func NewValidator(signingKey string) *Validator {
	return &Validator{signingKey: []byte(signingKey)}
}

// ValidateToken parses the token and builds the caller's capability.
func (v *Validator) ValidateToken(tokenString string) (capability.Capability, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return capability.Capability{}, fmt.Errorf("parse capability token: %w", err)
	}

	subject, _ := claims["sub"].(string)
	scope, _ := claims["scope"].(string)

	var ops []capability.Operation
	for _, field := range pstrings.DedupeAndTrim(strings.Fields(scope)) {
		ops = append(ops, capability.Operation(field))
	}
	return capability.New(subject, ops...), nil
}

// IssueToken mints a capability token for subject with the given scope.
// Used by provisioning tooling and tests.
func (v *Validator) IssueToken(subject string, ops ...capability.Operation) (string, error) {
	scopes := make([]string, len(ops))
	for i, op := range ops {
		scopes[i] = string(op)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"scope": strings.Join(scopes, " "),
	})
	signed, err := token.SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign capability token: %w", err)
	}
	return signed, nil
}

// RequireCapability authenticates the bearer token and stores the resulting
// capability in the request context. Requests without a valid token are
// rejected; per-operation checks happen inside the audit service.
func RequireCapability(validator *Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}

			cap, err := validator.ValidateToken(token)
			if err != nil {
				if logger != nil {
					logger.WarnContext(r.Context(), "unauthorized access - invalid token",
						"error", err,
						"request_id", requestcontext.RequestID(r.Context()),
					)
				}
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx := WithCapability(r.Context(), cap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}
