package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "carpeta/pkg/domain-errors"
	"carpeta/pkg/platform/httputil"
)

// PeerClaims identifies the calling operator on the inter-operator
// endpoints. The issuer carries the operator id.
type PeerClaims struct {
	OperatorName string `json:"operatorName"`
	jwt.RegisteredClaims
}

// B2BAuth verifies bearer tokens on the peer-facing transfer
// endpoints. Tokens are HS256 over a shared secret exchanged when two
// operators federate.
type B2BAuth struct {
	signingKey []byte
	audience   string
}

// NewB2BAuth builds the verifier. audience is this operator's id;
// tokens minted for another operator are rejected.
func NewB2BAuth(signingKey, audience string) *B2BAuth {
	return &B2BAuth{
		signingKey: []byte(signingKey),
		audience:   audience,
	}
}

// MintToken issues a token for calling a peer operator. Used by the
// outgoing side and by tests.
func (a *B2BAuth) MintToken(operatorID, operatorName, audience string, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, PeerClaims{
		OperatorName: operatorName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    operatorID,
			Audience:  []string{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	return token.SignedString(a.signingKey)
}

func (a *B2BAuth) validate(tokenString string) (*PeerClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &PeerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.signingKey, nil
	}, jwt.WithAudience(a.audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*PeerClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Issuer == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing operator identity")
	}
	return claims, nil
}

type contextKey string

const peerClaimsKey contextKey = "peerClaims"

// Middleware rejects requests without a valid peer token and stores
// the caller's claims in the request context.
func (a *B2BAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
			return
		}

		claims, err := a.validate(token)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), peerClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the peer claims stored by Middleware, or
// nil when the request did not pass through it.
func ClaimsFromContext(ctx context.Context) *PeerClaims {
	claims, _ := ctx.Value(peerClaimsKey).(*PeerClaims)
	return claims
}
