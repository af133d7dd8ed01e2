package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// RoleOperator is the role claim required by the registry routes.
const RoleOperator = "operator"

// DefaultIssuer is the issuer used when none is configured.
const DefaultIssuer = "crewgate"

// OperatorClaims are the claims of an operator token.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueOperatorToken signs an HS256 operator token for subject valid for
// ttl from now.
func IssueOperatorToken(secret []byte, issuer, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("operator secret is not configured")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	claims := OperatorClaims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

type operatorAuth struct {
	secret  []byte
	issuer  string
	metrics *requestMetrics
}

func newOperatorAuth(secret []byte, issuer string, metrics *requestMetrics) *operatorAuth {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &operatorAuth{secret: secret, issuer: issuer, metrics: metrics}
}

func (a *operatorAuth) parse(raw string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleOperator {
		return nil, errors.New("token does not carry the operator role")
	}
	return claims, nil
}

// authorize checks the request's operator bearer token and stores the
// token subject under "operator" in the context.
func (a *operatorAuth) authorize(c echo.Context) error {
	ctx, path := c.Request().Context(), c.Path()
	if len(a.secret) == 0 {
		a.metrics.recordAuth(ctx, path, authUnconfigured)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "operator authentication is not configured")
	}
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		a.metrics.recordAuth(ctx, path, authMissing)
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}
	claims, err := a.parse(raw)
	if err != nil {
		a.metrics.recordAuth(ctx, path, authInvalid)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid operator token").SetInternal(err)
	}
	a.metrics.recordAuth(ctx, path, authGranted)
	c.Set("operator", claims.Subject)
	return nil
}

// middleware rejects requests without a valid operator bearer token.
func (a *operatorAuth) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := a.authorize(c); err != nil {
			return err
		}
		return next(c)
	}
}
