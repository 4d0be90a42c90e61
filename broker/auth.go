package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/enesunal-m/rtvoice"
)

// Authenticator verifies a caller's raw bearer token.
type Authenticator interface {
	Verify(ctx context.Context, raw string) error
}

// IDTokenAuthenticator accepts OIDC ID tokens issued for a client ID.
type IDTokenAuthenticator struct {
	Verifier *oidc.IDTokenVerifier
}

// Verify implements Authenticator.
func (a IDTokenAuthenticator) Verify(ctx context.Context, raw string) error {
	if a.Verifier == nil {
		return errors.New("verifier not initialized")
	}
	_, err := a.Verifier.Verify(ctx, raw)
	return err
}

// AccessTokenAuthenticator accepts JWT access tokens signed by a key from JWKS.
type AccessTokenAuthenticator struct {
	JWKS     *keyfunc.JWKS
	Issuer   string
	Audience string
}

// Verify implements Authenticator.
func (a AccessTokenAuthenticator) Verify(_ context.Context, raw string) error {
	if a.JWKS == nil {
		return errors.New("jwks not initialized")
	}
	tok, err := jwt.Parse(raw, a.JWKS.Keyfunc, jwt.WithAudience(a.Audience), jwt.WithIssuer(a.Issuer))
	if err != nil {
		return err
	}
	if !tok.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// NewAuthenticator discovers the issuer and builds the verifier for cfg.TokenType.
// It returns nil, nil when cfg.Issuer is empty.
func NewAuthenticator(ctx context.Context, cfg rtvoice.OIDCConfig) (Authenticator, error) {
	if cfg.Issuer == "" {
		return nil, nil
	}
	prov, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	if strings.EqualFold(cfg.TokenType, "id") {
		return IDTokenAuthenticator{Verifier: prov.Verifier(&oidc.Config{ClientID: cfg.Audience})}, nil
	}

	var disc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := prov.Claims(&disc); err != nil {
		return nil, fmt.Errorf("discover jwks_uri: %w", err)
	}
	if disc.JWKSURI == "" {
		return nil, errors.New("discover jwks_uri: issuer metadata has no jwks_uri")
	}
	jwks, err := keyfunc.Get(disc.JWKSURI, keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshTimeout:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return AccessTokenAuthenticator{JWKS: jwks, Issuer: cfg.Issuer, Audience: cfg.Audience}, nil
}

func authMiddleware(a Authenticator, log *rtvoice.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			c.String(http.StatusUnauthorized, "missing bearer")
			c.Abort()
			return
		}
		raw := strings.TrimSpace(header[len("Bearer "):])
		if err := a.Verify(c.Request.Context(), raw); err != nil {
			log.Warn("caller_rejected", map[string]interface{}{
				"request_id": c.GetString(requestIDKey),
				"error":      err.Error(),
			})
			c.String(http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Next()
	}
}
