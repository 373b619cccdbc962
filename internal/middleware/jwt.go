// Package middleware provides HTTP middleware for the cleanup API: bearer
// authentication, per-client rate limiting, request ids and access logs.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the parsed claims of a validated API token.
type Claims struct {
	Subject   string
	Issuer    string
	ExpiresAt *time.Time
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(ctx context.Context, tokenString string) (*Claims, error)
}

var (
	_ TokenValidator = (*HS256Validator)(nil)
	_ TokenValidator = (*OIDCValidator)(nil)
	_ TokenValidator = AnyValidator(nil)
)

// HS256Validator validates API tokens signed with a shared HS256 secret.
type HS256Validator struct {
	secret []byte
}

// OIDCValidator validates tokens issued by an OpenID Connect provider using
// the provider's JWKS.
type OIDCValidator struct {
	verifier       *oidc.IDTokenVerifier
	allowedIssuers map[string]bool
}

// NewOIDCValidator creates a validator from an OIDC issuer URL.
func NewOIDCValidator(ctx context.Context, issuerURL, audience string, allowedIssuers []string) (*OIDCValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{
		ClientID:        audience,
		SkipIssuerCheck: len(allowedIssuers) > 0,
	})
	return &OIDCValidator{verifier: verifier, allowedIssuers: issuerSet(issuerURL, allowedIssuers)}, nil
}

// NewOIDCValidatorFromJWKS creates a validator from a JWKS URL, without
// OIDC discovery.
func NewOIDCValidatorFromJWKS(ctx context.Context, jwksURL, issuerURL, audience string, allowedIssuers []string) (*OIDCValidator, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("JWKS URL is required")
	}
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	verifier := oidc.NewVerifier(issuerURL, keySet, &oidc.Config{
		ClientID:        audience,
		SkipIssuerCheck: len(allowedIssuers) > 0 || issuerURL == "",
	})
	return &OIDCValidator{verifier: verifier, allowedIssuers: issuerSet(issuerURL, allowedIssuers)}, nil
}

// issuerSet defaults the allowlist to the configured issuer.
func issuerSet(issuerURL string, allowed []string) map[string]bool {
	issuers := make(map[string]bool, len(allowed))
	for _, iss := range allowed {
		issuers[iss] = true
	}
	if len(issuers) == 0 && issuerURL != "" {
		issuers[issuerURL] = true
	}
	return issuers
}

// Validate verifies the token signature, audience and expiry, then checks
// the issuer against the allowlist.
func (v *OIDCValidator) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if len(v.allowedIssuers) > 0 && !v.allowedIssuers[idToken.Issuer] {
		return nil, fmt.Errorf("issuer %q not in allowed list", idToken.Issuer)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	claims := &Claims{Subject: idToken.Subject, Issuer: idToken.Issuer}
	if !idToken.Expiry.IsZero() {
		t := idToken.Expiry
		claims.ExpiresAt = &t
	}
	return claims, nil
}

// AnyValidator accepts a token when one of its validators accepts it, so
// locally issued HS256 tokens and provider tokens can be used side by side.
type AnyValidator []TokenValidator

// Validate tries each validator in order.
func (a AnyValidator) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	if len(a) == 0 {
		return nil, errors.New("no token validators configured")
	}
	var errs []error
	for _, v := range a {
		claims, err := v.Validate(ctx, tokenString)
		if err == nil {
			return claims, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// NewHS256Validator creates a validator for HS256 tokens.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// Validate verifies a token and extracts its claims. Tokens without a subject
// are rejected.
func (v *HS256Validator) Validate(_ context.Context, tokenString string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &rc, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if rc.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	claims := &Claims{Subject: rc.Subject, Issuer: rc.Issuer}
	if rc.ExpiresAt != nil {
		t := rc.ExpiresAt.Time
		claims.ExpiresAt = &t
	}
	return claims, nil
}

// IssueToken signs a token for subject. ttl <= 0 issues a token without expiry.
func (v *HS256Validator) IssueToken(subject, issuer string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	now := time.Now()
	rc := jwt.RegisteredClaims{
		Subject:  subject,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		rc.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, rc).SignedString(v.secret)
}
